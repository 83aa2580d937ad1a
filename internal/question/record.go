package question

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
)

// RawAnswer 是导入数据中的一个选项
type RawAnswer struct {
	ID   string `json:"id" validate:"required,answerid"`
	Text string `json:"text" validate:"notblank"`
}

// RawRecord 是JSON与CSV两种导入格式映射后的统一记录形态
type RawRecord struct {
	Question   string      `json:"question" validate:"notblank"`
	Answers    []RawAnswer `json:"answers" validate:"len=4,dive"`
	Correct    string      `json:"correct" validate:"required,answerid"`
	Difficulty string      `json:"difficulty"`
	Category   string      `json:"category"`
	Source     string      `json:"source"`
	Tags       []string    `json:"tags"`

	// parseErr 记录该行在解析阶段就已失败的原因
	parseErr error
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
		_ = v.RegisterValidation("answerid", func(fl validator.FieldLevel) bool {
			_, ok := canonicalAnswerID(fl.Field().String())
			return ok
		})
		validate = v
	})
	return validate
}

// canonicalAnswerID 把选项ID规范为大写，并判断是否属于 A-D
func canonicalAnswerID(id string) (string, bool) {
	id = strings.ToUpper(strings.TrimSpace(id))
	for _, allowed := range AnswerIDs {
		if id == allowed {
			return id, true
		}
	}
	return "", false
}

// ToQuestion 校验记录并生成带内容哈希的题目。
// 选项ID与正确答案ID会被规范为大写，题干和选项文本保持原样。
func (r RawRecord) ToQuestion() (Question, error) {
	if r.parseErr != nil {
		return Question{}, fmt.Errorf("%w: %v", apperr.ErrValidation, r.parseErr)
	}
	if err := recordValidator().Struct(r); err != nil {
		return Question{}, fmt.Errorf("%w: %s", apperr.ErrValidation, describe(err))
	}

	answers := make([]Answer, len(r.Answers))
	seen := make(map[string]bool, len(r.Answers))
	for i, a := range r.Answers {
		id, _ := canonicalAnswerID(a.ID)
		if seen[id] {
			return Question{}, fmt.Errorf("%w: 选项ID %s 重复", apperr.ErrValidation, id)
		}
		seen[id] = true
		answers[i] = Answer{ID: id, Text: a.Text}
	}

	correct, _ := canonicalAnswerID(r.Correct)
	if !seen[correct] {
		return Question{}, fmt.Errorf("%w: 正确答案 %s 不在选项中", apperr.ErrValidation, correct)
	}

	q := Question{
		Text:            r.Question,
		Answers:         answers,
		CorrectAnswerID: correct,
		Difficulty:      strings.TrimSpace(r.Difficulty),
		Category:        strings.TrimSpace(r.Category),
		Source:          strings.TrimSpace(r.Source),
		Tags:            normalizeTags(r.Tags),
	}
	q.ContentHash = q.Hash()
	return q, nil
}

// normalizeTags 去掉空白标签并去重，保持首次出现的顺序
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s 未通过 %s 校验", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
