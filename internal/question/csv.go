package question

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
)

// CSV列名，不区分大小写
const (
	colQuestion   = "question"
	colCorrect    = "correct"
	colDifficulty = "difficulty"
	colCategory   = "category"
	colSource     = "source"
	colTags       = "tags"
	tagDelimiter  = "|"
)

var answerColumns = []string{"answera", "answerb", "answerc", "answerd"}

// ParseCSV 把表格输入映射为 RawRecord。
// 表头缺失必需列或CSV本身无法读取时返回 ErrInvalidInput；
// 字段数不足或引号错误的行仍会返回，由后续校验计为无效记录。
func ParseCSV(r io.Reader) ([]RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: CSV为空", apperr.ErrInvalidInput)
		}
		return nil, fmt.Errorf("%w: 无法读取CSV表头: %v", apperr.ErrInvalidInput, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	required := append([]string{colQuestion, colCorrect}, answerColumns...)
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: CSV缺少必需列 %q", apperr.ErrInvalidInput, col)
		}
	}

	var records []RawRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// 单行格式错误只让这一行无效，其余行照常导入
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, fmt.Errorf("%w: 第 %d 行无法读取: %v", apperr.ErrInvalidInput, line, err)
			}
			records = append(records, RawRecord{parseErr: fmt.Errorf("第 %d 行无法解析: %w", line, err)})
			continue
		}

		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}

		answers := make([]RawAnswer, len(answerColumns))
		for i, col := range answerColumns {
			answers[i] = RawAnswer{ID: AnswerIDs[i], Text: get(col)}
		}

		records = append(records, RawRecord{
			Question:   get(colQuestion),
			Answers:    answers,
			Correct:    get(colCorrect),
			Difficulty: get(colDifficulty),
			Category:   get(colCategory),
			Source:     get(colSource),
			Tags:       splitTags(get(colTags)),
		})
	}
	return records, nil
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, tagDelimiter)
}
