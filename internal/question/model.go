package question

import "time"

// AnswerIDs 是合法的选项ID，顺序即展示顺序
var AnswerIDs = []string{"A", "B", "C", "D"}

// Answer 是题目的一个选项
type Answer struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question 定义了题库中题目的持久化模型。
// ContentHash 是题目的身份，元数据字段不参与哈希。
type Question struct {
	ID uint `gorm:"primaryKey" json:"-"`

	// ContentHash 由 Text、选项文本(按顺序)和 CorrectAnswerID 计算得出
	ContentHash string `gorm:"uniqueIndex;not null;type:varchar(64)" json:"contentHash"`

	Text            string   `gorm:"not null" json:"question"`
	Answers         []Answer `gorm:"serializer:json;type:text;not null" json:"answers"`
	CorrectAnswerID string   `gorm:"type:varchar(1);not null" json:"correct"`

	// --- 以下是元数据，重复导入时会被覆盖 ---

	Difficulty string   `json:"difficulty"`
	Category   string   `gorm:"index" json:"category"`
	Source     string   `json:"source"`
	Tags       []string `gorm:"serializer:json;type:text" json:"tags"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// PublicQuestion 是返回给不可信客户端的题目视图，不包含正确答案
type PublicQuestion struct {
	ContentHash string   `json:"contentHash"`
	Question    string   `json:"question"`
	Answers     []Answer `json:"answers"`
	Difficulty  string   `json:"difficulty"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
}

// Public 去掉正确答案
func (q Question) Public() PublicQuestion {
	tags := q.Tags
	if tags == nil {
		tags = []string{}
	}
	return PublicQuestion{
		ContentHash: q.ContentHash,
		Question:    q.Text,
		Answers:     q.Answers,
		Difficulty:  q.Difficulty,
		Category:    q.Category,
		Tags:        tags,
	}
}

// Grade 是一次判题的结果
type Grade struct {
	ContentHash     string `json:"contentHash"`
	AnswerID        string `json:"answerId"`
	Correct         bool   `json:"correct"`
	CorrectAnswerID string `json:"correctAnswerId"`
}
