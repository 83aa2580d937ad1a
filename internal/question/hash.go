package question

import (
	"crypto/sha256"
	"encoding/hex"
)

// 字段分隔符，使用控制字符避免 "a|b"+"c" 与 "a"+"b|c" 碰撞
const (
	unitSep   = 0x1f
	recordSep = 0x1e
)

// ContentHash 计算题目内容指纹：sha256(题干, 各选项文本按顺序, 正确答案ID)。
// 不做任何大小写或空白规范化，调用方需要时自行处理。
func ContentHash(text string, answerTexts []string, correctAnswerID string) string {
	h := sha256.New()
	h.Write([]byte(text))
	for _, answer := range answerTexts {
		h.Write([]byte{unitSep})
		h.Write([]byte(answer))
	}
	h.Write([]byte{recordSep})
	h.Write([]byte(correctAnswerID))
	return hex.EncodeToString(h.Sum(nil))
}

// Hash 计算题目的内容指纹
func (q Question) Hash() string {
	texts := make([]string, len(q.Answers))
	for i, a := range q.Answers {
		texts[i] = a.Text
	}
	return ContentHash(q.Text, texts, q.CorrectAnswerID)
}
