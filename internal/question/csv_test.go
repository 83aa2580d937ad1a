package question

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
)

func TestParseCSV(t *testing.T) {
	input := "Question,AnswerA,AnswerB,AnswerC,AnswerD,Correct,Difficulty,Category,Source,Tags\n" +
		"2+2?,3,4,5,6,b,easy,math,manual,arith|quick\n" +
		"short row,1,2\n"

	records, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "2+2?", first.Question)
	assert.Equal(t, "b", first.Correct)
	assert.Equal(t, []string{"arith", "quick"}, first.Tags)
	assert.Equal(t, RawAnswer{ID: "D", Text: "6"}, first.Answers[3])

	q, err := first.ToQuestion()
	require.NoError(t, err)
	ref, err := validRecord().ToQuestion()
	require.NoError(t, err)
	assert.Equal(t, ref.ContentHash, q.ContentHash, "CSV and JSON records must hash the same")

	_, err = records[1].ToQuestion()
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestParseCSVOptionalColumns(t *testing.T) {
	input := "question,answerA,answerB,answerC,answerD,correct\nQ,a,b,c,d,A\n"
	records, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].Tags)
}

func TestParseCSVRejectsMalformedInput(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = ParseCSV(strings.NewReader("question,answerA,correct\nQ,a,A\n"))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestParseCSVKeepsRowsAroundMalformedOne(t *testing.T) {
	input := "question,answerA,answerB,answerC,answerD,correct\n" +
		"2+2?,3,4,5,6,B\n" +
		"Who wrote \"Hamlet\"?,Shakespeare,Marlowe,Jonson,Kyd,A\n" +
		"3+3?,5,6,7,8,B\n"

	records, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 3)

	_, err = records[0].ToQuestion()
	assert.NoError(t, err)
	_, err = records[1].ToQuestion()
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "第 3 行")
	_, err = records[2].ToQuestion()
	assert.NoError(t, err)

	// 未闭合的引号吞掉了后续内容，只产生一条无效记录
	records, err = ParseCSV(strings.NewReader("question,answerA,answerB,answerC,answerD,correct\n\"unterminated,a,b,c,d,A\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	_, err = records[0].ToQuestion()
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
