package question

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/metrics"
)

const (
	// DefaultRandomCount 是未指定数量时的抽题数量
	DefaultRandomCount = 10
	// MaxRandomCount 是单次抽题的上限
	MaxRandomCount = 50
	// maxRecordErrors 限制返回给调用方的逐条错误数量
	maxRecordErrors = 50
)

// RecordError 描述批次中某一条记录被拒绝的原因
type RecordError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// IngestResult 是一次导入的统计结果。
// Inserted + Duplicates + Invalid 等于批次中的记录数。
type IngestResult struct {
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
	Invalid    int           `json:"invalid"`
	Errors     []RecordError `json:"errors,omitempty"`
}

func (r *IngestResult) reject(index int, err error) {
	r.Invalid++
	if len(r.Errors) < maxRecordErrors {
		r.Errors = append(r.Errors, RecordError{Index: index, Reason: err.Error()})
	}
}

// Service 负责题目的导入、抽取与判题
type Service struct {
	repo    Repository
	metrics *metrics.Metrics
	log     *logrus.Entry
}

// NewService 创建题库服务，metrics 可以为 nil
func NewService(repo Repository, m *metrics.Metrics, log *logrus.Entry) *Service {
	return &Service{repo: repo, metrics: m, log: log}
}

// Ingest 逐条校验并写入记录。
// 先按内容哈希检查是否已存在，存在则计为重复，但仍会写入以刷新元数据。
// 存储不可用时立即中止并返回已处理部分的统计。
func (s *Service) Ingest(ctx context.Context, records []RawRecord) (IngestResult, error) {
	var result IngestResult
	for i, rec := range records {
		if err := s.ingestOne(ctx, i, rec, &result); err != nil {
			return result, err
		}
	}
	s.logResult(result)
	return result, nil
}

func (s *Service) ingestOne(ctx context.Context, index int, rec RawRecord, result *IngestResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q, err := rec.ToQuestion()
	if err != nil {
		result.reject(index, err)
		s.count("invalid")
		return nil
	}

	exists, err := s.repo.Exists(ctx, q.ContentHash)
	if err != nil {
		return err
	}
	// 两个并发批次可能同时通过预检查，唯一索引保证只会存在一行，
	// 此时两边都会计为新增
	if err := s.repo.Upsert(ctx, &q); err != nil {
		return err
	}

	if exists {
		result.Duplicates++
		s.count("duplicate")
	} else {
		result.Inserted++
		s.count("inserted")
	}
	return nil
}

func (s *Service) logResult(result IngestResult) {
	s.log.WithFields(logrus.Fields{
		"inserted":   result.Inserted,
		"duplicates": result.Duplicates,
		"invalid":    result.Invalid,
	}).Info("题目导入完成")
}

// IngestJSON 解析JSON数组形式的批次。
// 整体不是数组时返回 ErrInvalidInput；单个元素无法解析只计为无效记录。
func (s *Service) IngestJSON(ctx context.Context, r io.Reader) (IngestResult, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%w: 读取请求体失败: %v", apperr.ErrInvalidInput, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return IngestResult{}, fmt.Errorf("%w: 请求体必须是JSON数组", apperr.ErrInvalidInput)
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(body, &elements); err != nil {
		return IngestResult{}, fmt.Errorf("%w: JSON格式错误: %v", apperr.ErrInvalidInput, err)
	}

	var result IngestResult
	for i, raw := range elements {
		var rec RawRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			result.reject(i, fmt.Errorf("%w: %v", apperr.ErrValidation, err))
			s.count("invalid")
			continue
		}
		if err := s.ingestOne(ctx, i, rec, &result); err != nil {
			return result, err
		}
	}
	s.logResult(result)
	return result, nil
}

// IngestCSV 解析带表头的CSV批次
func (s *Service) IngestCSV(ctx context.Context, r io.Reader) (IngestResult, error) {
	records, err := ParseCSV(r)
	if err != nil {
		return IngestResult{}, err
	}
	return s.Ingest(ctx, records)
}

// RandomQuestions 随机返回最多 n 道题，不包含正确答案。
// n 会被限制在 [1, MaxRandomCount]，n<=0 时使用默认值。
func (s *Service) RandomQuestions(ctx context.Context, n int) ([]PublicQuestion, error) {
	switch {
	case n <= 0:
		n = DefaultRandomCount
	case n > MaxRandomCount:
		n = MaxRandomCount
	}

	questions, err := s.repo.Random(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]PublicQuestion, 0, len(questions))
	for _, q := range questions {
		out = append(out, q.Public())
	}
	return out, nil
}

// GradeAnswer 判断提交的选项是否正确
func (s *Service) GradeAnswer(ctx context.Context, contentHash, answerID string) (Grade, error) {
	id, ok := canonicalAnswerID(answerID)
	if !ok {
		return Grade{}, fmt.Errorf("%w: 选项ID %q 无效", apperr.ErrValidation, answerID)
	}
	q, err := s.repo.FindByHash(ctx, contentHash)
	if err != nil {
		return Grade{}, err
	}
	return Grade{
		ContentHash:     q.ContentHash,
		AnswerID:        id,
		Correct:         id == q.CorrectAnswerID,
		CorrectAnswerID: q.CorrectAnswerID,
	}, nil
}

// Count 返回题库中的题目数量
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}

func (s *Service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.IngestedRecords.WithLabelValues(outcome).Inc()
	}
}
