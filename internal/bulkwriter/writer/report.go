package writer

import "time"

type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusCancelled      Status = "cancelled"
	StatusFailed         Status = "failed"
)

// Report is the outcome of one Write call. Accepted and Pending partition the
// de-duplicated input: Accepted holds what the store confirmed, Pending what
// was never confirmed written.
type Report[T any] struct {
	Status          Status
	Records         int
	Duplicates      int
	// DuplicateKeys 因 key 重复而未写入的记录, 每个被丢弃的记录一项
	DuplicateKeys   []string
	Accepted        []T
	Pending         []T
	PendingKeys     []string
	Rounds          int
	Retries         int
	Batches         int
	BatchesPerRound []int
	Duration        time.Duration
}

func (r Report[T]) OK() bool {
	return r.Status == StatusSuccess
}

// Summary 不含记录内容的报告摘要, 用于缓存和接口输出
type Summary struct {
	WriterID        string        `json:"writer_id"`
	Status          Status        `json:"status"`
	Records         int           `json:"records"`
	Duplicates      int           `json:"duplicates"`
	DuplicateKeys   []string      `json:"duplicate_keys,omitempty"`
	Accepted        int           `json:"accepted"`
	Pending         int           `json:"pending"`
	PendingKeys     []string      `json:"pending_keys,omitempty"`
	Rounds          int           `json:"rounds"`
	Retries         int           `json:"retries"`
	Batches         int           `json:"batches"`
	BatchesPerRound []int         `json:"batches_per_round,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
	Error           string        `json:"error,omitempty"`
	FinishedAt      time.Time     `json:"finished_at"`
}

func (r Report[T]) Summary(writerID string, err error) Summary {
	s := Summary{
		WriterID:        writerID,
		Status:          r.Status,
		Records:         r.Records,
		Duplicates:      r.Duplicates,
		DuplicateKeys:   r.DuplicateKeys,
		Accepted:        len(r.Accepted),
		Pending:         len(r.Pending),
		PendingKeys:     r.PendingKeys,
		Rounds:          r.Rounds,
		Retries:         r.Retries,
		Batches:         r.Batches,
		BatchesPerRound: r.BatchesPerRound,
		Duration:        r.Duration,
		FinishedAt:      time.Now(),
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}
