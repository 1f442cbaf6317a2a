package bulkwriter

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"table-bulkwriter/internal/bulkwriter/config"
	"table-bulkwriter/internal/bulkwriter/model"
	"table-bulkwriter/internal/bulkwriter/writer"

	"go.uber.org/zap"
)

// memStore keeps accepted students and rejects the ids in reject forever.
type memStore struct {
	mu       sync.Mutex
	capacity int
	reject   map[string]bool
	fail     error
	written  map[string]model.Student
	closed   bool
}

func newMemStore(capacity int, reject ...string) *memStore {
	s := &memStore{capacity: capacity, reject: map[string]bool{}, written: map[string]model.Student{}}
	for _, id := range reject {
		s.reject[id] = true
	}
	return s
}

func (s *memStore) BatchWrite(ctx context.Context, batch []model.Student) ([]model.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	var unprocessed []model.Student
	for _, st := range batch {
		if s.reject[st.ID] {
			unprocessed = append(unprocessed, st)
			continue
		}
		s.written[st.ID] = st
	}
	return unprocessed, nil
}

func (s *memStore) MaxBatchSize() int { return s.capacity }

func (s *memStore) Close() error {
	s.closed = true
	return nil
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Store.Kind = config.KindDynamoDB
	cfg.Writer = config.WriterConfig{
		ID:              "students",
		BatchSize:       25,
		MaxRetries:      1,
		FlushIntervalMs: 10,
		AsyncWorkers:    2,
		QueueSize:       16,
	}
	cfg.Monitor.ReportTTLMinute = 5
	return cfg
}

func newTestCore(t *testing.T, s *memStore) *Core {
	t.Helper()
	c, err := NewWithStore(testConfig(), zap.NewNop(), s)
	if err != nil {
		t.Fatalf("NewWithStore: %v", err)
	}
	return c
}

func TestRunBatchSampleDataset(t *testing.T) {
	s := newMemStore(25)
	c := newTestCore(t, s)
	c.Start()
	defer c.Stop(context.Background())

	report, err := c.RunBatch(context.Background(), "../../config/students.json")
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if report.Status != writer.StatusSuccess || report.Batches != 1 || report.Retries != 0 {
		t.Errorf("report = %+v, want one successful batch", report)
	}
	if len(s.written) != 25 {
		t.Errorf("written = %d, want 25", len(s.written))
	}
	if got := c.Reports().List("students"); len(got) != 1 || got[0].Accepted != 25 {
		t.Errorf("reports = %+v", got)
	}
}

func TestRunBatchPartialFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.json")
	data := `[{"id":"1","name":"a","class":"A","marks":1},{"id":"2","name":"b","class":"A","marks":2}]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newTestCore(t, newMemStore(25, "2"))
	report, err := c.RunBatch(context.Background(), path)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if report.Status != writer.StatusPartialFailure || report.Rounds != 2 {
		t.Fatalf("report = %+v, want partial failure after 2 rounds", report)
	}
	if len(report.PendingKeys) != 1 || report.PendingKeys[0] != "2" {
		t.Errorf("pending keys = %v, want [2]", report.PendingKeys)
	}
	if ExitCode(report.Status) != 2 {
		t.Errorf("exit code = %d, want 2", ExitCode(report.Status))
	}
}

func TestRunBatchMissingFile(t *testing.T) {
	c := newTestCore(t, newMemStore(25))
	report, err := c.RunBatch(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	if err == nil || report.Status != writer.StatusFailed {
		t.Fatalf("report = %+v, err = %v, want failure", report, err)
	}
}

func TestRunStream(t *testing.T) {
	s := newMemStore(10, "7")
	c := newTestCore(t, s)

	var b strings.Builder
	for i := 1; i <= 40; i++ {
		b.WriteString(`{"id":"` + strconv.Itoa(i) + `","name":"n","class":"C","marks":50}` + "\n")
	}
	b.WriteString("not json\n")
	b.WriteString(`{"id":"","name":"noid"}` + "\n")

	res, err := c.RunStream(context.Background(), strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	if res.Read != 42 || res.Invalid != 2 {
		t.Errorf("read/invalid = %d/%d, want 42/2", res.Read, res.Invalid)
	}
	if res.Accepted != 39 || len(s.written) != 39 {
		t.Errorf("accepted = %d, written = %d, want 39", res.Accepted, len(s.written))
	}
	if res.Status != writer.StatusPartialFailure || len(res.Pending) != 1 || res.Pending[0] != "7" {
		t.Errorf("status = %s pending = %v, want partial failure on 7", res.Status, res.Pending)
	}
	if res.Flushes == 0 || len(c.Reports().List("")) != res.Flushes {
		t.Errorf("flushes = %d, cached reports = %d", res.Flushes, len(c.Reports().List("")))
	}
}

func TestRunStreamCallFailure(t *testing.T) {
	s := newMemStore(10)
	s.fail = errors.New("connection reset")
	c := newTestCore(t, s)

	res, err := c.RunStream(context.Background(), strings.NewReader(`{"id":"1"}`+"\n"))
	var callErr *writer.StoreCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("err = %v, want StoreCallError", err)
	}
	if res.Status != writer.StatusFailed || ExitCode(res.Status) != 1 {
		t.Errorf("status = %s", res.Status)
	}
}

func TestRunStreamCancelled(t *testing.T) {
	c := newTestCore(t, newMemStore(10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// a reader that never returns data
	pr, pw := io.Pipe()
	defer pw.Close()

	res, err := c.RunStream(ctx, pr)
	if !errors.Is(err, writer.ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want cancelled", err)
	}
	if res.Status != writer.StatusCancelled {
		t.Errorf("status = %s, want cancelled", res.Status)
	}
}

func TestStopClosesStore(t *testing.T) {
	s := newMemStore(10)
	c := newTestCore(t, s)
	c.Stop(context.Background())
	if !s.closed {
		t.Error("store not closed")
	}
}

func TestWorse(t *testing.T) {
	tests := []struct {
		a, b, want writer.Status
	}{
		{writer.StatusSuccess, writer.StatusPartialFailure, writer.StatusPartialFailure},
		{writer.StatusFailed, writer.StatusPartialFailure, writer.StatusFailed},
		{writer.StatusCancelled, writer.StatusSuccess, writer.StatusCancelled},
	}
	for _, tt := range tests {
		if got := worse(tt.a, tt.b); got != tt.want {
			t.Errorf("worse(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}
