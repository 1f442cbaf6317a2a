package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAsyncWriterFlushesEverything(t *testing.T) {
	store := &fakeStore{capacity: 10}
	w := newTestWriter(t, store, Options{ID: "async-test"})

	var mu sync.Mutex
	var accepted int
	aw := NewAsyncWriter(zap.NewNop(), w, AsyncOptions[rec]{
		Workers:       2,
		QueueSize:     100,
		BatchSize:     20,
		FlushInterval: 10 * time.Millisecond,
		OnReport: func(r Report[rec], err error) {
			if err != nil {
				t.Errorf("unexpected flush error: %v", err)
			}
			mu.Lock()
			accepted += len(r.Accepted)
			mu.Unlock()
		},
	})
	aw.Start(context.Background())

	for _, r := range makeRecs(55) {
		if !aw.Submit(r) {
			t.Fatalf("submit of %s rejected", r.ID)
		}
	}
	aw.Close()

	mu.Lock()
	defer mu.Unlock()
	if accepted != 55 {
		t.Errorf("expected 55 accepted records, got %d", accepted)
	}
	for i, batch := range store.calls {
		if len(batch) > 10 {
			t.Errorf("batch %d has %d records", i, len(batch))
		}
	}
}

func TestAsyncWriterDropsWhenFull(t *testing.T) {
	store := &fakeStore{capacity: 10}
	w := newTestWriter(t, store, Options{})
	aw := NewAsyncWriter(zap.NewNop(), w, AsyncOptions[rec]{QueueSize: 1})

	// not started: nothing drains the queue
	if !aw.Submit(rec{ID: "1"}) {
		t.Fatalf("first submit should fit in the queue")
	}
	if aw.Submit(rec{ID: "2"}) {
		t.Errorf("second submit should be dropped")
	}
}

func TestAsyncWriterRejectsAfterClose(t *testing.T) {
	store := &fakeStore{capacity: 10}
	w := newTestWriter(t, store, Options{})
	aw := NewAsyncWriter(zap.NewNop(), w, AsyncOptions[rec]{})
	aw.Start(context.Background())
	aw.Close()
	aw.Close()

	if aw.Submit(rec{ID: "late"}) {
		t.Errorf("submit after close should be rejected")
	}
}

func TestAsyncWriterDrainsOnCancel(t *testing.T) {
	store := &fakeStore{capacity: 10}
	w := newTestWriter(t, store, Options{})

	flushed := make(chan int, 4)
	aw := NewAsyncWriter(zap.NewNop(), w, AsyncOptions[rec]{
		BatchSize:     100,
		FlushInterval: time.Hour,
		OnReport: func(r Report[rec], err error) {
			flushed <- len(r.Accepted)
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	aw.Start(ctx)
	for _, r := range makeRecs(3) {
		aw.Submit(r)
	}
	// let the worker pick the items up before cancelling
	deadline := time.Now().Add(2 * time.Second)
	for len(aw.inputChan) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	aw.Close()

	select {
	case n := <-flushed:
		if n != 3 {
			t.Errorf("expected 3 records drained, got %d", n)
		}
	default:
		t.Errorf("expected a drain flush on cancellation")
	}
}

func TestAsyncWriterSubmitWaitBlocksUntilRoom(t *testing.T) {
	store := &fakeStore{capacity: 10}
	w := newTestWriter(t, store, Options{})
	aw := NewAsyncWriter(zap.NewNop(), w, AsyncOptions[rec]{QueueSize: 1, FlushInterval: 5 * time.Millisecond})

	if err := aw.SubmitWait(context.Background(), rec{ID: "1"}); err != nil {
		t.Fatalf("SubmitWait: %v", err)
	}

	// queue is full and no worker runs yet
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := aw.SubmitWait(ctx, rec{ID: "2"}); !errors.Is(err, ErrCancelled) {
		t.Fatalf("SubmitWait on a full queue = %v, want ErrCancelled", err)
	}

	aw.Start(context.Background())
	if err := aw.SubmitWait(context.Background(), rec{ID: "2"}); err != nil {
		t.Fatalf("SubmitWait after start: %v", err)
	}
	aw.Close()

	if err := aw.SubmitWait(context.Background(), rec{ID: "3"}); !errors.Is(err, ErrAsyncClosed) {
		t.Errorf("SubmitWait after close = %v, want ErrAsyncClosed", err)
	}
	if got := store.callCount(); got == 0 {
		t.Errorf("expected the queued records to be flushed")
	}
}

func TestAsyncWriterAccountsForQueuedRecordsOnCancel(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	store := &fakeStore{capacity: 10, respond: func(call int, batch []rec) ([]rec, error) {
		if call == 1 {
			entered <- struct{}{}
		}
		<-release
		return nil, nil
	}}
	w := newTestWriter(t, store, Options{ID: "async-cancel"})

	var mu sync.Mutex
	seen := make(map[string]int)
	var cancelledReports int
	aw := NewAsyncWriter(zap.NewNop(), w, AsyncOptions[rec]{
		Workers:       1,
		QueueSize:     100,
		BatchSize:     2,
		FlushInterval: time.Hour,
		OnReport: func(r Report[rec], err error) {
			mu.Lock()
			defer mu.Unlock()
			for _, a := range r.Accepted {
				seen[a.ID]++
			}
			for _, p := range r.Pending {
				seen[p.ID]++
			}
			if r.Status == StatusCancelled {
				cancelledReports++
				if !errors.Is(err, ErrCancelled) {
					t.Errorf("cancelled flush error = %v, want ErrCancelled", err)
				}
			}
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	aw.Start(ctx)

	input := makeRecs(10)
	for _, r := range input {
		if !aw.Submit(r) {
			t.Fatalf("submit of %s rejected", r.ID)
		}
	}
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first flush never reached the store")
	}
	cancel()
	close(release)
	aw.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(input) {
		t.Errorf("expected all %d records accounted for, got %d", len(input), len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("record %s reported %d times", id, n)
		}
	}
	if cancelledReports == 0 {
		t.Errorf("expected at least one cancelled report")
	}
}

func TestAsyncWriterCloseReportsUnstartedQueue(t *testing.T) {
	store := &fakeStore{capacity: 10}
	w := newTestWriter(t, store, Options{})

	var got Report[rec]
	var gotErr error
	aw := NewAsyncWriter(zap.NewNop(), w, AsyncOptions[rec]{
		OnReport: func(r Report[rec], err error) {
			got, gotErr = r, err
		},
	})
	for _, r := range makeRecs(3) {
		aw.Submit(r)
	}
	aw.Close()

	if got.Status != StatusCancelled || len(got.Pending) != 3 || len(got.PendingKeys) != 3 {
		t.Errorf("expected 3 pending records in a cancelled report, got %+v", got)
	}
	if !errors.Is(gotErr, ErrCancelled) || !errors.Is(gotErr, ErrAsyncClosed) {
		t.Errorf("expected ErrCancelled wrapping ErrAsyncClosed, got %v", gotErr)
	}
	if store.callCount() != 0 {
		t.Errorf("expected no store calls, got %d", store.callCount())
	}
}
