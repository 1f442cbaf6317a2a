package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"table-bulkwriter/internal/bulkwriter/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// replyError is an error reply as the server would send it.
type replyError string

func (e replyError) Error() string { return string(e) }
func (replyError) RedisError()     {}

func setCmd(key string, err error) redis.Cmder {
	cmd := redis.NewStatusCmd(context.Background(), "set", key, "v")
	if err != nil {
		cmd.SetErr(err)
	}
	return cmd
}

func TestRejectedByReply(t *testing.T) {
	batch := students(3)
	cmds := []redis.Cmder{
		setCmd("1", nil),
		setCmd("2", replyError("OOM command not allowed when used memory > 'maxmemory'")),
		setCmd("3", nil),
	}

	unprocessed, err := rejectedByReply(batch, cmds, cmds[1].Err())
	if err != nil {
		t.Fatalf("rejectedByReply: %v", err)
	}
	if len(unprocessed) != 1 || unprocessed[0] != batch[1] {
		t.Errorf("unprocessed = %+v, want student 2", unprocessed)
	}
}

func TestRejectedByReplyTransportError(t *testing.T) {
	batch := students(2)
	cmds := []redis.Cmder{
		setCmd("1", replyError("READONLY You can't write against a read only replica.")),
		setCmd("2", errors.New("i/o timeout")),
	}

	if _, err := rejectedByReply(batch, cmds, cmds[0].Err()); err == nil {
		t.Fatal("expected a call failure for a non-reply error")
	}
}

func TestRedisStoreUnreachableIsCallFailure(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	s := NewRedisStore(rdb, zap.NewNop(), "student:", 0, model.StudentKey, 0)
	if s.MaxBatchSize() != DefaultRedisBatchSize {
		t.Errorf("MaxBatchSize = %d, want %d", s.MaxBatchSize(), DefaultRedisBatchSize)
	}

	unprocessed, err := s.BatchWrite(context.Background(), students(2))
	if err == nil {
		t.Fatalf("expected call failure, got unprocessed %v", unprocessed)
	}
}
