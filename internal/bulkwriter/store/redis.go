package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"table-bulkwriter/internal/bulkwriter/writer"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultRedisBatchSize = 500

// RedisStore writes each record as a JSON string under prefix+key in one
// pipeline. A command answered with an error reply is unprocessed; any other
// pipeline error fails the call.
type RedisStore[T any] struct {
	rdb       redis.Cmdable
	tl        *zap.Logger
	prefix    string
	ttl       time.Duration
	key       writer.KeyFunc[T]
	batchSize int
}

func NewRedisStore[T any](rdb redis.Cmdable, tl *zap.Logger, prefix string, ttl time.Duration, key writer.KeyFunc[T], batchSize int) *RedisStore[T] {
	if batchSize <= 0 {
		batchSize = DefaultRedisBatchSize
	}
	return &RedisStore[T]{rdb: rdb, tl: tl, prefix: prefix, ttl: ttl, key: key, batchSize: batchSize}
}

func (s *RedisStore[T]) MaxBatchSize() int {
	return s.batchSize
}

func (s *RedisStore[T]) BatchWrite(ctx context.Context, batch []T) ([]T, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]redis.Cmder, 0, len(batch))
	for _, item := range batch {
		data, err := sonic.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", s.key(item), err)
		}
		cmds = append(cmds, pipe.Set(ctx, s.prefix+s.key(item), data, s.ttl))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return rejectedByReply(batch, cmds, err)
	}
	return nil, nil
}

// rejectedByReply maps commands that got a server error reply back to their
// records. An error that is not a reply means the call itself failed, and so
// does an exec error no command accounts for.
func rejectedByReply[T any](batch []T, cmds []redis.Cmder, execErr error) ([]T, error) {
	var unprocessed []T
	for i, cmd := range cmds {
		err := cmd.Err()
		if err == nil {
			continue
		}
		var reply redis.Error
		if !errors.As(err, &reply) {
			return nil, fmt.Errorf("redis pipeline exec: %w", err)
		}
		unprocessed = append(unprocessed, batch[i])
	}
	if len(unprocessed) == 0 {
		return nil, fmt.Errorf("redis pipeline exec: %w", execErr)
	}
	return unprocessed, nil
}

func (s *RedisStore[T]) Close() error {
	return nil
}
