package store

import (
	"context"
	"fmt"

	"table-bulkwriter/internal/bulkwriter/writer"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const DefaultNSQBatchSize = 200

type multiPublisher interface {
	MultiPublish(topic string, body [][]byte) error
}

// NSQStore publishes a batch with one MPUB. nsqd accepts or rejects the whole
// batch, so there is never a partial result.
type NSQStore[T any] struct {
	producer  multiPublisher
	tl        *zap.Logger
	topic     string
	key       writer.KeyFunc[T]
	batchSize int
}

func NewNSQStore[T any](producer multiPublisher, tl *zap.Logger, topic string, key writer.KeyFunc[T], batchSize int) *NSQStore[T] {
	if batchSize <= 0 {
		batchSize = DefaultNSQBatchSize
	}
	return &NSQStore[T]{producer: producer, tl: tl, topic: topic, key: key, batchSize: batchSize}
}

func (s *NSQStore[T]) MaxBatchSize() int {
	return s.batchSize
}

func (s *NSQStore[T]) BatchWrite(ctx context.Context, batch []T) ([]T, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	// go-nsq 不支持 ctx, 发布前检查一次
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bodies := make([][]byte, 0, len(batch))
	for _, item := range batch {
		data, err := sonic.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", s.key(item), err)
		}
		bodies = append(bodies, data)
	}

	if err := s.producer.MultiPublish(s.topic, bodies); err != nil {
		return nil, fmt.Errorf("failed to publish to topic %s: %w", s.topic, err)
	}
	s.tl.Debug("Published batch", zap.String("topic", s.topic), zap.Int("size", len(batch)))
	return nil, nil
}

func (s *NSQStore[T]) Close() error {
	return nil
}
