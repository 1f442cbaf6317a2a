package store

import (
	"context"
	"errors"
	"fmt"

	"table-bulkwriter/internal/bulkwriter/writer"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const DefaultKafkaBatchSize = 1000

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaStore publishes one message per record, keyed by the record key. The
// writer must be synchronous so that kafka.WriteErrors reports per message.
type KafkaStore[T any] struct {
	mq        messageWriter
	tl        *zap.Logger
	key       writer.KeyFunc[T]
	batchSize int
}

func NewKafkaStore[T any](mq messageWriter, tl *zap.Logger, key writer.KeyFunc[T], batchSize int) *KafkaStore[T] {
	if batchSize <= 0 {
		batchSize = DefaultKafkaBatchSize
	}
	return &KafkaStore[T]{mq: mq, tl: tl, key: key, batchSize: batchSize}
}

func (s *KafkaStore[T]) MaxBatchSize() int {
	return s.batchSize
}

func (s *KafkaStore[T]) BatchWrite(ctx context.Context, batch []T) ([]T, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	msgs := make([]kafka.Message, 0, len(batch))
	for _, item := range batch {
		data, err := sonic.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", s.key(item), err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(s.key(item)), Value: data})
	}

	err := s.mq.WriteMessages(ctx, msgs...)
	if err == nil {
		return nil, nil
	}

	var writeErrs kafka.WriteErrors
	if !errors.As(err, &writeErrs) || len(writeErrs) != len(batch) {
		return nil, fmt.Errorf("kafka write messages: %w", err)
	}

	var unprocessed []T
	for i, werr := range writeErrs {
		if werr != nil {
			unprocessed = append(unprocessed, batch[i])
		}
	}
	s.tl.Debug("Kafka rejected messages", zap.Int("count", len(unprocessed)), zap.Error(err))
	return unprocessed, nil
}

func (s *KafkaStore[T]) Close() error {
	return nil
}
