package store

import (
	"context"

	"table-bulkwriter/internal/bulkwriter/writer"
	"table-bulkwriter/pkg/elasticsearch"

	"go.uber.org/zap"
)

const DefaultESBatchSize = 500

type bulkClient interface {
	BulkWrite(ctx context.Context, operations []elasticsearch.BulkOperation) ([]elasticsearch.BulkItemResult, error)
}

// ESStore indexes records with the bulk API, using the record key as the
// document id. Items whose bulk status is not 2xx come back unprocessed.
type ESStore[T any] struct {
	client    bulkClient
	tl        *zap.Logger
	index     string
	key       writer.KeyFunc[T]
	batchSize int
}

func NewESStore[T any](client bulkClient, tl *zap.Logger, index string, key writer.KeyFunc[T], batchSize int) *ESStore[T] {
	if batchSize <= 0 {
		batchSize = DefaultESBatchSize
	}
	return &ESStore[T]{client: client, tl: tl, index: index, key: key, batchSize: batchSize}
}

func (s *ESStore[T]) MaxBatchSize() int {
	return s.batchSize
}

func (s *ESStore[T]) BatchWrite(ctx context.Context, batch []T) ([]T, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	operations := make([]elasticsearch.BulkOperation, 0, len(batch))
	for _, item := range batch {
		operations = append(operations, elasticsearch.BulkOperation{
			Action:   "index", // 存在则覆盖
			Index:    s.index,
			ID:       s.key(item),
			Document: item,
		})
	}

	failed, err := s.client.BulkWrite(ctx, operations)
	if err != nil {
		return nil, err
	}

	var unprocessed []T
	for _, f := range failed {
		if f.Position < 0 || f.Position >= len(batch) {
			s.tl.Warn("Bulk response item out of range", zap.Int("position", f.Position), zap.String("id", f.ID))
			continue
		}
		s.tl.Debug("Bulk item rejected",
			zap.String("id", f.ID),
			zap.Int("status", f.Status),
			zap.String("reason", f.Reason))
		unprocessed = append(unprocessed, batch[f.Position])
	}
	return unprocessed, nil
}

func (s *ESStore[T]) Close() error {
	return nil
}
