package store

import (
	"context"
	"fmt"

	"table-bulkwriter/internal/bulkwriter/writer"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// DynamoMaxBatchSize is the BatchWriteItem request limit.
const DynamoMaxBatchSize = 25

// BatchWriteItemAPI is the part of *dynamodb.Client the store needs.
type BatchWriteItemAPI interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore puts records into one table with BatchWriteItem. Items the
// service leaves in UnprocessedItems are decoded back and returned.
type DynamoStore[T any] struct {
	client BatchWriteItemAPI
	table  string
	tl     *zap.Logger
}

var _ writer.Store[struct{}] = (*DynamoStore[struct{}])(nil)

func NewDynamoStore[T any](client BatchWriteItemAPI, table string, tl *zap.Logger) *DynamoStore[T] {
	return &DynamoStore[T]{client: client, table: table, tl: tl}
}

func (s *DynamoStore[T]) MaxBatchSize() int {
	return DynamoMaxBatchSize
}

func (s *DynamoStore[T]) BatchWrite(ctx context.Context, batch []T) ([]T, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	requests := make([]types.WriteRequest, 0, len(batch))
	for _, item := range batch {
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return nil, fmt.Errorf("marshal item for table %s: %w", s.table, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}

	out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{s.table: requests},
	})
	if err != nil {
		return nil, fmt.Errorf("batch write item on table %s: %w", s.table, err)
	}
	return s.unprocessed(out)
}

// unprocessed 汇总所有表的未处理条目
func (s *DynamoStore[T]) unprocessed(out *dynamodb.BatchWriteItemOutput) ([]T, error) {
	if out == nil || len(out.UnprocessedItems) == 0 {
		return nil, nil
	}

	var items []T
	for table, reqs := range out.UnprocessedItems {
		for _, req := range reqs {
			if req.PutRequest == nil {
				continue
			}
			var item T
			if err := attributevalue.UnmarshalMap(req.PutRequest.Item, &item); err != nil {
				return nil, fmt.Errorf("unmarshal unprocessed item from table %s: %w", table, err)
			}
			items = append(items, item)
		}
	}
	if len(items) > 0 {
		s.tl.Debug("DynamoDB returned unprocessed items", zap.String("table", s.table), zap.Int("count", len(items)))
	}
	return items, nil
}

func (s *DynamoStore[T]) Close() error {
	return nil
}
