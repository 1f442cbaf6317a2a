package store

import (
	"context"

	"table-bulkwriter/pkg/httpclient"

	"go.uber.org/zap"
)

const DefaultHTTPBatchSize = 100

type jsonPoster interface {
	PostJSON(ctx context.Context, url string, body any, headers map[string]string, out any) error
}

type batchRequest[T any] struct {
	Items []T `json:"items"`
}

type batchResponse[T any] struct {
	Unprocessed []T `json:"unprocessed"`
}

// HTTPStore posts {"items":[...]} to a batch-write endpoint that answers
// {"unprocessed":[...]}. Non-2xx responses fail the call.
type HTTPStore[T any] struct {
	client    jsonPoster
	tl        *zap.Logger
	url       string
	batchSize int
}

func NewHTTPStore[T any](client jsonPoster, tl *zap.Logger, url string, batchSize int) *HTTPStore[T] {
	if batchSize <= 0 {
		batchSize = DefaultHTTPBatchSize
	}
	return &HTTPStore[T]{client: client, tl: tl, url: url, batchSize: batchSize}
}

var _ jsonPoster = (*httpclient.HTTPClient)(nil)

func (s *HTTPStore[T]) MaxBatchSize() int {
	return s.batchSize
}

func (s *HTTPStore[T]) BatchWrite(ctx context.Context, batch []T) ([]T, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	var resp batchResponse[T]
	if err := s.client.PostJSON(ctx, s.url, batchRequest[T]{Items: batch}, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Unprocessed, nil
}

func (s *HTTPStore[T]) Close() error {
	return nil
}
