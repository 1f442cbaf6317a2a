package store

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"table-bulkwriter/internal/bulkwriter/model"
	"table-bulkwriter/pkg/httpclient"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// newBatchEndpoint rejects every student with marks below minMarks.
func newBatchEndpoint(t *testing.T, minMarks int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		data, _ := io.ReadAll(r.Body)
		var req batchRequest[model.Student]
		if err := sonic.Unmarshal(data, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := batchResponse[model.Student]{Unprocessed: []model.Student{}}
		for _, s := range req.Items {
			if s.Marks < minMarks {
				resp.Unprocessed = append(resp.Unprocessed, s)
			}
		}
		body, _ := sonic.Marshal(resp)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestHTTPClient(apiKey string) *httpclient.HTTPClient {
	return httpclient.NewHTTPClient(httpclient.HTTPClientConfig{
		Timeout: 2 * time.Second,
		XApiKey: apiKey,
	}, zap.NewNop())
}

func TestHTTPStoreBatchWrite(t *testing.T) {
	srv := newBatchEndpoint(t, 52)
	client := newTestHTTPClient("secret")
	defer client.Close()
	s := NewHTTPStore[model.Student](client, zap.NewNop(), srv.URL, 0)

	if s.MaxBatchSize() != DefaultHTTPBatchSize {
		t.Errorf("MaxBatchSize = %d, want %d", s.MaxBatchSize(), DefaultHTTPBatchSize)
	}

	batch := students(4) // marks 50..53
	unprocessed, err := s.BatchWrite(context.Background(), batch)
	if err != nil {
		t.Fatalf("BatchWrite: %v", err)
	}
	if len(unprocessed) != 2 || unprocessed[0] != batch[0] || unprocessed[1] != batch[1] {
		t.Errorf("unprocessed = %+v, want students 1 and 2", unprocessed)
	}
}

func TestHTTPStoreNon2xxIsCallFailure(t *testing.T) {
	srv := newBatchEndpoint(t, 0)
	client := newTestHTTPClient("wrong")
	defer client.Close()
	s := NewHTTPStore[model.Student](client, zap.NewNop(), srv.URL, 10)

	_, err := s.BatchWrite(context.Background(), students(1))
	var httpErr *httpclient.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("err = %v, want HTTP 401", err)
	}
}
