package elasticsearch

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

type Client struct {
	es     *elasticsearch.Client
	logger *zap.Logger
}

type Config struct {
	Addresses []string
	Username  string
	Password  string
}

// BulkOperation 批量操作的结构
type BulkOperation struct {
	Action   string // index, create
	Index    string
	ID       string
	Document any
}

// BulkItemResult is a failed item of a bulk response. Position is the index
// of the operation in the request.
type BulkItemResult struct {
	Position int
	ID       string
	Status   int
	Reason   string
}

type bulkResponse struct {
	Errors bool                     `json:"errors"`
	Items  []map[string]bulkItemRaw `json:"items"`
}

type bulkItemRaw struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return &Client{
		es:     es,
		logger: log,
	}, nil
}

// BulkWrite 执行批量操作, 返回失败的条目. 只有请求本身失败时才返回 error
func (c *Client) BulkWrite(ctx context.Context, operations []BulkOperation) ([]BulkItemResult, error) {
	if len(operations) == 0 {
		return nil, nil
	}

	body, err := encodeBulkBody(operations)
	if err != nil {
		return nil, err
	}

	req := esapi.BulkRequest{
		Body: bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("bulk operation failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("bulk operation error: %s", res.String())
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read bulk response: %w", err)
	}
	failed, err := ParseBulkResponse(data)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Bulk write operation completed",
		zap.Int("operations", len(operations)),
		zap.Int("failed", len(failed)))
	return failed, nil
}

func (c *Client) Close() error {
	return nil
}

func encodeBulkBody(operations []BulkOperation) ([]byte, error) {
	var buf bytes.Buffer
	for _, op := range operations {
		// 构建操作行
		actionLine := map[string]any{
			op.Action: map[string]any{
				"_index": op.Index,
				"_id":    op.ID,
			},
		}
		actionBytes, err := sonic.Marshal(actionLine)
		if err != nil {
			return nil, fmt.Errorf("encode bulk action: %w", err)
		}
		buf.Write(actionBytes)
		buf.WriteByte('\n')

		docBytes, err := sonic.Marshal(op.Document)
		if err != nil {
			return nil, fmt.Errorf("encode bulk document %s: %w", op.ID, err)
		}
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// ParseBulkResponse returns the items of a bulk response whose status is not
// 2xx, in request order.
func ParseBulkResponse(data []byte) ([]BulkItemResult, error) {
	var resp bulkResponse
	if err := sonic.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	if !resp.Errors {
		return nil, nil
	}

	var failed []BulkItemResult
	for pos, item := range resp.Items {
		for _, raw := range item {
			if raw.Status >= 200 && raw.Status < 300 {
				continue
			}
			result := BulkItemResult{Position: pos, ID: raw.ID, Status: raw.Status}
			if raw.Error != nil {
				result.Reason = raw.Error.Type + ": " + raw.Error.Reason
			}
			failed = append(failed, result)
		}
	}
	return failed, nil
}
