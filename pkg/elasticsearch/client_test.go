package elasticsearch

import (
	"strings"
	"testing"
)

func TestParseBulkResponse(t *testing.T) {
	body := `{"took":3,"errors":true,"items":[
		{"index":{"_id":"1","status":201}},
		{"index":{"_id":"2","status":429,"error":{"type":"es_rejected_execution_exception","reason":"queue full"}}},
		{"create":{"_id":"3","status":200}},
		{"index":{"_id":"4","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad field"}}}
	]}`

	failed, err := ParseBulkResponse([]byte(body))
	if err != nil {
		t.Fatalf("ParseBulkResponse: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("failed = %+v, want 2 items", failed)
	}
	if failed[0].Position != 1 || failed[0].ID != "2" || failed[0].Status != 429 {
		t.Errorf("failed[0] = %+v", failed[0])
	}
	if !strings.HasPrefix(failed[1].Reason, "mapper_parsing_exception") || failed[1].Position != 3 {
		t.Errorf("failed[1] = %+v", failed[1])
	}
}

func TestParseBulkResponseNoErrors(t *testing.T) {
	failed, err := ParseBulkResponse([]byte(`{"took":1,"errors":false,"items":[{"index":{"_id":"1","status":201}}]}`))
	if err != nil || len(failed) != 0 {
		t.Fatalf("failed = %+v, err = %v", failed, err)
	}
}

func TestParseBulkResponseMalformed(t *testing.T) {
	if _, err := ParseBulkResponse([]byte(`{"items":`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestEncodeBulkBody(t *testing.T) {
	body, err := encodeBulkBody([]BulkOperation{
		{Action: "index", Index: "students", ID: "7", Document: map[string]any{"name": "x"}},
	})
	if err != nil {
		t.Fatalf("encodeBulkBody: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(body), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q, want action and document", lines)
	}
	if !strings.Contains(lines[0], `"_id":"7"`) || !strings.Contains(lines[0], `"index"`) {
		t.Errorf("action line = %s", lines[0])
	}
	if lines[1] != `{"name":"x"}` {
		t.Errorf("document line = %s", lines[1])
	}
}
