package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aicflow/aicflow/internal/ctxkeys"
	"github.com/aicflow/aicflow/workflow"
)

// DefaultMaxResponseBytes bounds the response body read by HTTP.
const DefaultMaxResponseBytes = 1 << 20

// HeaderExecutionID carries the id of the calling workflow execution.
const HeaderExecutionID = "X-Workflow-Execution-ID"

// HTTP calls the endpoint named by the "url" config. For POST, PUT and PATCH
// the node input is sent as a JSON body. The output holds the status code,
// the response headers and the body, decoded when it is JSON. A status of
// 400 or above is an error, so the invoker's retry policy applies.
type HTTP struct {
	Client           *http.Client
	MaxResponseBytes int64
}

func (h *HTTP) Execute(ctx context.Context, nodeID string, in, cfg workflow.Record) (workflow.Record, error) {
	url, _ := cfg["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http %s: missing url", nodeID)
	}
	method, _ := cfg["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	var body io.Reader
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("http %s: encode body: %w", nodeID, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("http %s: %w", nodeID, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := asMap(cfg["headers"]); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}
	if id, ok := ctxkeys.ExecutionID(ctx); ok {
		req.Header.Set(HeaderExecutionID, id)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http %s: %w", nodeID, err)
	}
	defer resp.Body.Close()

	limit := h.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("http %s: read body: %w", nodeID, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("http %s: %s %s returned %d", nodeID, method, url, resp.StatusCode)
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return workflow.Record{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    decodeBody(raw),
	}, nil
}

func decodeBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}
