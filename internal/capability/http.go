package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgcap "github.com/scriptflow/scriptflow/pkg/capability"
)

// HTTPCapability is the in-process implementation of the httpRequest
// capability.
type HTTPCapability struct {
	Client *http.Client
}

func (c *HTTPCapability) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *HTTPCapability) Invoke(ctx context.Context, inv pkgcap.Invocation, emit pkgcap.Emitter) (any, error) {
	url, _ := inv.Params["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("httpRequest: url is required")
	}
	method, _ := inv.Params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	var body io.Reader
	if raw, ok := inv.Params["body"]; ok && raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("httpRequest: encoding body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("httpRequest: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := inv.Params["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	if emit != nil {
		emit.Progress("request", map[string]any{"method": method, "url": url})
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpRequest: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("httpRequest: reading response: %w", err)
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	// JSON responses decode into structured data; everything else stays a
	// string.
	var decoded any = string(data)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			decoded = v
		}
	}

	return map[string]any{
		"status":  float64(resp.StatusCode),
		"headers": headers,
		"body":    decoded,
	}, nil
}
