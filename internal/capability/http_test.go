package capability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgcap "github.com/scriptflow/scriptflow/pkg/capability"
)

func TestHTTPCapabilityJSONRoundtrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if got := r.Header.Get("X-Api-Version"); got != "2" {
			t.Errorf("X-Api-Version = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var in map[string]any
		if err := json.Unmarshal(body, &in); err != nil {
			t.Errorf("request body not JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"echo": in["name"]})
	}))
	defer srv.Close()

	cap := &HTTPCapability{Client: srv.Client()}
	out, err := cap.Invoke(context.Background(), pkgcap.Invocation{
		Capability: "httpRequest",
		Params: map[string]any{
			"url":     srv.URL,
			"method":  "post",
			"headers": map[string]any{"X-Api-Version": "2"},
			"body":    map[string]any{"name": "ada"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	res, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("result = %T", out)
	}
	if res["status"] != float64(http.StatusCreated) {
		t.Errorf("status = %v", res["status"])
	}
	body, ok := res["body"].(map[string]any)
	if !ok || body["echo"] != "ada" {
		t.Errorf("body = %v", res["body"])
	}
}

func TestHTTPCapabilityDefaultsToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	cap := &HTTPCapability{Client: srv.Client()}
	out, err := cap.Invoke(context.Background(), pkgcap.Invocation{
		Params: map[string]any{"url": srv.URL},
	}, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	res := out.(map[string]any)
	if res["body"] != "plain text" {
		t.Errorf("non-JSON body = %v", res["body"])
	}
}

func TestHTTPCapabilityRequiresURL(t *testing.T) {
	cap := &HTTPCapability{}
	_, err := cap.Invoke(context.Background(), pkgcap.Invocation{Params: map[string]any{}}, nil)
	if err == nil || !strings.Contains(err.Error(), "url is required") {
		t.Errorf("err = %v", err)
	}
}

func TestHTTPCapabilityEmitsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	em := &captureEmitter{}
	cap := &HTTPCapability{Client: srv.Client()}
	if _, err := cap.Invoke(context.Background(), pkgcap.Invocation{
		Params: map[string]any{"url": srv.URL},
	}, em); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(em.kinds) != 1 || em.kinds[0] != "request" {
		t.Errorf("progress = %v", em.kinds)
	}
}

type captureEmitter struct {
	kinds []string
}

func (c *captureEmitter) Progress(kind string, _ any) {
	c.kinds = append(c.kinds, kind)
}
