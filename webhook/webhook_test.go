package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/assay/iox"
)

func TestPost_Success(t *testing.T) {
	var received map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer ts.Close()

	c := New(Config{})
	defer iox.DiscardClose(c)

	payload := map[string]any{"query_id": "q-001", "answer": "It costs $10."}
	res, err := c.Post(t.Context(), ts.URL, payload, nil)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", res.StatusCode)
	}
	if res.Body != `{"accepted":true}` {
		t.Errorf("Body = %q, want accepted response", res.Body)
	}
	if received["query_id"] != "q-001" {
		t.Errorf("query_id = %v, want q-001", received["query_id"])
	}
}

func TestPost_HeaderMerge(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer export-token" {
			t.Errorf("Authorization = %q, want export override", got)
		}
		if got := r.Header.Get("X-Source"); got != "assay" {
			t.Errorf("X-Source = %q, want base header", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := New(Config{Headers: map[string]string{
		"Authorization": "Bearer base-token",
		"X-Source":      "assay",
	}})
	defer iox.DiscardClose(c)

	_, err := c.Post(t.Context(), ts.URL, map[string]any{}, map[string]string{
		"Authorization": "Bearer export-token",
	})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
}

func TestPost_TerminalAndTransientStatuses(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		terminal bool
	}{
		{"not found", http.StatusNotFound, true},
		{"unprocessable", http.StatusUnprocessableEntity, true},
		{"server error", http.StatusInternalServerError, false},
		{"bad gateway", http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"rejected"}`))
			}))
			defer ts.Close()

			c := New(Config{})
			defer iox.DiscardClose(c)

			_, err := c.Post(t.Context(), ts.URL, map[string]any{}, nil)
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("error = %v, want *StatusError", err)
			}
			if statusErr.Code != tt.status {
				t.Errorf("Code = %d, want %d", statusErr.Code, tt.status)
			}
			if statusErr.Terminal() != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", statusErr.Terminal(), tt.terminal)
			}
			if want := fmt.Sprintf("HTTP %d", tt.status); statusErr.Error() != want {
				t.Errorf("Error() = %q, want %q", statusErr.Error(), want)
			}
			if statusErr.Body != `{"error":"rejected"}` {
				t.Errorf("Body = %q, want the partner error body", statusErr.Body)
			}
		})
	}
}

func TestPost_NetworkErrorIsPlain(t *testing.T) {
	c := New(Config{Timeout: 500 * time.Millisecond})
	defer iox.DiscardClose(c)

	_, err := c.Post(t.Context(), "http://127.0.0.1:1/unreachable", map[string]any{}, nil)
	if err == nil {
		t.Fatal("expected a network error")
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		t.Errorf("network failure classified as StatusError %d", statusErr.Code)
	}
}

func TestPost_TruncatesLongBody(t *testing.T) {
	long := strings.Repeat("x", bodyCaptureLimit*3)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(long))
	}))
	defer ts.Close()

	c := New(Config{})
	defer iox.DiscardClose(c)

	res, err := c.Post(t.Context(), ts.URL, map[string]any{}, nil)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if len(res.Body) != bodyCaptureLimit {
		t.Errorf("len(Body) = %d, want %d", len(res.Body), bodyCaptureLimit)
	}
}
