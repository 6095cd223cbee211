package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProvider_Call(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		if req["jsonrpc"] != "2.0" {
			t.Errorf("expected jsonrpc 2.0, got %v", req["jsonrpc"])
		}
		if req["method"] != "suix_queryEvents" {
			t.Errorf("unexpected method %v", req["method"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result":  map[string]any{"hasNextPage": false},
		})
	}))
	defer server.Close()

	p := NewHTTPProvider("sui-mock", server.URL, 5*time.Second)
	result, err := p.Call(context.Background(), "suix_queryEvents", []any{map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out struct {
		HasNextPage bool `json:"hasNextPage"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		t.Fatalf("unexpected result %s: %v", result, err)
	}
	if !p.GetHealth().Available {
		t.Error("expected provider to be available")
	}
}

func TestHTTPProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "rpc error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"Invalid params"}}`))
			},
			check: func(t *testing.T, err error) {
				var rpcErr *RPCError
				if !errors.As(err, &rpcErr) || rpcErr.Code != -32602 {
					t.Errorf("expected RPCError -32602, got %v", err)
				}
			},
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			check: func(t *testing.T, err error) {
				var httpErr *HTTPError
				if !errors.As(err, &httpErr) || httpErr.StatusCode != 429 || httpErr.RetryAfter != "2" {
					t.Errorf("expected HTTPError 429, got %v", err)
				}
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			check: func(t *testing.T, err error) {
				if err == nil {
					t.Error("expected parse error")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			p := NewHTTPProvider("sui-mock", server.URL, 5*time.Second)
			_, err := p.Call(context.Background(), "suix_queryEvents", nil)
			tt.check(t, err)

			if h := p.GetHealth(); h.ErrorRate != 1 || h.Available {
				t.Errorf("expected failing health, got %+v", h)
			}
		})
	}
}
