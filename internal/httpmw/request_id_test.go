package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		inbound  string
		wantKeep bool
	}{
		{"generated when absent", "", false},
		{"propagated", "abc-123", true},
		{"too long replaced", strings.Repeat("a", maxRequestIDLen+1), false},
		{"spaces replaced", "abc 123", false},
		{"control chars replaced", "abc\n123", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.inbound != "" {
				req.Header.Set("X-Request-Id", tt.inbound)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Header().Get("X-Request-Id") != seen {
				t.Fatalf("response header %q != context %q", rec.Header().Get("X-Request-Id"), seen)
			}
			if tt.wantKeep {
				if seen != tt.inbound {
					t.Fatalf("id = %q, want %q", seen, tt.inbound)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Fatalf("id %q is not a uuid: %v", seen, err)
			}
		})
	}
}

func TestRequestID_CustomHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Correlation-Id", "corr-1")
	RequestID("X-Correlation-Id")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, req)
	if rec.Header().Get("X-Correlation-Id") != "corr-1" {
		t.Fatalf("header = %q", rec.Header().Get("X-Correlation-Id"))
	}
}

func TestWithRequestID_EmptyIsNoop(t *testing.T) {
	ctx := WithRequestID(httptest.NewRequest(http.MethodGet, "/", http.NoBody).Context(), "")
	if RequestIDFromContext(ctx) != "" {
		t.Fatal("empty id should not be stored")
	}
}
