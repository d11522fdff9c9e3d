package httpmw

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/keithlinneman/diary/internal/log"
)

type capturedLog struct {
	level  string
	msg    string
	fields []any
}

// flatLogger returns itself from With so every call lands in one place
type flatLogger struct {
	mu    sync.Mutex
	logs  []capturedLog
	withs [][]any
}

func (l *flatLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withs = append(l.withs, kv)
	return l
}

func (l *flatLogger) record(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, capturedLog{level: level, msg: msg, fields: kv})
}

func (l *flatLogger) Debug(_ context.Context, msg string, kv ...any) { l.record("debug", msg, kv) }
func (l *flatLogger) Info(_ context.Context, msg string, kv ...any)  { l.record("info", msg, kv) }
func (l *flatLogger) Warn(_ context.Context, msg string, kv ...any)  { l.record("warn", msg, kv) }
func (l *flatLogger) Error(_ context.Context, _ error, msg string, kv ...any) {
	l.record("error", msg, kv)
}
func (l *flatLogger) Sync() error { return nil }

func fieldValue(fields []any, key string) (any, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok && k == key {
			return fields[i+1], true
		}
	}
	return nil, false
}

func TestWithLogger_Fields(t *testing.T) {
	fl := &flatLogger{}
	var inner log.Logger
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = log.FromContext(r.Context())
	}), RequestID(""), ClientIPWithOptions(ClientIPOptions{TrustProxyHeaders: true}), WithLogger(fl))

	req := httptest.NewRequest(http.MethodPost, "/api/entries?secret=1", http.NoBody)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("X-Request-Id", "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if inner != fl {
		t.Fatal("request logger not stored in context")
	}
	kv := fl.withs[0]
	for k, want := range map[string]string{
		"request_id":          "req-1",
		"client.address":      "203.0.113.9",
		"http.request.method": http.MethodPost,
		"url.path":            "/api/entries",
		"url.scheme":          "http",
	} {
		if got, _ := fieldValue(kv, k); got != want {
			t.Errorf("%s = %v, want %s", k, got, want)
		}
	}
	for i := 0; i < len(kv); i += 2 {
		if kv[i] == "url.query" {
			t.Fatal("query strings must not be logged")
		}
	}
}

func TestWithLogger_NoClientIP(t *testing.T) {
	fl := &flatLogger{}
	WithLogger(fl)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if got, _ := fieldValue(fl.withs[0], "client.address"); got != UnknownClient {
		t.Fatalf("client.address = %v", got)
	}
}

func TestAccessLog(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		status    int
		wantLevel string
	}{
		{"ok", "/api/entries", http.StatusOK, "info"},
		{"client error", "/api/entries", http.StatusTooManyRequests, "info"},
		{"server error", "/api/entries", http.StatusBadGateway, "warn"},
		{"ready skipped", "/-/ready", http.StatusOK, ""},
		{"healthy skipped", "/-/healthy", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fl := &flatLogger{}
			h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("12345"))
			}), WithLogger(fl), AccessLog())
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))

			if tt.wantLevel == "" {
				if len(fl.logs) != 0 {
					t.Fatalf("expected no access log, got %v", fl.logs)
				}
				return
			}
			if len(fl.logs) != 1 {
				t.Fatalf("logs = %d, want 1", len(fl.logs))
			}
			got := fl.logs[0]
			if got.level != tt.wantLevel || got.msg != "http request" {
				t.Fatalf("level=%s msg=%q", got.level, got.msg)
			}
			if v, _ := fieldValue(got.fields, "http.response.status_code"); v != tt.status {
				t.Errorf("status field = %v", v)
			}
			if v, _ := fieldValue(got.fields, "http.response.body.size"); v != int64(5) {
				t.Errorf("body size = %v", v)
			}
		})
	}
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, ctx: context.Background()}
	rw.Write([]byte("x"))
	rw.WriteHeader(http.StatusTeapot)
	if rw.statusCode() != http.StatusOK {
		t.Fatalf("status = %d, implicit 200 should stick", rw.statusCode())
	}
	if rw.Unwrap() != rec {
		t.Fatal("Unwrap should return the underlying writer")
	}
}

func TestResponseWriter_HijackUnsupported(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), ctx: context.Background()}
	if _, _, err := rw.Hijack(); err == nil {
		t.Fatal("recorder cannot hijack, want error")
	}
}

func TestSchemeFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		tls    bool
		want   string
	}{
		{"plain", "", false, "http"},
		{"tls", "", true, "https"},
		{"forwarded https", "https", false, "https"},
		{"forwarded chain", "HTTPS, http", false, "https"},
		{"forwarded garbage ignored", "javascript", false, "http"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.header != "" {
				r.Header.Set("X-Forwarded-Proto", tt.header)
			}
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			if got := schemeFromRequest(r); got != tt.want {
				t.Fatalf("scheme = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScope(t *testing.T) {
	fl := &flatLogger{}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).Info(r.Context(), "inside")
	}), WithLogger(fl), Scope("entries.create"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", http.NoBody))

	last := fl.withs[len(fl.withs)-1]
	if v, _ := fieldValue(last, "handler"); v != "entries.create" {
		t.Fatalf("handler = %v", v)
	}
}
