package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

// newTestLogger builds a JSON slogLogger writing to buf
func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) Logger {
	t.Helper()
	opts.Writer = buf
	opts.JsonFormat = true
	l, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

// lastRecord parses the last JSON line in buf
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse log line: %v\nraw: %s", err, buf.String())
	}
	return m
}

func TestNew_BaseAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "diary", Version: "1.2.3", Commit: "abc123"})

	l.Info(context.Background(), "hello", "k", "v")

	m := lastRecord(t, &buf)
	for k, want := range map[string]string{"msg": "hello", "app": "diary", "version": "1.2.3", "commit": "abc123", "k": "v"} {
		if m[k] != want {
			t.Errorf("%s = %v, want %s", k, m[k], want)
		}
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New(Options{App: "diary", Writer: &buf})
	l.Info(context.Background(), "plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Fatalf("expected logfmt output, got %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "diary", Level: slog.LevelWarn})

	l.Debug(context.Background(), "d")
	l.Info(context.Background(), "i")
	if buf.Len() != 0 {
		t.Fatalf("debug/info should be filtered at warn, got %s", buf.String())
	}
	l.Warn(context.Background(), "w")
	if lastRecord(t, &buf)["msg"] != "w" {
		t.Fatal("warn should be logged")
	}
}

func TestWith_CopyOnWrite(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(t, &buf, Options{App: "diary"})
	child := base.With("user_id", "u1")

	base.Info(context.Background(), "base")
	if _, ok := lastRecord(t, &buf)["user_id"]; ok {
		t.Fatal("With must not mutate the parent logger")
	}
	child.Info(context.Background(), "child")
	if lastRecord(t, &buf)["user_id"] != "u1" {
		t.Fatal("child logger lost its attribute")
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "diary"})

	l.Info(context.Background(), "signin", "password", "hunter2", "Authorization", "Bearer abc", "email", "a@b.c")

	m := lastRecord(t, &buf)
	if m["password"] != redacted || m["Authorization"] != redacted {
		t.Fatalf("credentials not redacted: %v", m)
	}
	if m["email"] != "a@b.c" {
		t.Fatalf("email = %v, should pass through", m["email"])
	}
}

func TestRedaction_Disabled(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "diary", RedactKeys: []string{}})
	l.Info(context.Background(), "x", "token", "visible")
	if lastRecord(t, &buf)["token"] != "visible" {
		t.Fatal("empty RedactKeys should disable redaction")
	}
}

func TestTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "diary"})

	tid, _ := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	sid, _ := trace.SpanIDFromHex("0123456789abcdef")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")

	m := lastRecord(t, &buf)
	if m["trace_id"] != tid.String() || m["span_id"] != sid.String() {
		t.Fatalf("trace ids = %v/%v", m["trace_id"], m["span_id"])
	}
}

func TestError_ChainAndTypes(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "diary", IncludeErrorLinks: true})

	root := errors.New("connection refused")
	err := fmt.Errorf("load user: %w", root)
	l.Error(context.Background(), err, "request failed")

	m := lastRecord(t, &buf)
	if m["err"] != "load user: connection refused" {
		t.Fatalf("err = %v", m["err"])
	}
	if m["cause_type"] != "*errors.errorString" {
		t.Fatalf("cause_type = %v", m["cause_type"])
	}
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) != 2 {
		t.Fatalf("error_chain = %v", m["error_chain"])
	}
	if _, ok := m["error_links"]; !ok {
		t.Fatal("error_links missing with IncludeErrorLinks")
	}
	if stack, _ := m["stack"].(string); stack == "" {
		t.Fatal("error record should carry a stack")
	}
}

func TestStackOnlyAtOrAboveThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "diary"})
	l.Warn(context.Background(), "no stack")
	if _, ok := lastRecord(t, &buf)["stack"]; ok {
		t.Fatal("warn should not carry a stack at the default error threshold")
	}
}

func TestClassifyTypes_Nil(t *testing.T) {
	if s, r := classifyTypes(nil); s != "" || r != "" {
		t.Fatalf("classifyTypes(nil) = %q,%q", s, r)
	}
}

func TestErrorChain_Join(t *testing.T) {
	err := errors.Join(errors.New("a"), errors.New("b"))
	chain := errorChain(err)
	if len(chain) != 3 {
		t.Fatalf("chain = %v, want joined message plus both members", chain)
	}
}
