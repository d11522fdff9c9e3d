package version_test

import (
	"strings"
	"testing"

	v "github.com/keithlinneman/diary/internal/version"
)

func TestVCSDirtyTriState(t *testing.T) {
	t.Cleanup(func() { v.VCSDirty = nil })

	v.VCSDirty = nil
	if info := v.Get(); info.VCSDirty != nil {
		t.Fatalf("VCSDirty = %v, want nil", *info.VCSDirty)
	}

	for _, want := range []bool{true, false} {
		val := want
		v.VCSDirty = &val
		info := v.Get()
		if info.VCSDirty == nil || *info.VCSDirty != want {
			t.Fatalf("VCSDirty = %v, want %v", info.VCSDirty, want)
		}
	}
}

func TestGet_AppName(t *testing.T) {
	if got := v.Get().App; got != v.AppName {
		t.Fatalf("App = %q, want %q", got, v.AppName)
	}
}

func TestShortCommit(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"none", "none"},
		{"0123456789abcdef0123", "0123456789ab"},
	}
	for _, tt := range tests {
		if got := v.ShortCommit(tt.in); got != tt.want {
			t.Errorf("ShortCommit(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInfoString(t *testing.T) {
	dirty := true
	s := v.Info{App: "diary", Version: "1.4.0", Commit: "0123456789abcdef", BuildDate: "2026-01-02", GoVersion: "go1.24.1", VCSDirty: &dirty}.String()
	for _, part := range []string{"diary 1.4.0", "commit 0123456789ab", "built 2026-01-02", "dirty", "go1.24.1"} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
}
