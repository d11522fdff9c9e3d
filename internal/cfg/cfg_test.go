package cfg

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet, parses the given args,
// and returns the resulting App. This isolates each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

// validConfig returns defaults plus the settings that have no safe default
func validConfig(t *testing.T) App {
	t.Helper()
	c := newTestConfig(t, nil)
	c.DatabaseDSN = "postgres://diary@localhost/diary"
	c.SessionSecret = strings.Repeat("s", 32)
	return c
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if !c.LogJSON || c.LogLevel != "info" || c.StacktraceLevel != "error" {
		t.Errorf("logging defaults: json=%v level=%q stack=%q", c.LogJSON, c.LogLevel, c.StacktraceLevel)
	}
	if c.HTTPPort != 8080 || c.AdminPort != 9000 {
		t.Errorf("ports: %d/%d", c.HTTPPort, c.AdminPort)
	}
	if c.RateLimitAPI != "120/60" || c.RateLimitAuth != "15/60" || c.RateLimitUpload != "30/60" {
		t.Errorf("rate limits: %s %s %s", c.RateLimitAPI, c.RateLimitAuth, c.RateLimitUpload)
	}
	if c.RateLimitRedisAddr != "" {
		t.Error("redis store must be opt-in")
	}
	if c.BcryptCost != 12 || c.ResetTokenTTL != time.Hour || c.SessionTTL != 7*24*time.Hour {
		t.Errorf("auth defaults: cost=%d reset=%s session=%s", c.BcryptCost, c.ResetTokenTTL, c.SessionTTL)
	}
	if c.LLMMaxTokens != 500 || c.AnthropicModel == "" {
		t.Errorf("llm defaults: %d %q", c.LLMMaxTokens, c.AnthropicModel)
	}
	if c.WeatherAgent == "" {
		t.Error("weather user agent must default to something")
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-log-json=false",
		"-http-port=9090",
		"-ratelimit-auth=5/30",
		"-session-ttl=1h",
		"-trust-proxy-headers=false",
	})
	if c.LogJSON || c.HTTPPort != 9090 || c.RateLimitAuth != "5/30" || c.SessionTTL != time.Hour || c.TrustProxyHeaders {
		t.Fatalf("overrides not applied: %+v", c)
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	t.Setenv(pfx+"LOG_LEVEL", "debug")
	t.Setenv(pfx+"HTTP_PORT", "8088")
	t.Setenv(pfx+"RATELIMIT_API", "60/60")
	t.Setenv(pfx+"DATABASE_DSN", "postgres://x")
	t.Setenv(pfx+"LLM_TIMEOUT", "5s")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	FillFromEnv(fs, pfx, nil)

	if c.LogLevel != "debug" || c.HTTPPort != 8088 || c.RateLimitAPI != "60/60" || c.DatabaseDSN != "postgres://x" || c.LLMTimeout != 5*time.Second {
		t.Fatalf("env not applied: %+v", c)
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"HTTP_PORT", "7777")
	t.Setenv(pfx+"SESSION_SECRET", "from-env")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-http-port=9090", "-session-secret=from-cli"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var msgs []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	})

	if c.HTTPPort != 9090 || c.SessionSecret != "from-cli" {
		t.Fatalf("cli should win: port=%d secret=%q", c.HTTPPort, c.SessionSecret)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0], "http-port") {
		t.Fatalf("expected one override message for http-port, got %v", msgs)
	}
	for _, m := range msgs {
		if strings.Contains(m, "from-env") || strings.Contains(m, "from-cli") {
			t.Fatalf("secret leaked into log message: %q", m)
		}
	}
}

func TestFillFromEnv_InvalidValueKeepsDefault(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"HTTP_PORT", "not-a-number")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	fs.Parse(nil)

	var logged bool
	FillFromEnv(fs, pfx, func(string, ...any) { logged = true })
	if c.HTTPPort != 8080 {
		t.Fatalf("HTTPPort = %d, want default 8080", c.HTTPPort)
	}
	if !logged {
		t.Fatal("invalid env should be reported")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig(t)); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*App)
		want   string
	}{
		{"port range", func(c *App) { c.HTTPPort = 0 }, "HTTP_PORT"},
		{"same ports", func(c *App) { c.AdminPort = c.HTTPPort }, "must differ"},
		{"log level", func(c *App) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"trace sample", func(c *App) { c.TraceSample = 2 }, "TRACE_SAMPLE"},
		{"tracing endpoint", func(c *App) { c.EnableTracing = true }, "OTLP_ENDPOINT"},
		{"pyroscope", func(c *App) { c.EnablePyroscope = true }, "PYRO_SERVER"},
		{"bad policy", func(c *App) { c.RateLimitAuth = "0/60" }, "auth"},
		{"redis addr", func(c *App) { c.RateLimitRedisAddr = "redis" }, "RATELIMIT_REDIS_ADDR"},
		{"dsn", func(c *App) { c.DatabaseDSN = "" }, "DATABASE_DSN"},
		{"short secret", func(c *App) { c.SessionSecret = "short" }, "SESSION_SECRET"},
		{"bcrypt", func(c *App) { c.BcryptCost = 4 }, "BCRYPT_COST"},
		{"cron", func(c *App) { c.TokenPurgeCron = "every tuesday" }, "TOKEN_PURGE_SCHEDULE"},
		{"google pair", func(c *App) { c.GoogleClientID = "id" }, "GOOGLE_CLIENT_SECRET"},
		{"public url", func(c *App) { c.PublicURL = "localhost" }, "PUBLIC_URL"},
		{"weather agent", func(c *App) { c.WeatherAgent = "" }, "WEATHER_USER_AGENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig(t)
			tt.mutate(&c)
			wantErrContains(t, Validate(c), tt.want)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	c := validConfig(t)
	c.HTTPPort = 0
	c.DatabaseDSN = ""
	err := Validate(c)
	wantErrContains(t, err, "HTTP_PORT")
	wantErrContains(t, err, "DATABASE_DSN")
}

func TestPolicies(t *testing.T) {
	c := validConfig(t)
	c.RateLimitUpload = "10/120"
	api, auth, upload, err := c.Policies()
	if err != nil {
		t.Fatal(err)
	}
	if api.Limit != 120 || auth.Limit != 15 || upload.Limit != 10 || upload.WindowSeconds != 120 {
		t.Fatalf("policies = %+v %+v %+v", api, auth, upload)
	}
	if upload.Name != "upload" {
		t.Fatalf("upload policy name = %q", upload.Name)
	}
}

func TestPolicies_Invalid(t *testing.T) {
	c := validConfig(t)
	c.RateLimitAuth = "0/60"
	if _, _, _, err := c.Policies(); err == nil {
		t.Fatal("zero limit should not parse")
	}
	if err := Validate(c); err == nil {
		t.Fatal("Validate should reject the same setting")
	}
}

func TestConfiguredHelpers(t *testing.T) {
	c := validConfig(t)
	if c.SMTPConfigured() || c.GoogleConfigured() {
		t.Fatal("defaults should not count as configured")
	}
	c.SMTPHost, c.SMTPUser, c.SMTPPass = "smtp.example.com", "u", "p"
	c.GoogleClientID, c.GoogleSecret = "id", "secret"
	if !c.SMTPConfigured() || !c.GoogleConfigured() {
		t.Fatal("expected configured")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TESTCFG_DOTENV_A=from-file\nTESTCFG_DOTENV_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TESTCFG_DOTENV_B", "from-env")
	t.Cleanup(func() { os.Unsetenv("TESTCFG_DOTENV_A") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("TESTCFG_DOTENV_A"); got != "from-file" {
		t.Fatalf("A = %q", got)
	}
	if got := os.Getenv("TESTCFG_DOTENV_B"); got != "from-env" {
		t.Fatalf("B = %q, real env must win over the file", got)
	}
}

type fakeSSM struct {
	params map[string]string
	calls  []string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	name := aws.ToString(in.Name)
	f.calls = append(f.calls, name)
	if !aws.ToBool(in.WithDecryption) {
		return nil, errors.New("decryption not requested")
	}
	v, ok := f.params[name]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(v)}}, nil
}

func TestResolveSecrets(t *testing.T) {
	c := validConfig(t)
	c.DatabaseDSN = "ssm:/diary/prod/dsn"
	c.SessionSecret = "literal-secret-value-that-is-long-enough"
	f := &fakeSSM{params: map[string]string{"/diary/prod/dsn": "postgres://prod"}}

	if !c.NeedsSSM() {
		t.Fatal("NeedsSSM should be true")
	}
	if err := ResolveSecrets(context.Background(), &c, f); err != nil {
		t.Fatalf("ResolveSecrets: %v", err)
	}
	if c.DatabaseDSN != "postgres://prod" {
		t.Fatalf("DatabaseDSN = %q", c.DatabaseDSN)
	}
	if c.SessionSecret != "literal-secret-value-that-is-long-enough" {
		t.Fatal("literal values must be left alone")
	}
	if len(f.calls) != 1 {
		t.Fatalf("ssm calls = %v, want exactly one", f.calls)
	}
}

func TestResolveSecrets_Errors(t *testing.T) {
	c := validConfig(t)
	c.DatabaseDSN = "ssm:/missing"
	c.SMTPPass = "ssm:/also-missing"

	err := ResolveSecrets(context.Background(), &c, &fakeSSM{})
	wantErrContains(t, err, "database-dsn")
	wantErrContains(t, err, "smtp-pass")

	err = ResolveSecrets(context.Background(), &c, nil)
	wantErrContains(t, err, "no ssm client")
}
