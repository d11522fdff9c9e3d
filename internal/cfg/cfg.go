package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/keithlinneman/diary/internal/log"
	"github.com/keithlinneman/diary/internal/ratelimit"
)

// EnvPrefix is prepended to flag names when reading environment variables
const EnvPrefix = "DIARY_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort          int
	AdminPort         int
	PublicURL         string
	TrustProxyHeaders bool
	MaxJSONBody       int64

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	RateLimitAPI           string
	RateLimitAuth          string
	RateLimitUpload        string
	RateLimitRedisAddr     string
	RateLimitRedisPassword string

	DatabaseDSN     string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	DBConnMaxLife   time.Duration
	DBAutoMigrate   bool
	SessionSecret   string
	SessionTTL      time.Duration
	BcryptCost      int
	ResetTokenTTL   time.Duration
	TokenPurgeCron  string
	GoogleClientID  string
	GoogleSecret    string
	TokenKMSKeyID   string
	MediaS3Bucket   string
	MediaS3Prefix   string
	MediaPublicURL  string
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPass        string
	SMTPFrom        string
	AnthropicAPIKey string
	AnthropicModel  string
	LLMMaxTokens    int
	LLMTimeout      time.Duration
	WeatherAgent    string
	WeatherRPS      float64
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.StringVar(&c.PublicURL, "public-url", "http://localhost:8080", "externally reachable base url, used for oauth redirects and reset links")
	fs.BoolVar(&c.TrustProxyHeaders, "trust-proxy-headers", true, "take client ip from X-Forwarded-For/X-Real-IP (only behind a proxy that sets them)")
	fs.Int64Var(&c.MaxJSONBody, "max-json-body", 1<<20, "max bytes for json request bodies")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.RateLimitAPI, "ratelimit-api", ratelimit.API.String(), "general api limit as limit/seconds")
	fs.StringVar(&c.RateLimitAuth, "ratelimit-auth", ratelimit.Auth.String(), "auth endpoint limit as limit/seconds")
	fs.StringVar(&c.RateLimitUpload, "ratelimit-upload", ratelimit.Upload.String(), "upload endpoint limit as limit/seconds")
	fs.StringVar(&c.RateLimitRedisAddr, "ratelimit-redis-addr", "", "share rate limit windows through redis at host:port (default in-memory, per instance)")
	fs.StringVar(&c.RateLimitRedisPassword, "ratelimit-redis-password", "", "redis password (ssm:/param supported)")

	fs.StringVar(&c.DatabaseDSN, "database-dsn", "", "postgres dsn (ssm:/param supported)")
	fs.IntVar(&c.DBMaxOpenConns, "db-max-open-conns", 20, "max open database connections")
	fs.IntVar(&c.DBMaxIdleConns, "db-max-idle-conns", 5, "max idle database connections")
	fs.DurationVar(&c.DBConnMaxLife, "db-conn-max-lifetime", 30*time.Minute, "max lifetime of a database connection")
	fs.BoolVar(&c.DBAutoMigrate, "db-auto-migrate", true, "create/alter tables on startup")
	fs.StringVar(&c.SessionSecret, "session-secret", "", "HMAC secret for session tokens, at least 32 bytes (ssm:/param supported)")
	fs.DurationVar(&c.SessionTTL, "session-ttl", 7*24*time.Hour, "session token lifetime")
	fs.IntVar(&c.BcryptCost, "bcrypt-cost", 12, "bcrypt cost for new password hashes (10..14)")
	fs.DurationVar(&c.ResetTokenTTL, "reset-token-ttl", time.Hour, "password reset link lifetime")
	fs.StringVar(&c.TokenPurgeCron, "token-purge-schedule", "@hourly", "cron schedule for deleting expired reset tokens (empty disables)")
	fs.StringVar(&c.GoogleClientID, "google-client-id", "", "google oauth client id")
	fs.StringVar(&c.GoogleSecret, "google-client-secret", "", "google oauth client secret (ssm:/param supported)")
	fs.StringVar(&c.TokenKMSKeyID, "token-kms-key-id", "", "KMS key used to encrypt stored oauth tokens (empty stores them as-is)")
	fs.StringVar(&c.MediaS3Bucket, "media-s3-bucket", "", "s3 bucket for uploaded media")
	fs.StringVar(&c.MediaS3Prefix, "media-s3-prefix", "uploads", "s3 key prefix for uploaded media")
	fs.StringVar(&c.MediaPublicURL, "media-public-url", "", "base url uploaded objects are served from (defaults to the bucket url)")
	fs.StringVar(&c.SMTPHost, "smtp-host", "", "smtp host, mail is logged instead of sent when unset")
	fs.IntVar(&c.SMTPPort, "smtp-port", 587, "smtp port, 465 uses implicit tls")
	fs.StringVar(&c.SMTPUser, "smtp-user", "", "smtp username")
	fs.StringVar(&c.SMTPPass, "smtp-pass", "", "smtp password (ssm:/param supported)")
	fs.StringVar(&c.SMTPFrom, "smtp-from", "", "from address, defaults to smtp-user")
	fs.StringVar(&c.AnthropicAPIKey, "anthropic-api-key", "", "anthropic api key, question generation falls back to templates when unset (ssm:/param supported)")
	fs.StringVar(&c.AnthropicModel, "anthropic-model", "claude-sonnet-4-20250514", "model used for generated questions")
	fs.IntVar(&c.LLMMaxTokens, "llm-max-tokens", 500, "max tokens per generated response")
	fs.DurationVar(&c.LLMTimeout, "llm-timeout", 20*time.Second, "timeout for a single llm call")
	fs.StringVar(&c.WeatherAgent, "weather-user-agent", "Digital Diary (contact@example.com)", "User-Agent sent to api.weather.gov (required by NWS)")
	fs.Float64Var(&c.WeatherRPS, "weather-rps", 5, "max outbound requests per second to api.weather.gov")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil && !isSecretFlag(f.Name) {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// Policies parses the three rate limit settings
func (c App) Policies() (api, auth, upload ratelimit.Policy, err error) {
	var errs []error
	api, e := ratelimit.ParsePolicy("api", c.RateLimitAPI)
	errs = append(errs, e)
	auth, e = ratelimit.ParsePolicy("auth", c.RateLimitAuth)
	errs = append(errs, e)
	upload, e = ratelimit.ParsePolicy("upload", c.RateLimitUpload)
	errs = append(errs, e)
	return api, auth, upload, errors.Join(errs...)
}

// SMTPConfigured is true when every setting needed to actually send mail is present
func (c App) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPPort > 0 && c.SMTPUser != "" && c.SMTPPass != ""
}

// GoogleConfigured is true when google sign-in and calendar can be offered
func (c App) GoogleConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleSecret != ""
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error
	addf := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		addf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		addf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	}
	if c.AdminPort == c.HTTPPort {
		addf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)
	}
	if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		addf("PUBLIC_URL must be an absolute url (got %q)", c.PublicURL)
	}
	if c.MaxJSONBody < 1024 {
		addf("MAX_JSON_BODY must be at least 1024 (got %d)", c.MaxJSONBody)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		addf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			addf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err)
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		addf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks)
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		addf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)
	}
	if c.EnablePyroscope {
		if u, err := url.Parse(c.PyroServer); c.PyroServer == "" || err != nil || u.Scheme == "" || u.Host == "" {
			addf("PYRO_SERVER must be a URL when ENABLE_PYROSCOPE=true (got %q)", c.PyroServer)
		}
		if c.PyroTenantID == "" {
			addf("PYRO_TENANT required when ENABLE_PYROSCOPE=true")
		}
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			addf("OTLP_ENDPOINT required when ENABLE_TRACING=true")
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			addf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
		}
	}

	if _, _, _, err := c.Policies(); err != nil {
		errs = append(errs, err)
	}
	if c.RateLimitRedisAddr != "" {
		if _, _, err := net.SplitHostPort(c.RateLimitRedisAddr); err != nil {
			addf("RATELIMIT_REDIS_ADDR must be host:port (got %q)", c.RateLimitRedisAddr)
		}
	}

	if c.DatabaseDSN == "" {
		addf("DATABASE_DSN is required")
	}
	if c.DBMaxOpenConns < 1 || c.DBMaxIdleConns < 0 || c.DBMaxIdleConns > c.DBMaxOpenConns {
		addf("DB_MAX_IDLE_CONNS (%d) must be 0..DB_MAX_OPEN_CONNS (%d), open must be >= 1", c.DBMaxIdleConns, c.DBMaxOpenConns)
	}
	if len(c.SessionSecret) < 32 {
		addf("SESSION_SECRET must be at least 32 bytes")
	}
	if c.SessionTTL < time.Minute {
		addf("SESSION_TTL must be at least 1m (got %s)", c.SessionTTL)
	}
	if c.BcryptCost < 10 || c.BcryptCost > 14 {
		addf("BCRYPT_COST must be 10..14 (got %d)", c.BcryptCost)
	}
	if c.ResetTokenTTL < time.Minute {
		addf("RESET_TOKEN_TTL must be at least 1m (got %s)", c.ResetTokenTTL)
	}
	if c.TokenPurgeCron != "" {
		if _, err := cron.ParseStandard(c.TokenPurgeCron); err != nil {
			addf("invalid TOKEN_PURGE_SCHEDULE %q: %v", c.TokenPurgeCron, err)
		}
	}
	if (c.GoogleClientID == "") != (c.GoogleSecret == "") {
		addf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together")
	}
	if c.MediaPublicURL != "" {
		if u, err := url.Parse(c.MediaPublicURL); err != nil || u.Scheme == "" || u.Host == "" {
			addf("MEDIA_PUBLIC_URL must be an absolute url (got %q)", c.MediaPublicURL)
		}
	}
	if c.SMTPHost != "" && (c.SMTPPort < 1 || c.SMTPPort > 65535) {
		addf("invalid SMTP_PORT %d", c.SMTPPort)
	}
	if c.LLMMaxTokens < 1 {
		addf("LLM_MAX_TOKENS must be >= 1 (got %d)", c.LLMMaxTokens)
	}
	if c.LLMTimeout <= 0 {
		addf("LLM_TIMEOUT must be positive")
	}
	if c.WeatherAgent == "" {
		addf("WEATHER_USER_AGENT is required by api.weather.gov")
	}
	if c.WeatherRPS <= 0 {
		addf("WEATHER_RPS must be positive (got %v)", c.WeatherRPS)
	}

	return errors.Join(errs...)
}
