package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/diary/internal/api"
	"github.com/keithlinneman/diary/internal/auth"
	"github.com/keithlinneman/diary/internal/calendar"
	"github.com/keithlinneman/diary/internal/cfg"
	"github.com/keithlinneman/diary/internal/cryptoutil"
	"github.com/keithlinneman/diary/internal/health"
	"github.com/keithlinneman/diary/internal/httpmw"
	"github.com/keithlinneman/diary/internal/httpserver"
	"github.com/keithlinneman/diary/internal/jobs"
	"github.com/keithlinneman/diary/internal/journal"
	"github.com/keithlinneman/diary/internal/llm"
	"github.com/keithlinneman/diary/internal/log"
	"github.com/keithlinneman/diary/internal/mailer"
	"github.com/keithlinneman/diary/internal/media"
	"github.com/keithlinneman/diary/internal/metrics"
	"github.com/keithlinneman/diary/internal/opshttp"
	"github.com/keithlinneman/diary/internal/otelx"
	"github.com/keithlinneman/diary/internal/prof"
	"github.com/keithlinneman/diary/internal/ratelimit"
	"github.com/keithlinneman/diary/internal/store"
	"github.com/keithlinneman/diary/internal/weather"
	v "github.com/keithlinneman/diary/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	var envFile string

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading DIARY_ variables (missing file is ignored)")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	// .env only fills variables the real environment leaves unset
	if err := cfg.LoadDotEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load AWS config:", err)
		os.Exit(1)
	}

	// secrets may be ssm: references, resolve them before validating lengths
	if conf.NeedsSSM() {
		if err := cfg.ResolveSecrets(ctx, &conf, ssm.NewFromConfig(awsCfg)); err != nil {
			fmt.Fprintln(os.Stderr, "config error:", err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"public_url", conf.PublicURL,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"ratelimit_api", conf.RateLimitAPI,
		"ratelimit_auth", conf.RateLimitAuth,
		"ratelimit_upload", conf.RateLimitUpload,
		"ratelimit_shared", conf.RateLimitRedisAddr != "",
		"google_enabled", conf.GoogleConfigured(),
		"smtp_enabled", conf.SMTPConfigured(),
		"llm_enabled", conf.AnthropicAPIKey != "",
		"media_bucket", conf.MediaS3Bucket,
		"token_kms_key", conf.TokenKMSKeyID,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(conf.EnablePyroscope && err == nil)
	defer stopProf()

	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	db, err := store.Open(ctx, store.Config{
		DSN:             conf.DatabaseDSN,
		MaxOpenConns:    conf.DBMaxOpenConns,
		MaxIdleConns:    conf.DBMaxIdleConns,
		ConnMaxLifetime: conf.DBConnMaxLife,
		AutoMigrate:     conf.DBAutoMigrate,
		Logger:          L.With("component", "store"),
	})
	if err != nil {
		L.Error(ctx, err, "failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	// rate limiting, shared through redis when configured
	apiPolicy, authPolicy, uploadPolicy, err := conf.Policies()
	if err != nil {
		L.Error(ctx, err, "invalid rate limit policy")
		os.Exit(1)
	}
	limiterOpts := []ratelimit.Option{
		ratelimit.WithOnDenied(func(p ratelimit.Policy, key string) {
			m.IncRateLimitDenied(p.Name)
		}),
		// only log the first denial of a streak
		ratelimit.WithOnFirstDenied(func(p ratelimit.Policy, key string) {
			L.Warn(ctx, "rate limit triggered", "policy", p.Name, "key", key)
		}),
		ratelimit.WithOnStoreError(func(p ratelimit.Policy, key string, err error) {
			m.IncRateLimitStoreError(p.Name)
			L.Error(ctx, err, "rate limit store failed, allowing request", "policy", p.Name)
		}),
	}
	var rdb redis.UniversalClient
	if conf.RateLimitRedisAddr != "" {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{conf.RateLimitRedisAddr},
			Password: conf.RateLimitRedisPassword,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			// requests fail open while redis is down, see OnStoreError
			L.Error(ctx, err, "redis ping failed at startup", "addr", conf.RateLimitRedisAddr)
		}
		cancel()
		limiterOpts = append(limiterOpts, ratelimit.WithStore(ratelimit.NewRedisStore(rdb, v.AppName+":ratelimit:")))
	}
	limiter := ratelimit.New(limiterOpts...)

	// KMS is only needed when stored oauth tokens are encrypted
	var kmsClient *kms.Client
	if conf.TokenKMSKeyID != "" {
		kmsClient = kms.NewFromConfig(awsCfg)
	}
	tokenCipher := cryptoutil.NewTokenCipher(kmsClient, conf.TokenKMSKeyID)

	llmClient := llm.New(llm.Options{
		APIKey:    conf.AnthropicAPIKey,
		Model:     conf.AnthropicModel,
		MaxTokens: conf.LLMMaxTokens,
		Timeout:   conf.LLMTimeout,
		Observe:   m.ObserveLLM,
	})

	weatherClient := weather.New(weather.Options{
		UserAgent:  conf.WeatherAgent,
		HTTPClient: otelx.HTTPClient(10 * time.Second),
		RPS:        conf.WeatherRPS,
		Observe:    m.IncWeatherLookup,
	})

	var google *auth.Google
	calOpts := calendar.Options{
		Accounts:   db,
		Cipher:     tokenCipher,
		HTTPClient: otelx.HTTPClient(15 * time.Second),
		Observe:    m.IncCalendarCall,
	}
	if conf.GoogleConfigured() {
		google = auth.NewGoogle(auth.GoogleConfig{
			ClientID:     conf.GoogleClientID,
			ClientSecret: conf.GoogleSecret,
			RedirectURL:  conf.PublicURL + "/api/auth/google/callback",
			HTTPClient:   otelx.HTTPClient(15 * time.Second),
			Cipher:       tokenCipher,
		})
		calOpts.OAuth = google.OAuthConfig()
	}
	calendarSvc := calendar.New(calOpts)

	questions := journal.NewGenerator(journal.Options{
		Events: calendarSvc,
		LLM:    llmClient,
	})

	mail := mailer.New(mailer.Config{
		Host:      conf.SMTPHost,
		Port:      conf.SMTPPort,
		User:      conf.SMTPUser,
		Pass:      conf.SMTPPass,
		From:      conf.SMTPFrom,
		PublicURL: conf.PublicURL,
	}, L.With("component", "mailer"), m.IncMailSent)

	tokens, err := auth.NewTokenManager(conf.SessionSecret, conf.SessionTTL)
	if err != nil {
		L.Error(ctx, err, "failed to create session token manager")
		os.Exit(1)
	}
	accounts := auth.NewService(auth.Options{
		Users:      db,
		Tokens:     tokens,
		Mailer:     mail,
		PublicURL:  conf.PublicURL,
		BcryptCost: conf.BcryptCost,
		ResetTTL:   conf.ResetTokenTTL,
		Google:     google,
		Observe:    m.IncAuthEvent,
	})

	if conf.MediaS3Bucket == "" {
		L.Warn(ctx, "no media bucket configured, uploads will fail")
	}
	mediaPublicURL := conf.MediaPublicURL
	if mediaPublicURL == "" && conf.MediaS3Bucket != "" {
		mediaPublicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", conf.MediaS3Bucket, awsCfg.Region)
	}
	mediaSvc := media.New(media.Options{
		Store:     media.NewS3Store(s3.NewFromConfig(awsCfg), conf.MediaS3Bucket),
		Prefix:    conf.MediaS3Prefix,
		PublicURL: mediaPublicURL,
		Observe:   m.ObserveUpload,
	})

	appAPI := api.NewAPI(api.Options{
		Logger:   L.With("component", "api"),
		Accounts: accounts,
		Tokens:   tokens,
		Store:    db,
		Media:    mediaSvc,
		Weather:  weatherClient,
		Calendar: calendarSvc,
		Journal:  questions,
		Limiter:  limiter,
		Policies: api.Policies{
			API:    apiPolicy,
			Auth:   authPolicy,
			Upload: uploadPolicy,
		},
		MaxJSONBody: conf.MaxJSONBody,
	})

	// background maintenance
	scheduler := jobs.New(L.With("component", "jobs"), m.ObserveJobRun)
	if conf.TokenPurgeCron != "" {
		if err := scheduler.Add(ctx, jobs.PurgeTokens(db, conf.TokenPurgeCron)); err != nil {
			L.Error(ctx, err, "failed to schedule token purge")
			os.Exit(1)
		}
	}
	scheduler.Start(ctx)

	var gate health.ShutdownGate

	readinessProbes := []health.Probe{
		gate.Probe(),
		health.Ping("database", 2*time.Second, db.Ping),
	}
	if rdb != nil {
		readinessProbes = append(readinessProbes, health.Ping("redis", time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}
	readiness := health.All(readinessProbes...)

	appHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		ClientIPOpts: httpmw.ClientIPOptions{TrustProxyHeaders: conf.TrustProxyHeaders},
		Build:        vi,
		Routes:       appAPI.RegisterRoutes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start app http listener")
		os.Exit(1)
	}
	defer func() { _ = appHTTPStop(context.Background()) }()

	// metrics, health and pprof live on the admin port which is never exposed publicly
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops routing new requests
	gate.Set("draining")
	scheduler.Stop()

	L.Info(context.Background(), "waiting for in-flight requests and load balancer health checks to drain", "drain", drainPeriod.String())
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		if err := appHTTPStop(shutdownCtx); err != nil {
			L.Error(context.Background(), err, "app http server shutdown")
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := opsHTTPStop(shutdownCtx); err != nil {
			L.Error(context.Background(), err, "ops http server shutdown")
			return err
		}
		return nil
	})
	_ = g.Wait()
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

const drainPeriod = 15 * time.Second

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
