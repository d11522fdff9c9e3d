package cfg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
)

// SSMRef marks a setting whose value is the name of an SSM SecureString parameter
const SSMRef = "ssm:"

// secretFlags never have their values logged
var secretFlags = map[string]bool{
	"database-dsn":             true,
	"session-secret":           true,
	"google-client-secret":     true,
	"smtp-pass":                true,
	"anthropic-api-key":        true,
	"ratelimit-redis-password": true,
}

func isSecretFlag(name string) bool { return secretFlags[name] }

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment. Variables that are already set win, and missing files are skipped,
// so production (real env, no file) and local dev (.env) share one code path.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// ParamGetter is the subset of the SSM client used for secret resolution
type ParamGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// secretFields returns pointers to every field that may hold an ssm: reference
func (c *App) secretFields() map[string]*string {
	return map[string]*string{
		"database-dsn":             &c.DatabaseDSN,
		"session-secret":           &c.SessionSecret,
		"google-client-secret":     &c.GoogleSecret,
		"smtp-pass":                &c.SMTPPass,
		"anthropic-api-key":        &c.AnthropicAPIKey,
		"ratelimit-redis-password": &c.RateLimitRedisPassword,
	}
}

// NeedsSSM reports whether any secret is an ssm: reference, so main only builds
// an SSM client when one is needed
func (c *App) NeedsSSM() bool {
	for _, p := range c.secretFields() {
		if strings.HasPrefix(*p, SSMRef) {
			return true
		}
	}
	return false
}

// ResolveSecrets replaces every "ssm:/param/name" value with the decrypted
// parameter. All failures are collected so a misconfigured deploy reports
// every bad reference at once.
func ResolveSecrets(ctx context.Context, c *App, ssmc ParamGetter) error {
	var errs []error
	for name, p := range c.secretFields() {
		if !strings.HasPrefix(*p, SSMRef) {
			continue
		}
		param := strings.TrimPrefix(*p, SSMRef)
		if ssmc == nil {
			errs = append(errs, fmt.Errorf("%s references ssm parameter %s but no ssm client is configured", name, param))
			continue
		}
		out, err := ssmc.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(param),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %s from ssm %s: %w", name, param, err))
			continue
		}
		if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
			errs = append(errs, fmt.Errorf("resolve %s: ssm parameter %s is empty", name, param))
			continue
		}
		*p = aws.ToString(out.Parameter.Value)
	}
	return errors.Join(errs...)
}
