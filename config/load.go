package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jonwraymond/registrylink/secret"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REGISTRY"

// Load reads configuration from path (YAML, optional) and REGISTRY_
// environment variables on top of Default, resolves secret references and
// validates the result.
//
// Configuration priority: environment > config file > defaults.
func Load(ctx context.Context, path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrReadFile, path, err)
		}
	}

	cfg := Default()
	if err := decode(v.AllSettings(), &cfg); err != nil {
		return nil, err
	}

	if err := cfg.ResolveSecrets(ctx); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(input map[string]any, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("config: create decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("config: decode: %w", err)
	}
	return nil
}

// ResolveSecrets replaces credential fields holding ${ENV} expansions or
// secretref: references with their values.
func (c *Config) ResolveSecrets(ctx context.Context) error {
	resolver, err := secret.DefaultRegistry.NewResolver(c.Secrets.Strict, map[string]map[string]any{
		"env":  {"prefix": c.Secrets.EnvPrefix},
		"file": {"baseDir": c.Secrets.FileBaseDir},
	})
	if err != nil {
		return fmt.Errorf("config: secrets: %w", err)
	}
	defer func() { _ = resolver.Close() }()

	err = resolver.ResolveFields(ctx,
		secret.Field{Name: "auth.clientSecret", Value: &c.Auth.ClientSecret},
		secret.Field{Name: "auth.assertionKey", Value: &c.Auth.AssertionKey},
		secret.Field{Name: "auth.staticToken", Value: &c.Auth.StaticToken},
		secret.Field{Name: "signing.key", Value: &c.Signing.Key},
		secret.Field{Name: "idempotencyRedisPassword", Value: &c.IdempotencyRedisPassword},
	)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// setDefaults registers every key so that environment overrides are seen
// even when the config file does not mention them.
func setDefaults(v *viper.Viper) {
	d := Default()

	// Endpoints
	v.SetDefault("primaryEndpoint", d.PrimaryEndpoint)
	v.SetDefault("backupEndpoints", []string{})

	// Circuit breaker
	v.SetDefault("failureThreshold", d.FailureThreshold)
	v.SetDefault("recoveryTimeout", d.RecoveryTimeout)
	v.SetDefault("halfOpenTrialCount", d.HalfOpenTrialCount)

	// Rate limiter
	v.SetDefault("rateLimitRequests", d.RateLimitRequests)
	v.SetDefault("rateLimitWindow", d.RateLimitWindow)
	v.SetDefault("burstSize", d.BurstSize)
	v.SetDefault("adaptiveRateLimiting", d.AdaptiveRateLimiting)

	// Retry
	v.SetDefault("maxRetryAttempts", d.MaxRetryAttempts)
	v.SetDefault("baseDelay", d.BaseDelay)
	v.SetDefault("maxDelay", d.MaxDelay)
	v.SetDefault("backoffMultiplier", d.BackoffMultiplier)
	v.SetDefault("jitter", d.Jitter)
	v.SetDefault("maxElapsed", d.MaxElapsed)
	v.SetDefault("callTimeout", d.CallTimeout)
	v.SetDefault("maxConcurrentRequests", d.MaxConcurrentRequests)

	// Idempotency
	v.SetDefault("idempotencyTTL", d.IdempotencyTTL)
	v.SetDefault("idempotencyMaxEntries", d.IdempotencyMaxEntries)
	v.SetDefault("idempotencyRedisAddr", "")
	v.SetDefault("idempotencyRedisPassword", "")
	v.SetDefault("idempotencyRedisDB", 0)

	// Transport
	v.SetDefault("tokenRefreshBuffer", d.TokenRefreshBuffer)
	v.SetDefault("connectTimeout", d.ConnectTimeout)
	v.SetDefault("readTimeout", d.ReadTimeout)
	v.SetDefault("userAgent", d.UserAgent)

	// Health
	v.SetDefault("healthCheckInterval", d.HealthCheckInterval)
	v.SetDefault("healthProbePath", d.HealthProbePath)
	v.SetDefault("healthProbeTimeout", d.HealthProbeTimeout)

	// Auth
	v.SetDefault("auth.method", "")
	v.SetDefault("auth.tokenURL", "")
	v.SetDefault("auth.clientID", "")
	v.SetDefault("auth.clientSecret", "")
	v.SetDefault("auth.scopes", []string{})
	v.SetDefault("auth.assertionKey", "")
	v.SetDefault("auth.assertionKeyID", "")
	v.SetDefault("auth.staticToken", "")
	v.SetDefault("auth.refreshTimeout", d.Auth.RefreshTimeout)

	// Signing
	v.SetDefault("signing.key", "")
	v.SetDefault("signing.keyID", "")
	v.SetDefault("signing.headers", []string{})

	// Secrets
	v.SetDefault("secrets.strict", d.Secrets.Strict)
	v.SetDefault("secrets.envPrefix", "")
	v.SetDefault("secrets.fileBaseDir", "")

	// Observability
	v.SetDefault("observe.serviceName", d.Observe.ServiceName)
	v.SetDefault("observe.version", d.Observe.Version)
	v.SetDefault("observe.tracing.enabled", d.Observe.Tracing.Enabled)
	v.SetDefault("observe.tracing.exporter", d.Observe.Tracing.Exporter)
	v.SetDefault("observe.tracing.samplePct", d.Observe.Tracing.SamplePct)
	v.SetDefault("observe.metrics.enabled", d.Observe.Metrics.Enabled)
	v.SetDefault("observe.metrics.exporter", d.Observe.Metrics.Exporter)
	v.SetDefault("observe.logging.enabled", d.Observe.Logging.Enabled)
	v.SetDefault("observe.logging.level", d.Observe.Logging.Level)
	v.SetDefault("observe.logging.format", d.Observe.Logging.Format)
	v.SetDefault("observe.logging.file", "")
	v.SetDefault("observe.logging.maxSizeMB", 0)
	v.SetDefault("observe.logging.maxBackups", 0)
	v.SetDefault("observe.logging.maxAgeDays", 0)
}
