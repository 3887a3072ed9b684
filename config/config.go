package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jonwraymond/registrylink/auth"
	"github.com/jonwraymond/registrylink/observe"
)

// Auth methods accepted besides the OAuth2 client authentication methods.
const (
	AuthNone   = "none"
	AuthStatic = "static"
)

// Config is the complete client configuration.
type Config struct {
	// PrimaryEndpoint is the preferred registry base URL. Required.
	PrimaryEndpoint string `mapstructure:"primaryEndpoint"`

	// BackupEndpoints are failover base URLs in order of preference.
	BackupEndpoints []string `mapstructure:"backupEndpoints"`

	// Circuit breaker
	FailureThreshold   int           `mapstructure:"failureThreshold"`   // Default: 5
	RecoveryTimeout    time.Duration `mapstructure:"recoveryTimeout"`    // Default: 30s
	HalfOpenTrialCount int           `mapstructure:"halfOpenTrialCount"` // Default: 1

	// Rate limiter
	RateLimitRequests    int           `mapstructure:"rateLimitRequests"`    // Default: 100
	RateLimitWindow      time.Duration `mapstructure:"rateLimitWindow"`      // Default: 1m
	BurstSize            int           `mapstructure:"burstSize"`            // Default: rateLimitRequests
	AdaptiveRateLimiting bool          `mapstructure:"adaptiveRateLimiting"` // Default: true

	// Retry
	MaxRetryAttempts  int           `mapstructure:"maxRetryAttempts"`  // Default: 3
	BaseDelay         time.Duration `mapstructure:"baseDelay"`         // Default: 500ms
	MaxDelay          time.Duration `mapstructure:"maxDelay"`          // Default: 30s
	BackoffMultiplier float64       `mapstructure:"backoffMultiplier"` // Default: 2
	Jitter            bool          `mapstructure:"jitter"`            // Default: true
	MaxElapsed        time.Duration `mapstructure:"maxElapsed"`        // Default: 5m

	// CallTimeout bounds a whole Execute call including retries.
	// Default: 0 (only MaxElapsed applies)
	CallTimeout time.Duration `mapstructure:"callTimeout"`

	// MaxConcurrentRequests caps in-flight calls per endpoint key.
	// Default: 0 (unbounded)
	MaxConcurrentRequests int `mapstructure:"maxConcurrentRequests"`

	// Idempotency
	IdempotencyTTL           time.Duration `mapstructure:"idempotencyTTL"`        // Default: 24h
	IdempotencyMaxEntries    int           `mapstructure:"idempotencyMaxEntries"` // Default: 10000
	IdempotencyRedisAddr     string        `mapstructure:"idempotencyRedisAddr"`
	IdempotencyRedisPassword string        `mapstructure:"idempotencyRedisPassword"`
	IdempotencyRedisDB       int           `mapstructure:"idempotencyRedisDB"`

	TokenRefreshBuffer time.Duration `mapstructure:"tokenRefreshBuffer"` // Default: 60s

	// Transport
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"` // Default: 10s
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`    // Default: 30s
	UserAgent      string        `mapstructure:"userAgent"`      // Default: registrylink

	// Health
	HealthCheckInterval time.Duration `mapstructure:"healthCheckInterval"` // Default: 60s
	HealthProbePath     string        `mapstructure:"healthProbePath"`     // Default: /metadata
	HealthProbeTimeout  time.Duration `mapstructure:"healthProbeTimeout"`  // Default: 5s

	Auth    AuthConfig     `mapstructure:"auth"`
	Signing SigningConfig  `mapstructure:"signing"`
	Secrets SecretsConfig  `mapstructure:"secrets"`
	Observe observe.Config `mapstructure:"observe"`
}

// AuthConfig selects how bearer tokens are obtained.
type AuthConfig struct {
	// Method is none, static, or an OAuth2 client authentication method
	// (client_secret_basic, client_secret_post, client_secret_jwt,
	// private_key_jwt).
	// Default: none, or client_secret_basic when TokenURL is set
	Method string `mapstructure:"method"`

	TokenURL     string   `mapstructure:"tokenURL"`
	ClientID     string   `mapstructure:"clientID"`
	ClientSecret string   `mapstructure:"clientSecret"`
	Scopes       []string `mapstructure:"scopes"`

	// AssertionKey is the PEM private key for private_key_jwt.
	AssertionKey   string `mapstructure:"assertionKey"`
	AssertionKeyID string `mapstructure:"assertionKeyID"`

	// StaticToken is sent as is when Method is static.
	StaticToken string `mapstructure:"staticToken"`

	// RefreshTimeout bounds one token request.
	// Default: 30s
	RefreshTimeout time.Duration `mapstructure:"refreshTimeout"`
}

// SigningConfig enables HMAC request signing when Key is set.
type SigningConfig struct {
	Key     string   `mapstructure:"key"`
	KeyID   string   `mapstructure:"keyID"`
	Headers []string `mapstructure:"headers"`
}

// SecretsConfig configures resolution of secretref: values.
type SecretsConfig struct {
	// Strict fails on unresolved references instead of keeping them.
	// Default: true
	Strict bool `mapstructure:"strict"`

	// EnvPrefix is prepended to secretref:env names.
	EnvPrefix string `mapstructure:"envPrefix"`

	// FileBaseDir restricts secretref:file paths to one directory.
	FileBaseDir string `mapstructure:"fileBaseDir"`
}

// Default returns a configuration with every default applied and no
// endpoint set.
func Default() Config {
	return Config{
		FailureThreshold:      5,
		RecoveryTimeout:       30 * time.Second,
		HalfOpenTrialCount:    1,
		RateLimitRequests:     100,
		RateLimitWindow:       time.Minute,
		AdaptiveRateLimiting:  true,
		MaxRetryAttempts:      3,
		BaseDelay:             500 * time.Millisecond,
		MaxDelay:              30 * time.Second,
		BackoffMultiplier:     2,
		Jitter:                true,
		MaxElapsed:            5 * time.Minute,
		IdempotencyTTL:        24 * time.Hour,
		IdempotencyMaxEntries: 10000,
		TokenRefreshBuffer:    60 * time.Second,
		ConnectTimeout:        10 * time.Second,
		ReadTimeout:           30 * time.Second,
		UserAgent:             "registrylink",
		HealthCheckInterval:   60 * time.Second,
		HealthProbePath:       "/metadata",
		HealthProbeTimeout:    5 * time.Second,
		Auth: AuthConfig{
			RefreshTimeout: 30 * time.Second,
		},
		Secrets: SecretsConfig{
			Strict: true,
		},
		Observe: observe.Config{
			ServiceName: "registrylink",
			Tracing:     observe.TracingConfig{Exporter: "none", SamplePct: 1.0},
			Metrics:     observe.MetricsConfig{Exporter: "none"},
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info", Format: "json"},
		},
	}
}

// Endpoints returns the primary followed by the backups.
func (c *Config) Endpoints() []string {
	return append([]string{c.PrimaryEndpoint}, c.BackupEndpoints...)
}

// AuthMethod returns the effective auth method.
func (c *Config) AuthMethod() string {
	switch {
	case c.Auth.Method != "":
		return c.Auth.Method
	case c.Auth.TokenURL != "":
		return auth.MethodClientSecretBasic
	case c.Auth.StaticToken != "":
		return AuthStatic
	default:
		return AuthNone
	}
}

// Validate checks the configuration. It rejects a primary endpoint that
// reappears among the backups, compared after normalization.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.PrimaryEndpoint) == "" {
		return ErrMissingPrimary
	}

	seen := make(map[string]bool)
	for _, raw := range c.Endpoints() {
		norm, err := normalizeURL(raw)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, raw, err)
		}
		if seen[norm] {
			return fmt.Errorf("%w: %q", ErrOverlappingURLs, raw)
		}
		seen[norm] = true
	}

	positive := []struct {
		name string
		ok   bool
	}{
		{"failureThreshold", c.FailureThreshold > 0},
		{"recoveryTimeout", c.RecoveryTimeout > 0},
		{"halfOpenTrialCount", c.HalfOpenTrialCount > 0},
		{"rateLimitRequests", c.RateLimitRequests > 0},
		{"rateLimitWindow", c.RateLimitWindow > 0},
		{"burstSize", c.BurstSize >= 0},
		{"maxRetryAttempts", c.MaxRetryAttempts > 0},
		{"baseDelay", c.BaseDelay > 0},
		{"maxDelay", c.MaxDelay >= c.BaseDelay},
		{"backoffMultiplier", c.BackoffMultiplier >= 1},
		{"maxElapsed", c.MaxElapsed > 0},
		{"callTimeout", c.CallTimeout >= 0},
		{"maxConcurrentRequests", c.MaxConcurrentRequests >= 0},
		{"idempotencyTTL", c.IdempotencyTTL >= 0},
		{"idempotencyMaxEntries", c.IdempotencyMaxEntries > 0},
		{"tokenRefreshBuffer", c.TokenRefreshBuffer >= 0},
		{"connectTimeout", c.ConnectTimeout > 0},
		{"readTimeout", c.ReadTimeout > 0},
		{"healthCheckInterval", c.HealthCheckInterval > 0},
		{"healthProbeTimeout", c.HealthProbeTimeout > 0},
	}
	for _, p := range positive {
		if !p.ok {
			return fmt.Errorf("%w: %s", ErrInvalidValue, p.name)
		}
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	if c.Observe.ServiceName != "" {
		if err := c.Observe.Validate(); err != nil {
			return fmt.Errorf("config: observe: %w", err)
		}
	}
	return nil
}

func (c *Config) validateAuth() error {
	switch method := c.AuthMethod(); method {
	case AuthNone:
		return nil
	case AuthStatic:
		if c.Auth.StaticToken == "" {
			return fmt.Errorf("%w: auth.staticToken", ErrMissingCredentials)
		}
	case auth.MethodClientSecretBasic, auth.MethodClientSecretPost, auth.MethodClientSecretJWT:
		if c.Auth.TokenURL == "" || c.Auth.ClientID == "" || c.Auth.ClientSecret == "" {
			return fmt.Errorf("%w: %s needs auth.tokenURL, auth.clientID and auth.clientSecret", ErrMissingCredentials, method)
		}
	case auth.MethodPrivateKeyJWT:
		if c.Auth.TokenURL == "" || c.Auth.ClientID == "" || c.Auth.AssertionKey == "" {
			return fmt.Errorf("%w: %s needs auth.tokenURL, auth.clientID and auth.assertionKey", ErrMissingCredentials, method)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAuthMethod, method)
	}
	return nil
}

// normalizeURL lowercases scheme and host and drops a trailing slash so
// that trivially different spellings of one endpoint compare equal.
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return "", fmt.Errorf("host is required")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
