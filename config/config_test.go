package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/registrylink/auth"
)

func validConfig() Config {
	cfg := Default()
	cfg.PrimaryEndpoint = "https://registry.example.org/fhir"
	cfg.BackupEndpoints = []string{"https://backup.example.org/fhir"}
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.RecoveryTimeout)
	assert.Equal(t, 1, cfg.HalfOpenTrialCount)
	assert.Equal(t, 100, cfg.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.True(t, cfg.AdaptiveRateLimiting)
	assert.Equal(t, 3, cfg.MaxRetryAttempts)
	assert.Equal(t, 5*time.Minute, cfg.MaxElapsed)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 60*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, "/metadata", cfg.HealthProbePath)
	assert.True(t, cfg.Secrets.Strict)
	assert.Equal(t, AuthNone, cfg.AuthMethod())
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_MissingPrimary(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.Validate(), ErrMissingPrimary)
}

func TestValidate_InvalidEndpoint(t *testing.T) {
	tests := []string{
		"registry.example.org",
		"ftp://registry.example.org",
		"https://",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			cfg := validConfig()
			cfg.PrimaryEndpoint = raw
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidEndpoint)
		})
	}
}

func TestValidate_OverlappingURLs(t *testing.T) {
	tests := []struct {
		name    string
		primary string
		backups []string
	}{
		{"identical", "https://a.example.org/fhir", []string{"https://a.example.org/fhir"}},
		{"trailing slash", "https://a.example.org/fhir", []string{"https://a.example.org/fhir/"}},
		{"host case", "https://A.example.org/fhir", []string{"https://a.example.org/fhir"}},
		{"backup twice", "https://a.example.org", []string{"https://b.example.org", "https://b.example.org"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.PrimaryEndpoint = tt.primary
			cfg.BackupEndpoints = tt.backups
			assert.ErrorIs(t, cfg.Validate(), ErrOverlappingURLs)
		})
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"failureThreshold", func(c *Config) { c.FailureThreshold = 0 }},
		{"recoveryTimeout", func(c *Config) { c.RecoveryTimeout = 0 }},
		{"rateLimitRequests", func(c *Config) { c.RateLimitRequests = -1 }},
		{"burstSize", func(c *Config) { c.BurstSize = -1 }},
		{"maxDelay", func(c *Config) { c.MaxDelay = c.BaseDelay - 1 }},
		{"backoffMultiplier", func(c *Config) { c.BackoffMultiplier = 0.5 }},
		{"idempotencyMaxEntries", func(c *Config) { c.IdempotencyMaxEntries = 0 }},
		{"healthCheckInterval", func(c *Config) { c.HealthCheckInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidValue)
			assert.Contains(t, err.Error(), tt.name)
		})
	}
}

func TestAuthMethod(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, AuthNone, cfg.AuthMethod())

	cfg.Auth.StaticToken = "tok"
	assert.Equal(t, AuthStatic, cfg.AuthMethod())

	cfg.Auth.TokenURL = "https://auth.example.org/token"
	assert.Equal(t, auth.MethodClientSecretBasic, cfg.AuthMethod())

	cfg.Auth.Method = auth.MethodPrivateKeyJWT
	assert.Equal(t, auth.MethodPrivateKeyJWT, cfg.AuthMethod())
}

func TestValidate_Auth(t *testing.T) {
	tests := []struct {
		name    string
		auth    AuthConfig
		wantErr error
	}{
		{"none", AuthConfig{}, nil},
		{"static", AuthConfig{Method: AuthStatic, StaticToken: "tok"}, nil},
		{"static without token", AuthConfig{Method: AuthStatic}, ErrMissingCredentials},
		{
			"client secret",
			AuthConfig{TokenURL: "https://auth.example.org/token", ClientID: "id", ClientSecret: "s"},
			nil,
		},
		{
			"client secret missing",
			AuthConfig{TokenURL: "https://auth.example.org/token", ClientID: "id"},
			ErrMissingCredentials,
		},
		{
			"private key jwt missing key",
			AuthConfig{Method: auth.MethodPrivateKeyJWT, TokenURL: "https://auth.example.org/token", ClientID: "id"},
			ErrMissingCredentials,
		},
		{"unknown", AuthConfig{Method: "kerberos"}, ErrInvalidAuthMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Auth = tt.auth
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidate_Observe(t *testing.T) {
	cfg := validConfig()
	cfg.Observe.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())
}

func TestEndpoints(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, []string{"https://registry.example.org/fhir", "https://backup.example.org/fhir"}, cfg.Endpoints())
}
