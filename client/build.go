package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/registrylink/auth"
	"github.com/jonwraymond/registrylink/cache"
	"github.com/jonwraymond/registrylink/config"
	"github.com/jonwraymond/registrylink/health"
	"github.com/jonwraymond/registrylink/observe"
	"github.com/jonwraymond/registrylink/resilience"
	"github.com/jonwraymond/registrylink/transport"
)

// NewFromConfig builds every component from cfg and returns a client that
// is ready to Start. obs may be nil, in which case nothing is traced,
// measured or logged.
//
// The caller owns obs; Close releases everything else, including the
// Redis connection of a shared idempotency store.
func NewFromConfig(ctx context.Context, cfg config.Config, obs observe.Observer) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		logger  = observe.NopLogger()
		metrics = observe.NopMetrics()
		mws     []Middleware
	)
	if obs != nil {
		mw, err := observe.MiddlewareFromObserver(obs)
		if err != nil {
			return nil, fmt.Errorf("client: observability: %w", err)
		}
		logger, metrics = mw.Logger(), mw.Metrics()
		mws = append(mws, Observability(mw))
	}

	endpoints := resilience.NewEndpoints(resilience.EndpointConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			FailureThreshold:   cfg.FailureThreshold,
			RecoveryTimeout:    cfg.RecoveryTimeout,
			HalfOpenTrialCount: cfg.HalfOpenTrialCount,
		},
		RateLimiter: resilience.RateLimiterConfig{
			Limit:    cfg.RateLimitRequests,
			Window:   cfg.RateLimitWindow,
			Burst:    cfg.BurstSize,
			Adaptive: cfg.AdaptiveRateLimiting,
		},
		MaxConcurrent:  cfg.MaxConcurrentRequests,
		AttemptTimeout: cfg.ConnectTimeout + cfg.ReadTimeout,
		OnStateChange: func(key string, from, to resilience.State) {
			ctx := context.Background()
			metrics.RecordBreakerTransition(ctx, key, from.String(), to.String())
			logger.Warn(ctx, "circuit breaker state changed",
				observe.F("endpoint", key), observe.F("from", from.String()), observe.F("to", to.String()))
		},
	})

	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts: cfg.MaxRetryAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Multiplier:  cfg.BackoffMultiplier,
		Jitter:      cfg.Jitter,
		MaxElapsed:  cfg.MaxElapsed,
	})

	tr := transport.New(transport.Config{
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		UserAgent:      cfg.UserAgent,
	})

	monitor, err := health.NewMonitor(health.MonitorConfig{
		Primary:      cfg.PrimaryEndpoint,
		Backups:      cfg.BackupEndpoints,
		Interval:     cfg.HealthCheckInterval,
		ProbeTimeout: cfg.HealthProbeTimeout,
		ProbePath:    cfg.HealthProbePath,
		HTTPClient:   &http.Client{Timeout: cfg.HealthProbeTimeout},
		OnFailover: func(from, to string) {
			logger.Warn(context.Background(), "active registry endpoint changed",
				observe.F("from", from), observe.F("to", to),
				observe.F("primary", to == cfg.PrimaryEndpoint))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("client: health monitor: %w", err)
	}

	tokens, err := newTokenManager(cfg, logger)
	if err != nil {
		return nil, err
	}

	var signer *auth.Signer
	if cfg.Signing.Key != "" {
		signer, err = auth.NewSigner(auth.SignerConfig{
			Key:     []byte(cfg.Signing.Key),
			KeyID:   cfg.Signing.KeyID,
			Headers: cfg.Signing.Headers,
		})
		if err != nil {
			return nil, fmt.Errorf("client: signer: %w", err)
		}
	}

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	policy := cache.DefaultPolicy()
	policy.TTL = cfg.IdempotencyTTL
	idem, err := cache.NewIdempotency(store, nil, policy)
	if err != nil {
		_ = closeStore(ctx)
		return nil, fmt.Errorf("client: idempotency: %w", err)
	}

	c, err := New(Config{
		Transport:   tr,
		Endpoints:   endpoints,
		Retry:       retry,
		Monitor:     monitor,
		Tokens:      tokens,
		Signer:      signer,
		Idempotency: idem,
		CallTimeout: cfg.CallTimeout,
		Middleware:  mws,
		Logger:      logger,
	})
	if err != nil {
		_ = closeStore(ctx)
		return nil, err
	}
	c.OnClose(closeStore)
	return c, nil
}

func newTokenManager(cfg config.Config, logger observe.Logger) (*auth.TokenManager, error) {
	var source auth.TokenSource

	switch method := cfg.AuthMethod(); method {
	case config.AuthNone:
		return nil, nil
	case config.AuthStatic:
		source = auth.StaticTokenSource{Token: auth.Token{AccessToken: cfg.Auth.StaticToken, TokenType: "Bearer"}}
	default:
		cc, err := auth.NewClientCredentialsSource(auth.ClientCredentialsConfig{
			TokenURL:       cfg.Auth.TokenURL,
			ClientID:       cfg.Auth.ClientID,
			ClientSecret:   cfg.Auth.ClientSecret,
			Scopes:         cfg.Auth.Scopes,
			Method:         method,
			AssertionKey:   []byte(cfg.Auth.AssertionKey),
			AssertionKeyID: cfg.Auth.AssertionKeyID,
			HTTPClient:     &http.Client{Timeout: cfg.Auth.RefreshTimeout},
		})
		if err != nil {
			return nil, fmt.Errorf("client: token source: %w", err)
		}
		source = cc
	}

	return auth.NewTokenManager(auth.TokenManagerConfig{
		Source:         source,
		RefreshBuffer:  cfg.TokenRefreshBuffer,
		RefreshTimeout: cfg.Auth.RefreshTimeout,
		OnRefresh: func(tok auth.Token, err error) {
			ctx := context.Background()
			if err != nil {
				logger.Error(ctx, "token refresh failed", observe.F("error", err))
				return
			}
			logger.Debug(ctx, "token refreshed", observe.F("expires_at", tok.ExpiresAt))
		},
	}), nil
}

// newStore returns the idempotency store: Redis when an address is
// configured, otherwise a bounded in-memory map.
func newStore(ctx context.Context, cfg config.Config) (cache.Cache, func(context.Context) error, error) {
	if cfg.IdempotencyRedisAddr == "" {
		store := cache.NewMemoryCache(cache.MemoryConfig{MaxEntries: cfg.IdempotencyMaxEntries})
		return store, func(context.Context) error { return nil }, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.IdempotencyRedisAddr,
		Password: cfg.IdempotencyRedisPassword,
		DB:       cfg.IdempotencyRedisDB,
	})
	store, err := cache.NewRedisCache(rdb)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("client: idempotency store %s: %w", cfg.IdempotencyRedisAddr, err)
	}
	return store, func(context.Context) error { return store.Close() }, nil
}
