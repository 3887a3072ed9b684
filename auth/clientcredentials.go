package auth

import (
	"context"
	"crypto"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Client authentication methods for the token endpoint.
const (
	MethodClientSecretBasic = "client_secret_basic"
	MethodClientSecretPost  = "client_secret_post"
	MethodClientSecretJWT   = "client_secret_jwt"
	MethodPrivateKeyJWT     = "private_key_jwt"
)

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// ClientCredentialsConfig configures the OAuth2 client credentials source.
type ClientCredentialsConfig struct {
	// TokenURL is the token endpoint. It is also the audience of client
	// assertions.
	TokenURL string

	// ClientID is the client identifier.
	ClientID string

	// ClientSecret authenticates the client for the secret based methods.
	ClientSecret string

	// Scopes are requested space-separated.
	Scopes []string

	// Method is how the client authenticates to the token endpoint.
	// Default: client_secret_basic
	Method string

	// AssertionKey is the PEM encoded RSA or EC private key for
	// private_key_jwt.
	AssertionKey []byte

	// AssertionKeyID is sent as the kid header of client assertions.
	AssertionKeyID string

	// AssertionLifetime is the exp of client assertions.
	// Default: 5 minutes
	AssertionLifetime time.Duration

	// DefaultLifetime applies when the server sends neither expires_in nor
	// a JWT access token with an exp claim.
	// Default: 1 hour
	DefaultLifetime time.Duration

	// HTTPClient is the HTTP client to use. If nil, a default client with
	// 30s timeout is used.
	HTTPClient *http.Client

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// ClientCredentialsSource fetches tokens with the OAuth2 client
// credentials grant.
type ClientCredentialsSource struct {
	config ClientCredentialsConfig
	key    crypto.Signer
	alg    jwt.SigningMethod
}

// NewClientCredentialsSource validates config and creates a source.
func NewClientCredentialsSource(config ClientCredentialsConfig) (*ClientCredentialsSource, error) {
	// Apply defaults
	if config.Method == "" {
		config.Method = MethodClientSecretBasic
	}
	if config.AssertionLifetime <= 0 {
		config.AssertionLifetime = 5 * time.Minute
	}
	if config.DefaultLifetime <= 0 {
		config.DefaultLifetime = time.Hour
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	if config.TokenURL == "" || config.ClientID == "" {
		return nil, fmt.Errorf("%w: token url and client id are required", ErrMissingCredentials)
	}

	s := &ClientCredentialsSource{config: config}

	switch config.Method {
	case MethodClientSecretBasic, MethodClientSecretPost:
		if config.ClientSecret == "" {
			return nil, fmt.Errorf("%w: client secret is required for %s", ErrMissingCredentials, config.Method)
		}
	case MethodClientSecretJWT:
		if config.ClientSecret == "" {
			return nil, fmt.Errorf("%w: client secret is required for %s", ErrMissingCredentials, config.Method)
		}
		s.alg = jwt.SigningMethodHS256
	case MethodPrivateKeyJWT:
		key, alg, err := parseAssertionKey(config.AssertionKey)
		if err != nil {
			return nil, err
		}
		s.key, s.alg = key, alg
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, config.Method)
	}

	return s, nil
}

// parseAssertionKey reads a PEM private key and picks the signing
// algorithm for it: RS384 for RSA keys, ES256/384/512 by EC curve size.
func parseAssertionKey(pemBytes []byte) (crypto.Signer, jwt.SigningMethod, error) {
	if len(pemBytes) == 0 {
		return nil, nil, fmt.Errorf("%w: assertion key is required for %s", ErrMissingCredentials, MethodPrivateKeyJWT)
	}
	if rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes); err == nil {
		return rsaKey, jwt.SigningMethodRS384, nil
	}
	if ecKey, err := jwt.ParseECPrivateKeyFromPEM(pemBytes); err == nil {
		switch ecKey.Curve.Params().BitSize {
		case 256:
			return ecKey, jwt.SigningMethodES256, nil
		case 384:
			return ecKey, jwt.SigningMethodES384, nil
		case 521:
			return ecKey, jwt.SigningMethodES512, nil
		}
		return nil, nil, fmt.Errorf("%w: unsupported EC curve", ErrInvalidCredentials)
	}
	return nil, nil, fmt.Errorf("%w: assertion key is not an RSA or EC private key", ErrInvalidCredentials)
}

// FetchToken requests a new access token.
func (s *ClientCredentialsSource) FetchToken(ctx context.Context) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if len(s.config.Scopes) > 0 {
		form.Set("scope", strings.Join(s.config.Scopes, " "))
	}

	switch s.config.Method {
	case MethodClientSecretPost:
		form.Set("client_id", s.config.ClientID)
		form.Set("client_secret", s.config.ClientSecret)
	case MethodClientSecretJWT, MethodPrivateKeyJWT:
		assertion, err := s.clientAssertion()
		if err != nil {
			return Token{}, err
		}
		form.Set("client_assertion_type", clientAssertionType)
		form.Set("client_assertion", assertion)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	// Add Basic auth if using client_secret_basic
	if s.config.Method == MethodClientSecretBasic {
		credentials := base64.StdEncoding.EncodeToString([]byte(
			url.QueryEscape(s.config.ClientID) + ":" + url.QueryEscape(s.config.ClientSecret)))
		req.Header.Set("Authorization", "Basic "+credentials)
	}

	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrTokenRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, fmt.Errorf("%w: read response: %v", ErrTokenRequest, err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return Token{}, fmt.Errorf("%w: status %d: %s", ErrInvalidCredentials, resp.StatusCode, oauthError(body))
	case resp.StatusCode != http.StatusOK:
		return Token{}, fmt.Errorf("%w: status %d", ErrTokenRequest, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("%w: decode: %v", ErrTokenMalformed, err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: empty access_token", ErrTokenMalformed)
	}

	return Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		ExpiresAt:   s.expiry(tr),
		Scope:       tr.Scope,
	}, nil
}

// tokenResponse is the token endpoint response format.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// expiry prefers expires_in, then the exp claim of a JWT access token.
func (s *ClientCredentialsSource) expiry(tr tokenResponse) time.Time {
	now := s.config.Now()
	if tr.ExpiresIn > 0 {
		return now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	if exp, ok := jwtExpiry(tr.AccessToken); ok {
		return exp
	}
	return now.Add(s.config.DefaultLifetime)
}

// jwtExpiry reads exp from a JWT without verifying it. The token is only
// ever presented back to its issuer.
func jwtExpiry(accessToken string) (time.Time, bool) {
	if strings.Count(accessToken, ".") != 2 {
		return time.Time{}, false
	}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// clientAssertion builds a signed JWT identifying the client to the token
// endpoint.
func (s *ClientCredentialsSource) clientAssertion() (string, error) {
	now := s.config.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.config.ClientID,
		Subject:   s.config.ClientID,
		Audience:  jwt.ClaimStrings{s.config.TokenURL},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.config.AssertionLifetime)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(s.alg, claims)
	if s.config.AssertionKeyID != "" {
		token.Header["kid"] = s.config.AssertionKeyID
	}

	var key any = s.key
	if s.config.Method == MethodClientSecretJWT {
		key = []byte(s.config.ClientSecret)
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign client assertion: %w", err)
	}
	return signed, nil
}

func oauthError(body []byte) string {
	var e struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(body, &e) != nil || e.Error == "" {
		return "unrecognized error response"
	}
	if e.ErrorDescription != "" {
		return e.Error + ": " + e.ErrorDescription
	}
	return e.Error
}

// Ensure ClientCredentialsSource implements TokenSource
var _ TokenSource = (*ClientCredentialsSource)(nil)
