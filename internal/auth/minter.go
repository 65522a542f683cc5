// Package auth mints short-lived analytics access tokens from a service
// credential using the JWT bearer assertion grant.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

// GrantType is the OAuth 2.0 JWT bearer grant.
const GrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

const (
	defaultLifetime     = time.Hour
	defaultMaxClockSkew = 5 * time.Minute
	maxErrorBody        = 4 << 10
)

// Config tunes assertion lifetime and skew tolerance.
type Config struct {
	Lifetime     time.Duration
	MaxClockSkew time.Duration
}

// Minter exchanges a signed assertion for a bearer token. It keeps no token
// state; every Mint call performs exactly one exchange.
type Minter struct {
	cred   seo.Credential
	client *http.Client
	clock  seo.Clock
	cfg    Config
	logger *zap.Logger
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// NewMinter builds a Minter for the injected credential.
func NewMinter(cred seo.Credential, client *http.Client, clock seo.Clock, cfg Config, logger *zap.Logger) *Minter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultLifetime
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = defaultMaxClockSkew
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Minter{cred: cred, client: client, clock: clock, cfg: cfg, logger: logger}
}

// Mint signs a fresh assertion and exchanges it for an access token.
func (m *Minter) Mint(ctx context.Context) (seo.AccessToken, error) {
	now := m.clock.Now()
	assertion, err := m.signAssertion(now)
	if err != nil {
		return seo.AccessToken{}, &seo.AuthError{Op: "sign assertion", Err: err}
	}

	form := url.Values{}
	form.Set("grant_type", GrantType)
	form.Set("assertion", assertion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cred.Audience, strings.NewReader(form.Encode()))
	if err != nil {
		return seo.AccessToken{}, &seo.AuthError{Op: "build exchange request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return seo.AccessToken{}, &seo.AuthError{
			Op:  "exchange",
			Err: &seo.TransportError{URL: m.cred.Audience, Err: err},
		}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if err := m.checkSkew(now, resp.Header.Get("Date")); err != nil {
		return seo.AccessToken{}, &seo.AuthError{Op: "clock skew", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return seo.AccessToken{}, &seo.AuthError{
			Op: "exchange",
			Err: &seo.ProviderError{
				Provider:   "token endpoint",
				StatusCode: resp.StatusCode,
				Message:    strings.TrimSpace(string(body)),
			},
		}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return seo.AccessToken{}, &seo.AuthError{Op: "decode token response", Err: err}
	}
	if tr.AccessToken == "" {
		return seo.AccessToken{}, &seo.AuthError{Op: "decode token response", Err: errors.New("empty access_token")}
	}
	lifetime := time.Duration(tr.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = m.cfg.Lifetime
	}
	m.logger.Debug("minted access token", zap.Duration("lifetime", lifetime))
	return seo.AccessToken{Value: tr.AccessToken, ExpiresAt: now.Add(lifetime)}, nil
}

func (m *Minter) signAssertion(now time.Time) (string, error) {
	if len(m.cred.PrivateKeyPEM) == 0 {
		return "", errors.New("private key is empty")
	}
	if m.cred.Issuer == "" || m.cred.Audience == "" {
		return "", errors.New("credential issuer and audience are required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(m.cred.PrivateKeyPEM)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	subject := m.cred.Subject
	if subject == "" {
		subject = m.cred.Issuer
	}
	claims := jwt.MapClaims{
		"iss":   m.cred.Issuer,
		"sub":   subject,
		"aud":   m.cred.Audience,
		"scope": strings.Join(m.cred.Scopes, " "),
		"iat":   now.Unix(),
		"exp":   now.Add(m.cfg.Lifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if m.cred.KeyID != "" {
		token.Header["kid"] = m.cred.KeyID
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}

// checkSkew compares the local clock with the provider's Date header. A
// missing or unparsable header is not treated as skew.
func (m *Minter) checkSkew(now time.Time, dateHeader string) error {
	if dateHeader == "" {
		return nil
	}
	serverTime, err := http.ParseTime(dateHeader)
	if err != nil {
		return nil
	}
	skew := now.Sub(serverTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > m.cfg.MaxClockSkew {
		return fmt.Errorf("local clock differs from provider by %s (tolerance %s)", skew.Round(time.Second), m.cfg.MaxClockSkew)
	}
	return nil
}
