package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/storia-seo-ops/internal/clock"
	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

func newTestKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return key, pemBytes
}

func TestMintExchangesSignedAssertion(t *testing.T) {
	t.Parallel()

	key, pemBytes := newTestKey(t)
	var gotClaims jwt.MapClaims
	var gotKID any
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, GrantType, r.PostForm.Get("grant_type"))
		token, err := jwt.Parse(r.PostForm.Get("assertion"), func(tok *jwt.Token) (any, error) {
			gotKID = tok.Header["kid"]
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithAudience(srvURL))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotClaims = token.Claims.(jwt.MapClaims)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ya29.token","expires_in":3599,"token_type":"Bearer"}`))
	}))
	defer srv.Close()
	srvURL = srv.URL

	now := time.Now().UTC()
	m := NewMinter(seo.Credential{
		Issuer:        "sync@project.iam.gserviceaccount.com",
		PrivateKeyPEM: pemBytes,
		KeyID:         "key-1",
		Audience:      srv.URL,
		Scopes:        []string{"scope-a", "scope-b"},
	}, srv.Client(), clock.NewFixed(now), Config{}, zap.NewNop())

	tok, err := m.Mint(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ya29.token", tok.Value)
	require.WithinDuration(t, now.Add(3599*time.Second), tok.ExpiresAt, time.Second)
	require.True(t, tok.Valid(now))
	require.Equal(t, "key-1", gotKID)
	require.Equal(t, "sync@project.iam.gserviceaccount.com", gotClaims["iss"])
	require.Equal(t, "sync@project.iam.gserviceaccount.com", gotClaims["sub"])
	require.Equal(t, "scope-a scope-b", gotClaims["scope"])
	exp, err := gotClaims.GetExpirationTime()
	require.NoError(t, err)
	require.WithinDuration(t, now.Add(time.Hour), exp.Time, time.Second)
}

func TestMintRejectsMalformedKey(t *testing.T) {
	t.Parallel()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	m := NewMinter(seo.Credential{
		Issuer:        "sync@example",
		PrivateKeyPEM: []byte("not a key"),
		Audience:      srv.URL,
	}, srv.Client(), clock.NewFixed(time.Now()), Config{}, nil)

	_, err := m.Mint(context.Background())
	require.Error(t, err)
	require.True(t, seo.IsAuth(err))
	require.False(t, called, "no exchange should happen with a bad key")
}

func TestMintNon2xxIsAuthError(t *testing.T) {
	t.Parallel()

	_, pemBytes := newTestKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	m := NewMinter(seo.Credential{Issuer: "sync@example", PrivateKeyPEM: pemBytes, Audience: srv.URL},
		srv.Client(), clock.NewFixed(time.Now()), Config{}, nil)

	_, err := m.Mint(context.Background())
	require.Error(t, err)
	require.True(t, seo.IsAuth(err))
	var provErr *seo.ProviderError
	require.True(t, errors.As(err, &provErr))
	require.Equal(t, http.StatusUnauthorized, provErr.StatusCode)
	require.Contains(t, provErr.Message, "invalid_grant")
}

func TestMintDetectsClockSkew(t *testing.T) {
	t.Parallel()

	_, pemBytes := newTestKey(t)
	serverNow := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Date", serverNow.Format(http.TimeFormat))
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	}))
	defer srv.Close()

	skewed := NewMinter(seo.Credential{Issuer: "sync@example", PrivateKeyPEM: pemBytes, Audience: srv.URL},
		srv.Client(), clock.NewFixed(serverNow.Add(10*time.Minute)), Config{MaxClockSkew: time.Minute}, nil)
	_, err := skewed.Mint(context.Background())
	require.Error(t, err)
	require.True(t, seo.IsAuth(err))
	require.Contains(t, err.Error(), "clock skew")

	inSync := NewMinter(seo.Credential{Issuer: "sync@example", PrivateKeyPEM: pemBytes, Audience: srv.URL},
		srv.Client(), clock.NewFixed(serverNow.Add(30*time.Second)), Config{MaxClockSkew: time.Minute}, nil)
	tok, err := inSync.Mint(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok", tok.Value)
}

func TestMintTransportFailure(t *testing.T) {
	t.Parallel()

	_, pemBytes := newTestKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	m := NewMinter(seo.Credential{Issuer: "sync@example", PrivateKeyPEM: pemBytes, Audience: srv.URL},
		nil, clock.NewFixed(time.Now()), Config{}, nil)
	_, err := m.Mint(context.Background())
	require.Error(t, err)
	require.True(t, seo.IsAuth(err))
	require.True(t, seo.IsTransport(err))
}
