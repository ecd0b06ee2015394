package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProviderIssueToken(t *testing.T) {
	raw := signToken(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-secret", body["refresh_token"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"token": raw})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "refresh-secret", 5*time.Second)
	got, err := p.IssueToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestHTTPProviderAcceptsJWTField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"jwt": "alt-token"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "cred", 5*time.Second)
	got, err := p.IssueToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alt-token", got)
}

func TestHTTPProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "cred", 5*time.Second)
	_, err := p.IssueToken(context.Background())
	require.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	got, err := StaticProvider("fixed").IssueToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed", got)

	_, err = StaticProvider("").IssueToken(context.Background())
	require.Error(t, err)
}
