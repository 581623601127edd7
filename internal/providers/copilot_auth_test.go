package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopilotAuthPrefersInjectedToken(t *testing.T) {
	a := NewCopilotAuthenticator("injected", filepath.Join(t.TempDir(), "cache.json"), "", false)
	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "injected", tok)
}

func TestCopilotAuthFallsBackToCacheFile(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "cache.json")
	data, err := json.Marshal(map[string]interface{}{"token": "cached-tok", "obtained_at": 1})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cachePath, data, 0o600))

	a := NewCopilotAuthenticator("", cachePath, "", false)
	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached-tok", tok)
}

func TestCopilotAuthFailsWhenNoSourceAvailable(t *testing.T) {
	a := NewCopilotAuthenticator("", filepath.Join(t.TempDir(), "missing.json"), "", false)
	_, err := a.Token(context.Background())
	require.Error(t, err)
}

func TestCopilotAuthLoginEndpointExtractsTopLevelToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "from-login"})
	}))
	defer srv.Close()

	cachePath := filepath.Join(t.TempDir(), "cache.json")
	a := NewCopilotAuthenticator("", cachePath, srv.URL, true)
	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-login", tok)

	data, rerr := os.ReadFile(cachePath)
	require.NoError(t, rerr)
	assert.Contains(t, string(data), "from-login")
}

func TestCopilotAuthLoginEndpointExtractsNestedDataToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"api_key": "nested-tok"}})
	}))
	defer srv.Close()

	a := NewCopilotAuthenticator("", filepath.Join(t.TempDir(), "cache.json"), srv.URL, true)
	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nested-tok", tok)
}

func TestCopilotAuthLoginFailureSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewCopilotAuthenticator("", filepath.Join(t.TempDir(), "cache.json"), srv.URL, true)
	_, err := a.Token(context.Background())
	require.Error(t, err)
}

func TestCopilotAuthTokenIsCachedInMemoryAfterFirstResolve(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "once"})
	}))
	defer srv.Close()

	a := NewCopilotAuthenticator("", filepath.Join(t.TempDir(), "cache.json"), srv.URL, true)
	tok1, err := a.Token(context.Background())
	require.NoError(t, err)
	tok2, err := a.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tok1, tok2)
	assert.Equal(t, 1, calls)
}
