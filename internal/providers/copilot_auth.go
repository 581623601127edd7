package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codial-ai/codial-core/internal/codialerr"
)

// authCacheFile is the on-disk shape written to CORE_COPILOT_AUTH_CACHE_PATH
// (spec.md §6.5), mode 0600.
type authCacheFile struct {
	Token      string `json:"token"`
	ObtainedAt int64  `json:"obtained_at"`
}

// CopilotAuthenticator implements the Copilot auth bootstrap order from
// spec.md §4.4: injected token -> cache file -> login endpoint. Grounded
// on the teacher's provider client-construction pattern
// (internal/providers/anthropic.go NewAnthropicProvider option chain) and
// the reference Copilot client's token-source precedence
// (_examples/sgsgsgwgg132-tech-copilot-sdk/go/types.go ClientOptions).
type CopilotAuthenticator struct {
	injectedToken string
	cachePath     string
	loginEndpoint string
	autoLogin     bool
	httpClient    *http.Client

	mu      sync.Mutex
	cached  string
}

// NewCopilotAuthenticator constructs an authenticator. injectedToken may be
// empty (falls through to cache then login).
func NewCopilotAuthenticator(injectedToken, cachePath, loginEndpoint string, autoLogin bool) *CopilotAuthenticator {
	return &CopilotAuthenticator{
		injectedToken: injectedToken,
		cachePath:     cachePath,
		loginEndpoint: loginEndpoint,
		autoLogin:     autoLogin,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Token resolves a bearer token via injected token -> cache file -> login
// endpoint, in that order, caching the in-memory result for the process
// lifetime once resolved.
func (a *CopilotAuthenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cached != "" {
		return a.cached, nil
	}

	if a.injectedToken != "" {
		a.cached = a.injectedToken
		return a.cached, nil
	}

	if tok, ok := a.readCache(); ok {
		a.cached = tok
		return tok, nil
	}

	if !a.autoLogin || a.loginEndpoint == "" {
		return "", codialerr.New(codialerr.CodeProviderAuthFailed, "", "no copilot token available (no injected token, no cache, auto-login disabled)")
	}

	tok, err := a.login(ctx)
	if err != nil {
		return "", codialerr.New(codialerr.CodeProviderAuthFailed, "", "copilot login failed: "+err.Error())
	}

	a.cached = tok
	// Cache write failure is non-fatal; the token is still usable this run.
	_ = a.writeCache(tok)
	return tok, nil
}

func (a *CopilotAuthenticator) readCache() (string, bool) {
	if a.cachePath == "" {
		return "", false
	}
	data, err := os.ReadFile(a.cachePath)
	if err != nil {
		return "", false
	}
	var f authCacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", false
	}
	return f.Token, f.Token != ""
}

func (a *CopilotAuthenticator) writeCache(token string) error {
	if a.cachePath == "" {
		return nil
	}
	dir := filepath.Dir(a.cachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f := authCacheFile{Token: token, ObtainedAt: time.Now().Unix()}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".copilot-auth-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, a.cachePath); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// login calls the configured login endpoint and extracts a token from
// any of the accepted response keys (spec.md §4.4): token, access_token,
// bearer_token, api_key, including any of these nested under "data".
func (a *CopilotAuthenticator) login(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.loginEndpoint, bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("login endpoint returned %d", resp.StatusCode)
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", err
	}

	if tok := extractToken(raw); tok != "" {
		return tok, nil
	}
	if nested, ok := raw["data"].(map[string]interface{}); ok {
		if tok := extractToken(nested); tok != "" {
			return tok, nil
		}
	}
	return "", fmt.Errorf("login response did not contain a recognized token field")
}

func extractToken(m map[string]interface{}) string {
	for _, key := range []string{"token", "access_token", "bearer_token", "api_key"} {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
