package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codial-ai/codial-core/internal/codialerr"
	"github.com/codial-ai/codial-core/pkg/codial"
)

// HTTPBridgeClient is the default Provider implementation: one HTTP POST
// per round to the provider's configured base URL (spec.md §6.3), bearer
// authenticated, with exponential backoff + jitter on transient failure
// classes (timeout, 429, 5xx, network) per spec.md §4.7/§7. Adapted from
// the teacher's internal/providers/anthropic.go RetryDo call pattern,
// swapped to the cenkalti/backoff/v4 library.
type HTTPBridgeClient struct {
	cfg         BridgeConfig
	client      *http.Client
	copilotAuth *CopilotAuthenticator
}

// NewHTTPBridgeClient constructs a bridge client for cfg. copilotAuth is
// consulted for bearer tokens only when cfg.Name == "github-copilot-sdk"
// and cfg.Token is empty.
func NewHTTPBridgeClient(cfg BridgeConfig, copilotAuth *CopilotAuthenticator) *HTTPBridgeClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPBridgeClient{
		cfg:         cfg,
		client:      &http.Client{Timeout: timeout},
		copilotAuth: copilotAuth,
	}
}

func (c *HTTPBridgeClient) Name() string { return c.cfg.Name }

// Run POSTs req to the bridge and decodes a BridgeResponse, retrying
// transient failures with exponential backoff + jitter bounded to a small
// cap (spec.md §4.7). Auth/config/policy errors fail fast (no retry).
func (c *HTTPBridgeClient) Run(ctx context.Context, req codial.BridgeRequest) (*codial.BridgeResponse, error) {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, codialerr.Internal("", err)
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(250*time.Millisecond),
		backoff.WithMaxInterval(4*time.Second),
		backoff.WithMaxElapsedTime(20*time.Second),
	), 5)

	var result *codial.BridgeResponse
	op := func() error {
		resp, doErr := c.doRequest(ctx, token, payload)
		if doErr == nil {
			result = resp
			return nil
		}
		var ce *codialerr.Error
		if codialerr.AsError(doErr, &ce) && ce.Retryable {
			return doErr
		}
		return backoff.Permanent(doErr)
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		var ce *codialerr.Error
		if codialerr.AsError(err, &ce) {
			return nil, ce
		}
		return nil, codialerr.New(codialerr.CodeBridgeTransport, "", err.Error())
	}
	return result, nil
}

func (c *HTTPBridgeClient) resolveToken(ctx context.Context) (string, error) {
	if c.cfg.Name == "github-copilot-sdk" && c.cfg.Token == "" && c.copilotAuth != nil {
		return c.copilotAuth.Token(ctx)
	}
	if c.cfg.Token == "" {
		return "", codialerr.New(codialerr.CodeProviderAuthFailed, "", "no bridge token configured for provider "+c.cfg.Name)
	}
	return c.cfg.Token, nil
}

func (c *HTTPBridgeClient) doRequest(ctx context.Context, token string, payload []byte) (*codial.BridgeResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, codialerr.New(codialerr.CodeBridgeTransport, "", err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, codialerr.New(codialerr.CodeBridgeTimeout, "", err.Error())
		}
		return nil, codialerr.New(codialerr.CodeBridgeTransport, "", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, codialerr.New(codialerr.CodeBridgeTransport, "", err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, codialerr.New(codialerr.CodeRateLimit, "", "bridge returned 429")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, codialerr.New(codialerr.CodeProviderAuthFailed, "", fmt.Sprintf("bridge auth failed: %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, codialerr.New(codialerr.CodeBridgeTransport, "", fmt.Sprintf("bridge returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, codialerr.New(codialerr.CodeBridgeProtocol, "", fmt.Sprintf("bridge returned %d: %s", resp.StatusCode, truncate(body, 500)))
	}

	var out codial.BridgeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, codialerr.New(codialerr.CodeBridgeProtocol, "", "decode bridge response: "+err.Error())
	}
	return &out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}
