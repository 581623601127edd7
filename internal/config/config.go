// Package config loads Codial's entirely env-sourced configuration
// (spec.md §6.6). Mirrors the teacher's Default()+applyEnvOverrides idiom
// in internal/config/config_load.go, minus the JSON/json5 file layer that
// spec.md scopes out for the orchestrator itself.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the Codial orchestrator.
type Config struct {
	Host    string
	Port    int
	APIToken string

	GatewayBaseURL     string
	GatewayInternalToken string

	RequestTimeout time.Duration

	TurnWorkerCount int
	TurnQueueSize   int

	DefaultProviderName  string
	EnabledProviderNames []string

	CopilotBridgeBaseURL     string
	CopilotBridgeToken       string
	CopilotAutoLoginEnabled  bool
	CopilotAuthCachePath     string
	CopilotLoginEndpoint     string

	ProviderBridgeTimeout time.Duration

	MCPServerURL         string
	MCPServerToken       string
	MCPRequestTimeout    time.Duration

	AttachmentDownloadEnabled  bool
	AttachmentDownloadMaxBytes int64
	AttachmentStorageDir      string

	WorkspaceRoot string

	LogFormat string // "json" (default) or "text"

	RESTRateLimitRPS   float64
	RESTRateLimitBurst int

	TurnIdempotencyTTL time.Duration
}

// Default returns a Config with the same baseline values the teacher ships
// for its gateway (host/port/timeouts), adapted to Codial's field names.
func Default() *Config {
	return &Config{
		Host:                  "0.0.0.0",
		Port:                  8080,
		RequestTimeout:        30 * time.Second,
		TurnWorkerCount:       2,
		TurnQueueSize:         64,
		DefaultProviderName:   "github-copilot-sdk",
		EnabledProviderNames:  []string{"github-copilot-sdk"},
		CopilotAutoLoginEnabled: false,
		CopilotAuthCachePath:  ".runtime/copilot-auth.json",
		ProviderBridgeTimeout: 60 * time.Second,
		MCPRequestTimeout:     30 * time.Second,
		AttachmentDownloadEnabled:  false,
		AttachmentDownloadMaxBytes: 10 * 1024 * 1024,
		AttachmentStorageDir:       ".runtime/attachments",
		WorkspaceRoot:              ".",
		LogFormat:                  "json",
		RESTRateLimitRPS:           10,
		RESTRateLimitBurst:         20,
		TurnIdempotencyTTL:         5 * time.Minute,
	}
}

// Load builds a Config from defaults overlaid with every CORE_* env var
// enumerated in spec.md §6.6.
func Load() (*Config, error) {
	cfg := Default()

	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	envInt64 := func(key string, dst *int64) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	envBool := func(key string, dst *bool) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}
	envSeconds := func(key string, dst *time.Duration) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = time.Duration(n) * time.Second
		return nil
	}
	envFloat := func(key string, dst *float64) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = f
		return nil
	}
	envList := func(key string, dst *[]string) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}

	envStr("CORE_HOST", &cfg.Host)
	if err := envInt("CORE_PORT", &cfg.Port); err != nil {
		return nil, err
	}
	envStr("CORE_API_TOKEN", &cfg.APIToken)
	envStr("CORE_GATEWAY_BASE_URL", &cfg.GatewayBaseURL)
	envStr("CORE_GATEWAY_INTERNAL_TOKEN", &cfg.GatewayInternalToken)
	if err := envSeconds("CORE_REQUEST_TIMEOUT_SECONDS", &cfg.RequestTimeout); err != nil {
		return nil, err
	}
	if err := envInt("CORE_TURN_WORKER_COUNT", &cfg.TurnWorkerCount); err != nil {
		return nil, err
	}
	if err := envInt("CORE_TURN_QUEUE_SIZE", &cfg.TurnQueueSize); err != nil {
		return nil, err
	}
	envStr("CORE_DEFAULT_PROVIDER_NAME", &cfg.DefaultProviderName)
	envList("CORE_ENABLED_PROVIDER_NAMES", &cfg.EnabledProviderNames)
	envStr("CORE_COPILOT_BRIDGE_BASE_URL", &cfg.CopilotBridgeBaseURL)
	envStr("CORE_COPILOT_BRIDGE_TOKEN", &cfg.CopilotBridgeToken)
	if err := envBool("CORE_COPILOT_AUTO_LOGIN_ENABLED", &cfg.CopilotAutoLoginEnabled); err != nil {
		return nil, err
	}
	envStr("CORE_COPILOT_AUTH_CACHE_PATH", &cfg.CopilotAuthCachePath)
	envStr("CORE_COPILOT_LOGIN_ENDPOINT", &cfg.CopilotLoginEndpoint)
	if err := envSeconds("CORE_PROVIDER_BRIDGE_TIMEOUT_SECONDS", &cfg.ProviderBridgeTimeout); err != nil {
		return nil, err
	}
	envStr("CORE_MCP_SERVER_URL", &cfg.MCPServerURL)
	envStr("CORE_MCP_SERVER_TOKEN", &cfg.MCPServerToken)
	if err := envSeconds("CORE_MCP_REQUEST_TIMEOUT_SECONDS", &cfg.MCPRequestTimeout); err != nil {
		return nil, err
	}
	if err := envBool("CORE_ATTACHMENT_DOWNLOAD_ENABLED", &cfg.AttachmentDownloadEnabled); err != nil {
		return nil, err
	}
	if err := envInt64("CORE_ATTACHMENT_DOWNLOAD_MAX_BYTES", &cfg.AttachmentDownloadMaxBytes); err != nil {
		return nil, err
	}
	envStr("CORE_ATTACHMENT_STORAGE_DIR", &cfg.AttachmentStorageDir)
	envStr("CORE_WORKSPACE_ROOT", &cfg.WorkspaceRoot)
	envStr("CODIAL_LOG_FORMAT", &cfg.LogFormat)
	if err := envFloat("CORE_REST_RATE_LIMIT_RPS", &cfg.RESTRateLimitRPS); err != nil {
		return nil, err
	}
	if err := envInt("CORE_REST_RATE_LIMIT_BURST", &cfg.RESTRateLimitBurst); err != nil {
		return nil, err
	}
	if err := envSeconds("CORE_TURN_IDEMPOTENCY_TTL_SECONDS", &cfg.TurnIdempotencyTTL); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Ready reports whether the minimal config needed for /v1/health/ready is
// present (spec.md §6.1).
func (c *Config) Ready() bool {
	return c.APIToken != "" && c.GatewayBaseURL != ""
}

// IsProviderEnabled reports whether name is in the enabled set.
func (c *Config) IsProviderEnabled(name string) bool {
	for _, p := range c.EnabledProviderNames {
		if p == name {
			return true
		}
	}
	return false
}
