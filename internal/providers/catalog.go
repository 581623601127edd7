// Package providers implements the Provider Catalog + Manager (spec.md
// §4.4, component C3). The Catalog is a static name -> BridgeConfig
// mapping filtered by the operator-supplied enabled set; the Manager
// resolves a session's configured provider to a bridge client. Adapted
// from the teacher's internal/providers/types.go Provider interface,
// generalized from Chat/ChatStream to the single Run call spec.md's
// bridge contract needs.
package providers

import (
	"context"
	"time"

	"github.com/codial-ai/codial-core/internal/codialerr"
	"github.com/codial-ai/codial-core/pkg/codial"
)

// BridgeConfig is the static configuration for one provider's HTTP bridge.
type BridgeConfig struct {
	Name    string
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Provider is the capability every provider bridge client implements
// (spec.md §9 "dynamic dispatch over providers becomes a variant set
// behind a narrow capability").
type Provider interface {
	Name() string
	Run(ctx context.Context, req codial.BridgeRequest) (*codial.BridgeResponse, error)
}

// Catalog enumerates enabled providers and validates selection (spec.md
// §4.4).
type Catalog struct {
	configs map[string]BridgeConfig
	enabled map[string]bool
}

// NewCatalog builds a Catalog from the full config set, filtered to
// enabledNames.
func NewCatalog(all map[string]BridgeConfig, enabledNames []string) *Catalog {
	enabled := make(map[string]bool, len(enabledNames))
	for _, n := range enabledNames {
		enabled[n] = true
	}
	return &Catalog{configs: all, enabled: enabled}
}

// IsEnabled reports whether name is in the enabled set.
func (c *Catalog) IsEnabled(name string) bool {
	return c.enabled[name]
}

// Config returns the BridgeConfig for name, if it exists in the catalog
// (regardless of enabled status — enforcement happens at selection time).
func (c *Catalog) Config(name string) (BridgeConfig, bool) {
	cfg, ok := c.configs[name]
	return cfg, ok
}

// EnabledNames returns the enabled provider names.
func (c *Catalog) EnabledNames() []string {
	out := make([]string, 0, len(c.enabled))
	for n := range c.enabled {
		out = append(out, n)
	}
	return out
}

// Manager resolves a session's current provider to a bridge client
// (component C3). Clients are constructed once per enabled provider and
// shared (immutable after construction, per spec.md §3 ownership notes).
type Manager struct {
	catalog *Catalog
	clients map[string]Provider
}

// NewManager constructs a Manager with one client per enabled provider.
// copilotAuth supplies the Copilot token bootstrap (nil falls back to a
// static configured token for every provider).
func NewManager(catalog *Catalog, copilotAuth *CopilotAuthenticator) *Manager {
	m := &Manager{catalog: catalog, clients: make(map[string]Provider)}
	for _, name := range catalog.EnabledNames() {
		cfg, ok := catalog.Config(name)
		if !ok {
			continue
		}
		m.clients[name] = NewHTTPBridgeClient(cfg, copilotAuth)
	}
	return m
}

// Resolve returns the bridge client for name, failing with
// PROVIDER_NOT_ENABLED if it is not in the enabled set.
func (m *Manager) Resolve(traceID, name string) (Provider, *codialerr.Error) {
	if !m.catalog.IsEnabled(name) {
		return nil, codialerr.ProviderNotEnabled(traceID, name)
	}
	client, ok := m.clients[name]
	if !ok {
		return nil, codialerr.ProviderNotEnabled(traceID, name)
	}
	return client, nil
}
