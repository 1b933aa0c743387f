package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"perpscan/config"
	"perpscan/internal/models"
)

// Adapter is implemented once per supported exchange. FetchMarkets returns
// one snapshot per perpetual market with exchange-native fields mapped onto
// the common schema and symbols already normalized. A failed or malformed
// fetch returns a *FetchError, never a silently empty slice.
type Adapter interface {
	Name() string
	FetchMarkets(ctx context.Context) ([]models.MarketSnapshot, error)
	NormalizeSymbol(raw string) string
}

// FetchError marks a per-exchange fetch failure. The orchestrator treats it
// as recoverable: the cycle continues without that exchange.
type FetchError struct {
	Exchange string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Exchange, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Factory builds an adapter from its configuration entry.
type Factory func(cfg config.ExchangeConfig) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register binds a configuration type tag to an adapter constructor. Adapters
// register themselves from init so that adding an exchange only touches its
// own file.
func Register(typeTag string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(typeTag)] = factory
}

// New builds the adapter named by cfg.Type.
func New(cfg config.ExchangeConfig) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[strings.ToLower(cfg.Type)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown exchange type '%s' (registered: %s)", cfg.Type, strings.Join(RegisteredTypes(), ", "))
	}
	return factory(cfg)
}

// RegisteredTypes returns the sorted type tags known to the registry.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
