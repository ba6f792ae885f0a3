package adapter

import (
	"fmt"
	"strings"
	"sync"

	"github.com/creepdata/creep-engine/pkg/config"
)

// Constructor builds an adapter from a merged config map.
type Constructor func(config map[string]string) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{
		"mock": func(cfg map[string]string) (Adapter, error) {
			return NewMockAdapter(cfg), nil
		},
	}
)

// Register adds a named adapter constructor. Later registrations replace
// earlier ones.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry[strings.ToLower(name)] = ctor
}

// Create instantiates a registered adapter. Environment variables prefixed
// with ADAPTER_<NAME>_ seed the config map; explicit overrides win.
func Create(name string, overrides map[string]string) (Adapter, error) {
	registryMu.RLock()
	ctor, ok := registry[strings.ToLower(name)]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("adapter %q is not registered", name)
	}

	cfg := config.PrefixedEnv(fmt.Sprintf("ADAPTER_%s_", strings.ToUpper(name)))
	for k, v := range overrides {
		cfg[k] = v
	}

	return ctor(cfg)
}
