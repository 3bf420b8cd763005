package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/picklr-io/splunk-stack/pkg/plugin"
	"github.com/picklr-io/splunk-stack/providers/aws"
	"github.com/picklr-io/splunk-stack/providers/null"
)

// Registry manages the lifecycle of providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]plugin.Provider
	configs   map[string]map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]plugin.Provider),
		configs:   make(map[string]map[string]string),
	}
}

// SetConfig records the configuration handed to a provider when it is loaded.
func (r *Registry) SetConfig(name string, cfg map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[name] = cfg
}

// Register installs an already constructed provider under name.
func (r *Registry) Register(name string, p plugin.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// LoadProvider constructs and configures a built-in provider. Loading an
// already registered provider is a no-op.
func (r *Registry) LoadProvider(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	var p plugin.Provider
	switch name {
	case "null":
		p = null.New()
	case "aws":
		p = aws.New()
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	if err := p.Configure(ctx, r.configs[name]); err != nil {
		return fmt.Errorf("failed to configure provider %s: %w", name, err)
	}

	r.providers[name] = p
	return nil
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (plugin.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}
