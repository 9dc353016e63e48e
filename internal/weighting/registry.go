package weighting

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xsentiment/sentiment-bot/internal/models"
)

// Registry holds published weighting configs keyed by version. A version cannot be
// republished with different contents.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]models.WeightingConfig
}

// NewRegistry creates a registry pre-populated with DefaultConfig
func NewRegistry() *Registry {
	r := &Registry{configs: make(map[string]models.WeightingConfig)}
	def := DefaultConfig()
	r.configs[def.Version] = def
	return r
}

// Publish validates and registers cfg
func (r *Registry) Publish(cfg models.WeightingConfig) error {
	if _, err := NewCalculator(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.configs[cfg.Version]; ok {
		if existing == cfg {
			return nil
		}
		return fmt.Errorf("%w: version %s is already published", ErrInvalidConfig, cfg.Version)
	}
	r.configs[cfg.Version] = cfg
	return nil
}

// Get returns the config published under version
func (r *Registry) Get(version string) (models.WeightingConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[version]
	return cfg, ok
}

// Calculator builds a calculator for the given version
func (r *Registry) Calculator(version string) (*Calculator, error) {
	cfg, ok := r.Get(version)
	if !ok {
		return nil, fmt.Errorf("%w: version %q is not published", ErrInvalidConfig, version)
	}
	return NewCalculator(cfg)
}

// Versions lists published versions in sorted order
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]string, 0, len(r.configs))
	for v := range r.configs {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}
