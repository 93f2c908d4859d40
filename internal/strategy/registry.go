package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/newthinker/tradesim/internal/core"
	"go.uber.org/zap"
)

// Factory builds a fresh signal source.
type Factory func() SignalSource

// Registry maps strategy names to factories. Sources are registered
// explicitly at startup and built by name from configuration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger ...*zap.Logger) *Registry {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    l,
	}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named source and applies cfg when the source is
// Configurable.
func (r *Registry) New(name string, cfg Config) (SignalSource, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, core.Errorf(core.ErrUnknownStrategy, "%q (registered: %v)", name, r.Names())
	}

	source := factory()
	if c, ok := source.(Configurable); ok {
		if err := c.Init(cfg); err != nil {
			return nil, fmt.Errorf("init strategy %s: %w", name, err)
		}
	}

	r.logger.Debug("strategy built",
		zap.String("strategy", name),
		zap.Int("lookback", source.Lookback()),
	)
	return source, nil
}
