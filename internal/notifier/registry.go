package notifier

import (
	"context"
	"sync"

	"github.com/newthinker/tradesim/internal/core"
)

// Registry holds the enabled channels in registration order.
type Registry struct {
	mu       sync.RWMutex
	channels []Notifier
	byName   map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]struct{})}
}

// Register adds n; a second channel with the same name is a config error.
func (r *Registry) Register(n Notifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byName[n.Name()]; dup {
		return core.Errorf(core.ErrConfigInvalid, "notifier %s registered twice", n.Name())
	}
	r.byName[n.Name()] = struct{}{}
	r.channels = append(r.channels, n)
	return nil
}

// Names lists the registered channels in delivery order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.channels))
	for i, n := range r.channels {
		names[i] = n.Name()
	}
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// NotifyAll delivers summary to each channel in turn and returns failures
// keyed by channel name. One failing channel does not stop the rest; once
// ctx is done the remaining channels are reported with ctx's error.
func (r *Registry) NotifyAll(ctx context.Context, summary Summary) map[string]error {
	r.mu.RLock()
	channels := append([]Notifier(nil), r.channels...)
	r.mu.RUnlock()

	failed := make(map[string]error)
	for _, n := range channels {
		err := ctx.Err()
		if err == nil {
			err = n.Send(ctx, summary)
		}
		if err != nil {
			failed[n.Name()] = err
		}
	}
	return failed
}
