// Package shuffle hosts the ordering algorithms consumed by shuffle jobs.
//
// The engine treats algorithms as black boxes looked up by name; anything
// beyond "basic" plugs in through Register.
package shuffle

import (
	"fmt"
	"math/rand"
	"sync"
)

// Func reorders track URIs. Implementations must not mutate the input slice.
type Func func(uris []string, params map[string]any) ([]string, error)

type Registry struct {
	mu    sync.RWMutex
	algos map[string]Func
}

func NewRegistry() *Registry {
	r := &Registry{algos: map[string]Func{}}
	r.Register("basic", Basic)
	return r
}

func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.algos[name] = fn
	r.mu.Unlock()
}

// Get returns the named algorithm, falling back to "basic" for an unknown or
// empty name so a schedule with a stale algorithm name still runs.
func (r *Registry) Get(name string) Func {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.algos[name]; ok {
		return fn
	}
	return r.algos["basic"]
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.algos))
	for n := range r.algos {
		names = append(names, n)
	}
	return names
}

// Basic is a uniform Fisher-Yates shuffle.
func Basic(uris []string, _ map[string]any) ([]string, error) {
	if len(uris) == 0 {
		return nil, fmt.Errorf("shuffle: empty track list")
	}
	out := make([]string, len(uris))
	copy(out, uris)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}
