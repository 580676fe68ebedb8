package domain

import (
	"context"
	"fmt"
	"sync"
)

// TaskFunc executes one job and returns its result payload.
type TaskFunc func(ctx context.Context, job *JobRecord) (map[string]any, error)

// Registry maps task names to their executors. Packages owning a task
// register it during startup.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]TaskFunc
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]TaskFunc)}
}

func (r *Registry) Register(name string, fn TaskFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("register task: %w", ErrUnknownTask)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[name]; exists {
		return fmt.Errorf("register task %q: already registered", name)
	}
	r.tasks[name] = fn
	return nil
}

func (r *Registry) Resolve(name string) (TaskFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tasks[name]
	return fn, ok
}

// Names returns the registered task names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	return names
}
