package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"tenderpipe/internal/discovery"
	"tenderpipe/internal/logging"
)

// TransformFunc computes the result of a native step. Keys meant for later
// steps must go through env.Scope.Publish.
type TransformFunc func(ctx context.Context, env *TransformEnv) (any, error)

// Transform is a named, statically registered native step.
type Transform struct {
	Name        string
	Description string
	Fn          TransformFunc
}

// TransformEnv is what a transform sees: its step, the step scope and the
// step's `with` arguments rendered against that scope.
type TransformEnv struct {
	Step  StepSpec
	Scope *Scope
	Args  map[string]any
}

// String returns a string argument or def.
func (e *TransformEnv) String(key, def string) string {
	v, ok := e.Args[key]
	if !ok || v == nil {
		return def
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return def
	}
	return s
}

// Int returns an integer argument or def.
func (e *TransformEnv) Int(key string, def int) int {
	switch v := e.Args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Map returns a mapping argument, or nil.
func (e *TransformEnv) Map(key string) map[string]any {
	m, _ := e.Args[key].(map[string]any)
	return m
}

// Document returns the text content of the input named by the "input"
// argument (default def). File inputs contribute their content field.
func (e *TransformEnv) Document(def string) (string, error) {
	name := e.String("input", def)
	v, ok := e.Scope.Inputs()[name]
	if !ok {
		return "", fmt.Errorf("input %q not found", name)
	}
	switch d := v.(type) {
	case map[string]any:
		s, _ := d["content"].(string)
		return s, nil
	case string:
		return d, nil
	}
	return fmt.Sprint(v), nil
}

// Database returns the database named by the "database" argument. With a
// single configured database the argument may be omitted.
func (e *TransformEnv) Database() (*discovery.Database, error) {
	dbs, _ := e.Scope.values[KeyDatabases].(map[string]any)
	name := e.String("database", "")
	if name == "" {
		if len(dbs) != 1 {
			return nil, fmt.Errorf("with.database is required when %d databases are configured", len(dbs))
		}
		for k := range dbs {
			name = k
		}
	}
	db, ok := dbs[name].(*discovery.Database)
	if !ok {
		return nil, fmt.Errorf("database %q is not configured", name)
	}
	return db, nil
}

// Registry holds the transforms native steps may run. It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transforms map[string]Transform
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{transforms: make(map[string]Transform)}
}

// Register adds a transform. Names must be unique.
func (r *Registry) Register(name, description string, fn TransformFunc) error {
	if name == "" {
		return errors.New("transform name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("transform %s has no function", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transforms[name]; exists {
		return fmt.Errorf("%w: %s", ErrTransformAlreadyRegistered, name)
	}
	r.transforms[name] = Transform{Name: name, Description: description, Fn: fn}
	logging.PipelineDebug("registered transform: %s", name)
	return nil
}

// MustRegister registers a transform and panics on error.
// Use this for static registration at init time.
func (r *Registry) MustRegister(name, description string, fn TransformFunc) {
	if err := r.Register(name, description, fn); err != nil {
		panic(fmt.Sprintf("failed to register transform %s: %v", name, err))
	}
}

// Get returns a transform by name.
func (r *Registry) Get(name string) (Transform, bool) {
	if r == nil {
		return Transform{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transforms[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns every transform sorted by name.
func (r *Registry) List() []Transform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Transform, 0, len(r.transforms))
	for _, t := range r.transforms {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultTransforms returns a registry holding the built-in transforms.
func DefaultTransforms() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	return r
}
