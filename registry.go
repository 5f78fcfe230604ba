// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dbal

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sktrendla/ecotone-dev/connection"
)

// Registry holds compiled write methods by declaration name.
type Registry struct {
	opts    []Option
	options *options

	mutex sync.RWMutex
	plans map[string]*Plan
}

// NewRegistry returns an empty registry. The options are applied to every
// declaration compiled by the registry.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:    opts,
		options: newOptions(opts),
		plans:   map[string]*Plan{},
	}
}

// Register compiles decl and stores the plan under its name.
func (r *Registry) Register(decl Declaration) (*Plan, error) {
	if decl.Name == "" {
		return nil, fmt.Errorf("cannot register declaration: name is empty")
	}
	p, err := Compile(decl, r.opts...)
	if err != nil {
		return nil, err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.plans[decl.Name]; ok {
		return nil, fmt.Errorf("cannot register %s: already registered", decl.Name)
	}
	r.plans[decl.Name] = p
	r.options.logger.Debug("registered write method", "method", decl.Name, "returns", decl.Returns)
	return p, nil
}

// RegisterFile registers every declaration of a YAML declaration file.
// Nothing is registered if one of them fails.
func (r *Registry) RegisterFile(path string) (names []string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot register %s: %w", path, err)
		}
	}()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	decls, err := LoadDeclarations(f)
	if err != nil {
		return nil, err
	}

	plans := make([]*Plan, len(decls))
	for i, decl := range decls {
		if plans[i], err = Compile(decl, r.opts...); err != nil {
			return nil, err
		}
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, p := range plans {
		if _, ok := r.plans[p.Name()]; ok {
			return nil, fmt.Errorf("%s is already registered", p.Name())
		}
	}
	for _, p := range plans {
		r.plans[p.Name()] = p
		names = append(names, p.Name())
	}
	return names, nil
}

// Plan returns the plan registered under name.
func (r *Registry) Plan(name string) (*Plan, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	p, ok := r.plans[name]
	return p, ok
}

// Names returns the names of the registered declarations in lexical order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.plans))
	for name := range r.plans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke executes the write method registered under name.
func (r *Registry) Invoke(ctx context.Context, f connection.Factory, name string, args ...any) (Outcome, error) {
	p, ok := r.Plan(name)
	if !ok {
		return Outcome{}, fmt.Errorf("cannot invoke %s: unknown write method", name)
	}
	return p.Execute(ctx, f, args...)
}
