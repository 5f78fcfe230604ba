// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package connection

import (
	"context"
	"fmt"
	"reflect"

	"github.com/charmbracelet/log"

	"github.com/sktrendla/ecotone-dev/internal/metrics"
)

// Manager wraps a connection factory and hands out contexts on a connection
// that was reopened just before. Manager is itself a Factory.
//
// Reconnect mutates the wrapped factory in place without locking. A factory
// must not be shared by goroutines that use it concurrently unless the
// factory synchronises itself.
type Manager struct {
	factory Factory
	logger  *log.Logger
	lazy    bool
}

var (
	_ Factory               = (*Manager)(nil)
	_ RawConnectionProvider = (*Manager)(nil)
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for reconnects and probes.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithLazyReconnect makes CreateContext probe the created context and only
// reconnect when it is disconnected, instead of reconnecting before every
// context creation.
func WithLazyReconnect() Option {
	return func(m *Manager) {
		m.lazy = true
	}
}

// NewManager returns a Manager wrapping factory.
func NewManager(factory Factory, opts ...Option) *Manager {
	m := &Manager{factory: factory, logger: log.Default()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("factory", m.ConnectionInstanceID())
	return m
}

// Factory returns the wrapped factory.
func (m *Manager) Factory() Factory {
	return m.factory
}

// CreateContext reconnects the wrapped factory and then asks it for a
// context.
func (m *Manager) CreateContext(ctx context.Context) (Context, error) {
	if m.lazy {
		return m.createContextLazily(ctx)
	}
	if err := m.Reconnect(ctx); err != nil {
		return nil, fmt.Errorf("cannot create context: %w", err)
	}
	c, err := m.factory.CreateContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot create context: %w", err)
	}
	return c, nil
}

func (m *Manager) createContextLazily(ctx context.Context) (Context, error) {
	c, err := m.factory.CreateContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot create context: %w", err)
	}
	if !m.IsDisconnected(ctx, c) {
		return c, nil
	}
	m.logger.Debug("context is disconnected, reconnecting")
	if err := m.Reconnect(ctx); err != nil {
		return nil, fmt.Errorf("cannot create context: %w", err)
	}
	c, err = m.factory.CreateContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot create context: %w", err)
	}
	return c, nil
}

// IsDisconnected reports whether the connection of c is known to be dead.
// A nil context has nothing to check and is not disconnected.
func (m *Manager) IsDisconnected(ctx context.Context, c Context) bool {
	return m.Liveness(ctx, c) == Disconnected
}

// Liveness classifies the connection of c. A connection that reports itself
// as not connected, or that fails a ping when it supports one, is
// Disconnected. Unknown is returned when there is no connection to check.
func (m *Manager) Liveness(ctx context.Context, c Context) (state LivenessState) {
	defer func() {
		metrics.Probes.WithLabelValues(state.String()).Inc()
	}()

	if c == nil {
		return Unknown
	}
	raw, err := c.RawConn()
	if err != nil {
		m.logger.Warn("cannot get raw connection of context", "err", err)
		return Unknown
	}
	if isNilConn(raw) {
		return Unknown
	}
	if !raw.IsConnected() {
		return Disconnected
	}
	if p, ok := raw.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			m.logger.Debug("ping failed", "err", err)
			return Disconnected
		}
	}
	return Connected
}

// Reconnect closes and reopens the raw connection of the wrapped factory. It
// does nothing if the factory holds no connection.
func (m *Manager) Reconnect(ctx context.Context) (err error) {
	raw, err := m.Connection(ctx)
	if err != nil {
		metrics.Reconnects.WithLabelValues("error").Inc()
		return fmt.Errorf("cannot reconnect: %w", err)
	}
	if isNilConn(raw) {
		metrics.Reconnects.WithLabelValues("noop").Inc()
		m.logger.Debug("no connection to reconnect")
		return nil
	}
	defer func() {
		if err != nil {
			metrics.Reconnects.WithLabelValues("error").Inc()
			m.logger.Error("reconnect failed", "err", err)
			err = fmt.Errorf("cannot reconnect: %w", err)
		}
	}()
	if err := raw.Close(); err != nil {
		return err
	}
	if err := raw.Connect(ctx); err != nil {
		return err
	}
	metrics.Reconnects.WithLabelValues("ok").Inc()
	m.logger.Debug("reconnected")
	return nil
}

// Connection returns the raw connection of the wrapped factory.
func (m *Manager) Connection(ctx context.Context) (RawConn, error) {
	return WrappedConnection(ctx, m.factory)
}

// RawConnection returns the raw connection of the wrapped factory, so that
// a Manager can itself be wrapped.
func (m *Manager) RawConnection(ctx context.Context) (RawConn, error) {
	return m.Connection(ctx)
}

// ConnectionInstanceID identifies the wrapped factory by its type and
// address. Managers wrapping the same factory return the same ID.
func (m *Manager) ConnectionInstanceID() string {
	return InstanceID(m.factory)
}

// InstanceID returns "<type>#<address>" for pointer-like values. Values
// without an address share the ID of their type.
func InstanceID(v any) string {
	var addr uintptr
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Slice:
		addr = rv.Pointer()
	}
	return fmt.Sprintf("%T#%x", v, addr)
}

// isNilConn reports whether raw is nil or a typed nil pointer.
func isNilConn(raw RawConn) bool {
	if raw == nil {
		return true
	}
	rv := reflect.ValueOf(raw)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
