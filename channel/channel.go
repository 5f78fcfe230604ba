// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package channel resolves message channel names to channel instances held
// in a service container.
package channel

import (
	"errors"
	"fmt"
	"sync"
)

// Channel is a message channel. The resolver only passes channels around.
type Channel interface {
	Name() string
}

// Container holds services by id.
type Container interface {
	Get(id string) (any, bool)
	Has(id string) bool
}

// ErrChannelNotFound is returned when no channel is registered under a name.
var ErrChannelNotFound = errors.New("channel not found")

// Reference returns the container id of the channel called name.
func Reference(name string) string {
	return "channel:" + name
}

// Resolver looks channels up in a container.
type Resolver struct {
	container Container
}

func NewResolver(container Container) *Resolver {
	return &Resolver{container: container}
}

// Resolve returns nameOrChannel itself if it is a Channel and the channel
// registered under its name if it is a string.
func (r *Resolver) Resolve(nameOrChannel any) (Channel, error) {
	switch v := nameOrChannel.(type) {
	case Channel:
		return v, nil
	case string:
		service, ok := r.container.Get(Reference(v))
		if !ok {
			return nil, fmt.Errorf("cannot resolve channel %q: %w", v, ErrChannelNotFound)
		}
		ch, ok := service.(Channel)
		if !ok {
			return nil, fmt.Errorf("cannot resolve channel %q: service is %T, not a channel", v, service)
		}
		return ch, nil
	}
	return nil, fmt.Errorf("cannot resolve channel from %T", nameOrChannel)
}

// HasChannelWithName reports whether a channel is registered under name.
func (r *Resolver) HasChannelWithName(name string) bool {
	return r.container.Has(Reference(name))
}

// MapContainer is an in-memory Container safe for concurrent use.
type MapContainer struct {
	mutex    sync.RWMutex
	services map[string]any
}

func NewMapContainer() *MapContainer {
	return &MapContainer{services: map[string]any{}}
}

// Set registers service under id, replacing any previous service.
func (c *MapContainer) Set(id string, service any) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.services[id] = service
}

// SetChannel registers ch under the reference of its name.
func (c *MapContainer) SetChannel(ch Channel) {
	c.Set(Reference(ch.Name()), ch)
}

func (c *MapContainer) Get(id string) (any, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	s, ok := c.services[id]
	return s, ok
}

func (c *MapContainer) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}
