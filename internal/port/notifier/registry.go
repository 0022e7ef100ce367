package notifier

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Channel names with fixed meaning. ws and nats wrap server-owned
// connections and are built in-process, so they cannot be registered.
const (
	ChannelWS        = "ws"
	ChannelBus       = "nats"
	ChannelAuthority = "authority"
)

// ErrUnknownChannel is returned by New for a name nothing registered.
var ErrUnknownChannel = errors.New("notifier: unknown channel")

// Factory builds a channel from its settings. It returns ErrNotConfigured
// when a required setting is missing.
type Factory func(settings map[string]string) (Notifier, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a channel factory available by name. Adapters call it from
// init; registering a name twice or an in-process name panics.
func Register(name string, factory Factory) {
	if InProcess(name) {
		panic(fmt.Sprintf("notifier: %q is built in-process and cannot be registered", name))
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("notifier: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// InProcess reports whether name is a server-owned channel.
func InProcess(name string) bool {
	return name == ChannelWS || name == ChannelBus
}

// New builds the named channel from settings.
func New(name string, settings map[string]string) (Notifier, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return factory(settings)
}

// Available returns the registered channel names, sorted.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
