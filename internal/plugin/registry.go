// Package plugin loads named bundles of handlers onto the event bus. A
// plugin registers everything under its own name so unloading it is a
// single ReleaseRelated call.
package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dalnet/neubot/internal/config"
	"github.com/dalnet/neubot/internal/event"
	"github.com/dalnet/neubot/internal/storage"
)

// Plugin is a loadable feature.
type Plugin interface {
	// Register installs handlers on bus using the plugin name as owner.
	Register(bus *event.Bus, cfg *config.Config, store *storage.Store) error
}

// Cleaner is implemented by plugins holding resources beyond the bus.
type Cleaner interface {
	Cleanup() error
}

// Factory builds a fresh plugin instance for each load.
type Factory func() Plugin

var (
	ErrUnknown       = errors.New("no such plugin")
	ErrAlreadyLoaded = errors.New("plugin already loaded")
	ErrNotLoaded     = errors.New("plugin not loaded")
)

// Registry tracks available and loaded plugins.
type Registry struct {
	bus    *event.Bus
	cfg    *config.Config
	driver storage.Driver
	log    *zap.Logger

	mu        sync.Mutex
	factories map[string]Factory
	loaded    map[string]Plugin
}

// NewRegistry creates a registry. driver may be nil, in which case plugins
// get an in-memory store.
func NewRegistry(bus *event.Bus, cfg *config.Config, driver storage.Driver, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if driver == nil {
		driver = storage.NewMemoryDriver()
	}
	return &Registry{
		bus:       bus,
		cfg:       cfg,
		driver:    driver,
		log:       log,
		factories: make(map[string]Factory),
		loaded:    make(map[string]Plugin),
	}
}

// Provide makes a plugin available under name.
func (r *Registry) Provide(name string, f Factory) {
	r.mu.Lock()
	r.factories[name] = f
	r.mu.Unlock()
}

// Load builds and registers a plugin. A failing Register leaves nothing
// behind on the bus.
func (r *Registry) Load(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.factories[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	if _, ok := r.loaded[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, name)
	}

	p := f()
	if err := p.Register(r.bus, r.cfg, storage.Bucket(r.driver, name)); err != nil {
		r.bus.ReleaseRelated(name)
		return fmt.Errorf("failed to load plugin %s: %w", name, err)
	}
	r.loaded[name] = p
	r.log.Info("plugin loaded", zap.String("plugin", name))
	return nil
}

// Unload releases everything a plugin registered.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unloadLocked(name)
}

func (r *Registry) unloadLocked(name string) error {
	p, ok := r.loaded[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	delete(r.loaded, name)
	r.bus.ReleaseRelated(name)

	if c, ok := p.(Cleaner); ok {
		if err := c.Cleanup(); err != nil {
			r.log.Warn("plugin cleanup failed", zap.String("plugin", name), zap.Error(err))
		}
	}
	r.log.Info("plugin unloaded", zap.String("plugin", name))
	return nil
}

// Reload unloads and loads a plugin again.
func (r *Registry) Reload(name string) error {
	if err := r.Unload(name); err != nil {
		return err
	}
	return r.Load(name)
}

// UnloadAll unloads every loaded plugin.
func (r *Registry) UnloadAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.loaded {
		r.unloadLocked(name)
	}
}

// Loaded lists loaded plugins, sorted.
func (r *Registry) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.loaded))
	for name := range r.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available lists every provided plugin, sorted.
func (r *Registry) Available() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
