// Package instance manages shard group storage instances and the shard
// configuration, the system's only durable state outside the event logs.
package instance

import (
	"context"
	"sync"

	log "log/slog"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/shard"
)

// Backend is the storage-engine-specific provisioning surface: a Cassandra
// backend creates keyspaces, a PostgreSQL backend creates databases. The
// configuration document lives in an admin area of the same engine.
type Backend interface {
	// CreateInstance provisions the named storage instance; creating an
	// existing instance is a no-op.
	CreateInstance(ctx context.Context, name string) error
	// DropInstance removes the named storage instance and its data.
	DropInstance(ctx context.Context, name string) error
	// RenameInstance renames an instance in place. Engines without a rename
	// primitive return ArgumentError.
	RenameInstance(ctx context.Context, oldName, newName string) error
	// SaveConfiguration durably replaces the shard configuration.
	SaveConfiguration(ctx context.Context, cfg *shard.Configuration) error
	// LoadConfiguration reads the current shard configuration; a nil
	// configuration with nil error means none was ever saved.
	LoadConfiguration(ctx context.Context) (*shard.Configuration, error)
}

// Manager fronts a Backend with idempotence by instance name and generation
// fencing on configuration writes.
type Manager struct {
	backend Backend

	mu      sync.Mutex
	created map[string]struct{}
	config  *shard.Configuration
}

// New builds a manager over the backend.
func New(backend Backend) *Manager {
	return &Manager{backend: backend, created: map[string]struct{}{}}
}

// EnsureInstance provisions the named instance once; repeated calls with the
// same name are no-ops.
func (m *Manager) EnsureInstance(ctx context.Context, name string) error {
	if name == "" {
		return accessmgr.NewError(accessmgr.ArgumentNilError, "instance name is empty")
	}
	m.mu.Lock()
	_, done := m.created[name]
	m.mu.Unlock()
	if done {
		return nil
	}
	if err := m.backend.CreateInstance(ctx, name); err != nil {
		return err
	}
	m.mu.Lock()
	m.created[name] = struct{}{}
	m.mu.Unlock()
	log.Info("storage instance ready", "name", name)
	return nil
}

// DropInstance removes the named instance.
func (m *Manager) DropInstance(ctx context.Context, name string) error {
	if err := m.backend.DropInstance(ctx, name); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.created, name)
	m.mu.Unlock()
	log.Info("storage instance dropped", "name", name)
	return nil
}

// RenameInstance renames an instance; idempotent when the rename already
// happened (old gone, new tracked).
func (m *Manager) RenameInstance(ctx context.Context, oldName, newName string) error {
	if oldName == "" || newName == "" {
		return accessmgr.NewError(accessmgr.ArgumentNilError, "instance name is empty")
	}
	m.mu.Lock()
	_, oldKnown := m.created[oldName]
	_, newKnown := m.created[newName]
	m.mu.Unlock()
	if !oldKnown && newKnown {
		return nil
	}
	if err := m.backend.RenameInstance(ctx, oldName, newName); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.created, oldName)
	m.created[newName] = struct{}{}
	m.mu.Unlock()
	log.Info("storage instance renamed", "from", oldName, "to", newName)
	return nil
}

// Configuration returns the shard configuration, loading it from the backend
// on first use. A store with no saved configuration yields an empty one at
// generation zero.
func (m *Manager) Configuration(ctx context.Context) (*shard.Configuration, error) {
	m.mu.Lock()
	cached := m.config
	m.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	cfg, err := m.backend.LoadConfiguration(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = shard.NewConfiguration()
	}
	m.mu.Lock()
	if m.config == nil {
		m.config = cfg
	}
	cfg = m.config
	m.mu.Unlock()
	return cfg, nil
}

// Publish validates and durably installs a new configuration generation.
// Stale generations are rejected so a delayed orchestration step cannot roll
// the routing table back. Satisfies orchestration.ConfigPublisher.
func (m *Manager) Publish(ctx context.Context, cfg *shard.Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	current, err := m.Configuration(ctx)
	if err != nil {
		return err
	}
	if cfg.Generation <= current.Generation {
		return accessmgr.NewError(accessmgr.ArgumentOutOfRangeError, "stale configuration generation")
	}
	if err := m.backend.SaveConfiguration(ctx, cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	log.Info("shard configuration published", "generation", cfg.Generation)
	return nil
}

// MemoryBackend keeps instances and configuration in process, for tests and
// single-node development.
type MemoryBackend struct {
	mu        sync.Mutex
	instances map[string]struct{}
	config    *shard.Configuration

	// CreateCalls counts CreateInstance invocations, including no-ops.
	CreateCalls int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{instances: map[string]struct{}{}}
}

func (b *MemoryBackend) CreateInstance(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CreateCalls++
	b.instances[name] = struct{}{}
	return nil
}

func (b *MemoryBackend) DropInstance(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.instances, name)
	return nil
}

func (b *MemoryBackend) RenameInstance(ctx context.Context, oldName, newName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.instances[oldName]; !ok {
		return accessmgr.NewError(accessmgr.NotFoundError, "no such instance", oldName)
	}
	delete(b.instances, oldName)
	b.instances[newName] = struct{}{}
	return nil
}

func (b *MemoryBackend) SaveConfiguration(ctx context.Context, cfg *shard.Configuration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = cfg
	return nil
}

func (b *MemoryBackend) LoadConfiguration(ctx context.Context) (*shard.Configuration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config, nil
}

// Has reports whether the named instance exists.
func (b *MemoryBackend) Has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.instances[name]
	return ok
}
