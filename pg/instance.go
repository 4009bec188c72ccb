package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/shard"
)

// instance names become database identifiers, so they are restricted.
var instanceNameRx = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// InstanceBackend provisions one PostgreSQL database per shard group and
// keeps the shard configuration in the admin database it is connected to.
// Implements instance.Backend.
type InstanceBackend struct {
	conn *Connection
}

// NewInstanceBackend prepares the configuration table on the admin
// connection.
func NewInstanceBackend(ctx context.Context, conn *Connection) (*InstanceBackend, error) {
	_, err := conn.Pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS shard_configuration (
			id INT PRIMARY KEY CHECK (id = 1),
			generation BIGINT NOT NULL,
			groups JSONB NOT NULL
		);`)
	if err != nil {
		return nil, err
	}
	return &InstanceBackend{conn: conn}, nil
}

func (b *InstanceBackend) CreateInstance(ctx context.Context, name string) error {
	if !instanceNameRx.MatchString(name) {
		return accessmgr.NewError(accessmgr.ArgumentError, "invalid instance name", name)
	}
	var one int
	err := b.conn.Pool.QueryRow(ctx,
		`SELECT 1 FROM pg_database WHERE datname = $1`, name).Scan(&one)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	// CREATE DATABASE cannot be parameterized; the name is validated above.
	_, err = b.conn.Pool.Exec(ctx, fmt.Sprintf(`CREATE DATABASE %s`, name))
	return err
}

func (b *InstanceBackend) DropInstance(ctx context.Context, name string) error {
	if !instanceNameRx.MatchString(name) {
		return accessmgr.NewError(accessmgr.ArgumentError, "invalid instance name", name)
	}
	_, err := b.conn.Pool.Exec(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, name))
	return err
}

// RenameInstance renames the database. Fails while sessions are connected to
// it; callers drain the shard group first.
func (b *InstanceBackend) RenameInstance(ctx context.Context, oldName, newName string) error {
	if !instanceNameRx.MatchString(oldName) || !instanceNameRx.MatchString(newName) {
		return accessmgr.NewError(accessmgr.ArgumentError, "invalid instance name", oldName, newName)
	}
	_, err := b.conn.Pool.Exec(ctx, fmt.Sprintf(`ALTER DATABASE %s RENAME TO %s`, oldName, newName))
	return err
}

func (b *InstanceBackend) SaveConfiguration(ctx context.Context, cfg *shard.Configuration) error {
	groups, err := json.Marshal(cfg.Groups)
	if err != nil {
		return err
	}
	// The generation fence also holds at the storage level, guarding against
	// two orchestrators racing.
	tag, err := b.conn.Pool.Exec(ctx,
		`INSERT INTO shard_configuration (id, generation, groups) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET generation = EXCLUDED.generation, groups = EXCLUDED.groups
		 WHERE shard_configuration.generation < EXCLUDED.generation`,
		cfg.Generation, groups)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return accessmgr.NewError(accessmgr.ArgumentOutOfRangeError, "stale configuration generation")
	}
	return nil
}

func (b *InstanceBackend) LoadConfiguration(ctx context.Context) (*shard.Configuration, error) {
	var generation int64
	var groups []byte
	err := b.conn.Pool.QueryRow(ctx,
		`SELECT generation, groups FROM shard_configuration WHERE id = 1`).Scan(&generation, &groups)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg := &shard.Configuration{Generation: generation}
	if err := json.Unmarshal(groups, &cfg.Groups); err != nil {
		return nil, err
	}
	return cfg, nil
}
