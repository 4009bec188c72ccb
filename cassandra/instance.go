package cassandra

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/gocql/gocql"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/shard"
)

// adminKeyspace holds the shard configuration document.
const adminKeyspace = "accessmgr_admin"

var instanceNameRx = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)

// InstanceBackend provisions one keyspace per shard group and keeps the
// shard configuration in the admin keyspace. Implements instance.Backend.
type InstanceBackend struct {
	conn *Connection
}

// NewInstanceBackend prepares the admin keyspace and configuration table.
func NewInstanceBackend(ctx context.Context, conn *Connection) (*InstanceBackend, error) {
	ddl := []string{
		fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s;", adminKeyspace, conn.Config.ReplicationClause),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.shard_configuration (id int PRIMARY KEY, generation bigint, groups text);", adminKeyspace),
	}
	for _, stmt := range ddl {
		if err := conn.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return nil, err
		}
	}
	return &InstanceBackend{conn: conn}, nil
}

func (b *InstanceBackend) CreateInstance(ctx context.Context, name string) error {
	if !instanceNameRx.MatchString(name) {
		return accessmgr.NewError(accessmgr.ArgumentError, "invalid instance name", name)
	}
	if err := b.conn.Session.Query(
		fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s;", name, b.conn.Config.ReplicationClause)).
		WithContext(ctx).Exec(); err != nil {
		return err
	}
	return createSchema(b.conn.Session, name, b.conn.Config.ReplicationClause)
}

func (b *InstanceBackend) DropInstance(ctx context.Context, name string) error {
	if !instanceNameRx.MatchString(name) {
		return accessmgr.NewError(accessmgr.ArgumentError, "invalid instance name", name)
	}
	return b.conn.Session.Query(
		fmt.Sprintf("DROP KEYSPACE IF EXISTS %s;", name)).WithContext(ctx).Exec()
}

// RenameInstance is unsupported: Cassandra has no keyspace rename primitive.
func (b *InstanceBackend) RenameInstance(ctx context.Context, oldName, newName string) error {
	return accessmgr.NewError(accessmgr.ArgumentError, "keyspace rename is not supported", oldName, newName)
}

func (b *InstanceBackend) SaveConfiguration(ctx context.Context, cfg *shard.Configuration) error {
	groups, err := json.Marshal(cfg.Groups)
	if err != nil {
		return err
	}
	// Lightweight transactions fence concurrent orchestrators on generation.
	applied, err := b.conn.Session.Query(
		fmt.Sprintf("INSERT INTO %s.shard_configuration (id, generation, groups) VALUES (1, ?, ?) IF NOT EXISTS;", adminKeyspace),
		cfg.Generation, string(groups)).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	applied, err = b.conn.Session.Query(
		fmt.Sprintf("UPDATE %s.shard_configuration SET generation = ?, groups = ? WHERE id = 1 IF generation < ?;", adminKeyspace),
		cfg.Generation, string(groups), cfg.Generation).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return err
	}
	if !applied {
		return accessmgr.NewError(accessmgr.ArgumentOutOfRangeError, "stale configuration generation")
	}
	return nil
}

func (b *InstanceBackend) LoadConfiguration(ctx context.Context) (*shard.Configuration, error) {
	var generation int64
	var groups string
	err := b.conn.Session.Query(
		fmt.Sprintf("SELECT generation, groups FROM %s.shard_configuration WHERE id = 1;", adminKeyspace)).
		WithContext(ctx).Scan(&generation, &groups)
	if err == gocql.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg := &shard.Configuration{Generation: generation}
	if err := json.Unmarshal([]byte(groups), &cfg.Groups); err != nil {
		return nil, err
	}
	return cfg, nil
}
