// Package pg implements the durable event log on PostgreSQL via pgx: an
// append-only events table ordered by (occurredAt, txSeq) plus a temporal
// facts table mirroring the Cassandra backend's contract. txSeq is a
// database-assigned sequence that breaks cross-writer occurredAt ties.
package pg

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	// DSN is the connection string; the database is the shard group's
	// storage instance.
	DSN      string
	MaxConns int32
}

type Connection struct {
	Pool *pgxpool.Pool
	Config
}

var connection *Connection
var mux sync.Mutex

// GetConnection will create(& return) a new pooled Connection if there is
// not one yet, otherwise, will just return existing singleton connection.
// The event tables are created if missing.
func GetConnection(ctx context.Context, config Config) (*Connection, error) {
	if connection != nil {
		return connection, nil
	}
	mux.Lock()
	defer mux.Unlock()

	if connection != nil {
		return connection, nil
	}
	pc, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, err
	}
	if config.MaxConns > 0 {
		pc.MaxConns = config.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	if err := createSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	connection = &Connection{Pool: pool, Config: config}
	return connection, nil
}

func createSchema(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id UUID PRIMARY KEY,
			occurred_at TEXT NOT NULL,
			tx_seq BIGSERIAL NOT NULL,
			action TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload JSONB NOT NULL,
			hash_code INT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS eventfacts (
			fact_key TEXT NOT NULL,
			tx_from TEXT NOT NULL,
			tx_to TEXT NOT NULL,
			event_id UUID NOT NULL,
			PRIMARY KEY (fact_key, tx_from)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS events_order_idx ON events (occurred_at, tx_seq);`,
	}
	for _, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CloseConnection closes the singleton pool if open.
func CloseConnection() {
	if connection != nil {
		mux.Lock()
		defer mux.Unlock()
		if connection == nil {
			return
		}
		connection.Pool.Close()
		connection = nil
	}
}
