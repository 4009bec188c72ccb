// Package cassandra implements the durable event log on Cassandra: one
// keyspace per shard group, an ordered log table clustered by
// (occurredAt, txSeq) and a temporal facts table tracking each fact's
// validity window. txSeq is a writer-local monotonic sequence that breaks
// cross-writer occurredAt ties so concurrent writes never collide on the
// clustering key.
package cassandra

import (
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
)

type Config struct {
	ClusterHosts []string
	// Keyspace is the shard group's storage instance name.
	Keyspace          string
	Consistency       gocql.Consistency
	ConnectionTimeout time.Duration
	Authenticator     gocql.Authenticator
	// Defaults to simple strategy & replication factor of 1.
	ReplicationClause string
}

type Connection struct {
	Session *gocql.Session
	Config
}

var connection *Connection
var mux sync.Mutex

// GetConnection will create(& return) a new Connection to Cassandra if there
// is not one yet, otherwise, will just return existing singleton connection.
// The keyspace and event tables are created if missing.
func GetConnection(config Config) (*Connection, error) {
	if connection != nil {
		return connection, nil
	}
	mux.Lock()
	defer mux.Unlock()

	if connection != nil {
		return connection, nil
	}
	if config.Keyspace == "" {
		config.Keyspace = "accessmgr"
	}
	cluster := gocql.NewCluster(config.ClusterHosts...)
	cluster.Keyspace = config.Keyspace
	cluster.Consistency = config.Consistency
	if config.ReplicationClause == "" {
		config.ReplicationClause = "{'class':'SimpleStrategy', 'replication_factor':1}"
	}
	if config.ConnectionTimeout > 0 {
		cluster.ConnectTimeout = config.ConnectionTimeout
	}
	if config.Authenticator != nil {
		cluster.Authenticator = config.Authenticator
		// Clear the authenticator just to be safer, we don't need to keep it hanging around.
		config.Authenticator = nil
	}
	var c = Connection{
		Config: config,
	}
	s, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	if err := createSchema(s, config.Keyspace, config.ReplicationClause); err != nil {
		return nil, err
	}

	c.Session = s
	connection = &c
	return connection, nil
}

func createSchema(s *gocql.Session, keyspace, replication string) error {
	ddl := []string{
		fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s;", keyspace, replication),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.eventorder (pk text, occurred_at text, tx_seq bigint, id UUID, action text, kind text, payload text, hash_code int, PRIMARY KEY (pk, occurred_at, tx_seq));", keyspace),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.eventids (id UUID PRIMARY KEY, occurred_at text, tx_seq bigint);", keyspace),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.eventfacts (fact_key text, tx_from text, tx_to text, event_id UUID, PRIMARY KEY (fact_key, tx_from));", keyspace),
	}
	for _, stmt := range ddl {
		if err := s.Query(stmt).Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Close the singleton connection if open.
func CloseConnection() {
	if connection != nil {
		mux.Lock()
		defer mux.Unlock()
		if connection == nil {
			return
		}
		connection.Session.Close()
		connection = nil
	}
}
