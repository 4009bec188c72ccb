// Package accessmgr is a distributed, sharded authorization data plane. It
// stores a directed permission graph of users, groups, application components,
// access levels and entities, and answers authorization queries with strong
// recency guarantees under concurrent write load.
//
// The root package holds the shared primitives: event model and wire format,
// routing hash, error taxonomy, retry, trip switch and configuration.
// Subpackages implement the components: graph and store (the in-memory model),
// validate and buffer (the temporal event pipeline), cassandra/pg/fs
// (persistence), cache and redis (reader pull), reader (refresh loop), shard
// (routing client), orchestration (split/merge) and instance (shard group
// lifecycle).
package accessmgr
