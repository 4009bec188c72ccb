// Package shard implements the shard model and the client/router: hash-range
// ownership per role, synchronous routed writes and queries, and fan-out
// aggregation across shard groups.
package shard

import (
	"math"
	"sort"

	"github.com/sharedcode/accessmgr"
)

// Role aliases the root package's shard role.
type Role = accessmgr.Role

const (
	UserRole         = accessmgr.UserRole
	GroupRole        = accessmgr.GroupRole
	GroupToGroupRole = accessmgr.GroupToGroupRole
)

// Group is one shard group: a writer, its readers, an event cache and
// persistent storage, collectively owning the hash range starting at
// HashRangeStart for the role.
type Group struct {
	Name            string   `json:"name"`
	Role            Role     `json:"role"`
	HashRangeStart  int32    `json:"hashRangeStart"`
	WriterEndpoint  string   `json:"writerEndpoint"`
	ReaderEndpoints []string `json:"readerEndpoints"`
	// StorageInstance names the persistent storage instance (database or
	// keyspace) backing the group; credentials resolve externally.
	StorageInstance string `json:"storageInstance"`
}

// Configuration is the versioned set of shard groups per role. It is
// treated copy-on-write: mutations return a new Configuration with the
// generation bumped, and readers snapshot the pointer.
type Configuration struct {
	Generation int64            `json:"generation"`
	Groups     map[Role][]Group `json:"groups"`
}

// NewConfiguration returns an empty configuration at generation zero.
func NewConfiguration() *Configuration {
	return &Configuration{Groups: map[Role][]Group{}}
}

// Validate checks the structural invariants: per present role the range
// starts are unique and one group covers math.MinInt32, and GroupToGroup has
// exactly one group.
func (c *Configuration) Validate() error {
	for role, groups := range c.Groups {
		if len(groups) == 0 {
			continue
		}
		starts := map[int32]struct{}{}
		coversMin := false
		for _, g := range groups {
			if _, dup := starts[g.HashRangeStart]; dup {
				return accessmgr.NewError(accessmgr.ArgumentError, "duplicate hash range start", string(role))
			}
			starts[g.HashRangeStart] = struct{}{}
			if g.HashRangeStart == math.MinInt32 {
				coversMin = true
			}
		}
		if !coversMin {
			return accessmgr.NewError(accessmgr.ArgumentError, "no shard group covers MinInt32", string(role))
		}
		if role == GroupToGroupRole && len(groups) != 1 {
			return accessmgr.NewError(accessmgr.ArgumentError, "group-to-group role must be a singleton")
		}
	}
	return nil
}

// GroupFor returns the shard group owning hash for the role: the group with
// the largest HashRangeStart <= hash.
func (c *Configuration) GroupFor(role Role, hash int32) (Group, error) {
	groups := c.sorted(role)
	if len(groups) == 0 {
		return Group{}, accessmgr.NewError(accessmgr.NotFoundError, "no shard groups for role", string(role))
	}
	// Largest start <= hash; sorted ascending, scan from the top.
	for i := len(groups) - 1; i >= 0; i-- {
		if groups[i].HashRangeStart <= hash {
			return groups[i], nil
		}
	}
	return Group{}, accessmgr.NewError(accessmgr.NotFoundError, "no shard group covers hash", string(role))
}

// GroupsOf returns the role's groups ordered by range start.
func (c *Configuration) GroupsOf(role Role) []Group {
	return c.sorted(role)
}

// RangeEnd returns the inclusive end of the group's range: one below the
// next group's start, or MaxInt32 for the last group.
func (c *Configuration) RangeEnd(g Group) int32 {
	groups := c.sorted(g.Role)
	for i, other := range groups {
		if other.HashRangeStart == g.HashRangeStart && i+1 < len(groups) {
			return groups[i+1].HashRangeStart - 1
		}
	}
	return math.MaxInt32
}

// WithGroup returns a copy with the group added (or replaced by range
// start), generation bumped.
func (c *Configuration) WithGroup(g Group) *Configuration {
	next := c.clone()
	groups := next.Groups[g.Role]
	replaced := false
	for i := range groups {
		if groups[i].HashRangeStart == g.HashRangeStart {
			groups[i] = g
			replaced = true
			break
		}
	}
	if !replaced {
		groups = append(groups, g)
	}
	next.Groups[g.Role] = sortGroups(groups)
	next.Generation = c.Generation + 1
	return next
}

// WithoutGroup returns a copy with the group at the range start removed,
// generation bumped.
func (c *Configuration) WithoutGroup(role Role, hashRangeStart int32) *Configuration {
	next := c.clone()
	var kept []Group
	for _, g := range next.Groups[role] {
		if g.HashRangeStart != hashRangeStart {
			kept = append(kept, g)
		}
	}
	next.Groups[role] = kept
	next.Generation = c.Generation + 1
	return next
}

func (c *Configuration) clone() *Configuration {
	next := &Configuration{Generation: c.Generation, Groups: map[Role][]Group{}}
	for role, groups := range c.Groups {
		cp := make([]Group, len(groups))
		copy(cp, groups)
		next.Groups[role] = cp
	}
	return next
}

func (c *Configuration) sorted(role Role) []Group {
	groups := make([]Group, len(c.Groups[role]))
	copy(groups, c.Groups[role])
	return sortGroups(groups)
}

func sortGroups(groups []Group) []Group {
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].HashRangeStart < groups[j].HashRangeStart
	})
	return groups
}
