// Package store implements the in-memory authorization model: the permission
// graph plus application-component and entity mapping tables with
// bidirectional indexes, the event-processor mutation surface and the query
// surface.
package store

import (
	"sync"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/graph"
)

// compLevel is a component/access-level pair used as a mapping table key.
type compLevel struct {
	Component   string
	AccessLevel string
}

// entityRef is an entity-type/entity pair used as a mapping table key.
type entityRef struct {
	EntityType string
	Entity     string
}

// AccessManager is the full permission model. Users are leaf vertices and
// groups non-leaf vertices of the underlying graph; component and entity
// mappings live in tables here, each with a reverse index maintained in the
// same critical section as the forward one.
//
// Lock order is global: the four graph locks (inside graph method calls)
// come first, then entities, then component mappings, then entity mappings.
// Store methods touch the graph before taking any of the three table locks,
// which keeps acquisition consistent with that order. A store built with
// threadSafe=false skips all locking (validator shadow copies, loaders).
type AccessManager struct {
	threadSafe bool
	// storeBidirectional disables reverse-index maintenance when false
	// (reader nodes that never serve reverse queries).
	storeBidirectional bool

	g *graph.Graph

	entitiesMu  sync.RWMutex
	entityTypes map[string]map[string]struct{}

	componentsMu    sync.RWMutex
	userComponents  map[string]map[compLevel]struct{}
	groupComponents map[string]map[compLevel]struct{}
	componentUsers  map[compLevel]map[string]struct{}
	componentGroups map[compLevel]map[string]struct{}

	entityMapMu   sync.RWMutex
	userEntities  map[string]map[entityRef]struct{}
	groupEntities map[string]map[entityRef]struct{}
	entityUsers   map[entityRef]map[string]struct{}
	entityGroups  map[entityRef]map[string]struct{}
}

// New returns an empty AccessManager. threadSafe enables the lock
// discipline; storeBidirectional enables reverse indexes.
func New(threadSafe, storeBidirectional bool) *AccessManager {
	return &AccessManager{
		threadSafe:         threadSafe,
		storeBidirectional: storeBidirectional,
		g:                  graph.New(threadSafe),
		entityTypes:        map[string]map[string]struct{}{},
		userComponents:     map[string]map[compLevel]struct{}{},
		groupComponents:    map[string]map[compLevel]struct{}{},
		componentUsers:     map[compLevel]map[string]struct{}{},
		componentGroups:    map[compLevel]map[string]struct{}{},
		userEntities:       map[string]map[entityRef]struct{}{},
		groupEntities:      map[string]map[entityRef]struct{}{},
		entityUsers:        map[entityRef]map[string]struct{}{},
		entityGroups:       map[entityRef]map[string]struct{}{},
	}
}

// WithLocking enables the lock discipline on a store built without it.
// Intended for promoting a just-loaded single-goroutine store into a
// queryable one before publication; not safe to call concurrently with use.
func (am *AccessManager) WithLocking() *AccessManager {
	am.threadSafe = true
	return am
}

func (am *AccessManager) lock(mu *sync.RWMutex) func() {
	if !am.threadSafe {
		return func() {}
	}
	mu.Lock()
	return mu.Unlock
}

func (am *AccessManager) rlock(mu *sync.RWMutex) func() {
	if !am.threadSafe {
		return func() {}
	}
	mu.RLock()
	return mu.RUnlock
}

// AddUser adds a user.
func (am *AccessManager) AddUser(user string) error {
	if user == "" {
		return accessmgr.NewError(accessmgr.ArgumentNilError, "user is empty")
	}
	return am.g.AddLeaf(user)
}

// RemoveUser removes a user and every mapping referencing it.
func (am *AccessManager) RemoveUser(user string) error {
	if !am.g.ContainsLeaf(user) {
		return accessmgr.NewError(accessmgr.UserNotFoundError, "user not found", user)
	}
	if err := am.g.RemoveLeaf(user); err != nil {
		return err
	}
	defer am.lock(&am.componentsMu)()
	for cl := range am.userComponents[user] {
		delete(am.componentUsers[cl], user)
	}
	delete(am.userComponents, user)
	func() {
		defer am.lock(&am.entityMapMu)()
		for ref := range am.userEntities[user] {
			delete(am.entityUsers[ref], user)
		}
		delete(am.userEntities, user)
	}()
	return nil
}

// AddGroup adds a group.
func (am *AccessManager) AddGroup(group string) error {
	if group == "" {
		return accessmgr.NewError(accessmgr.ArgumentNilError, "group is empty")
	}
	return am.g.AddNonLeaf(group)
}

// RemoveGroup removes a group and every mapping referencing it.
func (am *AccessManager) RemoveGroup(group string) error {
	if !am.g.ContainsNonLeaf(group) {
		return accessmgr.NewError(accessmgr.GroupNotFoundError, "group not found", group)
	}
	if err := am.g.RemoveNonLeaf(group); err != nil {
		return err
	}
	defer am.lock(&am.componentsMu)()
	for cl := range am.groupComponents[group] {
		delete(am.componentGroups[cl], group)
	}
	delete(am.groupComponents, group)
	func() {
		defer am.lock(&am.entityMapMu)()
		for ref := range am.groupEntities[group] {
			delete(am.entityGroups[ref], group)
		}
		delete(am.groupEntities, group)
	}()
	return nil
}

// AddEntityType registers an entity type namespace.
func (am *AccessManager) AddEntityType(entityType string) error {
	if entityType == "" {
		return accessmgr.NewError(accessmgr.ArgumentNilError, "entity type is empty")
	}
	defer am.lock(&am.entitiesMu)()
	if _, ok := am.entityTypes[entityType]; ok {
		return accessmgr.NewError(accessmgr.AlreadyExistsError, "entity type already exists", entityType)
	}
	am.entityTypes[entityType] = map[string]struct{}{}
	return nil
}

// RemoveEntityType removes the type, all its entities, and every mapping to
// those entities.
func (am *AccessManager) RemoveEntityType(entityType string) error {
	var refs []entityRef
	err := func() error {
		defer am.lock(&am.entitiesMu)()
		entities, ok := am.entityTypes[entityType]
		if !ok {
			return accessmgr.NewError(accessmgr.EntityTypeNotFoundError, "entity type not found", entityType)
		}
		for e := range entities {
			refs = append(refs, entityRef{entityType, e})
		}
		delete(am.entityTypes, entityType)
		return nil
	}()
	if err != nil {
		return err
	}
	defer am.lock(&am.entityMapMu)()
	for _, ref := range refs {
		am.dropEntityMappingsLocked(ref)
	}
	return nil
}

// AddEntity adds an entity within an existing type namespace.
func (am *AccessManager) AddEntity(entityType, entity string) error {
	if entity == "" {
		return accessmgr.NewError(accessmgr.ArgumentNilError, "entity is empty")
	}
	defer am.lock(&am.entitiesMu)()
	entities, ok := am.entityTypes[entityType]
	if !ok {
		return accessmgr.NewError(accessmgr.EntityTypeNotFoundError, "entity type not found", entityType)
	}
	if _, ok := entities[entity]; ok {
		return accessmgr.NewError(accessmgr.AlreadyExistsError, "entity already exists", entityType, entity)
	}
	entities[entity] = struct{}{}
	return nil
}

// RemoveEntity removes the entity and every mapping referencing it.
func (am *AccessManager) RemoveEntity(entityType, entity string) error {
	err := func() error {
		defer am.lock(&am.entitiesMu)()
		entities, ok := am.entityTypes[entityType]
		if !ok {
			return accessmgr.NewError(accessmgr.EntityTypeNotFoundError, "entity type not found", entityType)
		}
		if _, ok := entities[entity]; !ok {
			return accessmgr.NewError(accessmgr.EntityNotFoundError, "entity not found", entityType, entity)
		}
		delete(entities, entity)
		return nil
	}()
	if err != nil {
		return err
	}
	defer am.lock(&am.entityMapMu)()
	am.dropEntityMappingsLocked(entityRef{entityType, entity})
	return nil
}

// dropEntityMappingsLocked removes every user/group mapping to ref. Caller
// holds entityMapMu.
func (am *AccessManager) dropEntityMappingsLocked(ref entityRef) {
	for u := range am.entityUsers[ref] {
		delete(am.userEntities[u], ref)
	}
	delete(am.entityUsers, ref)
	for g := range am.entityGroups[ref] {
		delete(am.groupEntities[g], ref)
	}
	delete(am.entityGroups, ref)
}

// ContainsUser reports whether the user exists.
func (am *AccessManager) ContainsUser(user string) bool {
	return am.g.ContainsLeaf(user)
}

// ContainsGroup reports whether the group exists.
func (am *AccessManager) ContainsGroup(group string) bool {
	return am.g.ContainsNonLeaf(group)
}

// ContainsEntityType reports whether the entity type exists.
func (am *AccessManager) ContainsEntityType(entityType string) bool {
	defer am.rlock(&am.entitiesMu)()
	_, ok := am.entityTypes[entityType]
	return ok
}

// ContainsEntity reports whether the entity exists in its type namespace.
func (am *AccessManager) ContainsEntity(entityType, entity string) bool {
	defer am.rlock(&am.entitiesMu)()
	_, ok := am.entityTypes[entityType][entity]
	return ok
}
