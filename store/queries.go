package store

import (
	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/graph"
)

// ComponentGrant is a component/access-level pair in query results.
type ComponentGrant struct {
	Component   string `json:"component"`
	AccessLevel string `json:"accessLevel"`
}

// EntityAssociation is an entity-type/entity pair in query results.
type EntityAssociation struct {
	EntityType string `json:"entityType"`
	Entity     string `json:"entity"`
}

// GetUsers returns all users.
func (am *AccessManager) GetUsers() []string {
	return am.g.Leaves()
}

// GetGroups returns all groups.
func (am *AccessManager) GetGroups() []string {
	return am.g.NonLeaves()
}

// GetEntityTypes returns all entity types.
func (am *AccessManager) GetEntityTypes() []string {
	defer am.rlock(&am.entitiesMu)()
	r := make([]string, 0, len(am.entityTypes))
	for t := range am.entityTypes {
		r = append(r, t)
	}
	return r
}

// GetEntities returns all entities of a type.
func (am *AccessManager) GetEntities(entityType string) ([]string, error) {
	defer am.rlock(&am.entitiesMu)()
	entities, ok := am.entityTypes[entityType]
	if !ok {
		return nil, accessmgr.NewError(accessmgr.EntityTypeNotFoundError, "entity type not found", entityType)
	}
	r := make([]string, 0, len(entities))
	for e := range entities {
		r = append(r, e)
	}
	return r, nil
}

// GetUserToGroupMappings returns the groups the user belongs to. With
// includeIndirect, membership through group-to-group edges is included.
func (am *AccessManager) GetUserToGroupMappings(user string, includeIndirect bool) ([]string, error) {
	if !am.g.ContainsLeaf(user) {
		return nil, accessmgr.NewError(accessmgr.UserNotFoundError, "user not found", user)
	}
	if !includeIndirect {
		return am.g.GetLeafEdges(user), nil
	}
	var r []string
	am.g.Traverse(user, graph.Forward, func(v string) bool {
		r = append(r, v)
		return true
	})
	return r, nil
}

// GetGroupToGroupMappings returns the groups the group maps into. With
// includeIndirect, transitive targets are included.
func (am *AccessManager) GetGroupToGroupMappings(group string, includeIndirect bool) ([]string, error) {
	if !am.g.ContainsNonLeaf(group) {
		return nil, accessmgr.NewError(accessmgr.GroupNotFoundError, "group not found", group)
	}
	if !includeIndirect {
		return am.g.GetNonLeafEdges(group), nil
	}
	var r []string
	am.g.Traverse(group, graph.Forward, func(v string) bool {
		r = append(r, v)
		return true
	})
	return r, nil
}

// GetGroupToUserMappings returns the users belonging to the group. With
// includeIndirect, users of groups mapping into it (transitively) are
// included.
func (am *AccessManager) GetGroupToUserMappings(group string, includeIndirect bool) ([]string, error) {
	if !am.g.ContainsNonLeaf(group) {
		return nil, accessmgr.NewError(accessmgr.GroupNotFoundError, "group not found", group)
	}
	if !includeIndirect {
		return am.g.GetLeafReverseEdges(group), nil
	}
	users := map[string]struct{}{}
	am.g.Traverse(group, graph.Reverse, func(v string) bool {
		if am.g.ContainsLeaf(v) {
			users[v] = struct{}{}
		}
		return true
	})
	r := make([]string, 0, len(users))
	for u := range users {
		r = append(r, u)
	}
	return r, nil
}

// HasAccessToComponent reports whether the user holds the access level on the
// component, directly or through group membership.
func (am *AccessManager) HasAccessToComponent(user, component, accessLevel string) (bool, error) {
	groups, err := am.GetUserToGroupMappings(user, true)
	if err != nil {
		return false, err
	}
	cl := compLevel{component, accessLevel}
	defer am.rlock(&am.componentsMu)()
	if _, ok := am.userComponents[user][cl]; ok {
		return true, nil
	}
	for _, g := range groups {
		if _, ok := am.groupComponents[g][cl]; ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAccessToEntity reports whether the user is associated with the entity,
// directly or through group membership.
func (am *AccessManager) HasAccessToEntity(user, entityType, entity string) (bool, error) {
	groups, err := am.GetUserToGroupMappings(user, true)
	if err != nil {
		return false, err
	}
	ref := entityRef{entityType, entity}
	defer am.rlock(&am.entityMapMu)()
	if _, ok := am.userEntities[user][ref]; ok {
		return true, nil
	}
	for _, g := range groups {
		if _, ok := am.groupEntities[g][ref]; ok {
			return true, nil
		}
	}
	return false, nil
}

// GetAccessibleComponents returns the union of the user's direct grants and
// those of every group the user (transitively) belongs to.
func (am *AccessManager) GetAccessibleComponents(user string) ([]ComponentGrant, error) {
	groups, err := am.GetUserToGroupMappings(user, true)
	if err != nil {
		return nil, err
	}
	set := map[compLevel]struct{}{}
	defer am.rlock(&am.componentsMu)()
	for cl := range am.userComponents[user] {
		set[cl] = struct{}{}
	}
	for _, g := range groups {
		for cl := range am.groupComponents[g] {
			set[cl] = struct{}{}
		}
	}
	r := make([]ComponentGrant, 0, len(set))
	for cl := range set {
		r = append(r, ComponentGrant{cl.Component, cl.AccessLevel})
	}
	return r, nil
}

// GetAccessibleEntities returns the union of the user's direct entity
// associations and those of every group the user belongs to. entityType ""
// means all types.
func (am *AccessManager) GetAccessibleEntities(user, entityType string) ([]EntityAssociation, error) {
	groups, err := am.GetUserToGroupMappings(user, true)
	if err != nil {
		return nil, err
	}
	set := map[entityRef]struct{}{}
	defer am.rlock(&am.entityMapMu)()
	collect := func(refs map[entityRef]struct{}) {
		for ref := range refs {
			if entityType == "" || ref.EntityType == entityType {
				set[ref] = struct{}{}
			}
		}
	}
	collect(am.userEntities[user])
	for _, g := range groups {
		collect(am.groupEntities[g])
	}
	r := make([]EntityAssociation, 0, len(set))
	for ref := range set {
		r = append(r, EntityAssociation{ref.EntityType, ref.Entity})
	}
	return r, nil
}

// GetUserComponentMappings returns the user's direct component grants.
func (am *AccessManager) GetUserComponentMappings(user string) []ComponentGrant {
	defer am.rlock(&am.componentsMu)()
	r := make([]ComponentGrant, 0, len(am.userComponents[user]))
	for cl := range am.userComponents[user] {
		r = append(r, ComponentGrant{cl.Component, cl.AccessLevel})
	}
	return r
}

// GetGroupComponentMappings returns the group's direct component grants.
func (am *AccessManager) GetGroupComponentMappings(group string) []ComponentGrant {
	defer am.rlock(&am.componentsMu)()
	r := make([]ComponentGrant, 0, len(am.groupComponents[group]))
	for cl := range am.groupComponents[group] {
		r = append(r, ComponentGrant{cl.Component, cl.AccessLevel})
	}
	return r
}

// GetUserEntityMappings returns the user's direct entity associations.
func (am *AccessManager) GetUserEntityMappings(user string) []EntityAssociation {
	defer am.rlock(&am.entityMapMu)()
	r := make([]EntityAssociation, 0, len(am.userEntities[user]))
	for ref := range am.userEntities[user] {
		r = append(r, EntityAssociation{ref.EntityType, ref.Entity})
	}
	return r
}

// GetGroupEntityMappings returns the group's direct entity associations.
func (am *AccessManager) GetGroupEntityMappings(group string) []EntityAssociation {
	defer am.rlock(&am.entityMapMu)()
	r := make([]EntityAssociation, 0, len(am.groupEntities[group]))
	for ref := range am.groupEntities[group] {
		r = append(r, EntityAssociation{ref.EntityType, ref.Entity})
	}
	return r
}

// GetUserGroupMemberships returns the user's direct group memberships without
// existence checks, for cascade synthesis.
func (am *AccessManager) GetUserGroupMemberships(user string) []string {
	return am.g.GetLeafEdges(user)
}

// GetGroupMemberships returns the group's direct outgoing group mappings.
func (am *AccessManager) GetGroupMemberships(group string) []string {
	return am.g.GetNonLeafEdges(group)
}

// GetGroupMembers returns direct members of the group: users and groups
// mapping into it, for cascade synthesis.
func (am *AccessManager) GetGroupMembers(group string) (users []string, groups []string) {
	return am.g.GetLeafReverseEdges(group), am.g.GetNonLeafReverseEdges(group)
}

// GetEntityUserMappings returns users directly associated with the entity.
func (am *AccessManager) GetEntityUserMappings(entityType, entity string) []string {
	defer am.rlock(&am.entityMapMu)()
	ref := entityRef{entityType, entity}
	r := make([]string, 0, len(am.entityUsers[ref]))
	for u := range am.entityUsers[ref] {
		r = append(r, u)
	}
	return r
}

// GetEntityGroupMappings returns groups directly associated with the entity.
func (am *AccessManager) GetEntityGroupMappings(entityType, entity string) []string {
	defer am.rlock(&am.entityMapMu)()
	ref := entityRef{entityType, entity}
	r := make([]string, 0, len(am.entityGroups[ref]))
	for g := range am.entityGroups[ref] {
		r = append(r, g)
	}
	return r
}
