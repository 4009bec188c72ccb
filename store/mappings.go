package store

import (
	"github.com/sharedcode/accessmgr"
)

// AddUserToGroupMapping maps a user into a group.
func (am *AccessManager) AddUserToGroupMapping(user, group string) error {
	if err := am.g.AddLeafToNonLeafEdge(user, group); err != nil {
		return translateVertexError(err, user, group)
	}
	return nil
}

// RemoveUserToGroupMapping removes a user from a group.
func (am *AccessManager) RemoveUserToGroupMapping(user, group string) error {
	return am.g.RemoveLeafToNonLeafEdge(user, group)
}

// AddGroupToGroupMapping maps fromGroup into toGroup. Rejects cycles.
func (am *AccessManager) AddGroupToGroupMapping(fromGroup, toGroup string) error {
	if err := am.g.AddNonLeafToNonLeafEdge(fromGroup, toGroup); err != nil {
		return translateVertexError(err, "", fromGroup)
	}
	return nil
}

// RemoveGroupToGroupMapping removes the fromGroup -> toGroup membership.
func (am *AccessManager) RemoveGroupToGroupMapping(fromGroup, toGroup string) error {
	return am.g.RemoveNonLeafToNonLeafEdge(fromGroup, toGroup)
}

// AddUserToComponentMapping grants the user an access level on a component.
func (am *AccessManager) AddUserToComponentMapping(user, component, accessLevel string) error {
	if component == "" || accessLevel == "" {
		return accessmgr.NewError(accessmgr.ArgumentNilError, "component or access level is empty")
	}
	if !am.g.ContainsLeaf(user) {
		return accessmgr.NewError(accessmgr.UserNotFoundError, "user not found", user)
	}
	cl := compLevel{component, accessLevel}
	defer am.lock(&am.componentsMu)()
	if _, ok := am.userComponents[user][cl]; ok {
		return accessmgr.NewError(accessmgr.AlreadyExistsError, "mapping already exists", user, component, accessLevel)
	}
	addPair(am.userComponents, user, cl)
	if am.storeBidirectional {
		addPair(am.componentUsers, cl, user)
	}
	return nil
}

// RemoveUserToComponentMapping revokes the grant.
func (am *AccessManager) RemoveUserToComponentMapping(user, component, accessLevel string) error {
	cl := compLevel{component, accessLevel}
	defer am.lock(&am.componentsMu)()
	if _, ok := am.userComponents[user][cl]; !ok {
		return accessmgr.NewError(accessmgr.NotFoundError, "mapping not found", user, component, accessLevel)
	}
	delete(am.userComponents[user], cl)
	delete(am.componentUsers[cl], user)
	return nil
}

// AddGroupToComponentMapping grants the group an access level on a component.
func (am *AccessManager) AddGroupToComponentMapping(group, component, accessLevel string) error {
	if component == "" || accessLevel == "" {
		return accessmgr.NewError(accessmgr.ArgumentNilError, "component or access level is empty")
	}
	if !am.g.ContainsNonLeaf(group) {
		return accessmgr.NewError(accessmgr.GroupNotFoundError, "group not found", group)
	}
	cl := compLevel{component, accessLevel}
	defer am.lock(&am.componentsMu)()
	if _, ok := am.groupComponents[group][cl]; ok {
		return accessmgr.NewError(accessmgr.AlreadyExistsError, "mapping already exists", group, component, accessLevel)
	}
	addPair(am.groupComponents, group, cl)
	if am.storeBidirectional {
		addPair(am.componentGroups, cl, group)
	}
	return nil
}

// RemoveGroupToComponentMapping revokes the grant.
func (am *AccessManager) RemoveGroupToComponentMapping(group, component, accessLevel string) error {
	cl := compLevel{component, accessLevel}
	defer am.lock(&am.componentsMu)()
	if _, ok := am.groupComponents[group][cl]; !ok {
		return accessmgr.NewError(accessmgr.NotFoundError, "mapping not found", group, component, accessLevel)
	}
	delete(am.groupComponents[group], cl)
	delete(am.componentGroups[cl], group)
	return nil
}

// AddUserToEntityMapping associates a user with an entity.
func (am *AccessManager) AddUserToEntityMapping(user, entityType, entity string) error {
	if !am.g.ContainsLeaf(user) {
		return accessmgr.NewError(accessmgr.UserNotFoundError, "user not found", user)
	}
	if err := am.checkEntity(entityType, entity); err != nil {
		return err
	}
	ref := entityRef{entityType, entity}
	defer am.lock(&am.entityMapMu)()
	if _, ok := am.userEntities[user][ref]; ok {
		return accessmgr.NewError(accessmgr.AlreadyExistsError, "mapping already exists", user, entityType, entity)
	}
	addPair(am.userEntities, user, ref)
	if am.storeBidirectional {
		addPair(am.entityUsers, ref, user)
	}
	return nil
}

// RemoveUserToEntityMapping removes the association.
func (am *AccessManager) RemoveUserToEntityMapping(user, entityType, entity string) error {
	ref := entityRef{entityType, entity}
	defer am.lock(&am.entityMapMu)()
	if _, ok := am.userEntities[user][ref]; !ok {
		return accessmgr.NewError(accessmgr.NotFoundError, "mapping not found", user, entityType, entity)
	}
	delete(am.userEntities[user], ref)
	delete(am.entityUsers[ref], user)
	return nil
}

// AddGroupToEntityMapping associates a group with an entity.
func (am *AccessManager) AddGroupToEntityMapping(group, entityType, entity string) error {
	if !am.g.ContainsNonLeaf(group) {
		return accessmgr.NewError(accessmgr.GroupNotFoundError, "group not found", group)
	}
	if err := am.checkEntity(entityType, entity); err != nil {
		return err
	}
	ref := entityRef{entityType, entity}
	defer am.lock(&am.entityMapMu)()
	if _, ok := am.groupEntities[group][ref]; ok {
		return accessmgr.NewError(accessmgr.AlreadyExistsError, "mapping already exists", group, entityType, entity)
	}
	addPair(am.groupEntities, group, ref)
	if am.storeBidirectional {
		addPair(am.entityGroups, ref, group)
	}
	return nil
}

// RemoveGroupToEntityMapping removes the association.
func (am *AccessManager) RemoveGroupToEntityMapping(group, entityType, entity string) error {
	ref := entityRef{entityType, entity}
	defer am.lock(&am.entityMapMu)()
	if _, ok := am.groupEntities[group][ref]; !ok {
		return accessmgr.NewError(accessmgr.NotFoundError, "mapping not found", group, entityType, entity)
	}
	delete(am.groupEntities[group], ref)
	delete(am.entityGroups[ref], group)
	return nil
}

func (am *AccessManager) checkEntity(entityType, entity string) error {
	defer am.rlock(&am.entitiesMu)()
	entities, ok := am.entityTypes[entityType]
	if !ok {
		return accessmgr.NewError(accessmgr.EntityTypeNotFoundError, "entity type not found", entityType)
	}
	if _, ok := entities[entity]; !ok {
		return accessmgr.NewError(accessmgr.EntityNotFoundError, "entity not found", entityType, entity)
	}
	return nil
}

func addPair[K comparable, V comparable](m map[K]map[V]struct{}, k K, v V) {
	set, ok := m[k]
	if !ok {
		set = map[V]struct{}{}
		m[k] = set
	}
	set[v] = struct{}{}
}

// translateVertexError upgrades graph NotFoundError into the user/group
// specializations the wire surface declares.
func translateVertexError(err error, user, group string) error {
	e, ok := err.(accessmgr.Error)
	if !ok || e.Code != accessmgr.NotFoundError || len(e.Attributes) == 0 {
		return err
	}
	if user != "" && e.Attributes[0] == user {
		e.Code = accessmgr.UserNotFoundError
		return e
	}
	if e.Attributes[0] == group || user == "" {
		e.Code = accessmgr.GroupNotFoundError
		return e
	}
	return err
}
