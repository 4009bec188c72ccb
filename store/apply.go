package store

import (
	"github.com/sharedcode/accessmgr"
)

// ApplyEvent dispatches one event to the matching mutation. This is the
// non-validating fast path used by reader refresh and load-from-storage
// replay; events are assumed to have passed validation at the writer. Errors
// still surface (a merging writer counts and drops them).
func (am *AccessManager) ApplyEvent(e accessmgr.Event) error {
	p := e.Payload
	switch e.Kind {
	case accessmgr.UserEvent:
		if e.Action == accessmgr.Add {
			return am.AddUser(p.User)
		}
		return am.RemoveUser(p.User)
	case accessmgr.GroupEvent:
		if e.Action == accessmgr.Add {
			return am.AddGroup(p.Group)
		}
		return am.RemoveGroup(p.Group)
	case accessmgr.UserToGroupEvent:
		if e.Action == accessmgr.Add {
			return am.AddUserToGroupMapping(p.User, p.Group)
		}
		return am.RemoveUserToGroupMapping(p.User, p.Group)
	case accessmgr.GroupToGroupEvent:
		if e.Action == accessmgr.Add {
			return am.AddGroupToGroupMapping(p.FromGroup, p.ToGroup)
		}
		return am.RemoveGroupToGroupMapping(p.FromGroup, p.ToGroup)
	case accessmgr.UserToComponentEvent:
		if e.Action == accessmgr.Add {
			return am.AddUserToComponentMapping(p.User, p.Component, p.AccessLevel)
		}
		return am.RemoveUserToComponentMapping(p.User, p.Component, p.AccessLevel)
	case accessmgr.GroupToComponentEvent:
		if e.Action == accessmgr.Add {
			return am.AddGroupToComponentMapping(p.Group, p.Component, p.AccessLevel)
		}
		return am.RemoveGroupToComponentMapping(p.Group, p.Component, p.AccessLevel)
	case accessmgr.EntityTypeEvent:
		if e.Action == accessmgr.Add {
			return am.AddEntityType(p.EntityType)
		}
		return am.RemoveEntityType(p.EntityType)
	case accessmgr.EntityEvent:
		if e.Action == accessmgr.Add {
			return am.AddEntity(p.EntityType, p.Entity)
		}
		return am.RemoveEntity(p.EntityType, p.Entity)
	case accessmgr.UserToEntityEvent:
		if e.Action == accessmgr.Add {
			return am.AddUserToEntityMapping(p.User, p.EntityType, p.Entity)
		}
		return am.RemoveUserToEntityMapping(p.User, p.EntityType, p.Entity)
	case accessmgr.GroupToEntityEvent:
		if e.Action == accessmgr.Add {
			return am.AddGroupToEntityMapping(p.Group, p.EntityType, p.Entity)
		}
		return am.RemoveGroupToEntityMapping(p.Group, p.EntityType, p.Entity)
	}
	return accessmgr.NewError(accessmgr.ArgumentError, "unknown event kind", string(e.Kind))
}

// Equal reports structural equality of graph and mapping state between two
// stores, used by replay and sharding-transparency checks.
func (am *AccessManager) Equal(other *AccessManager) bool {
	if !sameStrings(am.GetUsers(), other.GetUsers()) ||
		!sameStrings(am.GetGroups(), other.GetGroups()) ||
		!sameStrings(am.GetEntityTypes(), other.GetEntityTypes()) {
		return false
	}
	for _, t := range am.GetEntityTypes() {
		a, _ := am.GetEntities(t)
		b, err := other.GetEntities(t)
		if err != nil || !sameStrings(a, b) {
			return false
		}
	}
	for _, u := range am.GetUsers() {
		a, _ := am.GetUserToGroupMappings(u, false)
		b, err := other.GetUserToGroupMappings(u, false)
		if err != nil || !sameStrings(a, b) {
			return false
		}
		if !sameGrants(am.GetUserComponentMappings(u), other.GetUserComponentMappings(u)) ||
			!sameAssociations(am.GetUserEntityMappings(u), other.GetUserEntityMappings(u)) {
			return false
		}
	}
	for _, g := range am.GetGroups() {
		a, _ := am.GetGroupToGroupMappings(g, false)
		b, err := other.GetGroupToGroupMappings(g, false)
		if err != nil || !sameStrings(a, b) {
			return false
		}
		if !sameGrants(am.GetGroupComponentMappings(g), other.GetGroupComponentMappings(g)) ||
			!sameAssociations(am.GetGroupEntityMappings(g), other.GetGroupEntityMappings(g)) {
			return false
		}
	}
	return true
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

func sameGrants(a, b []ComponentGrant) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[ComponentGrant]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

func sameAssociations(a, b []EntityAssociation) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[EntityAssociation]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}
