package accessmgr

import "testing"

func TestRoleForKind(t *testing.T) {
	cases := []struct {
		kind      EventKind
		role      Role
		broadcast bool
	}{
		{UserEvent, UserRole, false},
		{UserToGroupEvent, UserRole, false},
		{UserToComponentEvent, UserRole, false},
		{UserToEntityEvent, UserRole, false},
		{GroupEvent, GroupRole, true},
		{GroupToComponentEvent, GroupRole, false},
		{GroupToEntityEvent, GroupRole, false},
		{GroupToGroupEvent, GroupToGroupRole, false},
		{EntityTypeEvent, "", true},
		{EntityEvent, "", true},
	}
	for _, c := range cases {
		role, broadcast := RoleForKind(c.kind)
		if role != c.role || broadcast != c.broadcast {
			t.Errorf("%s: role=%q broadcast=%v, want %q %v", c.kind, role, broadcast, c.role, c.broadcast)
		}
	}
}

func TestRangeOwned(t *testing.T) {
	user := NewEvent(Add, UserEvent, EventPayload{User: "alice"})
	if !user.RangeOwned(UserRole) {
		t.Error("user event is owned on its own role")
	}
	if user.RangeOwned(GroupRole) {
		t.Error("user event is a replica on group shards")
	}

	// Group adds are broadcast but still range-owned on the group role, so a
	// group shard split moves them.
	grp := NewEvent(Add, GroupEvent, EventPayload{Group: "eng"})
	if !grp.RangeOwned(GroupRole) {
		t.Error("group event is owned on the group role")
	}
	if grp.RangeOwned(UserRole) {
		t.Error("group event is a replica on user shards")
	}

	// Entity namespace events are owned nowhere: replicas everywhere.
	ent := NewEvent(Add, EntityTypeEvent, EventPayload{EntityType: "Report"})
	for _, role := range Roles {
		if ent.RangeOwned(role) {
			t.Errorf("entity type event must be a replica on %s", role)
		}
	}
}
