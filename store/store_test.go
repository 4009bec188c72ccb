package store

import (
	"testing"

	"github.com/sharedcode/accessmgr"
)

func TestAccessManager_AddThenQuery(t *testing.T) {
	am := New(true, true)
	if err := am.AddUser("u1"); err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}
	if err := am.AddGroup("g1"); err != nil {
		t.Fatalf("AddGroup failed: %v", err)
	}
	if err := am.AddUserToGroupMapping("u1", "g1"); err != nil {
		t.Fatalf("AddUserToGroupMapping failed: %v", err)
	}
	if err := am.AddGroupToComponentMapping("g1", "Orders", "View"); err != nil {
		t.Fatalf("AddGroupToComponentMapping failed: %v", err)
	}

	has, err := am.HasAccessToComponent("u1", "Orders", "View")
	if err != nil {
		t.Fatalf("HasAccessToComponent failed: %v", err)
	}
	if !has {
		t.Errorf("HasAccessToComponent returned false, expected true via group grant")
	}
	has, err = am.HasAccessToComponent("u1", "Orders", "Modify")
	if err != nil {
		t.Fatalf("HasAccessToComponent failed: %v", err)
	}
	if has {
		t.Errorf("HasAccessToComponent returned true for an absent grant")
	}
}

func TestAccessManager_IndirectMembership(t *testing.T) {
	am := New(true, true)
	am.AddUser("u1")
	am.AddGroup("g1")
	am.AddGroup("g2")
	am.AddUserToGroupMapping("u1", "g1")
	am.AddGroupToGroupMapping("g1", "g2")
	am.AddGroupToComponentMapping("g2", "Orders", "View")

	direct, err := am.GetUserToGroupMappings("u1", false)
	if err != nil {
		t.Fatalf("GetUserToGroupMappings failed: %v", err)
	}
	if len(direct) != 1 || direct[0] != "g1" {
		t.Errorf("direct mappings returned %v, expected [g1]", direct)
	}
	indirect, err := am.GetUserToGroupMappings("u1", true)
	if err != nil {
		t.Fatalf("GetUserToGroupMappings failed: %v", err)
	}
	if len(indirect) != 2 {
		t.Errorf("indirect mappings returned %v, expected two groups", indirect)
	}
	has, err := am.HasAccessToComponent("u1", "Orders", "View")
	if err != nil {
		t.Fatalf("HasAccessToComponent failed: %v", err)
	}
	if !has {
		t.Errorf("access through nested group not granted")
	}
}

func TestAccessManager_RemoveUserCascades(t *testing.T) {
	am := New(true, true)
	am.AddUser("u1")
	am.AddGroup("g1")
	am.AddUserToGroupMapping("u1", "g1")
	am.AddUserToComponentMapping("u1", "Orders", "View")
	am.AddEntityType("Clients")
	am.AddEntity("Clients", "acme")
	am.AddUserToEntityMapping("u1", "Clients", "acme")

	if err := am.RemoveUser("u1"); err != nil {
		t.Fatalf("RemoveUser failed: %v", err)
	}
	for _, u := range am.GetUsers() {
		if u == "u1" {
			t.Errorf("GetUsers still includes removed user")
		}
	}
	_, err := am.HasAccessToComponent("u1", "Orders", "View")
	if accessmgr.CodeOf(err) != accessmgr.UserNotFoundError {
		t.Errorf("query for removed user returned %v, expected UserNotFoundError", err)
	}
	if members := am.GetEntityUserMappings("Clients", "acme"); len(members) != 0 {
		t.Errorf("entity reverse index still references removed user: %v", members)
	}
	if users, _ := am.GetGroupToUserMappings("g1", false); len(users) != 0 {
		t.Errorf("group reverse index still references removed user: %v", users)
	}
}

func TestAccessManager_RemoveEntityTypeCascades(t *testing.T) {
	am := New(true, true)
	am.AddUser("u1")
	am.AddGroup("g1")
	am.AddEntityType("Clients")
	am.AddEntity("Clients", "acme")
	am.AddEntity("Clients", "globex")
	am.AddUserToEntityMapping("u1", "Clients", "acme")
	am.AddGroupToEntityMapping("g1", "Clients", "globex")

	if err := am.RemoveEntityType("Clients"); err != nil {
		t.Fatalf("RemoveEntityType failed: %v", err)
	}
	if am.ContainsEntity("Clients", "acme") {
		t.Errorf("entity survived entity type removal")
	}
	if assocs := am.GetUserEntityMappings("u1"); len(assocs) != 0 {
		t.Errorf("user entity mapping survived cascade: %v", assocs)
	}
	if assocs := am.GetGroupEntityMappings("g1"); len(assocs) != 0 {
		t.Errorf("group entity mapping survived cascade: %v", assocs)
	}
	if _, err := am.GetEntities("Clients"); accessmgr.CodeOf(err) != accessmgr.EntityTypeNotFoundError {
		t.Errorf("GetEntities after type removal returned %v, expected EntityTypeNotFoundError", err)
	}
}

func TestAccessManager_MappingValidation(t *testing.T) {
	am := New(true, true)
	am.AddUser("u1")
	am.AddGroup("g1")

	if err := am.AddUserToGroupMapping("u9", "g1"); accessmgr.CodeOf(err) != accessmgr.UserNotFoundError {
		t.Errorf("mapping missing user returned %v, expected UserNotFoundError", err)
	}
	if err := am.AddUserToGroupMapping("u1", "g9"); accessmgr.CodeOf(err) != accessmgr.GroupNotFoundError {
		t.Errorf("mapping missing group returned %v, expected GroupNotFoundError", err)
	}
	if err := am.AddUserToEntityMapping("u1", "Clients", "acme"); accessmgr.CodeOf(err) != accessmgr.EntityTypeNotFoundError {
		t.Errorf("mapping missing entity type returned %v, expected EntityTypeNotFoundError", err)
	}
	am.AddEntityType("Clients")
	if err := am.AddUserToEntityMapping("u1", "Clients", "acme"); accessmgr.CodeOf(err) != accessmgr.EntityNotFoundError {
		t.Errorf("mapping missing entity returned %v, expected EntityNotFoundError", err)
	}
}

func TestAccessManager_GroupCycleRejection(t *testing.T) {
	am := New(true, true)
	for _, g := range []string{"g1", "g2", "g3"} {
		am.AddGroup(g)
	}
	am.AddGroupToGroupMapping("g1", "g2")
	am.AddGroupToGroupMapping("g2", "g3")
	err := am.AddGroupToGroupMapping("g3", "g1")
	if accessmgr.CodeOf(err) != accessmgr.ArgumentError {
		t.Fatalf("cycle-closing mapping returned %v, expected ArgumentError", err)
	}
}

func TestAccessManager_GetAccessibleSets(t *testing.T) {
	am := New(true, true)
	am.AddUser("u1")
	am.AddGroup("g1")
	am.AddUserToGroupMapping("u1", "g1")
	am.AddUserToComponentMapping("u1", "Orders", "View")
	am.AddGroupToComponentMapping("g1", "Billing", "Modify")
	am.AddEntityType("Clients")
	am.AddEntity("Clients", "acme")
	am.AddEntity("Clients", "globex")
	am.AddUserToEntityMapping("u1", "Clients", "acme")
	am.AddGroupToEntityMapping("g1", "Clients", "globex")

	grants, err := am.GetAccessibleComponents("u1")
	if err != nil {
		t.Fatalf("GetAccessibleComponents failed: %v", err)
	}
	if len(grants) != 2 {
		t.Errorf("GetAccessibleComponents returned %v, expected direct + group grant", grants)
	}
	assocs, err := am.GetAccessibleEntities("u1", "")
	if err != nil {
		t.Fatalf("GetAccessibleEntities failed: %v", err)
	}
	if len(assocs) != 2 {
		t.Errorf("GetAccessibleEntities returned %v, expected two entities", assocs)
	}
	assocs, err = am.GetAccessibleEntities("u1", "Missing")
	if err != nil {
		t.Fatalf("GetAccessibleEntities failed: %v", err)
	}
	if len(assocs) != 0 {
		t.Errorf("GetAccessibleEntities with non-matching type filter returned %v", assocs)
	}
}

func TestAccessManager_ApplyEventAndEqual(t *testing.T) {
	events := []accessmgr.Event{
		accessmgr.NewEvent(accessmgr.Add, accessmgr.UserEvent, accessmgr.EventPayload{User: "u1"}),
		accessmgr.NewEvent(accessmgr.Add, accessmgr.GroupEvent, accessmgr.EventPayload{Group: "g1"}),
		accessmgr.NewEvent(accessmgr.Add, accessmgr.UserToGroupEvent, accessmgr.EventPayload{User: "u1", Group: "g1"}),
		accessmgr.NewEvent(accessmgr.Add, accessmgr.EntityTypeEvent, accessmgr.EventPayload{EntityType: "Clients"}),
		accessmgr.NewEvent(accessmgr.Add, accessmgr.EntityEvent, accessmgr.EventPayload{EntityType: "Clients", Entity: "acme"}),
		accessmgr.NewEvent(accessmgr.Add, accessmgr.GroupToEntityEvent, accessmgr.EventPayload{Group: "g1", EntityType: "Clients", Entity: "acme"}),
	}

	replayed := New(false, true)
	for _, e := range events {
		if err := replayed.ApplyEvent(e); err != nil {
			t.Fatalf("ApplyEvent(%s) failed: %v", e, err)
		}
	}

	direct := New(true, true)
	direct.AddUser("u1")
	direct.AddGroup("g1")
	direct.AddUserToGroupMapping("u1", "g1")
	direct.AddEntityType("Clients")
	direct.AddEntity("Clients", "acme")
	direct.AddGroupToEntityMapping("g1", "Clients", "acme")

	if !replayed.Equal(direct) {
		t.Errorf("replayed store differs from directly built store")
	}
	direct.AddUser("u2")
	if replayed.Equal(direct) {
		t.Errorf("Equal returned true for differing stores")
	}
}
