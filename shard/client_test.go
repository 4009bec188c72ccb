package shard

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/store"
)

// memTransport backs each endpoint with an in-process store, applying routed
// events directly and answering queries via Evaluate.
type memTransport struct {
	mu     sync.Mutex
	stores map[string]*store.AccessManager
	sent   map[string]int
}

func newMemTransport(endpoints ...string) *memTransport {
	t := &memTransport{stores: map[string]*store.AccessManager{}, sent: map[string]int{}}
	for _, e := range endpoints {
		t.stores[e] = store.New(true, true)
	}
	return t
}

func (t *memTransport) SendEvents(ctx context.Context, endpoint string, events []accessmgr.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	am, ok := t.stores[endpoint]
	if !ok {
		return accessmgr.NewError(accessmgr.NotFoundError, "unknown endpoint", endpoint)
	}
	t.sent[endpoint] += len(events)
	for _, e := range events {
		if err := am.ApplyEvent(e); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTransport) Query(ctx context.Context, endpoint string, q QueryRequest) (QueryResponse, error) {
	t.mu.Lock()
	am, ok := t.stores[endpoint]
	t.mu.Unlock()
	if !ok {
		return QueryResponse{}, accessmgr.NewError(accessmgr.NotFoundError, "unknown endpoint", endpoint)
	}
	return Evaluate(am, q)
}

func (t *memTransport) ProcessingCount(ctx context.Context, endpoint string) (int64, error) {
	return 0, nil
}

func (t *memTransport) sentTo(endpoint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent[endpoint]
}

func testConfig() *Configuration {
	return NewConfiguration().
		WithGroup(Group{Name: "u0", Role: UserRole, HashRangeStart: math.MinInt32, WriterEndpoint: "u0"}).
		WithGroup(Group{Name: "u1", Role: UserRole, HashRangeStart: 0, WriterEndpoint: "u1"}).
		WithGroup(Group{Name: "g0", Role: GroupRole, HashRangeStart: math.MinInt32, WriterEndpoint: "g0"}).
		WithGroup(Group{Name: "gg0", Role: GroupToGroupRole, HashRangeStart: math.MinInt32, WriterEndpoint: "gg0"})
}

func newTestClient() (*Client, *memTransport) {
	tp := newMemTransport("u0", "u1", "g0", "gg0")
	return NewClient(testConfig(), tp, accessmgr.Options{}), tp
}

func TestRouteEventDestinations(t *testing.T) {
	c, tp := newTestClient()
	ctx := context.Background()

	// A group add replicates to the owning group shard, both user shards and
	// the group-to-group shard.
	if err := c.RouteEvent(ctx, accessmgr.NewEvent(accessmgr.Add, accessmgr.GroupEvent,
		accessmgr.EventPayload{Group: "admins"})); err != nil {
		t.Fatalf("route group event: %v", err)
	}
	for _, e := range []string{"g0", "u0", "u1", "gg0"} {
		if tp.sentTo(e) != 1 {
			t.Errorf("group event not delivered to %s", e)
		}
	}

	// An entity type add replicates everywhere.
	if err := c.RouteEvent(ctx, accessmgr.NewEvent(accessmgr.Add, accessmgr.EntityTypeEvent,
		accessmgr.EventPayload{EntityType: "document"})); err != nil {
		t.Fatalf("route entity type event: %v", err)
	}
	for _, e := range []string{"g0", "u0", "u1", "gg0"} {
		if tp.sentTo(e) != 2 {
			t.Errorf("entity type event not delivered to %s", e)
		}
	}

	// A user add lands only on the shard owning its hash.
	ev := accessmgr.NewEvent(accessmgr.Add, accessmgr.UserEvent, accessmgr.EventPayload{User: "alice"})
	if err := c.RouteEvent(ctx, ev); err != nil {
		t.Fatalf("route user event: %v", err)
	}
	owner, err := c.Configuration().GroupFor(UserRole, ev.HashCode)
	if err != nil {
		t.Fatal(err)
	}
	other := "u0"
	if owner.WriterEndpoint == "u0" {
		other = "u1"
	}
	if tp.sentTo(owner.WriterEndpoint) != 3 {
		t.Errorf("user event not delivered to owner %s", owner.WriterEndpoint)
	}
	if tp.sentTo(other) != 2 {
		t.Errorf("user event wrongly delivered to %s", other)
	}
}

// seedAccess routes the standard scenario: alice in eng, eng in staff,
// staff granted Reports/Read, bob granted Builds/Admin directly.
func seedAccess(t *testing.T, c *Client) {
	t.Helper()
	ctx := context.Background()
	events := []accessmgr.Event{
		accessmgr.NewEvent(accessmgr.Add, accessmgr.UserEvent, accessmgr.EventPayload{User: "alice"}),
		accessmgr.NewEvent(accessmgr.Add, accessmgr.UserEvent, accessmgr.EventPayload{User: "bob"}),
		accessmgr.NewEvent(accessmgr.Add, accessmgr.GroupEvent, accessmgr.EventPayload{Group: "eng"}),
		accessmgr.NewEvent(accessmgr.Add, accessmgr.GroupEvent, accessmgr.EventPayload{Group: "staff"}),
		accessmgr.NewEvent(accessmgr.Add, accessmgr.UserToGroupEvent, accessmgr.EventPayload{User: "alice", Group: "eng"}),
		accessmgr.NewEvent(accessmgr.Add, accessmgr.GroupToGroupEvent, accessmgr.EventPayload{FromGroup: "eng", ToGroup: "staff"}),
		accessmgr.NewEvent(accessmgr.Add, accessmgr.GroupToComponentEvent, accessmgr.EventPayload{Group: "staff", Component: "Reports", AccessLevel: "Read"}),
		accessmgr.NewEvent(accessmgr.Add, accessmgr.UserToComponentEvent, accessmgr.EventPayload{User: "bob", Component: "Builds", AccessLevel: "Admin"}),
	}
	for _, e := range events {
		if err := c.RouteEvent(ctx, e); err != nil {
			t.Fatalf("route %v: %v", e, err)
		}
	}
}

func TestCoordinatedMembershipQueries(t *testing.T) {
	c, _ := newTestClient()
	seedAccess(t, c)
	ctx := context.Background()

	users, err := c.GetUsers(ctx)
	if err != nil {
		t.Fatalf("GetUsers: %v", err)
	}
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("GetUsers = %v", users)
	}

	direct, err := c.GetUserToGroupMappings(ctx, "alice", false)
	if err != nil {
		t.Fatalf("direct mappings: %v", err)
	}
	if len(direct) != 1 || direct[0] != "eng" {
		t.Errorf("direct groups = %v, want [eng]", direct)
	}

	all, err := c.GetUserToGroupMappings(ctx, "alice", true)
	if err != nil {
		t.Fatalf("indirect mappings: %v", err)
	}
	if len(all) != 2 || all[0] != "eng" || all[1] != "staff" {
		t.Errorf("indirect groups = %v, want [eng staff]", all)
	}

	// staff's transitive members include alice through eng.
	members, err := c.GetGroupToUserMappings(ctx, "staff", true)
	if err != nil {
		t.Fatalf("group members: %v", err)
	}
	if len(members) != 1 || members[0] != "alice" {
		t.Errorf("staff members = %v, want [alice]", members)
	}
	directMembers, err := c.GetGroupToUserMappings(ctx, "staff", false)
	if err != nil {
		t.Fatalf("direct group members: %v", err)
	}
	if len(directMembers) != 0 {
		t.Errorf("staff direct members = %v, want none", directMembers)
	}
}

func TestCoordinatedAccessChecks(t *testing.T) {
	c, _ := newTestClient()
	seedAccess(t, c)
	ctx := context.Background()

	// alice reaches Reports/Read through eng -> staff.
	has, err := c.HasAccessToComponent(ctx, "alice", "Reports", "Read")
	if err != nil {
		t.Fatalf("HasAccessToComponent: %v", err)
	}
	if !has {
		t.Error("alice should reach Reports/Read via group chain")
	}

	// bob has Builds/Admin directly but not Reports.
	has, err = c.HasAccessToComponent(ctx, "bob", "Builds", "Admin")
	if err != nil {
		t.Fatalf("HasAccessToComponent: %v", err)
	}
	if !has {
		t.Error("bob should have direct Builds/Admin")
	}
	has, err = c.HasAccessToComponent(ctx, "bob", "Reports", "Read")
	if err != nil {
		t.Fatalf("HasAccessToComponent: %v", err)
	}
	if has {
		t.Error("bob should not reach Reports/Read")
	}

	grants, err := c.GetAccessibleComponents(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAccessibleComponents: %v", err)
	}
	if len(grants) != 1 || grants[0].Component != "Reports" || grants[0].AccessLevel != "Read" {
		t.Errorf("alice grants = %v", grants)
	}
}

func TestCoordinatedEntityQueries(t *testing.T) {
	c, _ := newTestClient()
	seedAccess(t, c)
	ctx := context.Background()

	events := []accessmgr.Event{
		accessmgr.NewEvent(accessmgr.Add, accessmgr.EntityTypeEvent, accessmgr.EventPayload{EntityType: "document"}),
		accessmgr.NewEvent(accessmgr.Add, accessmgr.EntityEvent, accessmgr.EventPayload{EntityType: "document", Entity: "spec-a"}),
		accessmgr.NewEvent(accessmgr.Add, accessmgr.GroupToEntityEvent, accessmgr.EventPayload{Group: "staff", EntityType: "document", Entity: "spec-a"}),
	}
	for _, e := range events {
		if err := c.RouteEvent(ctx, e); err != nil {
			t.Fatalf("route %v: %v", e, err)
		}
	}

	types, err := c.GetEntityTypes(ctx)
	if err != nil {
		t.Fatalf("GetEntityTypes: %v", err)
	}
	if len(types) != 1 || types[0] != "document" {
		t.Errorf("entity types = %v", types)
	}

	has, err := c.HasAccessToEntity(ctx, "alice", "document", "spec-a")
	if err != nil {
		t.Fatalf("HasAccessToEntity: %v", err)
	}
	if !has {
		t.Error("alice should reach document/spec-a via group chain")
	}

	assocs, err := c.GetAccessibleEntities(ctx, "alice", "")
	if err != nil {
		t.Fatalf("GetAccessibleEntities: %v", err)
	}
	if len(assocs) != 1 || assocs[0].Entity != "spec-a" {
		t.Errorf("alice entities = %v", assocs)
	}
	none, err := c.GetAccessibleEntities(ctx, "alice", "repo")
	if err != nil {
		t.Fatalf("GetAccessibleEntities filtered: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("filtered entities = %v, want none", none)
	}
}

func TestUpdateConfigurationIgnoresStaleGeneration(t *testing.T) {
	c, _ := newTestClient()
	current := c.Configuration()

	stale := NewConfiguration() // generation 0
	c.UpdateConfiguration(stale)
	if c.Configuration() != current {
		t.Error("stale configuration replaced a newer one")
	}

	newer := current.WithGroup(Group{Name: "u2", Role: UserRole, HashRangeStart: 1000, WriterEndpoint: "u2"})
	c.UpdateConfiguration(newer)
	if c.Configuration() != newer {
		t.Error("newer configuration not installed")
	}
}
