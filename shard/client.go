package shard

import (
	"context"
	"sort"
	"sync"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/store"
)

// fanoutWidth caps concurrent shard group calls per coordinated operation.
const fanoutWidth = 8

// Client is the coordinator: it snapshots the shard configuration, routes
// events to owning writers, and decomposes cross-shard queries into
// shard-local ones whose results it merges.
type Client struct {
	transport Transport
	opts      accessmgr.Options

	mu     sync.RWMutex
	config *Configuration
}

// NewClient builds a coordinator over config and transport.
func NewClient(config *Configuration, transport Transport, opts accessmgr.Options) *Client {
	return &Client{config: config, transport: transport, opts: opts.FillDefaults()}
}

// Configuration returns the current configuration snapshot.
func (c *Client) Configuration() *Configuration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// UpdateConfiguration installs a newer configuration. Older generations are
// ignored so late updates cannot roll the routing table back.
func (c *Client) UpdateConfiguration(config *Configuration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if config.Generation >= c.config.Generation {
		c.config = config
	}
}

// RouteEvent delivers a single event to every writer that stores it.
func (c *Client) RouteEvent(ctx context.Context, e accessmgr.Event) error {
	return c.RouteEvents(ctx, []accessmgr.Event{e})
}

// RouteEvents buckets events by destination writer, preserving relative
// order per writer, and delivers the buckets concurrently. Hash-routed kinds
// go to the group owning the event's hash; group add/remove replicates to the
// owner plus every user shard and the group-to-group shard; entity namespace
// kinds replicate to every shard group.
func (c *Client) RouteEvents(ctx context.Context, events []accessmgr.Event) error {
	cfg := c.Configuration()
	buckets := map[string][]accessmgr.Event{}
	var order []string
	add := func(endpoint string, e accessmgr.Event) {
		if _, seen := buckets[endpoint]; !seen {
			order = append(order, endpoint)
		}
		buckets[endpoint] = append(buckets[endpoint], e)
	}

	for _, e := range events {
		dests, err := c.destinations(cfg, e)
		if err != nil {
			return err
		}
		for _, d := range dests {
			add(d, e)
		}
	}

	tr := accessmgr.NewTaskRunner(ctx, fanoutWidth)
	for _, endpoint := range order {
		endpoint := endpoint
		batch := buckets[endpoint]
		tr.Go(func() error {
			return c.transport.SendEvents(tr.GetContext(), endpoint, batch)
		})
	}
	return tr.Wait()
}

// destinations resolves the writer endpoints an event must reach, deduped.
func (c *Client) destinations(cfg *Configuration, e accessmgr.Event) ([]string, error) {
	owner, broadcast := accessmgr.RoleForKind(e.Kind)
	if !broadcast {
		g, err := cfg.GroupFor(owner, e.HashCode)
		if err != nil {
			return nil, err
		}
		return []string{g.WriterEndpoint}, nil
	}

	seen := map[string]struct{}{}
	var dests []string
	appendDest := func(endpoint string) {
		if _, ok := seen[endpoint]; !ok {
			seen[endpoint] = struct{}{}
			dests = append(dests, endpoint)
		}
	}

	if owner == GroupRole {
		// Group add/remove: hash-owner group shard, all user shards (their
		// mappings reference groups), and the group-to-group singleton.
		g, err := cfg.GroupFor(GroupRole, e.HashCode)
		if err != nil {
			return nil, err
		}
		appendDest(g.WriterEndpoint)
		for _, ug := range cfg.GroupsOf(UserRole) {
			appendDest(ug.WriterEndpoint)
		}
		for _, gg := range cfg.GroupsOf(GroupToGroupRole) {
			appendDest(gg.WriterEndpoint)
		}
		return dests, nil
	}

	// Entity namespace kinds: every shard group stores them.
	for _, role := range accessmgr.Roles {
		for _, g := range cfg.GroupsOf(role) {
			appendDest(g.WriterEndpoint)
		}
	}
	return dests, nil
}

// query routes a shard-local query to the group owning hash for the role.
func (c *Client) query(ctx context.Context, role Role, hash int32, q QueryRequest) (QueryResponse, error) {
	g, err := c.Configuration().GroupFor(role, hash)
	if err != nil {
		return QueryResponse{}, err
	}
	return c.transport.Query(ctx, g.QueryEndpoint(), q)
}

// fanout runs q against every group of the role concurrently and hands each
// response to merge under a mutex.
func (c *Client) fanout(ctx context.Context, role Role, q QueryRequest, merge func(QueryResponse)) error {
	groups := c.Configuration().GroupsOf(role)
	var mu sync.Mutex
	tr := accessmgr.NewTaskRunner(ctx, fanoutWidth)
	for _, g := range groups {
		endpoint := g.QueryEndpoint()
		tr.Go(func() error {
			resp, err := c.transport.Query(tr.GetContext(), endpoint, q)
			if err != nil {
				return err
			}
			mu.Lock()
			merge(resp)
			mu.Unlock()
			return nil
		})
	}
	return tr.Wait()
}

// GetUsers unions the user sets of all user shards.
func (c *Client) GetUsers(ctx context.Context) ([]string, error) {
	var all []string
	err := c.fanout(ctx, UserRole, QueryRequest{Op: OpGetUsers}, func(r QueryResponse) {
		all = append(all, r.Items...)
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(all)
	return all, nil
}

// GetGroups unions the group sets of all group shards.
func (c *Client) GetGroups(ctx context.Context) ([]string, error) {
	var all []string
	err := c.fanout(ctx, GroupRole, QueryRequest{Op: OpGetGroups}, func(r QueryResponse) {
		all = append(all, r.Items...)
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(all)
	return all, nil
}

// GetEntityTypes reads the entity type namespace. Entity events replicate to
// every shard, so any single shard answers authoritatively.
func (c *Client) GetEntityTypes(ctx context.Context) ([]string, error) {
	resp, err := c.anyShardQuery(ctx, QueryRequest{Op: OpGetEntityTypes})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetEntities reads the entities of one entity type from any shard.
func (c *Client) GetEntities(ctx context.Context, entityType string) ([]string, error) {
	resp, err := c.anyShardQuery(ctx, QueryRequest{Op: OpGetEntities, EntityType: entityType})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// anyShardQuery sends q to the first configured shard group, preferring the
// user role.
func (c *Client) anyShardQuery(ctx context.Context, q QueryRequest) (QueryResponse, error) {
	cfg := c.Configuration()
	for _, role := range accessmgr.Roles {
		groups := cfg.GroupsOf(role)
		if len(groups) > 0 {
			return c.transport.Query(ctx, groups[0].QueryEndpoint(), q)
		}
	}
	return QueryResponse{}, accessmgr.NewError(accessmgr.NotFoundError, "no shard groups configured")
}

// ContainsUser asks the user's owning shard.
func (c *Client) ContainsUser(ctx context.Context, user string) (bool, error) {
	resp, err := c.query(ctx, UserRole, accessmgr.Hash32(user), QueryRequest{Op: OpContainsUser, User: user})
	return resp.Has, err
}

// ContainsGroup asks the group's owning shard.
func (c *Client) ContainsGroup(ctx context.Context, group string) (bool, error) {
	resp, err := c.query(ctx, GroupRole, accessmgr.Hash32(group), QueryRequest{Op: OpContainsGroup, Group: group})
	return resp.Has, err
}

// GetUserToGroupMappings returns the user's groups. Direct memberships come
// from the user's shard; the transitive expansion runs on the group-to-group
// singleton, which holds the whole membership graph.
func (c *Client) GetUserToGroupMappings(ctx context.Context, user string, includeIndirect bool) ([]string, error) {
	direct, err := c.query(ctx, UserRole, accessmgr.Hash32(user),
		QueryRequest{Op: OpGetUserToGroupMappings, User: user})
	if err != nil {
		return nil, err
	}
	if !includeIndirect {
		return direct.Items, nil
	}

	set := map[string]struct{}{}
	for _, g := range direct.Items {
		set[g] = struct{}{}
	}
	for _, g := range direct.Items {
		resp, err := c.query(ctx, GroupToGroupRole, accessmgr.Hash32(g),
			QueryRequest{Op: OpGetGroupToGroupMappings, Group: g, IncludeIndirect: true})
		if err != nil {
			return nil, err
		}
		for _, gg := range resp.Items {
			set[gg] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

// GetGroupToGroupMappings returns the groups a group maps into, from the
// group-to-group singleton.
func (c *Client) GetGroupToGroupMappings(ctx context.Context, group string, includeIndirect bool) ([]string, error) {
	resp, err := c.query(ctx, GroupToGroupRole, accessmgr.Hash32(group),
		QueryRequest{Op: OpGetGroupToGroupMappings, Group: group, IncludeIndirect: includeIndirect})
	return resp.Items, err
}

// GetGroupToUserMappings returns the users belonging to group. Direct members
// live on the user shards; with includeIndirect the member-group closure is
// walked on the group-to-group singleton first, then every user shard is
// asked for members of each group in the closure.
func (c *Client) GetGroupToUserMappings(ctx context.Context, group string, includeIndirect bool) ([]string, error) {
	groups := []string{group}
	if includeIndirect {
		closure, err := c.memberGroupClosure(ctx, group)
		if err != nil {
			return nil, err
		}
		groups = closure
	}

	set := map[string]struct{}{}
	for _, g := range groups {
		err := c.fanout(ctx, UserRole, QueryRequest{Op: OpGetGroupMemberUsers, Group: g}, func(r QueryResponse) {
			for _, u := range r.Items {
				set[u] = struct{}{}
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return sortedKeys(set), nil
}

// memberGroupClosure walks the reverse membership edges on the
// group-to-group singleton: group plus every group whose membership chain
// leads into it.
func (c *Client) memberGroupClosure(ctx context.Context, group string) ([]string, error) {
	seen := map[string]struct{}{group: {}}
	frontier := []string{group}
	for len(frontier) > 0 {
		g := frontier[0]
		frontier = frontier[1:]
		resp, err := c.query(ctx, GroupToGroupRole, accessmgr.Hash32(g),
			QueryRequest{Op: OpGetGroupMemberGroups, Group: g})
		if err != nil {
			return nil, err
		}
		for _, member := range resp.Items {
			if _, ok := seen[member]; !ok {
				seen[member] = struct{}{}
				frontier = append(frontier, member)
			}
		}
	}
	return sortedKeys(seen), nil
}

// HasAccessToComponent checks the user's direct grants on the user shard,
// then ORs the grant checks of the user's transitive groups across their
// owning shards.
func (c *Client) HasAccessToComponent(ctx context.Context, user, component, accessLevel string) (bool, error) {
	direct, err := c.query(ctx, UserRole, accessmgr.Hash32(user),
		QueryRequest{Op: OpGetUserComponentMappings, User: user})
	if err != nil {
		return false, err
	}
	for _, g := range direct.Grants {
		if g.Component == component && g.AccessLevel == accessLevel {
			return true, nil
		}
	}

	groups, err := c.GetUserToGroupMappings(ctx, user, true)
	if err != nil {
		return false, err
	}
	return c.anyGroupHas(ctx, groups, QueryRequest{
		Op: OpHasGroupAccessToComponent, Component: component, AccessLevel: accessLevel,
	})
}

// HasAccessToEntity mirrors HasAccessToComponent for entity associations.
func (c *Client) HasAccessToEntity(ctx context.Context, user, entityType, entity string) (bool, error) {
	direct, err := c.query(ctx, UserRole, accessmgr.Hash32(user),
		QueryRequest{Op: OpGetUserEntityMappings, User: user})
	if err != nil {
		return false, err
	}
	for _, a := range direct.Associations {
		if a.EntityType == entityType && a.Entity == entity {
			return true, nil
		}
	}

	groups, err := c.GetUserToGroupMappings(ctx, user, true)
	if err != nil {
		return false, err
	}
	return c.anyGroupHas(ctx, groups, QueryRequest{
		Op: OpHasGroupAccessToEntity, EntityType: entityType, Entity: entity,
	})
}

// anyGroupHas fans the per-group boolean query out to each group's owning
// shard and ORs the answers.
func (c *Client) anyGroupHas(ctx context.Context, groups []string, q QueryRequest) (bool, error) {
	if len(groups) == 0 {
		return false, nil
	}
	var mu sync.Mutex
	has := false
	tr := accessmgr.NewTaskRunner(ctx, fanoutWidth)
	for _, group := range groups {
		group := group
		tr.Go(func() error {
			gq := q
			gq.Group = group
			resp, err := c.query(tr.GetContext(), GroupRole, accessmgr.Hash32(group), gq)
			if err != nil {
				return err
			}
			if resp.Has {
				mu.Lock()
				has = true
				mu.Unlock()
			}
			return nil
		})
	}
	if err := tr.Wait(); err != nil {
		return false, err
	}
	return has, nil
}

// GetAccessibleComponents unions the user's direct grants with those of the
// user's transitive groups.
func (c *Client) GetAccessibleComponents(ctx context.Context, user string) ([]store.ComponentGrant, error) {
	direct, err := c.query(ctx, UserRole, accessmgr.Hash32(user),
		QueryRequest{Op: OpGetUserComponentMappings, User: user})
	if err != nil {
		return nil, err
	}
	set := map[store.ComponentGrant]struct{}{}
	for _, g := range direct.Grants {
		set[g] = struct{}{}
	}

	groups, err := c.GetUserToGroupMappings(ctx, user, true)
	if err != nil {
		return nil, err
	}
	var mu sync.Mutex
	tr := accessmgr.NewTaskRunner(ctx, fanoutWidth)
	for _, group := range groups {
		group := group
		tr.Go(func() error {
			resp, err := c.query(tr.GetContext(), GroupRole, accessmgr.Hash32(group),
				QueryRequest{Op: OpGetGroupComponentMappings, Group: group})
			if err != nil {
				return err
			}
			mu.Lock()
			for _, g := range resp.Grants {
				set[g] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := tr.Wait(); err != nil {
		return nil, err
	}

	grants := make([]store.ComponentGrant, 0, len(set))
	for g := range set {
		grants = append(grants, g)
	}
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].Component != grants[j].Component {
			return grants[i].Component < grants[j].Component
		}
		return grants[i].AccessLevel < grants[j].AccessLevel
	})
	return grants, nil
}

// GetAccessibleEntities unions the user's direct entity associations with
// those of the user's transitive groups, filtered to entityType when
// non-empty.
func (c *Client) GetAccessibleEntities(ctx context.Context, user, entityType string) ([]store.EntityAssociation, error) {
	direct, err := c.query(ctx, UserRole, accessmgr.Hash32(user),
		QueryRequest{Op: OpGetUserEntityMappings, User: user})
	if err != nil {
		return nil, err
	}
	set := map[store.EntityAssociation]struct{}{}
	keep := func(a store.EntityAssociation) {
		if entityType == "" || a.EntityType == entityType {
			set[a] = struct{}{}
		}
	}
	for _, a := range direct.Associations {
		keep(a)
	}

	groups, err := c.GetUserToGroupMappings(ctx, user, true)
	if err != nil {
		return nil, err
	}
	var mu sync.Mutex
	tr := accessmgr.NewTaskRunner(ctx, fanoutWidth)
	for _, group := range groups {
		group := group
		tr.Go(func() error {
			resp, err := c.query(tr.GetContext(), GroupRole, accessmgr.Hash32(group),
				QueryRequest{Op: OpGetGroupEntityMappings, Group: group})
			if err != nil {
				return err
			}
			mu.Lock()
			for _, a := range resp.Associations {
				keep(a)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := tr.Wait(); err != nil {
		return nil, err
	}

	assocs := make([]store.EntityAssociation, 0, len(set))
	for a := range set {
		assocs = append(assocs, a)
	}
	sort.Slice(assocs, func(i, j int) bool {
		if assocs[i].EntityType != assocs[j].EntityType {
			return assocs[i].EntityType < assocs[j].EntityType
		}
		return assocs[i].Entity < assocs[j].Entity
	})
	return assocs, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
