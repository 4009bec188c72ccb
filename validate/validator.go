// Package validate implements the event validator: a dry-run apply of each
// incoming event over a private shadow store, plus cascade synthesis for
// removes of primary elements.
package validate

import (
	"sort"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/store"
)

// Validator checks referential validity of incoming events and, for removes
// of primary elements, synthesizes the ordered sequence of secondary Remove
// events that must precede the primary. The shadow store is private to the
// validator and never locked; the validator must be confined to the writer's
// event-generation goroutine.
type Validator struct {
	shadow *store.AccessManager
}

// New returns a validator with an empty shadow store.
func New() *Validator {
	return &Validator{shadow: store.New(false, true)}
}

// Shadow exposes the shadow store for load-time priming (rehydrating a
// writer from persisted state).
func (v *Validator) Shadow() *store.AccessManager {
	return v.shadow
}

// Validate dry-runs the primary event. On success the shadow store has the
// event (and any cascade) applied, and the returned slice holds the
// secondary Remove events to enqueue before the primary, in order. On
// failure the shadow is unchanged and the validation error is returned.
func (v *Validator) Validate(primary accessmgr.Event) ([]accessmgr.Event, error) {
	var prepends []accessmgr.Event
	if primary.Action == accessmgr.Remove && primary.Kind.IsPrimaryElement() {
		prepends = v.cascade(primary)
	}
	// Apply prepends first so the primary's own referential check sees the
	// post-cascade state.
	for i, e := range prepends {
		if err := v.shadow.ApplyEvent(e); err != nil {
			// Roll the partial cascade back by re-adding is not possible in
			// general; cascades are derived from shadow state so a failure
			// here is an invariant violation, not a validation outcome.
			v.rollback(prepends[:i])
			return nil, err
		}
	}
	if err := v.shadow.ApplyEvent(primary); err != nil {
		v.rollback(prepends)
		return nil, err
	}
	return prepends, nil
}

// rollback re-applies the inverse of already applied cascade events. Cascade
// events are always mapping removes (or entity removes), whose inverse is
// the corresponding Add.
func (v *Validator) rollback(applied []accessmgr.Event) {
	for i := len(applied) - 1; i >= 0; i-- {
		e := applied[i]
		inverse := e
		inverse.Action = accessmgr.Add
		// Best effort; the shadow already held these facts a moment ago.
		_ = v.shadow.ApplyEvent(inverse)
	}
}

// cascade synthesizes the secondary Remove events for a primary-element
// remove, ordered mappings-first so each event is individually valid.
func (v *Validator) cascade(primary accessmgr.Event) []accessmgr.Event {
	p := primary.Payload
	var r []accessmgr.Event
	switch primary.Kind {
	case accessmgr.UserEvent:
		r = append(r, v.userMappingRemoves(p.User)...)
	case accessmgr.GroupEvent:
		r = append(r, v.groupMappingRemoves(p.Group)...)
	case accessmgr.EntityTypeEvent:
		entities, err := v.shadow.GetEntities(p.EntityType)
		if err != nil {
			return nil
		}
		sort.Strings(entities)
		for _, entity := range entities {
			r = append(r, v.entityMappingRemoves(p.EntityType, entity)...)
			r = append(r, accessmgr.NewEvent(accessmgr.Remove, accessmgr.EntityEvent,
				accessmgr.EventPayload{EntityType: p.EntityType, Entity: entity}))
		}
	case accessmgr.EntityEvent:
		r = append(r, v.entityMappingRemoves(p.EntityType, p.Entity)...)
	}
	return r
}

func (v *Validator) userMappingRemoves(user string) []accessmgr.Event {
	var r []accessmgr.Event
	groups := v.shadow.GetUserGroupMemberships(user)
	sort.Strings(groups)
	for _, g := range groups {
		r = append(r, accessmgr.NewEvent(accessmgr.Remove, accessmgr.UserToGroupEvent,
			accessmgr.EventPayload{User: user, Group: g}))
	}
	grants := v.shadow.GetUserComponentMappings(user)
	sortGrants(grants)
	for _, cl := range grants {
		r = append(r, accessmgr.NewEvent(accessmgr.Remove, accessmgr.UserToComponentEvent,
			accessmgr.EventPayload{User: user, Component: cl.Component, AccessLevel: cl.AccessLevel}))
	}
	assocs := v.shadow.GetUserEntityMappings(user)
	sortAssociations(assocs)
	for _, a := range assocs {
		r = append(r, accessmgr.NewEvent(accessmgr.Remove, accessmgr.UserToEntityEvent,
			accessmgr.EventPayload{User: user, EntityType: a.EntityType, Entity: a.Entity}))
	}
	return r
}

func (v *Validator) groupMappingRemoves(group string) []accessmgr.Event {
	var r []accessmgr.Event
	users, memberGroups := v.shadow.GetGroupMembers(group)
	sort.Strings(users)
	for _, u := range users {
		r = append(r, accessmgr.NewEvent(accessmgr.Remove, accessmgr.UserToGroupEvent,
			accessmgr.EventPayload{User: u, Group: group}))
	}
	sort.Strings(memberGroups)
	for _, mg := range memberGroups {
		r = append(r, accessmgr.NewEvent(accessmgr.Remove, accessmgr.GroupToGroupEvent,
			accessmgr.EventPayload{FromGroup: mg, ToGroup: group}))
	}
	targets := v.shadow.GetGroupMemberships(group)
	sort.Strings(targets)
	for _, tg := range targets {
		r = append(r, accessmgr.NewEvent(accessmgr.Remove, accessmgr.GroupToGroupEvent,
			accessmgr.EventPayload{FromGroup: group, ToGroup: tg}))
	}
	grants := v.shadow.GetGroupComponentMappings(group)
	sortGrants(grants)
	for _, cl := range grants {
		r = append(r, accessmgr.NewEvent(accessmgr.Remove, accessmgr.GroupToComponentEvent,
			accessmgr.EventPayload{Group: group, Component: cl.Component, AccessLevel: cl.AccessLevel}))
	}
	assocs := v.shadow.GetGroupEntityMappings(group)
	sortAssociations(assocs)
	for _, a := range assocs {
		r = append(r, accessmgr.NewEvent(accessmgr.Remove, accessmgr.GroupToEntityEvent,
			accessmgr.EventPayload{Group: group, EntityType: a.EntityType, Entity: a.Entity}))
	}
	return r
}

func (v *Validator) entityMappingRemoves(entityType, entity string) []accessmgr.Event {
	var r []accessmgr.Event
	users := v.shadow.GetEntityUserMappings(entityType, entity)
	sort.Strings(users)
	for _, u := range users {
		r = append(r, accessmgr.NewEvent(accessmgr.Remove, accessmgr.UserToEntityEvent,
			accessmgr.EventPayload{User: u, EntityType: entityType, Entity: entity}))
	}
	groups := v.shadow.GetEntityGroupMappings(entityType, entity)
	sort.Strings(groups)
	for _, g := range groups {
		r = append(r, accessmgr.NewEvent(accessmgr.Remove, accessmgr.GroupToEntityEvent,
			accessmgr.EventPayload{Group: g, EntityType: entityType, Entity: entity}))
	}
	return r
}

func sortGrants(grants []store.ComponentGrant) {
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].Component != grants[j].Component {
			return grants[i].Component < grants[j].Component
		}
		return grants[i].AccessLevel < grants[j].AccessLevel
	})
}

func sortAssociations(assocs []store.EntityAssociation) {
	sort.Slice(assocs, func(i, j int) bool {
		if assocs[i].EntityType != assocs[j].EntityType {
			return assocs[i].EntityType < assocs[j].EntityType
		}
		return assocs[i].Entity < assocs[j].Entity
	})
}
