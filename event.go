package accessmgr

import (
	"fmt"
	"time"
)

// EventAction says whether an event asserts or retracts a fact.
type EventAction string

const (
	Add    EventAction = "Add"
	Remove EventAction = "Remove"
)

// EventKind enumerates the ten event categories. The declaration order is the
// flush replay priority: primary elements first, then the mappings that
// reference them, so cascaded removes land before their primary remove and
// adds of referenced elements land before the mappings that need them.
type EventKind string

const (
	UserEvent             EventKind = "User"
	GroupEvent            EventKind = "Group"
	UserToGroupEvent      EventKind = "UserToGroup"
	GroupToGroupEvent     EventKind = "GroupToGroup"
	UserToComponentEvent  EventKind = "UserToComponent"
	GroupToComponentEvent EventKind = "GroupToComponent"
	EntityTypeEvent       EventKind = "EntityType"
	EntityEvent           EventKind = "Entity"
	UserToEntityEvent     EventKind = "UserToEntity"
	GroupToEntityEvent    EventKind = "GroupToEntity"
)

// EventKinds lists all kinds in replay-priority order.
var EventKinds = []EventKind{
	UserEvent, GroupEvent, UserToGroupEvent, GroupToGroupEvent,
	UserToComponentEvent, GroupToComponentEvent, EntityTypeEvent,
	EntityEvent, UserToEntityEvent, GroupToEntityEvent,
}

var kindPriority = func() map[EventKind]int {
	m := make(map[EventKind]int, len(EventKinds))
	for i, k := range EventKinds {
		m[k] = i
	}
	return m
}()

// Priority returns the replay priority of the kind; lower replays first on a
// flush-time occurredAt tie.
func (k EventKind) Priority() int {
	return kindPriority[k]
}

// IsPrimaryElement reports whether the kind is a user, group, entity type or
// entity (removal of these cascades to referencing mappings).
func (k EventKind) IsPrimaryElement() bool {
	switch k {
	case UserEvent, GroupEvent, EntityTypeEvent, EntityEvent:
		return true
	}
	return false
}

// EventPayload carries the identifiers an event refers to. Only the fields
// relevant to the event's kind are populated; the rest serialize away.
type EventPayload struct {
	User        string `json:"user,omitempty"`
	Group       string `json:"group,omitempty"`
	FromGroup   string `json:"fromGroup,omitempty"`
	ToGroup     string `json:"toGroup,omitempty"`
	Component   string `json:"component,omitempty"`
	AccessLevel string `json:"accessLevel,omitempty"`
	EntityType  string `json:"entityType,omitempty"`
	Entity      string `json:"entity,omitempty"`
}

// Event is the unit of change flowing through buffer, persistence, cache and
// readers. Immutable once persisted.
type Event struct {
	ID         UUID         `json:"id"`
	Action     EventAction  `json:"action"`
	Kind       EventKind    `json:"kind"`
	Payload    EventPayload `json:"payload"`
	OccurredAt Timestamp    `json:"occurredAt"`
	HashCode   int32        `json:"hashCode"`
}

// PrimaryKey returns the stable string the event is routed by: the user for
// user-side events, the group (from-group for group-to-group) for group-side
// events, and the entity type for entity events.
func (e Event) PrimaryKey() string {
	switch e.Kind {
	case UserEvent, UserToGroupEvent, UserToComponentEvent, UserToEntityEvent:
		return e.Payload.User
	case GroupEvent, GroupToComponentEvent, GroupToEntityEvent:
		return e.Payload.Group
	case GroupToGroupEvent:
		return e.Payload.FromGroup
	case EntityTypeEvent, EntityEvent:
		return e.Payload.EntityType
	}
	return ""
}

// NewEvent builds an event with a fresh id and the routing hash of its
// primary key. OccurredAt is left zero; the buffering writer assigns it.
func NewEvent(action EventAction, kind EventKind, payload EventPayload) Event {
	e := Event{
		ID:      NewUUID(),
		Action:  action,
		Kind:    kind,
		Payload: payload,
	}
	e.HashCode = Hash32(e.PrimaryKey())
	return e
}

// String renders a short human readable form for logs.
func (e Event) String() string {
	return fmt.Sprintf("%s %s %s(%s)", e.ID, e.Action, e.Kind, e.PrimaryKey())
}

// TimestampEpsilon is the smallest representable occurredAt increment: one
// tick of the 7-digit fractional second wire format.
const TimestampEpsilon = 100 * time.Nanosecond

// timestampLayout renders exactly seven fractional digits, UTC.
const timestampLayout = "2006-01-02T15:04:05.0000000Z"

// Timestamp is a UTC wall-clock time serialized with 7 fractional digits
// (100ns ticks), truncated to the tick on the way in so that round trips are
// loss-free.
type Timestamp struct {
	time.Time
}

// NewTimestamp converts t to a Timestamp, truncating to the 100ns tick.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(TimestampEpsilon)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(timestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	parsed, err := time.Parse(`"`+timestampLayout+`"`, string(b))
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// String renders the wire layout. The fixed-width form sorts
// lexicographically in chronological order, which the storage backends rely
// on for clustering.
func (t Timestamp) String() string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp parses the wire layout back into a Timestamp.
func ParseTimestamp(s string) (Timestamp, error) {
	parsed, err := time.Parse(timestampLayout, s)
	if err != nil {
		return Timestamp{}, err
	}
	return Timestamp{parsed}, nil
}

// FactKey identifies the fact an event asserts or retracts: an Add and the
// Remove undoing it share the key. Used by the persisters to maintain the
// temporal validity window of each fact.
func (e Event) FactKey() string {
	p := e.Payload
	return string(e.Kind) + "|" + p.User + "|" + p.Group + "|" + p.FromGroup + "|" + p.ToGroup + "|" +
		p.Component + "|" + p.AccessLevel + "|" + p.EntityType + "|" + p.Entity
}

// MaxTimestamp is the transactionTo sentinel for a currently valid fact.
var MaxTimestamp = NewTimestamp(time.Date(9999, 12, 31, 23, 59, 59, 999999900, time.UTC))

// Now lambda to allow unit tests to inject replayable time.Now.
var Now = time.Now
