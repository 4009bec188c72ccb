package accessmgr

import (
	"encoding/json"
	"sort"
	"testing"
	"time"
)

func TestTimestampWireRoundTrip(t *testing.T) {
	orig := NewTimestamp(time.Date(2026, 3, 14, 9, 26, 53, 589793200, time.UTC))
	s := orig.String()
	if s != "2026-03-14T09:26:53.5897932Z" {
		t.Fatalf("wire form = %q", s)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Equal(orig.Time) {
		t.Errorf("round trip drifted: %v != %v", parsed, orig)
	}
}

func TestTimestampTruncatesToTick(t *testing.T) {
	// Sub-tick nanoseconds must not survive, or round trips would be lossy.
	raw := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)
	ts := NewTimestamp(raw)
	if ts.Nanosecond() != 123456700 {
		t.Errorf("nanoseconds = %d, want truncated to 100ns tick", ts.Nanosecond())
	}
	reparsed, err := ParseTimestamp(ts.String())
	if err != nil {
		t.Fatal(err)
	}
	if !reparsed.Equal(ts.Time) {
		t.Errorf("lossy round trip: %v != %v", reparsed, ts)
	}
}

func TestTimestampStringOrderIsChronological(t *testing.T) {
	// Storage backends cluster on the wire string; lexicographic order must
	// match time order across digit-width boundaries.
	times := []Timestamp{
		NewTimestamp(time.Date(999, 1, 1, 0, 0, 0, 0, time.UTC)),
		NewTimestamp(time.Date(2026, 8, 24, 9, 59, 59, 999999900, time.UTC)),
		NewTimestamp(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)),
		MaxTimestamp,
	}
	strs := make([]string, len(times))
	for i, ts := range times {
		strs[i] = ts.String()
	}
	if !sort.StringsAreSorted(strs) {
		t.Errorf("wire strings not in chronological order: %v", strs)
	}
}

func TestTimestampJSON(t *testing.T) {
	ts := NewTimestamp(time.Date(2026, 8, 24, 12, 0, 0, 100, time.UTC))
	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"2026-08-24T12:00:00.0000001Z"` {
		t.Errorf("marshaled = %s", data)
	}
	var back Timestamp
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Equal(ts.Time) {
		t.Errorf("unmarshal drifted: %v != %v", back, ts)
	}
}

func TestNewEventAssignsIdentityAndHash(t *testing.T) {
	e := NewEvent(Add, UserToGroupEvent, EventPayload{User: "alice", Group: "eng"})
	if e.ID.IsNil() {
		t.Error("event id not assigned")
	}
	if e.PrimaryKey() != "alice" {
		t.Errorf("primary key = %q, want the user", e.PrimaryKey())
	}
	if e.HashCode != Hash32("alice") {
		t.Errorf("hash code = %d, want Hash32 of primary key", e.HashCode)
	}
	if !e.OccurredAt.IsZero() {
		t.Error("occurredAt must stay zero until the writer assigns it")
	}
}

func TestPrimaryKeyPerKind(t *testing.T) {
	p := EventPayload{
		User: "u", Group: "g", FromGroup: "fg", ToGroup: "tg",
		Component: "c", AccessLevel: "al", EntityType: "et", Entity: "e",
	}
	cases := map[EventKind]string{
		UserEvent:             "u",
		UserToGroupEvent:      "u",
		UserToComponentEvent:  "u",
		UserToEntityEvent:     "u",
		GroupEvent:            "g",
		GroupToComponentEvent: "g",
		GroupToEntityEvent:    "g",
		GroupToGroupEvent:     "fg",
		EntityTypeEvent:       "et",
		EntityEvent:           "et",
	}
	for kind, want := range cases {
		if got := (Event{Kind: kind, Payload: p}).PrimaryKey(); got != want {
			t.Errorf("%s primary key = %q, want %q", kind, got, want)
		}
	}
}

func TestKindPriorityFollowsDeclarationOrder(t *testing.T) {
	if UserEvent.Priority() >= UserToGroupEvent.Priority() {
		t.Error("user adds must replay before the mappings that reference them")
	}
	for i, k := range EventKinds {
		if k.Priority() != i {
			t.Errorf("%s priority = %d, want %d", k, k.Priority(), i)
		}
	}
}

func TestFactKeySharedByAddAndRemove(t *testing.T) {
	p := EventPayload{User: "alice", Group: "eng"}
	add := NewEvent(Add, UserToGroupEvent, p)
	rem := NewEvent(Remove, UserToGroupEvent, p)
	if add.FactKey() != rem.FactKey() {
		t.Errorf("add/remove fact keys differ: %q vs %q", add.FactKey(), rem.FactKey())
	}
	other := NewEvent(Add, UserToGroupEvent, EventPayload{User: "alice", Group: "ops"})
	if add.FactKey() == other.FactKey() {
		t.Error("distinct facts share a key")
	}
	// Kind participates: same fields under another kind is another fact.
	g2g := NewEvent(Add, GroupToGroupEvent, EventPayload{FromGroup: "alice", ToGroup: "eng"})
	if add.FactKey() == g2g.FactKey() {
		t.Error("kinds must not collide in the fact key")
	}
}

func TestHash32Stability(t *testing.T) {
	// FNV-1a of "alice"; routing depends on this never changing.
	if got := Hash32("alice"); got != Hash32("alice") {
		t.Fatalf("hash not deterministic")
	}
	if Hash32("alice") == Hash32("bob") {
		t.Error("distinct keys collide in the test vector")
	}
	// Signed reinterpretation of the FNV-1a offset basis.
	if Hash32("") != -2128831035 {
		t.Errorf("empty-key hash = %d, want the FNV offset basis", Hash32(""))
	}
}
