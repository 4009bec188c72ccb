package shard

import (
	"math"
	"testing"

	"github.com/sharedcode/accessmgr"
)

func TestConfigurationValidate(t *testing.T) {
	cfg := NewConfiguration()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty configuration should validate, got %v", err)
	}

	cfg = cfg.WithGroup(Group{Name: "u1", Role: UserRole, HashRangeStart: 0, WriterEndpoint: "http://u1"})
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when no group covers MinInt32")
	}

	cfg = cfg.WithGroup(Group{Name: "u0", Role: UserRole, HashRangeStart: math.MinInt32, WriterEndpoint: "http://u0"})
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid configuration, got %v", err)
	}

	dup := cfg.WithGroup(Group{Name: "g0", Role: GroupToGroupRole, HashRangeStart: math.MinInt32, WriterEndpoint: "http://gg0"}).
		WithGroup(Group{Name: "g1", Role: GroupToGroupRole, HashRangeStart: 100, WriterEndpoint: "http://gg1"})
	if err := dup.Validate(); err == nil {
		t.Fatal("expected error for a non-singleton group-to-group role")
	}
}

func TestGroupForAndRangeEnd(t *testing.T) {
	cfg := NewConfiguration().
		WithGroup(Group{Name: "u0", Role: UserRole, HashRangeStart: math.MinInt32, WriterEndpoint: "http://u0"}).
		WithGroup(Group{Name: "u1", Role: UserRole, HashRangeStart: 0, WriterEndpoint: "http://u1"})

	cases := []struct {
		hash int32
		want string
	}{
		{math.MinInt32, "u0"},
		{-1, "u0"},
		{0, "u1"},
		{math.MaxInt32, "u1"},
	}
	for _, c := range cases {
		g, err := cfg.GroupFor(UserRole, c.hash)
		if err != nil {
			t.Fatalf("GroupFor(%d): %v", c.hash, err)
		}
		if g.Name != c.want {
			t.Errorf("GroupFor(%d) = %s, want %s", c.hash, g.Name, c.want)
		}
	}

	u0, _ := cfg.GroupFor(UserRole, -1)
	if end := cfg.RangeEnd(u0); end != -1 {
		t.Errorf("RangeEnd(u0) = %d, want -1", end)
	}
	u1, _ := cfg.GroupFor(UserRole, 0)
	if end := cfg.RangeEnd(u1); end != math.MaxInt32 {
		t.Errorf("RangeEnd(u1) = %d, want MaxInt32", end)
	}

	if _, err := cfg.GroupFor(GroupRole, 0); accessmgr.CodeOf(err) != accessmgr.NotFoundError {
		t.Errorf("expected NotFoundError for unconfigured role, got %v", err)
	}
}

func TestConfigurationCopyOnWrite(t *testing.T) {
	base := NewConfiguration().
		WithGroup(Group{Name: "u0", Role: UserRole, HashRangeStart: math.MinInt32, WriterEndpoint: "http://u0"})
	if base.Generation != 1 {
		t.Fatalf("generation = %d, want 1", base.Generation)
	}

	next := base.WithGroup(Group{Name: "u1", Role: UserRole, HashRangeStart: 0, WriterEndpoint: "http://u1"})
	if next.Generation != 2 {
		t.Errorf("generation = %d, want 2", next.Generation)
	}
	if len(base.Groups[UserRole]) != 1 {
		t.Errorf("base mutated: %d user groups", len(base.Groups[UserRole]))
	}

	// Replacing by range start keeps the group count.
	replaced := next.WithGroup(Group{Name: "u1b", Role: UserRole, HashRangeStart: 0, WriterEndpoint: "http://u1b"})
	if len(replaced.Groups[UserRole]) != 2 {
		t.Fatalf("expected replacement, got %d groups", len(replaced.Groups[UserRole]))
	}
	g, _ := replaced.GroupFor(UserRole, 0)
	if g.Name != "u1b" {
		t.Errorf("GroupFor(0) = %s, want u1b", g.Name)
	}

	removed := replaced.WithoutGroup(UserRole, 0)
	if len(removed.Groups[UserRole]) != 1 {
		t.Errorf("expected 1 group after removal, got %d", len(removed.Groups[UserRole]))
	}
}
