package accessmgr

// Role partitions the event space into independently sharded stores.
type Role string

const (
	UserRole  Role = "User"
	GroupRole Role = "Group"
	// GroupToGroupRole is a singleton: one shard group holds the whole
	// group-to-group mapping graph so cycle checks see every edge.
	GroupToGroupRole Role = "GroupToGroup"
)

// Roles lists all roles.
var Roles = []Role{UserRole, GroupRole, GroupToGroupRole}

// RoleForKind returns the role owning events of kind, and whether the kind
// is broadcast instead of hash-routed. Group adds/removes and entity
// namespace events are replicated beyond their owner so referential checks
// succeed on every shard that stores mappings to them.
func RoleForKind(kind EventKind) (role Role, broadcast bool) {
	switch kind {
	case UserEvent, UserToGroupEvent, UserToComponentEvent, UserToEntityEvent:
		return UserRole, false
	case GroupEvent:
		return GroupRole, true
	case GroupToComponentEvent, GroupToEntityEvent:
		return GroupRole, false
	case GroupToGroupEvent:
		return GroupToGroupRole, false
	}
	// Entity type and entity events.
	return "", true
}

// RangeOwned reports whether the event is owned by its shard's hash range
// under the given role. Broadcast kinds, and kinds belonging to another
// role, are replicas: they are copied unconditionally on a split and are
// never deleted by a range delete.
func (e Event) RangeOwned(role Role) bool {
	owner, _ := RoleForKind(e.Kind)
	return owner == role
}
