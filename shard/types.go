package shard

import (
	"context"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/store"
)

// QueryOp names a shard-local query evaluated against a reader's store.
type QueryOp string

const (
	OpContainsUser               QueryOp = "ContainsUser"
	OpContainsGroup              QueryOp = "ContainsGroup"
	OpGetUsers                   QueryOp = "GetUsers"
	OpGetGroups                  QueryOp = "GetGroups"
	OpGetEntityTypes             QueryOp = "GetEntityTypes"
	OpGetEntities                QueryOp = "GetEntities"
	OpGetUserToGroupMappings     QueryOp = "GetUserToGroupMappings"
	OpGetGroupToGroupMappings    QueryOp = "GetGroupToGroupMappings"
	OpHasUserAccessToComponent   QueryOp = "HasUserAccessToComponent"
	OpHasGroupAccessToComponent  QueryOp = "HasGroupAccessToComponent"
	OpHasUserAccessToEntity      QueryOp = "HasUserAccessToEntity"
	OpHasGroupAccessToEntity     QueryOp = "HasGroupAccessToEntity"
	OpGetGroupMemberUsers        QueryOp = "GetGroupMemberUsers"
	OpGetGroupMemberGroups       QueryOp = "GetGroupMemberGroups"
	OpGetUserComponentMappings   QueryOp = "GetUserComponentMappings"
	OpGetGroupComponentMappings  QueryOp = "GetGroupComponentMappings"
	OpGetUserEntityMappings      QueryOp = "GetUserEntityMappings"
	OpGetGroupEntityMappings     QueryOp = "GetGroupEntityMappings"
)

// QueryRequest is the wire form of a shard-local query.
type QueryRequest struct {
	Op              QueryOp `json:"op"`
	User            string  `json:"user,omitempty"`
	Group           string  `json:"group,omitempty"`
	Component       string  `json:"component,omitempty"`
	AccessLevel     string  `json:"accessLevel,omitempty"`
	EntityType      string  `json:"entityType,omitempty"`
	Entity          string  `json:"entity,omitempty"`
	IncludeIndirect bool    `json:"includeIndirect,omitempty"`
}

// QueryResponse is the wire form of a shard-local query result; the
// populated field depends on the op.
type QueryResponse struct {
	Has          bool                      `json:"has,omitempty"`
	Items        []string                  `json:"items,omitempty"`
	Grants       []store.ComponentGrant    `json:"grants,omitempty"`
	Associations []store.EntityAssociation `json:"associations,omitempty"`
}

// Transport carries routed calls to remote shard group nodes. The default
// is JSON over HTTP; tests substitute in-process fakes.
type Transport interface {
	// SendEvents delivers an ordered event batch to a writer endpoint.
	SendEvents(ctx context.Context, endpoint string, events []accessmgr.Event) error
	// Query evaluates a shard-local query on a reader endpoint.
	Query(ctx context.Context, endpoint string, q QueryRequest) (QueryResponse, error)
	// ProcessingCount reads a writer's event processing status metric.
	ProcessingCount(ctx context.Context, endpoint string) (int64, error)
}

// QueryEndpoint returns the endpoint queries go to: the first reader, or
// the writer when the group has no readers yet.
func (g Group) QueryEndpoint() string {
	if len(g.ReaderEndpoints) > 0 {
		return g.ReaderEndpoints[0]
	}
	return g.WriterEndpoint
}

// Evaluate runs a shard-local query against a store. Used by the node-side
// query handler; shared here so in-process transports behave identically to
// the REST surface.
func Evaluate(am *store.AccessManager, q QueryRequest) (QueryResponse, error) {
	switch q.Op {
	case OpContainsUser:
		return QueryResponse{Has: am.ContainsUser(q.User)}, nil
	case OpContainsGroup:
		return QueryResponse{Has: am.ContainsGroup(q.Group)}, nil
	case OpGetUsers:
		return QueryResponse{Items: am.GetUsers()}, nil
	case OpGetGroups:
		return QueryResponse{Items: am.GetGroups()}, nil
	case OpGetEntityTypes:
		return QueryResponse{Items: am.GetEntityTypes()}, nil
	case OpGetEntities:
		items, err := am.GetEntities(q.EntityType)
		return QueryResponse{Items: items}, err
	case OpGetUserToGroupMappings:
		items, err := am.GetUserToGroupMappings(q.User, q.IncludeIndirect)
		return QueryResponse{Items: items}, err
	case OpGetGroupToGroupMappings:
		items, err := am.GetGroupToGroupMappings(q.Group, q.IncludeIndirect)
		return QueryResponse{Items: items}, err
	case OpHasUserAccessToComponent:
		has, err := am.HasAccessToComponent(q.User, q.Component, q.AccessLevel)
		return QueryResponse{Has: has}, err
	case OpHasGroupAccessToComponent:
		for _, g := range am.GetGroupComponentMappings(q.Group) {
			if g.Component == q.Component && g.AccessLevel == q.AccessLevel {
				return QueryResponse{Has: true}, nil
			}
		}
		return QueryResponse{}, nil
	case OpHasUserAccessToEntity:
		has, err := am.HasAccessToEntity(q.User, q.EntityType, q.Entity)
		return QueryResponse{Has: has}, err
	case OpHasGroupAccessToEntity:
		for _, a := range am.GetGroupEntityMappings(q.Group) {
			if a.EntityType == q.EntityType && a.Entity == q.Entity {
				return QueryResponse{Has: true}, nil
			}
		}
		return QueryResponse{}, nil
	case OpGetGroupMemberUsers:
		users, _ := am.GetGroupMembers(q.Group)
		return QueryResponse{Items: users}, nil
	case OpGetGroupMemberGroups:
		_, groups := am.GetGroupMembers(q.Group)
		return QueryResponse{Items: groups}, nil
	case OpGetUserComponentMappings:
		return QueryResponse{Grants: am.GetUserComponentMappings(q.User)}, nil
	case OpGetGroupComponentMappings:
		return QueryResponse{Grants: am.GetGroupComponentMappings(q.Group)}, nil
	case OpGetUserEntityMappings:
		return QueryResponse{Associations: am.GetUserEntityMappings(q.User)}, nil
	case OpGetGroupEntityMappings:
		return QueryResponse{Associations: am.GetGroupEntityMappings(q.Group)}, nil
	}
	return QueryResponse{}, accessmgr.NewError(accessmgr.ArgumentError, "unknown query op", string(q.Op))
}
