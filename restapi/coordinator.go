package restapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/accessmgr"
)

// mountCoordinator adds the externally facing ingress and query routes,
// served by routing events and decomposed queries through the shard client.
func (s *Server) mountCoordinator(v1 *gin.RouterGroup) {
	v1.POST("/users", s.addElement(accessmgr.UserEvent))
	v1.DELETE("/users/:user", s.removeUser)
	v1.POST("/groups", s.addElement(accessmgr.GroupEvent))
	v1.DELETE("/groups/:group", s.removeGroup)
	v1.POST("/entity-types", s.addElement(accessmgr.EntityTypeEvent))
	v1.DELETE("/entity-types/:type", s.removeEntityType)
	v1.POST("/entity-types/:type/entities", s.addEntity)
	v1.DELETE("/entity-types/:type/entities/:entity", s.removeEntity)

	v1.POST("/mappings", s.addMapping)
	v1.DELETE("/mappings", s.removeMapping)

	v1.GET("/users", s.getUsers)
	v1.GET("/groups", s.getGroups)
	v1.GET("/entity-types", s.getEntityTypes)
	v1.GET("/entity-types/:type/entities", s.getEntities)
	v1.GET("/users/:user/groups", s.getUserGroups)
	v1.GET("/groups/:group/groups", s.getGroupGroups)
	v1.GET("/groups/:group/users", s.getGroupUsers)
	v1.GET("/users/:user/components", s.getUserComponents)
	v1.GET("/users/:user/entities", s.getUserEntities)
	v1.GET("/access/component", s.checkComponentAccess)
	v1.GET("/access/entity", s.checkEntityAccess)
}

// elementRequest is the generic add-element body; only the fields the event
// kind needs are read.
type elementRequest struct {
	User       string `json:"user"`
	Group      string `json:"group"`
	EntityType string `json:"entityType"`
	Entity     string `json:"entity"`
}

// mappingRequest names both endpoints of a mapping add or remove; the kind
// selects which fields apply.
type mappingRequest struct {
	Kind        accessmgr.EventKind `json:"kind"`
	User        string              `json:"user"`
	Group       string              `json:"group"`
	FromGroup   string              `json:"fromGroup"`
	ToGroup     string              `json:"toGroup"`
	Component   string              `json:"component"`
	AccessLevel string              `json:"accessLevel"`
	EntityType  string              `json:"entityType"`
	Entity      string              `json:"entity"`
}

func (s *Server) route(c *gin.Context, action accessmgr.EventAction, kind accessmgr.EventKind, payload accessmgr.EventPayload, okStatus int) {
	e := accessmgr.NewEvent(action, kind, payload)
	if e.PrimaryKey() == "" {
		s.writeError(c, accessmgr.NewError(accessmgr.ArgumentNilError, "missing identifier for "+string(kind)))
		return
	}
	if err := s.client.RouteEvent(c.Request.Context(), e); err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(okStatus, gin.H{"eventId": e.ID})
}

func (s *Server) addElement(kind accessmgr.EventKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req elementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, accessmgr.NewError(accessmgr.ArgumentError, err.Error()))
			return
		}
		payload := accessmgr.EventPayload{
			User: req.User, Group: req.Group, EntityType: req.EntityType, Entity: req.Entity,
		}
		s.route(c, accessmgr.Add, kind, payload, http.StatusCreated)
	}
}

func (s *Server) removeUser(c *gin.Context) {
	s.route(c, accessmgr.Remove, accessmgr.UserEvent,
		accessmgr.EventPayload{User: c.Param("user")}, http.StatusOK)
}

func (s *Server) removeGroup(c *gin.Context) {
	s.route(c, accessmgr.Remove, accessmgr.GroupEvent,
		accessmgr.EventPayload{Group: c.Param("group")}, http.StatusOK)
}

func (s *Server) removeEntityType(c *gin.Context) {
	s.route(c, accessmgr.Remove, accessmgr.EntityTypeEvent,
		accessmgr.EventPayload{EntityType: c.Param("type")}, http.StatusOK)
}

func (s *Server) addEntity(c *gin.Context) {
	var req elementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, accessmgr.NewError(accessmgr.ArgumentError, err.Error()))
		return
	}
	s.route(c, accessmgr.Add, accessmgr.EntityEvent,
		accessmgr.EventPayload{EntityType: c.Param("type"), Entity: req.Entity}, http.StatusCreated)
}

func (s *Server) removeEntity(c *gin.Context) {
	s.route(c, accessmgr.Remove, accessmgr.EntityEvent,
		accessmgr.EventPayload{EntityType: c.Param("type"), Entity: c.Param("entity")}, http.StatusOK)
}

func (s *Server) addMapping(c *gin.Context) {
	s.mapping(c, accessmgr.Add, http.StatusCreated)
}

func (s *Server) removeMapping(c *gin.Context) {
	s.mapping(c, accessmgr.Remove, http.StatusOK)
}

func (s *Server) mapping(c *gin.Context, action accessmgr.EventAction, okStatus int) {
	var req mappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, accessmgr.NewError(accessmgr.ArgumentError, err.Error()))
		return
	}
	switch req.Kind {
	case accessmgr.UserToGroupEvent, accessmgr.GroupToGroupEvent, accessmgr.UserToComponentEvent,
		accessmgr.GroupToComponentEvent, accessmgr.UserToEntityEvent, accessmgr.GroupToEntityEvent:
	default:
		s.writeError(c, accessmgr.NewError(accessmgr.ArgumentError, "not a mapping event kind", string(req.Kind)))
		return
	}
	payload := accessmgr.EventPayload{
		User: req.User, Group: req.Group, FromGroup: req.FromGroup, ToGroup: req.ToGroup,
		Component: req.Component, AccessLevel: req.AccessLevel,
		EntityType: req.EntityType, Entity: req.Entity,
	}
	s.route(c, action, req.Kind, payload, okStatus)
}

func (s *Server) getUsers(c *gin.Context) {
	users, err := s.client.GetUsers(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, users)
}

func (s *Server) getGroups(c *gin.Context) {
	groups, err := s.client.GetGroups(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, groups)
}

func (s *Server) getEntityTypes(c *gin.Context) {
	types, err := s.client.GetEntityTypes(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, types)
}

func (s *Server) getEntities(c *gin.Context) {
	entities, err := s.client.GetEntities(c.Request.Context(), c.Param("type"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, entities)
}

func indirect(c *gin.Context) bool {
	return c.Query("indirect") == "true"
}

func (s *Server) getUserGroups(c *gin.Context) {
	groups, err := s.client.GetUserToGroupMappings(c.Request.Context(), c.Param("user"), indirect(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, groups)
}

func (s *Server) getGroupGroups(c *gin.Context) {
	groups, err := s.client.GetGroupToGroupMappings(c.Request.Context(), c.Param("group"), indirect(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, groups)
}

func (s *Server) getGroupUsers(c *gin.Context) {
	users, err := s.client.GetGroupToUserMappings(c.Request.Context(), c.Param("group"), indirect(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, users)
}

func (s *Server) getUserComponents(c *gin.Context) {
	grants, err := s.client.GetAccessibleComponents(c.Request.Context(), c.Param("user"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, grants)
}

func (s *Server) getUserEntities(c *gin.Context) {
	assocs, err := s.client.GetAccessibleEntities(c.Request.Context(), c.Param("user"), c.Query("entityType"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, assocs)
}

func (s *Server) checkComponentAccess(c *gin.Context) {
	has, err := s.client.HasAccessToComponent(c.Request.Context(),
		c.Query("user"), c.Query("component"), c.Query("accessLevel"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"has": has})
}

func (s *Server) checkEntityAccess(c *gin.Context) {
	has, err := s.client.HasAccessToEntity(c.Request.Context(),
		c.Query("user"), c.Query("entityType"), c.Query("entity"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"has": has})
}
