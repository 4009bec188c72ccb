package restapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/orchestration"
	"github.com/sharedcode/accessmgr/reader"
	"github.com/sharedcode/accessmgr/shard"
)

// Server assembles the gin routes for whatever parts this process hosts: a
// writer node, a reader node, the coordinator client and the orchestrator.
// Any of them may be nil; the corresponding routes are simply not mounted.
type Server struct {
	node   *WriterNode
	rdr    *reader.Reader
	client *shard.Client
	orch   *orchestration.Orchestrator
	opts   accessmgr.Options
}

// NewServer builds a server over the hosted components.
func NewServer(node *WriterNode, rdr *reader.Reader, client *shard.Client, orch *orchestration.Orchestrator, opts accessmgr.Options) *Server {
	return &Server{node: node, rdr: rdr, client: client, orch: orch, opts: opts.FillDefaults()}
}

// Engine mounts the routes and returns the engine, ready for Run.
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	if s.node != nil {
		v1.POST("/events", s.postEvents)
		v1.GET("/status", s.getStatus)
		v1.GET("/events/since/:id", s.getEventsSince)
	}
	if s.rdr != nil {
		v1.POST("/query", s.postQuery)
	}
	if s.client != nil {
		s.mountCoordinator(v1)
	}
	if s.orch != nil {
		s.mountManagement(v1)
	}
	return r
}

// postEvents is the writer ingress: an ordered batch from the routing
// client.
func (s *Server) postEvents(c *gin.Context) {
	if err := s.node.Trip().Guard(); err != nil {
		s.writeError(c, err)
		return
	}
	var events []accessmgr.Event
	if err := c.ShouldBindJSON(&events); err != nil {
		s.writeError(c, accessmgr.NewError(accessmgr.ArgumentError, err.Error()))
		return
	}
	for _, e := range events {
		if err := s.node.Buffer(e); err != nil {
			s.writeError(c, err)
			return
		}
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) getStatus(c *gin.Context) {
	n, err := s.node.ProcessingCount(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"processingCount": n})
}

// getEventsSince is the reader pull: the cached suffix after the given event
// id, "nil" for everything retained.
func (s *Server) getEventsSince(c *gin.Context) {
	prior := accessmgr.NilUUID
	if raw := c.Param("id"); raw != "" && raw != "nil" {
		id, err := accessmgr.ParseUUID(raw)
		if err != nil {
			s.writeError(c, accessmgr.NewError(accessmgr.ArgumentError, "malformed event id", raw))
			return
		}
		prior = id
	}
	events, err := s.node.Cache().GetAllSince(c.Request.Context(), prior)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, events)
}

// postQuery evaluates a shard-local query against this reader's store.
func (s *Server) postQuery(c *gin.Context) {
	var q shard.QueryRequest
	if err := c.ShouldBindJSON(&q); err != nil {
		s.writeError(c, accessmgr.NewError(accessmgr.ArgumentError, err.Error()))
		return
	}
	resp, err := shard.Evaluate(s.rdr.Store(), q)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, resp)
}
