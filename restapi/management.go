package restapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/shard"
)

// mountManagement adds the shard lifecycle routes backed by the
// orchestrator.
func (s *Server) mountManagement(v1 *gin.RouterGroup) {
	v1.GET("/shards", s.getConfiguration)
	v1.POST("/shards", s.bootstrapShard)
	v1.POST("/shards/split", s.splitShard)
	v1.POST("/shards/merge", s.mergeShard)
	v1.DELETE("/shards/:role/:start", s.deleteShard)
}

func (s *Server) getConfiguration(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.orch.Configuration())
}

func (s *Server) bootstrapShard(c *gin.Context) {
	var g shard.Group
	if err := c.ShouldBindJSON(&g); err != nil {
		s.writeError(c, accessmgr.NewError(accessmgr.ArgumentError, err.Error()))
		return
	}
	if err := s.orch.Bootstrap(c.Request.Context(), g); err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, s.orch.Configuration())
}

// splitMergeRequest names the two shard groups a split or merge involves.
type splitMergeRequest struct {
	Source shard.Group `json:"source"`
	Target shard.Group `json:"target"`
}

func (s *Server) splitShard(c *gin.Context) {
	var req splitMergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, accessmgr.NewError(accessmgr.ArgumentError, err.Error()))
		return
	}
	res, err := s.orch.Split(c.Request.Context(), req.Source, req.Target)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, res)
}

func (s *Server) mergeShard(c *gin.Context) {
	var req splitMergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, accessmgr.NewError(accessmgr.ArgumentError, err.Error()))
		return
	}
	res, err := s.orch.Merge(c.Request.Context(), req.Source, req.Target)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, res)
}

func (s *Server) deleteShard(c *gin.Context) {
	start, err := strconv.ParseInt(c.Param("start"), 10, 32)
	if err != nil {
		s.writeError(c, accessmgr.NewError(accessmgr.ArgumentError, "malformed range start", c.Param("start")))
		return
	}
	if err := s.orch.DeleteGroup(c.Request.Context(), shard.Role(c.Param("role")), int32(start)); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
