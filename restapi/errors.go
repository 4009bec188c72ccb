package restapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/accessmgr"
	"github.com/sharedcode/accessmgr/shard"
)

// statusOf maps the error taxonomy onto HTTP statuses.
func statusOf(err error) int {
	switch accessmgr.CodeOf(err) {
	case accessmgr.ArgumentError, accessmgr.ArgumentNilError, accessmgr.ArgumentOutOfRangeError, accessmgr.AlreadyExistsError:
		return http.StatusBadRequest
	case accessmgr.NotFoundError, accessmgr.UserNotFoundError, accessmgr.GroupNotFoundError,
		accessmgr.EntityTypeNotFoundError, accessmgr.EntityNotFoundError,
		accessmgr.EventCacheEmptyError, accessmgr.EventNotCachedError, accessmgr.PersistentStorageEmptyError:
		return http.StatusNotFound
	case accessmgr.ServiceUnavailableError:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders the structured error body. Unknown failures become
// ServiceUnavailable when OverrideInternalServerErrors is set, hiding
// internals from callers; IncludeInnerExceptions controls whether wrapped
// detail is serialized.
func (s *Server) writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError && s.opts.OverrideInternalServerErrors {
		status = http.StatusServiceUnavailable
		err = accessmgr.NewError(accessmgr.ServiceUnavailableError, "service temporarily unavailable")
	}
	c.IndentedJSON(status, shard.NewErrorBody(err, s.opts.IncludeInnerExceptions))
}
