package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	jobdomain "github.com/smallbiznis/capstan/internal/job/domain"
	"github.com/smallbiznis/capstan/internal/pool"
	pooldomain "github.com/smallbiznis/capstan/internal/pool/domain"
)

func (s *Server) listPools(c *gin.Context) {
	req := pooldomain.ListPoolsRequest{
		OwnerKey:  c.Query("owner"),
		ProductID: c.Query("product"),
	}
	if activeOn := c.Query("active_on"); activeOn != "" {
		at, err := time.Parse(time.RFC3339, activeOn)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.ActiveOn = &at
	}

	pools, err := s.poolSvc.ListPools(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pools": pools})
}

func (s *Server) getPool(c *gin.Context) {
	resp, err := s.poolSvc.GetPool(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) deletePool(c *gin.Context) {
	if err := s.poolSvc.DeletePool(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listOwnerPools(c *gin.Context) {
	pools, err := s.poolSvc.ListPools(c.Request.Context(), pooldomain.ListPoolsRequest{
		OwnerKey: c.Param("owner_key"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pools": pools})
}

// refreshOwnerPools produces a deferred work descriptor; the dispatch
// middleware schedules it and answers with the job record.
func (s *Server) refreshOwnerPools(c *gin.Context) {
	ownerKey := c.Param("owner_key")
	if ownerKey == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	limit, err := s.refreshLimiter.Allow(c.Request.Context(), ownerKey)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !limit.Allowed {
		c.Header("Retry-After", limit.RetryAfter.Round(time.Second).String())
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
			Type:    "rate_limited",
			Message: "too many refresh requests for this owner",
		}})
		return
	}

	SetDeferredWork(c, jobdomain.Detail{
		Task:       pool.TaskRefreshPools,
		TargetType: jobdomain.TargetOwner,
		TargetID:   ownerKey,
	}, nil)
}
