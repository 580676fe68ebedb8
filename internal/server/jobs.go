package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	jobdomain "github.com/smallbiznis/capstan/internal/job/domain"
)

func (s *Server) getJob(c *gin.Context) {
	resp, err := s.jobSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listJobs(c *gin.Context) {
	req := jobdomain.ListRequest{
		State: jobdomain.JobState(c.Query("state")),
		Limit: 100,
	}
	if owner := c.Query("owner"); owner != "" {
		req.TargetType = jobdomain.TargetOwner
		req.TargetID = owner
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.Limit = limit
	}

	jobs, err := s.jobSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) cancelJob(c *gin.Context) {
	resp, err := s.jobSvc.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
