package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	jobdomain "github.com/smallbiznis/capstan/internal/job/domain"
)

const (
	deferredWorkKey     = "capstan.deferred_work"
	deferredFallbackKey = "capstan.deferred_fallback"
)

// SetDeferredWork hands a schedulable work descriptor to the dispatch
// middleware. The fallback payload is served when the detail's target
// type does not trigger scheduling.
func SetDeferredWork(c *gin.Context, detail jobdomain.Detail, fallback any) {
	c.Set(deferredWorkKey, detail)
	if fallback != nil {
		c.Set(deferredFallbackKey, fallback)
	}
}

// AsyncDispatchMiddleware inspects the handler's outcome for a deferred
// work descriptor. Recognized targets are scheduled and the response is
// replaced with the job record at 202 Accepted; other targets keep the
// handler's synchronous response. Scheduling failures propagate so the
// caller never sees a success with no job queued.
func AsyncDispatchMiddleware(jobSvc jobdomain.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) > 0 {
			return
		}

		raw, ok := c.Get(deferredWorkKey)
		if !ok {
			return
		}
		detail, ok := raw.(jobdomain.Detail)
		if !ok {
			return
		}

		if !detail.Schedulable() {
			if fallback, ok := c.Get(deferredFallbackKey); ok {
				c.JSON(http.StatusOK, fallback)
			}
			return
		}

		job, err := jobSvc.Dispatch(c.Request.Context(), detail)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, job)
	}
}
