package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	jobdomain "github.com/smallbiznis/capstan/internal/job/domain"
	pooldomain "github.com/smallbiznis/capstan/internal/pool/domain"
	subscriptiondomain "github.com/smallbiznis/capstan/internal/subscription/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string                                 `json:"type"`
	Message string                                 `json:"message"`
	Pools   map[string]pooldomain.ValidationResult `json:"pools,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var refused *pooldomain.EntitlementRefusedError
	if errors.As(err, &refused) {
		return http.StatusForbidden, errorPayload{
			Type:    "entitlement_refused",
			Message: "entitlement refused",
			Pools:   refused.Results,
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, pooldomain.ErrPoolInUse),
		errors.Is(err, jobdomain.ErrNotCancelable):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, pooldomain.ErrServiceUnavailable),
		errors.Is(err, jobdomain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pooldomain.ErrInvalidConsumer),
		errors.Is(err, pooldomain.ErrInvalidPoolID),
		errors.Is(err, pooldomain.ErrInvalidQuantity),
		errors.Is(err, jobdomain.ErrUnknownTask),
		errors.Is(err, jobdomain.ErrNotSchedulable),
		errors.Is(err, subscriptiondomain.ErrInvalidOwner),
		errors.Is(err, subscriptiondomain.ErrInvalidID),
		errors.Is(err, subscriptiondomain.ErrInvalidProduct),
		errors.Is(err, subscriptiondomain.ErrInvalidQuantity),
		errors.Is(err, subscriptiondomain.ErrInvalidDateRange):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, pooldomain.ErrPoolNotFound),
		errors.Is(err, pooldomain.ErrEntitlementNotFound),
		errors.Is(err, jobdomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", payload.Type
	case status >= http.StatusBadRequest:
		return "client_error", payload.Type
	default:
		return "", ""
	}
}
