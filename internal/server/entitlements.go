package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	pooldomain "github.com/smallbiznis/capstan/internal/pool/domain"
)

type entitleBody struct {
	PoolQuantities map[string]int64 `json:"pool_quantities" binding:"required"`
}

type adjustQuantityBody struct {
	Quantity int64 `json:"quantity" binding:"required"`
}

func (s *Server) createEntitlements(c *gin.Context) {
	var body entitleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	issued, err := s.poolSvc.Entitle(c.Request.Context(), pooldomain.EntitleRequest{
		ConsumerID:     c.Param("consumer_id"),
		PoolQuantities: body.PoolQuantities,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entitlements": issued})
}

func (s *Server) listEntitlements(c *gin.Context) {
	// Listing goes through pool responses keyed by consumer.
	items, err := s.poolSvc.ListConsumerEntitlements(c.Request.Context(), c.Param("consumer_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entitlements": items})
}

func (s *Server) updateEntitlementQuantity(c *gin.Context) {
	var body adjustQuantityBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.poolSvc.AdjustEntitlementQuantity(c.Request.Context(), pooldomain.AdjustQuantityRequest{
		ConsumerID:    c.Param("consumer_id"),
		EntitlementID: c.Param("id"),
		Quantity:      body.Quantity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) revokeEntitlement(c *gin.Context) {
	err := s.poolSvc.Revoke(c.Request.Context(), pooldomain.RevokeRequest{
		ConsumerID:    c.Param("consumer_id"),
		EntitlementID: c.Param("id"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
