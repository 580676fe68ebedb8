package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/capstan/internal/subscription/domain"
)

type importSubscriptionsBody struct {
	Subscriptions []subscriptiondomain.SubscriptionInput `json:"subscriptions" binding:"required"`
}

func (s *Server) importSubscriptions(c *gin.Context) {
	var body importSubscriptionsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	imported, err := s.subscriptionSvc.Import(c.Request.Context(), subscriptiondomain.ImportRequest{
		OwnerKey:      c.Param("owner_key"),
		Subscriptions: body.Subscriptions,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": imported})
}

func (s *Server) listSubscriptions(c *gin.Context) {
	items, err := s.subscriptionSvc.List(c.Request.Context(), c.Param("owner_key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": items})
}

func (s *Server) deleteSubscription(c *gin.Context) {
	if err := s.subscriptionSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
