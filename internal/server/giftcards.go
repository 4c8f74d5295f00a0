package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/money"
	"github.com/gin-gonic/gin"
)

func (s *Server) registerGiftCardRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/gift-cards", s.PurchaseGiftCard)
	v1.GET("/gift-cards/:code", s.LookupGiftCard)
}

type purchaseGiftCardRequest struct {
	UserID snowflake.ID `json:"user_id"`
	Amount money.Cents  `json:"amount"`
}

func (s *Server) PurchaseGiftCard(c *gin.Context) {
	var req purchaseGiftCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	card, err := s.giftCardSvc.Purchase(c.Request.Context(), req.UserID, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		_ = s.auditSvc.AuditLog(c.Request.Context(), "customer", "gift_card.purchase", "gift_card", card.ID.String(), map[string]any{
			"amount": card.OriginalAmount,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": card})
}

func (s *Server) LookupGiftCard(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	card, err := s.giftCardSvc.Lookup(c.Request.Context(), code)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": card})
}
