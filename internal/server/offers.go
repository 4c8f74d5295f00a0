package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func (s *Server) registerOfferRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/special-offers/:id/grants", s.GrantSpecialOffer)
	v1.GET("/special-offers/grants", s.ListOfferGrants)
}

type grantOfferRequest struct {
	UserID snowflake.ID `json:"user_id"`
}

func (s *Server) GrantSpecialOffer(c *gin.Context) {
	offerID, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req grantOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	grant, err := s.offerSvc.Grant(c.Request.Context(), offerID, req.UserID, s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		_ = s.auditSvc.AuditLog(c.Request.Context(), "system", "special_offer.grant", "user_special_offer", grant.ID.String(), map[string]any{
			"user_id":  req.UserID.String(),
			"offer_id": offerID.String(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": grant})
}

func (s *Server) ListOfferGrants(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("user_id"))
	userID, err := snowflake.ParseString(raw)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	grants, err := s.offerSvc.ListForUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": grants})
}
