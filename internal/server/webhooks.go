package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
}

// HandleStripeWebhook verifies, journals, and processes a processor event.
// Replays of already-processed events are acknowledged with 200 so the
// processor stops retrying.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	if s.webhookLimiter != nil && s.webhookLimiter.Enabled() {
		allowed, err := s.webhookLimiter.Allow(c.Request.Context(), "stripe")
		if err != nil {
			s.log.Warn("webhook rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), "webhooks.stripe")
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if err := s.webhookSvc.Ingest(c.Request.Context(), payload, signature); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
