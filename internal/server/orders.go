package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/money"
	orderdomain "github.com/freshnest/freshnest/internal/order/domain"
	pricingdomain "github.com/freshnest/freshnest/internal/pricing/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) registerOrderRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/quotes", s.QuoteOrder)
	v1.POST("/orders", s.CreateBooking)
	v1.GET("/orders", s.ListOrders)
	v1.GET("/orders/:id", s.GetOrder)
	v1.PUT("/orders/:id", s.EditOrder)
	v1.POST("/orders/:id/cancel", s.CancelOrder)
	v1.POST("/orders/:id/capture", s.CaptureOrder)
	v1.POST("/orders/:id/refund", s.RefundOrder)
	v1.POST("/orders/:id/additional-charge", s.RequestAdditionalCharge)
	v1.GET("/orders/:id/payments", s.ListOrderPayments)
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Server) QuoteOrder(c *gin.Context) {
	var req pricingdomain.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	quote, err := s.pricingSvc.Quote(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}

type createBookingRequest struct {
	Quote       pricingdomain.QuoteRequest `json:"quote"`
	Currency    string                     `json:"currency"`
	ServiceDate *time.Time                 `json:"service_date"`
}

func (s *Server) CreateBooking(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.orderSvc.CreateBooking(c.Request.Context(), orderdomain.CreateBookingRequest{
		Quote:       req.Quote,
		Currency:    strings.TrimSpace(req.Currency),
		ServiceDate: req.ServiceDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil && resp.Order != nil {
		_ = s.auditSvc.AuditLog(c.Request.Context(), "customer", "order.create", "order", resp.Order.ID.String(), map[string]any{
			"user_id":          resp.Order.UserID.String(),
			"chargeable_total": resp.Order.Total,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListOrders(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("user_id"))
	userID, err := snowflake.ParseString(raw)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orders, err := s.orderSvc.ListForUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": orders})
}

func (s *Server) GetOrder(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	order, err := s.orderSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) EditOrder(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.orderSvc.Edit(c.Request.Context(), id, orderdomain.CreateBookingRequest{
		Quote:       req.Quote,
		Currency:    strings.TrimSpace(req.Currency),
		ServiceDate: req.ServiceDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil && resp.Order != nil {
		_ = s.auditSvc.AuditLog(c.Request.Context(), "customer", "order.edit", "order", resp.Order.ID.String(), map[string]any{
			"chargeable_total": resp.Order.Total,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelOrder(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.orderSvc.Cancel(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

func (s *Server) CaptureOrder(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.paymentSvc.Capture(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "captured"})
}

type refundRequest struct {
	// Amount in cents. Absent means refund everything captured.
	Amount *money.Cents `json:"amount"`
}

func (s *Server) RefundOrder(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req refundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	if err := s.paymentSvc.Refund(c.Request.Context(), id, req.Amount); err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		meta := map[string]any{}
		if req.Amount != nil {
			meta["amount"] = *req.Amount
		}
		_ = s.auditSvc.AuditLog(c.Request.Context(), "support", "payment.refund", "order", id.String(), meta)
	}

	c.JSON(http.StatusOK, gin.H{"status": "refunded"})
}

func (s *Server) RequestAdditionalCharge(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	intent, err := s.paymentSvc.RequestAdditionalCharge(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intent})
}

func (s *Server) ListOrderPayments(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	records, err := s.ledgerSvc.ListByOrder(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}
