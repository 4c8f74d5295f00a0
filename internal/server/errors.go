package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/freshnest/freshnest/internal/catalog/domain"
	giftcarddomain "github.com/freshnest/freshnest/internal/giftcard/domain"
	orderdomain "github.com/freshnest/freshnest/internal/order/domain"
	paymentdomain "github.com/freshnest/freshnest/internal/payment/domain"
	pricingdomain "github.com/freshnest/freshnest/internal/pricing/domain"
	promodomain "github.com/freshnest/freshnest/internal/promocode/domain"
	offerdomain "github.com/freshnest/freshnest/internal/specialoffer/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

func invalidRequestError() error {
	return ErrInvalidRequest
}

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
	case isStateConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "state_conflict",
			Message: err.Error(),
		}
	case errors.Is(err, giftcarddomain.ErrBalanceConflict):
		// The balance moved under the request; the client re-quotes.
		return http.StatusConflict, errorPayload{
			Type:    "consistency_conflict",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "invalid signature",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, paymentdomain.ErrGatewayPending):
		// The processor outcome is unknown; the client waits for the
		// webhook or polls the order.
		return http.StatusAccepted, errorPayload{
			Type:    "payment_pending",
			Message: "payment outcome pending",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, err.Error()
}

func isValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, pricingdomain.ErrDiscountRejected) ||
		errors.Is(err, pricingdomain.ErrGiftCardInvalid) ||
		errors.Is(err, pricingdomain.ErrOfferInvalid) ||
		errors.Is(err, orderdomain.ErrEmptyOrder) ||
		errors.Is(err, catalogdomain.ErrInvalidQuantity) ||
		errors.Is(err, catalogdomain.ErrNoPriceRange) ||
		errors.Is(err, giftcarddomain.ErrInvalidAmount) ||
		errors.Is(err, paymentdomain.ErrRefundExceedsCaptured) ||
		errors.Is(err, paymentdomain.ErrInvalidPayload) ||
		errors.Is(err, paymentdomain.ErrInvalidEvent)
}

func isNotFoundError(err error) bool {
	return errors.Is(err, orderdomain.ErrOrderNotFound) ||
		errors.Is(err, giftcarddomain.ErrCardNotFound) ||
		errors.Is(err, catalogdomain.ErrServiceNotFound) ||
		errors.Is(err, catalogdomain.ErrExtraNotFound) ||
		errors.Is(err, offerdomain.ErrOfferNotFound) ||
		errors.Is(err, paymentdomain.ErrIntentNotFound) ||
		errors.Is(err, gorm.ErrRecordNotFound)
}

func isStateConflictError(err error) bool {
	return errors.Is(err, orderdomain.ErrStateConflict) ||
		errors.Is(err, paymentdomain.ErrAlreadyCaptured) ||
		errors.Is(err, paymentdomain.ErrNothingToCapture) ||
		errors.Is(err, offerdomain.ErrOfferUsed) ||
		errors.Is(err, offerdomain.ErrAlreadyGranted) ||
		errors.Is(err, promodomain.ErrCodeExhausted)
}
