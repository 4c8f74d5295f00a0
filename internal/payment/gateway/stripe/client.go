package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/freshnest/freshnest/internal/config"
	"github.com/freshnest/freshnest/internal/money"
	paymentdomain "github.com/freshnest/freshnest/internal/payment/domain"
	"go.uber.org/zap"
)

const apiBase = "https://api.stripe.com"

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to the processor's payment_intents API. All intents are
// opened with manual capture so the hold and the settlement are separate
// steps.
type Client struct {
	apiKey  string
	baseURL string
	log     *zap.Logger
	client  *http.Client
}

func NewGateway(cfg config.Config, log *zap.Logger) paymentdomain.Gateway {
	return &Client{
		apiKey:  strings.TrimSpace(cfg.Stripe.APIKey),
		baseURL: apiBase,
		log:     log.Named("payment.gateway.stripe"),
		client:  &http.Client{Timeout: cfg.Payment.ProcessorTimeout},
	}
}

func (c *Client) CreateAuthorization(ctx context.Context, req paymentdomain.CreateIntentRequest) (*paymentdomain.Intent, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(int64(req.Amount), 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("capture_method", "manual")
	values.Set("automatic_payment_methods[enabled]", "false")
	values.Set("payment_method_types[]", "card")
	values.Set("metadata[order_id]", req.OrderID.String())
	values.Set("metadata[user_id]", req.UserID.String())

	return c.doIntent(ctx, http.MethodPost, "/v1/payment_intents", values, req.IdempotencyKey)
}

func (c *Client) Capture(ctx context.Context, intentID string, amount money.Cents) (*paymentdomain.Intent, error) {
	values := url.Values{}
	values.Set("amount_to_capture", strconv.FormatInt(int64(amount), 10))
	return c.doIntent(ctx, http.MethodPost, "/v1/payment_intents/"+intentID+"/capture", values, "capture:"+intentID)
}

func (c *Client) GetIntent(ctx context.Context, intentID string) (*paymentdomain.Intent, error) {
	return c.doIntent(ctx, http.MethodGet, "/v1/payment_intents/"+intentID, nil, "")
}

func (c *Client) Refund(ctx context.Context, intentID string, amount money.Cents, idempotencyKey string) error {
	values := url.Values{}
	values.Set("payment_intent", intentID)
	values.Set("amount", strconv.FormatInt(int64(amount), 10))
	_, err := c.doIntent(ctx, http.MethodPost, "/v1/refunds", values, idempotencyKey)
	return err
}

func (c *Client) CancelIntent(ctx context.Context, intentID string) error {
	_, err := c.doIntent(ctx, http.MethodPost, "/v1/payment_intents/"+intentID+"/cancel", nil, "")
	return err
}

func (c *Client) doIntent(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
) (*paymentdomain.Intent, error) {
	body := ""
	if values != nil {
		body = values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// A timeout leaves the processor-side outcome unknown.
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, paymentdomain.ErrGatewayPending
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil {
			switch apiErr.Error.Code {
			case "payment_intent_unexpected_state":
				return nil, paymentdomain.ErrAlreadyCaptured
			case "resource_missing":
				return nil, paymentdomain.ErrIntentNotFound
			}
			if apiErr.Error.Message != "" {
				return nil, errors.New(apiErr.Error.Message)
			}
		}
		return nil, errors.New("stripe: request failed with status " + strconv.Itoa(resp.StatusCode))
	}

	var intent intentResponse
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, err
	}
	return &paymentdomain.Intent{
		ID:           intent.ID,
		Status:       paymentdomain.IntentStatus(intent.Status),
		Amount:       money.Cents(intent.Amount),
		Currency:     strings.ToUpper(intent.Currency),
		ClientSecret: intent.ClientSecret,
	}, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
