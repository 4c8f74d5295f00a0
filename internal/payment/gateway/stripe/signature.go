package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/freshnest/freshnest/internal/config"
	"github.com/freshnest/freshnest/internal/money"
	paymentdomain "github.com/freshnest/freshnest/internal/payment/domain"
)

// signatureTolerance bounds how old a signed timestamp may be before the
// event is rejected as a possible replay.
const signatureTolerance = 5 * time.Minute

// Verifier authenticates Stripe-Signature headers and decodes the event
// payloads this system reacts to.
type Verifier struct {
	secret string
}

func NewVerifier(cfg config.Config) paymentdomain.WebhookVerifier {
	return &Verifier{secret: strings.TrimSpace(cfg.Stripe.WebhookSecret)}
}

func (v *Verifier) Verify(payload []byte, signatureHeader string, now time.Time) error {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" || v.secret == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return paymentdomain.ErrInvalidSignature
	}

	expected := Sign(v.secret, timestamp, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type intentObject struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	Currency       string `json:"currency"`
}

type chargeObject struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
}

func (v *Verifier) Parse(payload []byte) (*paymentdomain.Event, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(envelope.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	event := &paymentdomain.Event{
		EventID:    envelope.ID,
		EventType:  strings.TrimSpace(envelope.Type),
		OccurredAt: time.Unix(envelope.Created, 0).UTC(),
	}

	switch event.EventType {
	case paymentdomain.EventTypeIntentSucceeded, paymentdomain.EventTypeIntentFailed:
		var intent intentObject
		if err := json.Unmarshal(envelope.Data.Object, &intent); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		if strings.TrimSpace(intent.ID) == "" {
			return nil, paymentdomain.ErrInvalidEvent
		}
		amount := intent.AmountReceived
		if amount <= 0 {
			amount = intent.Amount
		}
		event.IntentID = intent.ID
		event.Amount = money.Cents(amount)
		event.Currency = strings.ToUpper(strings.TrimSpace(intent.Currency))
		return event, nil
	case paymentdomain.EventTypeChargeRefunded:
		var charge chargeObject
		if err := json.Unmarshal(envelope.Data.Object, &charge); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		if strings.TrimSpace(charge.PaymentIntent) == "" {
			return nil, paymentdomain.ErrInvalidEvent
		}
		event.IntentID = charge.PaymentIntent
		event.Amount = money.Cents(charge.AmountRefunded)
		event.Currency = strings.ToUpper(strings.TrimSpace(charge.Currency))
		return event, nil
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

// Sign computes the v1 signature for a timestamped payload. Exposed so
// tests and local tooling can produce valid headers.
func Sign(secret string, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%s.%s", timestamp, payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, paymentdomain.ErrInvalidSignature
	}
	return timestamp, signatures, nil
}
