// Package razorpay implements the gateway contract for Razorpay.
//
// Checksum scheme per Razorpay's documentation: payment verification signs
// "<order_id>|<payment_id>" with HMAC-SHA256 using the key secret (hex
// encoded); webhooks sign the raw body with the webhook secret.
package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/boxcostpro/payment-gateway/internal/gateway"
)

const (
	apiBaseURL     = "https://api.razorpay.com/v1"
	defaultTimeout = 15 * time.Second
)

// statusTable maps Razorpay payment statuses onto the normalized enum.
var statusTable = map[string]gateway.Status{
	"created":    gateway.StatusCreated,
	"authorized": gateway.StatusAuthorized,
	"captured":   gateway.StatusCaptured,
	"refunded":   gateway.StatusRefunded,
	"failed":     gateway.StatusFailed,
}

// orderStatusTable maps Razorpay order statuses. "attempted" means a payment
// was tried against the order but has not settled.
var orderStatusTable = map[string]gateway.Status{
	"created":   gateway.StatusCreated,
	"attempted": gateway.StatusPending,
	"paid":      gateway.StatusCaptured,
}

// Adapter implements gateway.Gateway for Razorpay.
type Adapter struct {
	httpClient  *http.Client
	apiBaseURL  string // overridable for tests
	creds       gateway.Credentials
	initialized bool
}

// New creates an uninitialized Razorpay adapter. A nil client gets a default
// with a bounded timeout; provider APIs can hang.
func New(client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Adapter{
		httpClient: client,
		apiBaseURL: apiBaseURL,
	}
}

// SetBaseURL points the adapter at a different API host. Test hook.
func (a *Adapter) SetBaseURL(u string) { a.apiBaseURL = u }

func (a *Adapter) Name() string                  { return "Razorpay" }
func (a *Adapter) Type() gateway.Type            { return gateway.TypeRazorpay }
func (a *Adapter) SupportsUPI() bool             { return true }
func (a *Adapter) SupportsInternational() bool   { return true }
func (a *Adapter) SupportedCurrencies() []string { return []string{"INR", "USD", "EUR", "GBP", "SGD", "AED"} }

// Initialize validates the credential bundle. Key id and secret are required;
// the webhook secret is only needed if webhooks are configured.
func (a *Adapter) Initialize(creds gateway.Credentials) error {
	if creds.KeyID == "" || creds.KeySecret == "" {
		return fmt.Errorf("razorpay: key id and key secret are required: %w", gateway.ErrMissingCredentials)
	}
	a.creds = creds
	a.initialized = true
	return nil
}

// errorResponse is Razorpay's error envelope.
type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type orderEntity struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type paymentEntity struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// toPaise converts a major-unit decimal amount to paise.
func toPaise(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CreateOrder creates a Razorpay order. The subsystem order id is passed as
// the receipt so provider dashboards correlate back to us.
func (a *Adapter) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderResponse, error) {
	if !a.initialized {
		return nil, gateway.ErrNotInitialized
	}

	orderID := "order_" + uuid.NewString()
	payload := map[string]any{
		"amount":   toPaise(req.Amount),
		"currency": req.Currency,
		"receipt":  orderID,
	}
	if len(req.Metadata) > 0 {
		payload["notes"] = req.Metadata
	}

	var entity orderEntity
	if err := a.do(ctx, http.MethodPost, "/orders", payload, &entity); err != nil {
		return nil, err
	}

	return &gateway.OrderResponse{
		OrderID:        orderID,
		Amount:         req.Amount,
		Currency:       entity.Currency,
		GatewayOrderID: entity.ID,
		GatewayData: map[string]string{
			"keyId":           a.creds.KeyID,
			"razorpayOrderId": entity.ID,
		},
	}, nil
}

// VerifyPayment recomputes HMAC-SHA256("<order_id>|<payment_id>", keySecret)
// and compares it against the supplied signature in constant time. A mismatch
// is a reportable outcome, not an error.
func (a *Adapter) VerifyPayment(_ context.Context, req gateway.VerificationRequest) (*gateway.VerificationResponse, error) {
	if !a.initialized {
		return nil, gateway.ErrNotInitialized
	}

	expected := signHex([]byte(req.OrderID+"|"+req.PaymentID), a.creds.KeySecret)
	if !hmac.Equal([]byte(expected), []byte(req.Signature)) {
		return &gateway.VerificationResponse{
			Success:   false,
			Status:    gateway.StatusFailed,
			OrderID:   req.OrderID,
			PaymentID: req.PaymentID,
		}, nil
	}

	return &gateway.VerificationResponse{
		Success:   true,
		Status:    gateway.StatusCaptured,
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
	}, nil
}

// PaymentStatus fetches a payment and maps its native status.
func (a *Adapter) PaymentStatus(ctx context.Context, paymentID string) (*gateway.StatusResponse, error) {
	if !a.initialized {
		return nil, gateway.ErrNotInitialized
	}
	var entity paymentEntity
	if err := a.do(ctx, http.MethodGet, "/payments/"+paymentID, nil, &entity); err != nil {
		return nil, err
	}
	return &gateway.StatusResponse{
		PaymentID:    entity.ID,
		OrderID:      entity.OrderID,
		Status:       gateway.MapStatus(statusTable, entity.Status),
		NativeStatus: entity.Status,
		Amount:       float64(entity.Amount) / 100,
		Currency:     entity.Currency,
	}, nil
}

// OrderStatus fetches an order and maps its native status.
func (a *Adapter) OrderStatus(ctx context.Context, orderID string) (*gateway.StatusResponse, error) {
	if !a.initialized {
		return nil, gateway.ErrNotInitialized
	}
	var entity orderEntity
	if err := a.do(ctx, http.MethodGet, "/orders/"+orderID, nil, &entity); err != nil {
		return nil, err
	}
	return &gateway.StatusResponse{
		OrderID:      entity.ID,
		Status:       gateway.MapStatus(orderStatusTable, entity.Status),
		NativeStatus: entity.Status,
		Amount:       float64(entity.Amount) / 100,
		Currency:     entity.Currency,
	}, nil
}

// webhookEnvelope is the subset of the webhook body we read once the
// signature is established.
type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// VerifyWebhook validates X-Razorpay-Signature: HMAC-SHA256 of the raw body
// with the webhook secret. The payload is only parsed after IsValid.
func (a *Adapter) VerifyWebhook(payload []byte, signature string) (*gateway.WebhookResult, error) {
	if !a.initialized {
		return nil, gateway.ErrNotInitialized
	}
	if a.creds.WebhookSecret == "" {
		return nil, fmt.Errorf("razorpay: webhook secret not configured: %w", gateway.ErrMissingCredentials)
	}

	expected := signHex(payload, a.creds.WebhookSecret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return &gateway.WebhookResult{IsValid: false}, nil
	}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		// Valid signature over a body we cannot read; report the event as
		// verified but carry no identifiers.
		return &gateway.WebhookResult{IsValid: true}, nil
	}
	entity := env.Payload.Payment.Entity
	return &gateway.WebhookResult{
		IsValid:   true,
		Event:     env.Event,
		PaymentID: entity.ID,
		OrderID:   entity.OrderID,
		Status:    gateway.MapStatus(statusTable, entity.Status),
	}, nil
}

// Refund refunds a payment in full when amount is nil, partially otherwise.
func (a *Adapter) Refund(ctx context.Context, paymentID string, amount *float64) (*gateway.StatusResponse, error) {
	if !a.initialized {
		return nil, gateway.ErrNotInitialized
	}
	payload := map[string]any{}
	if amount != nil {
		payload["amount"] = toPaise(*amount)
	}
	var entity struct {
		ID        string `json:"id"`
		PaymentID string `json:"payment_id"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Status    string `json:"status"`
	}
	if err := a.do(ctx, http.MethodPost, "/payments/"+paymentID+"/refund", payload, &entity); err != nil {
		return nil, err
	}
	return &gateway.StatusResponse{
		PaymentID:    entity.PaymentID,
		Status:       gateway.StatusRefunded,
		NativeStatus: entity.Status,
		Amount:       float64(entity.Amount) / 100,
		Currency:     entity.Currency,
	}, nil
}

// TestConnection lists one order to probe credentials and connectivity.
func (a *Adapter) TestConnection(ctx context.Context) (bool, string) {
	if !a.initialized {
		return false, "razorpay: not initialized"
	}
	var out map[string]any
	if err := a.do(ctx, http.MethodGet, "/orders?count=1", nil, &out); err != nil {
		return false, err.Error()
	}
	return true, "razorpay: connection ok"
}

// do performs an authenticated API call and decodes the response into out.
// Non-2xx responses are returned as errors embedding the provider's detail.
func (a *Adapter) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("razorpay: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.apiBaseURL+path, body)
	if err != nil {
		return fmt.Errorf("razorpay: build request: %w", err)
	}
	req.SetBasicAuth(a.creds.KeyID, a.creds.KeySecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("razorpay: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("razorpay: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Description != "" {
			return fmt.Errorf("razorpay: %s (%s), HTTP %d", apiErr.Error.Description, apiErr.Error.Code, resp.StatusCode)
		}
		return fmt.Errorf("razorpay: HTTP %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("razorpay: decode response: %w", err)
		}
	}
	return nil
}

// signHex computes hex(HMAC-SHA256(data, secret)).
func signHex(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
