// Package gateway defines the contract implemented by every payment provider
// adapter, along with the normalized request/response types exchanged with the
// factory. Adapters own all provider-specific concerns: payload construction,
// minor-unit conversion, checksum/signature schemes, and mapping of native
// status vocabularies onto the normalized lifecycle enum.
package gateway

import (
	"context"
	"errors"
	"time"
)

// Type identifies a supported payment provider. The set is closed; the
// factory's registration switch is the only place allowed to branch on it.
type Type string

const (
	TypeRazorpay Type = "razorpay"
	TypePhonePe  Type = "phonepe"
	TypePayU     Type = "payu"
	TypeCashfree Type = "cashfree"
	TypeCCAvenue Type = "ccavenue"
)

// Environment selects the provider endpoint set an adapter talks to.
// A single adapter instance never mixes environments.
type Environment string

const (
	EnvTest       Environment = "test"
	EnvProduction Environment = "production"
)

var (
	// ErrNotInitialized is returned when an operation is invoked before
	// Initialize has been called on the adapter.
	ErrNotInitialized = errors.New("gateway: not initialized")

	// ErrMissingCredentials is returned by Initialize when a required
	// credential field is absent.
	ErrMissingCredentials = errors.New("gateway: missing required credentials")
)

// Credentials is the per-gateway secret bundle. Fields are provider-specific;
// each adapter validates the subset it needs at Initialize. Never log this.
type Credentials struct {
	KeyID         string
	KeySecret     string
	MerchantID    string
	SaltKey       string
	SaltIndex     string
	WebhookSecret string
	Environment   Environment
}

// OrderRequest is the normalized input to CreateOrder. Amount is a decimal in
// major currency units; adapters convert to the provider's minor unit.
// The request is immutable per call and never persisted by this subsystem.
type OrderRequest struct {
	Amount   float64           `json:"amount"`
	Currency string            `json:"currency"`
	UserID   string            `json:"userId"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OrderResponse is produced once per successful CreateOrder and never mutated
// afterward. GatewayID and GatewayType are annotated by the factory to record
// which gateway served the request.
type OrderResponse struct {
	OrderID        string            `json:"orderId"`
	Amount         float64           `json:"amount"`
	Currency       string            `json:"currency"`
	GatewayOrderID string            `json:"gatewayOrderId"`
	GatewayData    map[string]string `json:"gatewayData,omitempty"`
	ExpiresAt      *time.Time        `json:"expiresAt,omitempty"`
	GatewayID      string            `json:"gatewayId,omitempty"`
	GatewayType    Type              `json:"gatewayType,omitempty"`
}

// VerificationRequest correlates a provider callback to a payment.
type VerificationRequest struct {
	OrderID     string            `json:"orderId"`
	PaymentID   string            `json:"paymentId"`
	Signature   string            `json:"signature"`
	RawResponse map[string]string `json:"rawResponse,omitempty"`
}

// VerificationResponse is the outcome of signature verification. A bad
// signature yields Success=false with Status failed; it is never an error.
type VerificationResponse struct {
	Success   bool    `json:"success"`
	Status    Status  `json:"status"`
	OrderID   string  `json:"orderId"`
	PaymentID string  `json:"paymentId"`
	Amount    float64 `json:"amount,omitempty"`
}

// StatusResponse is a normalized snapshot of a payment or order's lifecycle
// state, including the provider's native status string for diagnostics.
type StatusResponse struct {
	PaymentID    string  `json:"paymentId,omitempty"`
	OrderID      string  `json:"orderId,omitempty"`
	Status       Status  `json:"status"`
	NativeStatus string  `json:"nativeStatus,omitempty"`
	Amount       float64 `json:"amount,omitempty"`
	Currency     string  `json:"currency,omitempty"`
}

// WebhookResult is the outcome of webhook signature verification. IsValid
// gates all subsequent processing; the identifier fields are populated only
// when the signature checks out.
type WebhookResult struct {
	IsValid   bool   `json:"isValid"`
	Event     string `json:"event,omitempty"`
	PaymentID string `json:"paymentId,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
	Status    Status `json:"status,omitempty"`
}

// Gateway is the uniform contract implemented by each provider adapter.
//
// Capability metadata (Name, Type, SupportsUPI, SupportsInternational,
// SupportedCurrencies) is static and read at selection time. Initialize must
// be called exactly once before any operation; operations invoked earlier
// return ErrNotInitialized. Adapters are stateless after Initialize and safe
// for concurrent use.
type Gateway interface {
	Name() string
	Type() Type
	SupportsUPI() bool
	SupportsInternational() bool
	SupportedCurrencies() []string

	// Initialize validates the credential bundle and prepares the adapter.
	Initialize(creds Credentials) error

	// CreateOrder constructs a provider-side order. Provider rejections are
	// returned as errors embedding the provider's own error detail.
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)

	// VerifyPayment recomputes the provider checksum and compares it in
	// constant time against the supplied signature.
	VerifyPayment(ctx context.Context, req VerificationRequest) (*VerificationResponse, error)

	PaymentStatus(ctx context.Context, paymentID string) (*StatusResponse, error)
	OrderStatus(ctx context.Context, orderID string) (*StatusResponse, error)

	// VerifyWebhook validates an asynchronous callback's signature. The
	// payload shape is not assumed until IsValid is established.
	VerifyWebhook(payload []byte, signature string) (*WebhookResult, error)

	// Refund issues a full refund when amount is nil, partial otherwise.
	Refund(ctx context.Context, paymentID string, amount *float64) (*StatusResponse, error)

	// TestConnection is a best-effort credential/connectivity check for
	// operator diagnostics. It never returns an error.
	TestConnection(ctx context.Context) (bool, string)
}

// SupportsCurrency reports whether cur appears in the gateway's supported set.
func SupportsCurrency(g Gateway, cur string) bool {
	for _, c := range g.SupportedCurrencies() {
		if c == cur {
			return true
		}
	}
	return false
}
