// Package mock provides a configurable in-memory gateway used by factory and
// server tests. Behavior is overridden per call by assigning the exported
// func fields; unset funcs fall back to a successful default.
package mock

import (
	"context"

	"github.com/google/uuid"

	"github.com/boxcostpro/payment-gateway/internal/gateway"
)

// Gateway is a mock implementation of gateway.Gateway.
type Gateway struct {
	GatewayName   string
	GatewayType   gateway.Type
	UPI           bool
	International bool
	Currencies    []string

	InitializeFunc     func(creds gateway.Credentials) error
	CreateOrderFunc    func(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderResponse, error)
	VerifyPaymentFunc  func(ctx context.Context, req gateway.VerificationRequest) (*gateway.VerificationResponse, error)
	VerifyWebhookFunc  func(payload []byte, signature string) (*gateway.WebhookResult, error)
	RefundFunc         func(ctx context.Context, paymentID string, amount *float64) (*gateway.StatusResponse, error)
	TestConnectionFunc func(ctx context.Context) (bool, string)

	// CreateOrderCalls counts CreateOrder invocations for assertions.
	CreateOrderCalls int
}

// New returns a mock razorpay-shaped gateway supporting INR.
func New(name string, typ gateway.Type) *Gateway {
	return &Gateway{
		GatewayName: name,
		GatewayType: typ,
		Currencies:  []string{"INR"},
	}
}

func (g *Gateway) Name() string                  { return g.GatewayName }
func (g *Gateway) Type() gateway.Type            { return g.GatewayType }
func (g *Gateway) SupportsUPI() bool             { return g.UPI }
func (g *Gateway) SupportsInternational() bool   { return g.International }
func (g *Gateway) SupportedCurrencies() []string { return g.Currencies }

func (g *Gateway) Initialize(creds gateway.Credentials) error {
	if g.InitializeFunc != nil {
		return g.InitializeFunc(creds)
	}
	return nil
}

func (g *Gateway) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderResponse, error) {
	g.CreateOrderCalls++
	if g.CreateOrderFunc != nil {
		return g.CreateOrderFunc(ctx, req)
	}
	return &gateway.OrderResponse{
		OrderID:        "order_" + uuid.NewString(),
		Amount:         req.Amount,
		Currency:       req.Currency,
		GatewayOrderID: "mock_" + uuid.NewString(),
		GatewayData:    map[string]string{"mock": "true"},
	}, nil
}

func (g *Gateway) VerifyPayment(ctx context.Context, req gateway.VerificationRequest) (*gateway.VerificationResponse, error) {
	if g.VerifyPaymentFunc != nil {
		return g.VerifyPaymentFunc(ctx, req)
	}
	return &gateway.VerificationResponse{
		Success:   true,
		Status:    gateway.StatusCaptured,
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
	}, nil
}

func (g *Gateway) PaymentStatus(_ context.Context, paymentID string) (*gateway.StatusResponse, error) {
	return &gateway.StatusResponse{PaymentID: paymentID, Status: gateway.StatusCaptured}, nil
}

func (g *Gateway) OrderStatus(_ context.Context, orderID string) (*gateway.StatusResponse, error) {
	return &gateway.StatusResponse{OrderID: orderID, Status: gateway.StatusCreated}, nil
}

func (g *Gateway) VerifyWebhook(payload []byte, signature string) (*gateway.WebhookResult, error) {
	if g.VerifyWebhookFunc != nil {
		return g.VerifyWebhookFunc(payload, signature)
	}
	return &gateway.WebhookResult{IsValid: true, Event: "mock.event"}, nil
}

func (g *Gateway) Refund(ctx context.Context, paymentID string, amount *float64) (*gateway.StatusResponse, error) {
	if g.RefundFunc != nil {
		return g.RefundFunc(ctx, paymentID, amount)
	}
	return &gateway.StatusResponse{PaymentID: paymentID, Status: gateway.StatusRefunded}, nil
}

func (g *Gateway) TestConnection(ctx context.Context) (bool, string) {
	if g.TestConnectionFunc != nil {
		return g.TestConnectionFunc(ctx)
	}
	return true, "mock: connection ok"
}
