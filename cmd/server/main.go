package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/boxcostpro/payment-gateway/internal/alert"
	"github.com/boxcostpro/payment-gateway/internal/factory"
	"github.com/boxcostpro/payment-gateway/internal/gateway"
	"github.com/boxcostpro/payment-gateway/internal/monitor"
	"github.com/boxcostpro/payment-gateway/internal/registry"
)

const healthProbeInterval = time.Minute

type server struct {
	factory  *factory.Factory
	contract *monitor.ContractMonitor
	logger   *zap.Logger
}

// orderPayload matches the contract schema enforced by the monitor.
type orderPayload struct {
	Amount               float64           `json:"amount"`
	Currency             string            `json:"currency"`
	UserID               string            `json:"userId"`
	Metadata             map[string]string `json:"metadata"`
	PreferUPI            bool              `json:"preferUPI"`
	RequireInternational bool              `json:"requireInternational"`
	ExcludeGateways      []string          `json:"excludeGateways"`
}

func (s *server) createOrder(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read request body"})
		return
	}

	valid, violations, err := s.contract.Validate(body)
	if err != nil {
		s.logger.Error("contract validation error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal validation error"})
		return
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatErrors(violations)})
		return
	}

	var payload orderPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	criteria := factory.SelectionCriteria{
		PreferUPI:            payload.PreferUPI,
		RequireInternational: payload.RequireInternational,
		Currency:             payload.Currency,
	}
	for _, t := range payload.ExcludeGateways {
		criteria.ExcludeTypes = append(criteria.ExcludeTypes, gateway.Type(t))
	}

	resp, err := s.factory.CreateOrderWithFailover(c.Request.Context(), gateway.OrderRequest{
		Amount:   payload.Amount,
		Currency: payload.Currency,
		UserID:   payload.UserID,
		Metadata: payload.Metadata,
	}, criteria)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, factory.ErrNoEligibleGateway):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no suitable payment gateway available", "kind": "no_eligible_gateway"})
	case errors.Is(err, factory.ErrFailoverExhausted):
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment could not be initiated", "kind": "gateway_unavailable"})
	default:
		s.logger.Error("order creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// webhookSignature extracts the provider's signature header.
func webhookSignature(typ gateway.Type, c *gin.Context) string {
	switch typ {
	case gateway.TypeRazorpay:
		return c.GetHeader("X-Razorpay-Signature")
	case gateway.TypePhonePe:
		return c.GetHeader("X-VERIFY")
	default:
		return ""
	}
}

func (s *server) webhook(c *gin.Context) {
	typ := gateway.Type(c.Param("provider"))
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read webhook body"})
		return
	}

	result, err := s.factory.VerifyWebhook(typ, body, webhookSignature(typ, c))
	if err != nil {
		if errors.Is(err, factory.ErrNoEligibleGateway) || errors.Is(err, factory.ErrNotInitialized) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown payment provider"})
			return
		}
		s.logger.Error("webhook verification error", zap.String("provider", string(typ)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !result.IsValid {
		s.logger.Warn("rejected webhook with invalid signature", zap.String("provider", string(typ)))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook signature"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// gatewayView is the operator-facing snapshot; credentials are redacted.
// Health state reflects in-memory counters and may lag the persisted mirror.
type gatewayView struct {
	ID                  string `json:"id"`
	Type                string `json:"gatewayType"`
	Priority            int    `json:"priority"`
	Environment         string `json:"environment"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	Healthy             bool   `json:"healthy"`
	LastHealthCheck     string `json:"lastHealthCheck,omitempty"`
	LastFailureAt       string `json:"lastFailureAt,omitempty"`
}

func (s *server) gateways(c *gin.Context) {
	records := s.factory.Snapshot()
	views := make([]gatewayView, 0, len(records))
	for _, rec := range records {
		v := gatewayView{
			ID:                  rec.ID,
			Type:                string(rec.Type),
			Priority:            rec.Priority,
			Environment:         string(rec.Environment),
			ConsecutiveFailures: rec.ConsecutiveFailures,
			Healthy:             rec.Healthy(),
		}
		if !rec.LastHealthCheck.IsZero() {
			v.LastHealthCheck = rec.LastHealthCheck.Format(time.RFC3339)
		}
		if !rec.LastFailureAt.IsZero() {
			v.LastFailureAt = rec.LastFailureAt.Format(time.RFC3339)
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"gateways": views})
}

func setupRouter(s *server) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("payment-gateway"))

	engine.POST("/api/payments/orders", s.createOrder)
	engine.POST("/api/payments/:provider/webhook", s.webhook)
	engine.GET("/api/payments/gateways", s.gateways)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return engine
}

func initTracing() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp, nil
}

func buildStore(logger *zap.Logger) registry.Store {
	dsn := os.Getenv("PAYMENT_DB_DSN")
	if dsn == "" {
		logger.Info("PAYMENT_DB_DSN not set, using in-memory gateway store with environment fallback")
		return registry.NewMemoryStore()
	}
	store, err := registry.OpenSQLStore(dsn)
	if err != nil {
		logger.Fatal("failed to open gateway config store", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure gateway config schema", zap.Error(err))
	}
	return store
}

func main() {
	// .env is optional; absence is the normal production case.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	tp, err := initTracing()
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}()

	store := buildStore(logger)
	f := factory.New(store, alert.NewLogNotifier(logger), logger)

	ctx := context.Background()
	if err := f.Initialize(ctx); err != nil {
		logger.Fatal("failed to initialize payment gateway factory", zap.Error(err))
	}
	f.StartHealthProbe(ctx, healthProbeInterval)

	contract, err := monitor.NewContractMonitor()
	if err != nil {
		logger.Fatal("failed to compile order request schema", zap.Error(err))
	}

	engine := setupRouter(&server{factory: f, contract: contract, logger: logger})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	logger.Info("starting payment gateway server", zap.String("addr", addr))
	if err := engine.Run(addr); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
