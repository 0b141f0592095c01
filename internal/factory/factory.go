// Package factory instantiates gateway adapters from persisted configuration
// and routes order creation across them: priority-ranked selection with
// health exclusion, and automatic failover within a bounded attempt budget.
package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boxcostpro/payment-gateway/internal/alert"
	"github.com/boxcostpro/payment-gateway/internal/gateway"
	"github.com/boxcostpro/payment-gateway/internal/gateway/phonepe"
	"github.com/boxcostpro/payment-gateway/internal/gateway/razorpay"
	"github.com/boxcostpro/payment-gateway/internal/metrics"
	"github.com/boxcostpro/payment-gateway/internal/policy"
	"github.com/boxcostpro/payment-gateway/internal/registry"
)

// MaxAttempts is the total attempt budget for one CreateOrderWithFailover
// call.
const MaxAttempts = 3

var (
	// ErrNotInitialized is returned when the factory is used before
	// Initialize.
	ErrNotInitialized = errors.New("factory: not initialized")

	// ErrNoEligibleGateway indicates that selection found no candidate:
	// everything is excluded or unhealthy, or the criteria are
	// unsatisfiable. Distinct from ErrFailoverExhausted so operators can
	// tell "nothing matches" from "everything is down".
	ErrNoEligibleGateway = errors.New("factory: no suitable payment gateway available")

	// ErrFailoverExhausted indicates that order creation failed on every
	// attempted gateway. Callers must surface a user-visible "payment could
	// not be initiated" outcome, not retry silently.
	ErrFailoverExhausted = errors.New("factory: payment gateway unavailable, all attempts failed")

	// ErrUnsupportedGatewayType is returned for config records naming a
	// gateway type with no adapter.
	ErrUnsupportedGatewayType = errors.New("factory: unsupported gateway type")
)

// SelectionCriteria narrows gateway selection for one request.
type SelectionCriteria struct {
	PreferUPI            bool
	RequireInternational bool
	Currency             string
	ExcludeTypes         []gateway.Type
}

// Factory owns the gateway registry and the selection/failover algorithm.
type Factory struct {
	mu          sync.Mutex
	initialized bool

	registry   *registry.Registry
	store      registry.Store
	notifier   alert.Notifier
	enforcer   *policy.Enforcer
	logger     *zap.Logger
	httpClient *http.Client
}

// Option customizes a Factory.
type Option func(*Factory)

// WithHTTPClient sets the client handed to adapter constructors.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Factory) { f.httpClient = c }
}

// WithPolicy installs operator-defined selection rules.
func WithPolicy(e *policy.Enforcer) Option {
	return func(f *Factory) { f.enforcer = e }
}

// New creates an uninitialized factory. The store supplies gateway configs;
// nil notifier and logger get quiet defaults.
func New(store registry.Store, notifier alert.Notifier, logger *zap.Logger, opts ...Option) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = alert.NewLogNotifier(logger)
	}
	f := &Factory{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.registry = registry.New(store, logger)
	return f
}

// Initialize loads all active gateway configs and instantiates their
// adapters. A record that fails to initialize is logged and omitted; one bad
// provider config must not keep the others from serving traffic. With no
// persisted configs, a single default gateway is built from environment
// variables. Initialization only fails when nothing at all could register.
func (f *Factory) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.store.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("factory: load gateway configs: %w", err)
	}
	if len(records) == 0 {
		if rec, ok := registry.FallbackFromEnv(); ok {
			f.logger.Info("no persisted gateway configs, using environment fallback",
				zap.String("gateway_type", string(rec.Type)))
			records = []registry.Record{rec}
		}
	}

	registered := 0
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		gw, err := f.buildAdapter(rec.Type)
		if err != nil {
			f.logger.Error("skipping gateway with unsupported type",
				zap.String("gateway_id", rec.ID),
				zap.String("gateway_type", string(rec.Type)),
				zap.Error(err))
			continue
		}
		if err := gw.Initialize(rec.Credentials); err != nil {
			f.logger.Error("skipping gateway that failed to initialize",
				zap.String("gateway_id", rec.ID),
				zap.String("gateway_type", string(rec.Type)),
				zap.Error(err))
			continue
		}
		f.registry.Register(rec, gw)
		registered++
		f.logger.Info("registered payment gateway",
			zap.String("gateway_id", rec.ID),
			zap.String("gateway_type", string(rec.Type)),
			zap.Int("priority", rec.Priority),
			zap.String("environment", string(rec.Environment)))
	}

	if registered == 0 {
		return fmt.Errorf("factory: no payment gateways could be registered")
	}
	f.initialized = true
	return nil
}

// Register adds an already-initialized gateway under the given record.
// Used by tests and programmatic wiring.
func (f *Factory) Register(rec registry.Record, gw gateway.Gateway) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	f.registry.Register(rec, gw)
	f.initialized = true
}

// buildAdapter is the registration switch: the only place the closed type
// enum is branched on.
func (f *Factory) buildAdapter(typ gateway.Type) (gateway.Gateway, error) {
	switch typ {
	case gateway.TypeRazorpay:
		return razorpay.New(f.httpClient), nil
	case gateway.TypePhonePe:
		return phonepe.New(f.httpClient), nil
	case gateway.TypePayU, gateway.TypeCashfree, gateway.TypeCCAvenue:
		return nil, fmt.Errorf("%w: %s (no adapter implemented)", ErrUnsupportedGatewayType, typ)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGatewayType, typ)
	}
}

// SelectGateway returns the best-ranked eligible gateway for the criteria.
func (f *Factory) SelectGateway(criteria SelectionCriteria) (registry.Record, error) {
	if !f.isInitialized() {
		return registry.Record{}, ErrNotInitialized
	}
	entry, err := f.selectEntry(criteria, nil)
	if err != nil {
		return registry.Record{}, err
	}
	return entry.Record, nil
}

// selectEntry implements the selection algorithm: drop unhealthy gateways,
// apply capability criteria and policy rules, sort ascending by priority with
// discovery order breaking ties, then apply the UPI-preference override.
func (f *Factory) selectEntry(criteria SelectionCriteria, req *gateway.OrderRequest) (registry.Entry, error) {
	excluded := make(map[gateway.Type]bool, len(criteria.ExcludeTypes))
	for _, t := range criteria.ExcludeTypes {
		excluded[t] = true
	}

	var candidates []registry.Entry
	for _, e := range f.registry.Entries() {
		if !e.Record.Healthy() {
			continue
		}
		if excluded[e.Record.Type] {
			continue
		}
		if criteria.RequireInternational && !e.Gateway.SupportsInternational() {
			continue
		}
		if criteria.Currency != "" && !gateway.SupportsCurrency(e.Gateway, criteria.Currency) {
			continue
		}
		if f.enforcer != nil {
			ok, reason := f.enforcer.Eligible(f.policyParams(e, criteria, req))
			if !ok {
				f.logger.Debug("gateway excluded by selection policy",
					zap.String("gateway_id", e.Record.ID),
					zap.String("reason", reason))
				continue
			}
		}
		candidates = append(candidates, e)
	}

	if len(candidates) == 0 {
		metrics.SelectionFailuresTotal.Inc()
		return registry.Entry{}, ErrNoEligibleGateway
	}

	// Entries() is in discovery order, so a stable sort gives the required
	// tie-break for equal priorities.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Record.Priority < candidates[j].Record.Priority
	})

	// The UPI preference is a deliberate override, not a tie-break: a
	// UPI-capable gateway wins even against a numerically better priority.
	// Without any UPI-capable candidate the preference degrades gracefully
	// to plain priority order.
	if criteria.PreferUPI {
		for i, c := range candidates {
			if c.Gateway.SupportsUPI() {
				if i != 0 {
					front := candidates[i]
					copy(candidates[1:i+1], candidates[:i])
					candidates[0] = front
				}
				break
			}
		}
	}

	return candidates[0], nil
}

func (f *Factory) policyParams(e registry.Entry, criteria SelectionCriteria, req *gateway.OrderRequest) map[string]interface{} {
	amount := 0.0
	currency := criteria.Currency
	if req != nil {
		amount = req.Amount
		currency = req.Currency
	}
	return map[string]interface{}{
		"amount":                 amount,
		"currency":               currency,
		"gateway_type":           string(e.Record.Type),
		"supports_upi":           e.Gateway.SupportsUPI(),
		"supports_international": e.Gateway.SupportsInternational(),
		"consecutive_failures":   e.Record.ConsecutiveFailures,
	}
}

// CreateOrderWithFailover obtains one successful order creation for the
// request, trying up to MaxAttempts gateways in ranked order. Attempts are
// strictly sequential: a failure is fully recorded before the next selection,
// and the failed gateway's type is excluded for the remainder of the call.
// Each attempt creates a new provider-side order; preventing double charges
// across business-level retries is the caller's responsibility.
func (f *Factory) CreateOrderWithFailover(ctx context.Context, req gateway.OrderRequest, criteria SelectionCriteria) (*gateway.OrderResponse, error) {
	if !f.isInitialized() {
		return nil, ErrNotInitialized
	}

	tracer := otel.Tracer("payment-factory")
	ctx, span := tracer.Start(ctx, "Factory.CreateOrderWithFailover")
	defer span.End()

	excluded := append([]gateway.Type(nil), criteria.ExcludeTypes...)
	var lastErr error

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		attemptCriteria := criteria
		attemptCriteria.ExcludeTypes = excluded

		entry, err := f.selectEntry(attemptCriteria, &req)
		if err != nil {
			if lastErr == nil {
				// Nothing was ever attempted: the criteria are
				// unsatisfiable or everything is already demoted.
				return nil, err
			}
			// Candidates ran out mid-call after real failures.
			break
		}

		start := time.Now()
		resp, err := entry.Gateway.CreateOrder(ctx, req)
		metrics.OrderAttemptSeconds.WithLabelValues(string(entry.Record.Type)).Observe(time.Since(start).Seconds())

		if err == nil {
			f.registry.RecordSuccess(ctx, entry.Record.ID)
			metrics.OrdersTotal.WithLabelValues(string(entry.Record.Type), "success").Inc()
			resp.GatewayID = entry.Record.ID
			resp.GatewayType = entry.Record.Type
			span.SetAttributes(
				attribute.Int("payment.attempts", attempt),
				attribute.String("payment.gateway_type", string(entry.Record.Type)),
			)
			f.logger.Info("payment order created",
				zap.String("order_id", resp.OrderID),
				zap.String("gateway_id", entry.Record.ID),
				zap.String("gateway_type", string(entry.Record.Type)),
				zap.Int("attempt", attempt))
			return resp, nil
		}

		// Health must reflect this failure before the next selection so the
		// same gateway is not immediately retried within this call.
		f.registry.RecordFailure(ctx, entry.Record.ID)
		metrics.OrdersTotal.WithLabelValues(string(entry.Record.Type), "failure").Inc()
		f.notifier.GatewayFailure(ctx, entry.Record.Type, req.UserID, err)
		f.logger.Warn("order creation failed, failing over",
			zap.String("gateway_id", entry.Record.ID),
			zap.String("gateway_type", string(entry.Record.Type)),
			zap.Int("attempt", attempt),
			zap.Error(err))

		excluded = append(excluded, entry.Record.Type)
		lastErr = err
	}

	metrics.FailoverExhaustedTotal.Inc()
	f.notifier.FailoverExhausted(ctx, MaxAttempts, lastErr)
	return nil, fmt.Errorf("%w: %v", ErrFailoverExhausted, lastErr)
}

// VerifyWebhook routes a provider callback to the matching adapter.
func (f *Factory) VerifyWebhook(typ gateway.Type, payload []byte, signature string) (*gateway.WebhookResult, error) {
	gw, err := f.GatewayByType(typ)
	if err != nil {
		return nil, err
	}
	return gw.VerifyWebhook(payload, signature)
}

// GatewayByType returns the registered adapter for a gateway type.
func (f *Factory) GatewayByType(typ gateway.Type) (gateway.Gateway, error) {
	if !f.isInitialized() {
		return nil, ErrNotInitialized
	}
	for _, e := range f.registry.Entries() {
		if e.Record.Type == typ {
			return e.Gateway, nil
		}
	}
	return nil, fmt.Errorf("%w: no %s gateway registered", ErrNoEligibleGateway, typ)
}

// Snapshot returns the current registry records for operator diagnostics.
func (f *Factory) Snapshot() []registry.Record {
	return f.registry.Snapshot()
}

// StartHealthProbe launches the re-admission loop: every interval, each
// demoted gateway gets a TestConnection probe, and a passing probe records a
// success, resetting its failure counter. Without this loop a gateway that
// hits the threshold would stay excluded forever, since selection never
// offers it the success that would rehabilitate it. Stops when ctx is done.
func (f *Factory) StartHealthProbe(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.probeDemoted(ctx)
			}
		}
	}()
}

func (f *Factory) probeDemoted(ctx context.Context) {
	for _, e := range f.registry.Entries() {
		if e.Record.Healthy() {
			continue
		}
		ok, msg := e.Gateway.TestConnection(ctx)
		if ok {
			f.registry.RecordSuccess(ctx, e.Record.ID)
			f.logger.Info("demoted gateway re-admitted after successful probe",
				zap.String("gateway_id", e.Record.ID),
				zap.String("gateway_type", string(e.Record.Type)))
		} else {
			f.logger.Debug("demoted gateway still failing probe",
				zap.String("gateway_id", e.Record.ID),
				zap.String("message", msg))
		}
	}
}

func (f *Factory) isInitialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}
