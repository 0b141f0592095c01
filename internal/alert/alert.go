// Package alert is the operator notification seam. The factory reports
// gateway failures and failover exhaustion here; delivery (pager, chat, mail)
// lives behind the Notifier interface and is owned by whoever wires it.
package alert

import (
	"context"

	"go.uber.org/zap"

	"github.com/boxcostpro/payment-gateway/internal/gateway"
)

// Notifier receives operator-facing alerts from the failover path.
type Notifier interface {
	// GatewayFailure reports one failed order attempt on a gateway.
	GatewayFailure(ctx context.Context, gatewayType gateway.Type, userID string, err error)
	// FailoverExhausted reports that all attempts for one logical request
	// failed.
	FailoverExhausted(ctx context.Context, attempts int, err error)
}

// LogNotifier writes alerts to the structured log. Default Notifier.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier; a nil logger gets a nop.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) GatewayFailure(_ context.Context, gatewayType gateway.Type, userID string, err error) {
	n.logger.Error("payment gateway failure",
		zap.String("gateway_type", string(gatewayType)),
		zap.String("user_id", userID),
		zap.Error(err))
}

func (n *LogNotifier) FailoverExhausted(_ context.Context, attempts int, err error) {
	n.logger.Error("payment failover exhausted",
		zap.Int("attempts", attempts),
		zap.Error(err))
}
