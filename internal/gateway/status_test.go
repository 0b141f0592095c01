package gateway_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/boxcostpro/payment-gateway/internal/gateway"
)

func TestMapStatus(t *testing.T) {
	table := map[string]gateway.Status{
		"ok":      gateway.StatusCaptured,
		"waiting": gateway.StatusPending,
	}

	t.Run("documented codes map through the table", func(t *testing.T) {
		assert.Equal(t, gateway.StatusCaptured, gateway.MapStatus(table, "ok"))
		assert.Equal(t, gateway.StatusPending, gateway.MapStatus(table, "waiting"))
	})

	t.Run("unknown codes fall through to failed", func(t *testing.T) {
		assert.Equal(t, gateway.StatusFailed, gateway.MapStatus(table, "surprise"))
		assert.Equal(t, gateway.StatusFailed, gateway.MapStatus(table, ""))
	})

	t.Run("nil table still maps totally", func(t *testing.T) {
		assert.Equal(t, gateway.StatusFailed, gateway.MapStatus(nil, "anything"))
	})
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, gateway.StatusRefunded.Terminal())
	assert.True(t, gateway.StatusFailed.Terminal())
	assert.False(t, gateway.StatusCreated.Terminal())
	assert.False(t, gateway.StatusAuthorized.Terminal())
	assert.False(t, gateway.StatusCaptured.Terminal())
	assert.False(t, gateway.StatusPending.Terminal())
}
