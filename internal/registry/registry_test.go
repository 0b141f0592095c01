package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxcostpro/payment-gateway/internal/gateway"
	gatewaymock "github.com/boxcostpro/payment-gateway/internal/gateway/mock"
	"github.com/boxcostpro/payment-gateway/internal/registry"
)

func testRecord(id string, typ gateway.Type, priority int) registry.Record {
	return registry.Record{
		ID:       id,
		Type:     typ,
		IsActive: true,
		Priority: priority,
	}
}

func TestRecordHealthy(t *testing.T) {
	t.Run("below threshold", func(t *testing.T) {
		rec := registry.Record{ConsecutiveFailures: registry.FailureThreshold - 1}
		assert.True(t, rec.Healthy())
	})

	t.Run("at threshold", func(t *testing.T) {
		rec := registry.Record{ConsecutiveFailures: registry.FailureThreshold}
		assert.False(t, rec.Healthy())
	})
}

func TestRegistry_FailureCounter(t *testing.T) {
	ctx := context.Background()

	t.Run("N failures yield count N, success resets to zero", func(t *testing.T) {
		store := registry.NewMemoryStore()
		reg := registry.New(store, nil)
		reg.Register(testRecord("gw-1", gateway.TypeRazorpay, 1), gatewaymock.New("m", gateway.TypeRazorpay))

		for i := 1; i <= 4; i++ {
			reg.RecordFailure(ctx, "gw-1")
			assert.Equal(t, i, reg.Failures("gw-1"))
		}

		reg.RecordSuccess(ctx, "gw-1")
		assert.Equal(t, 0, reg.Failures("gw-1"))
	})

	t.Run("success stamps health check time", func(t *testing.T) {
		reg := registry.New(registry.NewMemoryStore(), nil)
		reg.Register(testRecord("gw-1", gateway.TypeRazorpay, 1), gatewaymock.New("m", gateway.TypeRazorpay))

		reg.RecordSuccess(ctx, "gw-1")
		recs := reg.Snapshot()
		require.Len(t, recs, 1)
		assert.False(t, recs[0].LastHealthCheck.IsZero())
	})

	t.Run("failure stamps failure time", func(t *testing.T) {
		reg := registry.New(registry.NewMemoryStore(), nil)
		reg.Register(testRecord("gw-1", gateway.TypeRazorpay, 1), gatewaymock.New("m", gateway.TypeRazorpay))

		reg.RecordFailure(ctx, "gw-1")
		recs := reg.Snapshot()
		require.Len(t, recs, 1)
		assert.False(t, recs[0].LastFailureAt.IsZero())
	})

	t.Run("unknown id is a no-op", func(t *testing.T) {
		reg := registry.New(registry.NewMemoryStore(), nil)
		reg.RecordFailure(ctx, "missing")
		reg.RecordSuccess(ctx, "missing")
		assert.Equal(t, 0, reg.Failures("missing"))
	})
}

func TestRegistry_ConcurrentFailuresAreNotLost(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(registry.NewMemoryStore(), nil)
	reg.Register(testRecord("gw-1", gateway.TypeRazorpay, 1), gatewaymock.New("m", gateway.TypeRazorpay))

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			reg.RecordFailure(ctx, "gw-1")
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, reg.Failures("gw-1"), "lost updates must not under-count failures")
}

func TestRegistry_PersistenceIsFireAndForget(t *testing.T) {
	ctx := context.Background()

	t.Run("health writes reach the store eventually", func(t *testing.T) {
		store := registry.NewMemoryStore()
		reg := registry.New(store, nil)
		reg.Register(testRecord("gw-1", gateway.TypeRazorpay, 1), gatewaymock.New("m", gateway.TypeRazorpay))

		reg.RecordFailure(ctx, "gw-1")

		require.Eventually(t, func() bool {
			return len(store.Saved()) == 1
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, 1, store.Saved()[0].ConsecutiveFailures)
	})

	t.Run("a failing store never affects counters", func(t *testing.T) {
		store := registry.NewMemoryStore()
		store.SaveHealthErr = errors.New("db unreachable")
		reg := registry.New(store, nil)
		reg.Register(testRecord("gw-1", gateway.TypeRazorpay, 1), gatewaymock.New("m", gateway.TypeRazorpay))

		reg.RecordFailure(ctx, "gw-1")
		reg.RecordFailure(ctx, "gw-1")
		assert.Equal(t, 2, reg.Failures("gw-1"))
	})
}

func TestRegistry_EntriesDiscoveryOrder(t *testing.T) {
	reg := registry.New(registry.NewMemoryStore(), nil)
	reg.Register(testRecord("b", gateway.TypePhonePe, 2), gatewaymock.New("b", gateway.TypePhonePe))
	reg.Register(testRecord("a", gateway.TypeRazorpay, 1), gatewaymock.New("a", gateway.TypeRazorpay))

	entries := reg.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Record.ID)
	assert.Equal(t, "a", entries[1].Record.ID)
}

func TestFallbackFromEnv(t *testing.T) {
	t.Run("absent env yields nothing", func(t *testing.T) {
		t.Setenv("RAZORPAY_KEY_ID", "")
		t.Setenv("RAZORPAY_KEY_SECRET", "")
		_, ok := registry.FallbackFromEnv()
		assert.False(t, ok)
	})

	t.Run("key pair yields a default razorpay record", func(t *testing.T) {
		t.Setenv("RAZORPAY_KEY_ID", "rzp_test_key")
		t.Setenv("RAZORPAY_KEY_SECRET", "secret")
		t.Setenv("RAZORPAY_WEBHOOK_SECRET", "whsec")

		rec, ok := registry.FallbackFromEnv()
		require.True(t, ok)
		assert.Equal(t, gateway.TypeRazorpay, rec.Type)
		assert.True(t, rec.IsActive)
		assert.Equal(t, 1, rec.Priority)
		assert.Equal(t, "rzp_test_key", rec.Credentials.KeyID)
		assert.Equal(t, "whsec", rec.Credentials.WebhookSecret)
		assert.Equal(t, gateway.EnvTest, rec.Environment)
	})
}
