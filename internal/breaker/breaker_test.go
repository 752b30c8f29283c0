package breaker

import (
	"testing"
	"time"

	"github.com/airouter/airouter/internal/routerr"
	"github.com/airouter/airouter/internal/types"
	"github.com/stretchr/testify/assert"
)

// TestBreaker_OpensAfterThresholdConsecutiveFailures verifies the breaker
// trips open once consecutive failures reach the configured threshold.
func TestBreaker_OpensAfterThresholdConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	b := New(cfg, []string{"local"})

	assert.Equal(t, types.BreakerClosed, b.State("local"))

	b.RecordOutcome("local", routerr.KindTimeout, false)
	b.RecordOutcome("local", routerr.KindTimeout, false)
	assert.Equal(t, types.BreakerClosed, b.State("local"))

	b.RecordOutcome("local", routerr.KindTimeout, false)
	assert.Equal(t, types.BreakerOpen, b.State("local"))
}

func TestBreaker_NonCountingFailuresDoNotOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	b := New(cfg, []string{"local"})

	b.RecordOutcome("local", routerr.KindUpstream4xx, false)
	b.RecordOutcome("local", routerr.KindUpstream4xx, false)
	b.RecordOutcome("local", routerr.KindUpstream4xx, false)

	assert.Equal(t, types.BreakerClosed, b.State("local"))
}

func TestBreaker_OpenBlocksUntilCooldownThenHalfOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.OpenCooldown = 20 * time.Millisecond
	b := New(cfg, []string{"local"})

	b.RecordOutcome("local", routerr.KindNetwork, false)
	assert.Equal(t, types.BreakerOpen, b.State("local"))
	assert.False(t, b.Allow("local"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.Allow("local"))
	assert.Equal(t, types.BreakerHalfOpen, b.State("local"))
}

func TestBreaker_HalfOpenClosesAfterNSuccesses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.OpenCooldown = 1 * time.Millisecond
	cfg.HalfOpenSuccesses = 2
	b := New(cfg, []string{"local"})

	b.RecordOutcome("local", routerr.KindNetwork, false)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.Allow("local"))

	b.RecordOutcome("local", routerr.KindNetwork, true)
	assert.Equal(t, types.BreakerHalfOpen, b.State("local"))

	assert.True(t, b.Allow("local"))
	b.RecordOutcome("local", routerr.KindNetwork, true)
	assert.Equal(t, types.BreakerClosed, b.State("local"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.OpenCooldown = 1 * time.Millisecond
	b := New(cfg, []string{"local"})

	b.RecordOutcome("local", routerr.KindNetwork, false)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.Allow("local"))

	b.RecordOutcome("local", routerr.KindTimeout, false)
	assert.Equal(t, types.BreakerOpen, b.State("local"))
}
