package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/airouter/airouter/internal/registry"
	"github.com/airouter/airouter/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu   sync.Mutex
	fail map[string]bool
}

func (f *fakeProber) Probe(_ context.Context, ep types.Endpoint) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[ep.Name] {
		return 0, errors.New("simulated failure")
	}
	return 10 * time.Millisecond, nil
}

func (f *fakeProber) setFail(name string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[name] = v
}

func TestMonitor_MarksUnhealthyAfterConsecutiveFailures(t *testing.T) {
	reg := registry.New([]types.Endpoint{{Name: "local", Priority: 1}})
	prober := &fakeProber{fail: map[string]bool{"local": true}}
	cfg := DefaultConfig()
	cfg.ConsecutiveUnhealthy = 3

	m := New(cfg, reg, prober, nil)
	m.ProbeOnce(context.Background())
	m.ProbeOnce(context.Background())
	ep, _ := reg.Get("local")
	assert.NotEqual(t, types.HealthUnhealthy, ep.Health)

	m.ProbeOnce(context.Background())
	ep, _ = reg.Get("local")
	assert.Equal(t, types.HealthUnhealthy, ep.Health)
}

func TestMonitor_HealthyEndpointDegradesOnSingleFailure(t *testing.T) {
	reg := registry.New([]types.Endpoint{{Name: "local", Priority: 1}})
	prober := &fakeProber{fail: map[string]bool{"local": false}}
	cfg := DefaultConfig()
	cfg.ConsecutiveHealthy = 2

	m := New(cfg, reg, prober, nil)
	m.ProbeOnce(context.Background())
	m.ProbeOnce(context.Background())
	ep, _ := reg.Get("local")
	require.Equal(t, types.HealthHealthy, ep.Health)

	prober.setFail("local", true)
	m.ProbeOnce(context.Background())
	ep, _ = reg.Get("local")
	assert.Equal(t, types.HealthDegraded, ep.Health)
}

func TestMonitor_RecoversAfterConsecutiveSuccesses(t *testing.T) {
	reg := registry.New([]types.Endpoint{{Name: "local", Priority: 1}})
	prober := &fakeProber{fail: map[string]bool{"local": true}}
	cfg := DefaultConfig()
	cfg.ConsecutiveHealthy = 3
	cfg.ConsecutiveUnhealthy = 1

	m := New(cfg, reg, prober, nil)
	m.ProbeOnce(context.Background())
	ep, _ := reg.Get("local")
	require.Equal(t, types.HealthUnhealthy, ep.Health)

	prober.setFail("local", false)
	m.ProbeOnce(context.Background())
	m.ProbeOnce(context.Background())
	ep, _ = reg.Get("local")
	assert.NotEqual(t, types.HealthHealthy, ep.Health)

	m.ProbeOnce(context.Background())
	ep, _ = reg.Get("local")
	assert.Equal(t, types.HealthHealthy, ep.Health)
}

func TestMonitor_NeverBlocksOnStartStop(t *testing.T) {
	reg := registry.New([]types.Endpoint{{Name: "local", Priority: 1}})
	prober := &fakeProber{fail: map[string]bool{}}
	cfg := DefaultConfig()
	cfg.ProbeInterval = 5 * time.Millisecond

	m := New(cfg, reg, prober, nil)
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	m.Stop()
}
