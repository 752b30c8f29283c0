// Package health runs the background endpoint health monitor: periodic
// probes that update each endpoint's health state without ever blocking
// a request path, using the familiar ticker/stop-channel goroutine shape.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/airouter/airouter/internal/registry"
	"github.com/airouter/airouter/internal/types"
	"github.com/sirupsen/logrus"
)

// Config holds the monitor's tunables.
type Config struct {
	ProbeInterval           time.Duration
	ProbeTimeout            time.Duration
	ConsecutiveHealthy      int // successes after failure needed to mark healthy
	ConsecutiveUnhealthy    int // failures needed to mark unhealthy
}

// DefaultConfig mirrors the design defaults.
func DefaultConfig() Config {
	return Config{ProbeInterval: 30 * time.Second, ProbeTimeout: 5 * time.Second, ConsecutiveHealthy: 3, ConsecutiveUnhealthy: 3}
}

// Prober issues the actual health check for one endpoint. The default
// implementation is httpProber; tests substitute a fake.
type Prober interface {
	Probe(ctx context.Context, ep types.Endpoint) (time.Duration, error)
}

// httpProber performs a GET against the endpoint's health URL, falling
// back to /v1/models, per the outbound interface.
type httpProber struct {
	client *http.Client
}

func newHTTPProber(timeout time.Duration) *httpProber {
	return &httpProber{client: &http.Client{Timeout: timeout}}
}

func (p *httpProber) Probe(ctx context.Context, ep types.Endpoint) (time.Duration, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.BaseURL+"/health", nil)
	if err != nil {
		return 0, err
	}
	if ep.Auth == types.AuthBearer {
		req.Header.Set("Authorization", "Bearer "+ep.AuthSecretRef)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		req2, err2 := http.NewRequestWithContext(ctx, http.MethodGet, ep.BaseURL+"/v1/models", nil)
		if err2 != nil {
			return 0, err
		}
		resp2, err2 := p.client.Do(req2)
		if err2 != nil {
			return 0, err
		}
		defer resp2.Body.Close()
		if resp2.StatusCode >= 400 {
			return time.Since(start), errStatus(resp2.StatusCode)
		}
		return time.Since(start), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return time.Since(start), errStatus(resp.StatusCode)
	}
	return time.Since(start), nil
}

type statusError int

func (e statusError) Error() string { return "health probe returned error status" }
func errStatus(code int) error      { return statusError(code) }

// perEndpointCounters tracks consecutive outcomes per endpoint, used only
// to decide health transitions (not exposed outside this package).
type perEndpointCounters struct {
	mu                sync.Mutex
	consecutiveOK     int
	consecutiveFail   int
}

// Monitor runs health probes for every endpoint in a registry on a fixed
// interval, in its own background goroutine, and never blocks a request
// path.
type Monitor struct {
	cfg      Config
	reg      *registry.Registry
	prober   Prober
	logger   *logrus.Logger
	counters map[string]*perEndpointCounters

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Monitor for reg. If prober is nil, an HTTP-based prober is
// used.
func New(cfg Config, reg *registry.Registry, prober Prober, logger *logrus.Logger) *Monitor {
	if prober == nil {
		prober = newHTTPProber(cfg.ProbeTimeout)
	}
	if logger == nil {
		logger = logrus.New()
	}
	counters := make(map[string]*perEndpointCounters)
	for _, n := range reg.Names() {
		counters[n] = &perEndpointCounters{}
	}
	return &Monitor{cfg: cfg, reg: reg, prober: prober, logger: logger, counters: counters, stopCh: make(chan struct{})}
}

// Start runs the periodic probe loop until Stop is called or ctx is
// cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.ProbeInterval)
		defer ticker.Stop()

		m.probeAll(ctx)
		for {
			select {
			case <-ticker.C:
				m.probeAll(ctx)
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop signals the probe loop to exit and waits for it to do so.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// ProbeOnce probes every endpoint a single time synchronously; exposed for
// on-demand probing. Within this module only the health tests call it.
func (m *Monitor) ProbeOnce(ctx context.Context) {
	m.probeAll(ctx)
}

func (m *Monitor) probeAll(parent context.Context) {
	for _, name := range m.reg.Names() {
		ep, ok := m.reg.Get(name)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(parent, m.cfg.ProbeTimeout)
		latency, err := m.prober.Probe(ctx, ep)
		cancel()
		m.applyOutcome(name, latency, err)
	}
}

func (m *Monitor) applyOutcome(name string, latency time.Duration, err error) {
	c := m.counters[name]
	if c == nil {
		c = &perEndpointCounters{}
		m.counters[name] = c
	}

	c.mu.Lock()
	var newHealth types.HealthState
	if err == nil {
		c.consecutiveOK++
		c.consecutiveFail = 0
	} else {
		c.consecutiveFail++
		c.consecutiveOK = 0
	}
	ok, fail := c.consecutiveOK, c.consecutiveFail
	c.mu.Unlock()

	m.reg.MutateHealth(name, func(ep *types.Endpoint) {
		prev := ep.Health
		ep.LastProbeAt = time.Now()
		ep.LastLatency = latency
		if err == nil {
			ep.FailureCount = 0
			switch {
			case prev == types.HealthHealthy:
				newHealth = types.HealthHealthy
			case ok >= m.cfg.ConsecutiveHealthy:
				newHealth = types.HealthHealthy
			default:
				newHealth = prev
			}
		} else {
			ep.FailureCount++
			switch {
			case fail >= m.cfg.ConsecutiveUnhealthy:
				newHealth = types.HealthUnhealthy
			case prev == types.HealthHealthy:
				newHealth = types.HealthDegraded
			default:
				newHealth = prev
			}
		}
		ep.Health = newHealth
	})

	if err != nil {
		m.logger.WithFields(logrus.Fields{"endpoint": name, "error": err}).Debug("health probe failed")
	}
}
