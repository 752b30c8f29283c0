package routing

import (
	"testing"
	"time"

	"github.com/airouter/airouter/internal/breaker"
	"github.com/airouter/airouter/internal/classifier"
	"github.com/airouter/airouter/internal/learner"
	"github.com/airouter/airouter/internal/registry"
	"github.com/airouter/airouter/internal/routerr"
	"github.com/airouter/airouter/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(eps []types.Endpoint) (*Router, *registry.Registry, *breaker.Breaker, *learner.Learner) {
	reg := registry.New(eps)
	names := make([]string, len(eps))
	for i, e := range eps {
		names[i] = e.Name
	}
	brk := breaker.New(breaker.DefaultConfig(), names)
	learn := learner.New(learner.DefaultConfig(), nil)
	return New(DefaultConfig(), reg, brk, learn, nil), reg, brk, learn
}

// TestRouter_ForceEndpointSelectsOnlyThatEndpoint covers rule 1.
func TestRouter_ForceEndpointSelectsOnlyThatEndpoint(t *testing.T) {
	r, _, _, _ := newTestRouter([]types.Endpoint{
		{Name: "local", Priority: 1, Health: types.HealthHealthy, Local: true},
		{Name: "cloud", Priority: 2, Health: types.HealthHealthy},
	})

	decision, err := r.Route(types.Request{ForceEndpoint: "cloud"}, types.Fingerprint{}, classifier.Result{})
	require.NoError(t, err)
	require.Len(t, decision.Candidates, 1)
	assert.Equal(t, "cloud", decision.Candidates[0].Name)
}

// TestRouter_ForceEndpointWithOpenBreakerFails verifies a forced endpoint
// whose breaker is open errors immediately rather than falling back to
// another candidate.
func TestRouter_ForceEndpointWithOpenBreakerFails(t *testing.T) {
	r, _, brk, _ := newTestRouter([]types.Endpoint{
		{Name: "cloud_a", Priority: 1, Health: types.HealthHealthy},
	})
	brk.RecordOutcome("cloud_a", routerr.KindNetwork, false)
	for brk.State("cloud_a") != types.BreakerOpen {
		brk.RecordOutcome("cloud_a", routerr.KindNetwork, false)
	}

	_, err := r.Route(types.Request{ForceEndpoint: "cloud_a"}, types.Fingerprint{}, classifier.Result{})
	require.Error(t, err)
	assert.True(t, routerr.IsKind(err, routerr.KindEndpointOpen))
}

// TestRouter_OpenBreakerEndpointNeverReturnedFirst verifies an endpoint
// whose breaker is open is never placed first in the candidate list.
func TestRouter_OpenBreakerEndpointNeverReturnedFirst(t *testing.T) {
	r, _, brk, _ := newTestRouter([]types.Endpoint{
		{Name: "local", Priority: 1, Health: types.HealthHealthy, Local: true},
		{Name: "cloud", Priority: 2, Health: types.HealthHealthy},
	})
	for brk.State("local") != types.BreakerOpen {
		brk.RecordOutcome("local", routerr.KindNetwork, false)
	}

	decision, err := r.Route(types.Request{Prompt: "hello"}, types.Fingerprint{}, classifier.Result{})
	require.NoError(t, err)
	require.NotEmpty(t, decision.Candidates)
	assert.Equal(t, "cloud", decision.Candidates[0].Name)
}

func TestRouter_UnhealthyEndpointIsDropped(t *testing.T) {
	r, _, _, _ := newTestRouter([]types.Endpoint{
		{Name: "sick", Priority: 1, Health: types.HealthUnhealthy},
		{Name: "ok", Priority: 2, Health: types.HealthHealthy},
	})

	decision, err := r.Route(types.Request{}, types.Fingerprint{}, classifier.Result{})
	require.NoError(t, err)
	for _, c := range decision.Candidates {
		assert.NotEqual(t, "sick", c.Name)
	}
}

func TestRouter_NoSelectableEndpointReturnsRejected(t *testing.T) {
	r, _, _, _ := newTestRouter([]types.Endpoint{
		{Name: "sick", Priority: 1, Health: types.HealthUnhealthy},
	})

	_, err := r.Route(types.Request{}, types.Fingerprint{}, classifier.Result{})
	require.Error(t, err)
	assert.True(t, routerr.IsKind(err, routerr.KindRejected))
}

func TestRouter_RanksByPriorityThenHealthThenLatency(t *testing.T) {
	r, _, _, _ := newTestRouter([]types.Endpoint{
		{Name: "degraded-high-pri", Priority: 1, Health: types.HealthDegraded},
		{Name: "healthy-high-pri", Priority: 1, Health: types.HealthHealthy},
		{Name: "healthy-low-pri", Priority: 2, Health: types.HealthHealthy},
	})

	decision, err := r.Route(types.Request{}, types.Fingerprint{}, classifier.Result{})
	require.NoError(t, err)
	require.Len(t, decision.Candidates, 3)
	assert.Equal(t, "healthy-high-pri", decision.Candidates[0].Name)
	assert.Equal(t, "degraded-high-pri", decision.Candidates[1].Name)
	assert.Equal(t, "healthy-low-pri", decision.Candidates[2].Name)
}

// TestRouter_EmpiricalDemotionReordersTiedEndpoint verifies empirical
// demotion reorders an otherwise-tied endpoint behind its peers.
func TestRouter_EmpiricalDemotionReordersTiedEndpoint(t *testing.T) {
	r, _, _, learn := newTestRouter([]types.Endpoint{
		{Name: "a", Priority: 1, Health: types.HealthHealthy},
		{Name: "b", Priority: 1, Health: types.HealthHealthy},
	})
	fp := types.Fingerprint{Hash: "fp1"}
	for i := 0; i < 10; i++ {
		learn.RecordOutcome(fp.Hash, types.OutcomeTimeout, time.Millisecond)
	}
	require.True(t, learn.ShouldDemote(fp.Hash))

	decision, err := r.Route(types.Request{}, fp, classifier.Result{})
	require.NoError(t, err)
	require.Len(t, decision.Candidates, 2)
	assert.Equal(t, "b", decision.Candidates[0].Name)
}

func TestRouter_CapabilityFilterDropsEndpointsMissingFIM(t *testing.T) {
	r, _, _, _ := newTestRouter([]types.Endpoint{
		{Name: "plain", Priority: 1, Health: types.HealthHealthy},
		{Name: "fim-capable", Priority: 2, Health: types.HealthHealthy, Capabilities: []types.Capability{types.CapFIM}},
	})

	decision, err := r.Route(types.Request{Prompt: "please fill in the middle of this function"}, types.Fingerprint{}, classifier.Result{})
	require.NoError(t, err)
	require.Len(t, decision.Candidates, 1)
	assert.Equal(t, "fim-capable", decision.Candidates[0].Name)
}

func TestRouter_TimeoutScalesWithComplexityScore(t *testing.T) {
	r, _, _, _ := newTestRouter([]types.Endpoint{{Name: "a", Priority: 1, Health: types.HealthHealthy, MaxResponseTokens: 4096}})

	simple, err := r.Route(types.Request{}, types.Fingerprint{}, classifier.Result{Score: 0})
	require.NoError(t, err)
	complex, err := r.Route(types.Request{}, types.Fingerprint{}, classifier.Result{Score: 1})
	require.NoError(t, err)

	assert.Equal(t, r.cfg.BaseTimeout, simple.PerEndpointTimeout)
	assert.Equal(t, time.Duration(float64(r.cfg.BaseTimeout)*3), complex.PerEndpointTimeout)
	assert.Less(t, complex.ResponseMaxTokens, simple.ResponseMaxTokens)
}

func TestRouter_MaxTokensOverrideWins(t *testing.T) {
	r, _, _, _ := newTestRouter([]types.Endpoint{{Name: "a", Priority: 1, Health: types.HealthHealthy, MaxResponseTokens: 4096}})
	override := 777

	decision, err := r.Route(types.Request{MaxTokensOverride: &override}, types.Fingerprint{}, classifier.Result{})
	require.NoError(t, err)
	assert.Equal(t, override, decision.ResponseMaxTokens)
}

func TestLocalFirstBalancer_BiasesTowardUnderrepresentedLocalSide(t *testing.T) {
	b := newLocalFirstBalancer(10, 0.95)
	for i := 0; i < 9; i++ {
		b.record(false) // cloud over-represented
	}

	candidates := []types.Endpoint{
		{Name: "cloud", Priority: 1, Health: types.HealthHealthy, Local: false},
		{Name: "local", Priority: 1, Health: types.HealthHealthy, Local: true},
	}
	out := b.bias(candidates)
	assert.Equal(t, "local", out[0].Name)
}
