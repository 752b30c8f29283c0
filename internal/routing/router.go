// Package routing implements the router: selects an
// ordered list of endpoint candidates for a request, consulting the
// registry, health monitor, circuit breaker, and empirical learner. The
// router never refuses to try an endpoint on predicted grounds alone — the
// learner only reorders.
package routing

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/airouter/airouter/internal/breaker"
	"github.com/airouter/airouter/internal/classifier"
	"github.com/airouter/airouter/internal/learner"
	"github.com/airouter/airouter/internal/registry"
	"github.com/airouter/airouter/internal/routerr"
	"github.com/airouter/airouter/internal/types"
)

// Config holds the router's tunables.
type Config struct {
	LocalFirstRatio   float64
	RollingWindowSize int
	BaseTimeout       time.Duration
	ComplexMultiplier float64
}

// DefaultConfig mirrors the design/§6 defaults.
func DefaultConfig() Config {
	return Config{LocalFirstRatio: 0.95, RollingWindowSize: 100, BaseTimeout: 25 * time.Second, ComplexMultiplier: 3.0}
}

// Decision is the router's output: an ordered candidate list plus the
// per-endpoint timeout and response token budget to apply to whichever
// candidate the executor is currently attempting.
type Decision struct {
	Candidates         []types.Endpoint
	PerEndpointTimeout time.Duration
	ResponseMaxTokens  int
}

// Router selects candidates given a request, its fingerprint, and the
// classifier's verdict.
type Router struct {
	cfg      Config
	reg      *registry.Registry
	brk      *breaker.Breaker
	learn    *learner.Learner
	logger   *logrus.Logger
	balancer *localFirstBalancer
}

// New builds a Router over the given registry, breaker, and learner.
func New(cfg Config, reg *registry.Registry, brk *breaker.Breaker, learn *learner.Learner, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	return &Router{
		cfg:      cfg,
		reg:      reg,
		brk:      brk,
		learn:    learn,
		logger:   logger,
		balancer: newLocalFirstBalancer(cfg.RollingWindowSize, cfg.LocalFirstRatio),
	}
}

// Route implements the route(request, fingerprint, classification) contract
//.
func (r *Router) Route(request types.Request, fp types.Fingerprint, cls classifier.Result) (Decision, error) {
	if request.ForceEndpoint != "" {
		ep, ok := r.reg.Get(request.ForceEndpoint)
		if !ok {
			return Decision{}, routerr.New(routerr.KindInvalidRequest, "force_endpoint does not name a configured endpoint")
		}
		if r.brk.State(ep.Name) == types.BreakerOpen {
			r.logger.WithField("endpoint", ep.Name).Warn("forced endpoint's breaker is open")
			return Decision{}, routerr.New(routerr.KindEndpointOpen, "forced endpoint's breaker is open").WithAttempted(ep.Name)
		}
		return Decision{
			Candidates:         []types.Endpoint{ep},
			PerEndpointTimeout: r.timeoutFor(cls),
			ResponseMaxTokens:  r.responseBudget(ep, cls),
		}, nil
	}

	required := deriveRequiredCapabilities(request, fp)
	candidates := r.filterAndRank(required)
	if len(candidates) == 0 {
		return Decision{}, routerr.New(routerr.KindRejected, "no selectable endpoint satisfies health, breaker, and capability constraints")
	}

	candidates = r.balancer.bias(candidates)
	candidates = r.applyEmpiricalDemotion(candidates, fp.Hash)

	budget := r.responseBudget(candidates[0], cls)
	if request.MaxTokensOverride != nil {
		budget = *request.MaxTokensOverride
	}

	r.logger.WithFields(logrus.Fields{
		"top_candidate": candidates[0].Name,
		"candidates":    len(candidates),
		"intent":        cls.Intent,
	}).Debug("routing decision made")

	return Decision{
		Candidates:         candidates,
		PerEndpointTimeout: r.timeoutFor(cls),
		ResponseMaxTokens:  budget,
	}, nil
}

// filterAndRank implements rules 2 and 3: drop open-breaker/unhealthy/
// capability-mismatched endpoints, then rank by priority ascending, health
// descending, latency ascending.
func (r *Router) filterAndRank(required []types.Capability) []types.Endpoint {
	all := r.reg.List()
	out := make([]types.Endpoint, 0, len(all))
	for _, ep := range all {
		if r.brk.State(ep.Name) == types.BreakerOpen {
			continue
		}
		if ep.Health == types.HealthUnhealthy {
			continue
		}
		if !hasAllCapabilities(ep, required) {
			continue
		}
		out = append(out, ep)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		hi, hj := healthRank(out[i].Health), healthRank(out[j].Health)
		if hi != hj {
			return hi < hj
		}
		return out[i].LastLatency < out[j].LastLatency
	})
	return out
}

// healthRank orders health states healthy > degraded > unknown (the design
// rule 3). Unhealthy is already filtered out before this runs.
func healthRank(h types.HealthState) int {
	switch h {
	case types.HealthHealthy:
		return 0
	case types.HealthDegraded:
		return 1
	default:
		return 2
	}
}

func hasAllCapabilities(ep types.Endpoint, required []types.Capability) bool {
	for _, c := range required {
		if !ep.HasCapability(c) {
			return false
		}
	}
	return true
}

// deriveRequiredCapabilities derives the capability set an endpoint must
// advertise to serve this request, from task_hint and the fingerprint
// (rule 2). This never adds a soft preference — only a hard
// requirement that filters the candidate set.
func deriveRequiredCapabilities(request types.Request, fp types.Fingerprint) []types.Capability {
	var required []types.Capability
	lower := strings.ToLower(request.Prompt)
	if strings.Contains(lower, "fill in the middle") || strings.Contains(lower, "fill-in-the-middle") || strings.Contains(lower, "<fim") {
		required = append(required, types.CapFIM)
	}
	if fp.LengthBucket == types.LengthLarge {
		required = append(required, types.CapLargeContext)
	}
	return required
}

// applyEmpiricalDemotion implements rule 5: if the learner's empirical
// success rate for this fingerprint (recorded across all endpoints, not per
// candidate) is below the demote threshold over enough observations, move
// the top candidate behind the next candidate.
// The candidate is never removed, only reordered.
func (r *Router) applyEmpiricalDemotion(candidates []types.Endpoint, fpHash string) []types.Endpoint {
	if len(candidates) < 2 || r.learn == nil {
		return candidates
	}
	if r.learn.ShouldDemote(fpHash) {
		reordered := append([]types.Endpoint(nil), candidates...)
		reordered[0], reordered[1] = reordered[1], reordered[0]
		return reordered
	}
	return candidates
}

// timeoutFor implements rule 6's timeout scaling: base * (1 + (multiplier-1)*score).
func (r *Router) timeoutFor(cls classifier.Result) time.Duration {
	factor := 1 + (r.cfg.ComplexMultiplier-1)*cls.Score
	return time.Duration(float64(r.cfg.BaseTimeout) * factor)
}

// responseBudget scales the response-token budget symmetrically down from
// the endpoint's max as the timeout scales up, so that a complex request
// trades response-token headroom for wall-clock time.
func (r *Router) responseBudget(ep types.Endpoint, cls classifier.Result) int {
	factor := 1 + (r.cfg.ComplexMultiplier-1)*cls.Score
	budget := int(float64(ep.MaxResponseTokens) / factor)
	const floor = 256
	if budget < floor {
		budget = floor
	}
	if budget > ep.MaxResponseTokens {
		budget = ep.MaxResponseTokens
	}
	return budget
}

// localFirstBalancer maintains a rolling window of recent local/cloud
// decisions and, when the ranked candidate list is otherwise tied at the
// top, biases toward whichever side is currently under-represented
// relative to the target ratio (rule 4) — a token-bucket style
// balancer, not a hard gate.
type localFirstBalancer struct {
	mu               sync.Mutex
	window           []bool // true = local
	pos              int
	size             int
	cap              int
	targetLocalRatio float64
}

func newLocalFirstBalancer(windowSize int, targetRatio float64) *localFirstBalancer {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &localFirstBalancer{window: make([]bool, windowSize), cap: windowSize, targetLocalRatio: targetRatio}
}

func (b *localFirstBalancer) record(local bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window[b.pos] = local
	b.pos = (b.pos + 1) % b.cap
	if b.size < b.cap {
		b.size++
	}
}

func (b *localFirstBalancer) currentLocalRatio() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return b.targetLocalRatio // no history yet; assume on-target
	}
	count := 0
	for i := 0; i < b.size; i++ {
		if b.window[i] {
			count++
		}
	}
	return float64(count) / float64(b.size)
}

// bias reorders a leading tied group (identical priority and health rank)
// of candidates toward whichever side (local/cloud) the rolling window is
// currently under-representing, then records the decision. When the
// leading group isn't tied, or contains only one side, it is returned
// unchanged.
func (b *localFirstBalancer) bias(candidates []types.Endpoint) []types.Endpoint {
	if len(candidates) < 2 {
		if len(candidates) == 1 {
			b.record(candidates[0].Local)
		}
		return candidates
	}

	tieEnd := 1
	for tieEnd < len(candidates) &&
		candidates[tieEnd].Priority == candidates[0].Priority &&
		healthRank(candidates[tieEnd].Health) == healthRank(candidates[0].Health) {
		tieEnd++
	}

	if tieEnd > 1 {
		group := append([]types.Endpoint(nil), candidates[:tieEnd]...)
		preferLocal := b.currentLocalRatio() < b.targetLocalRatio
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Local != group[j].Local {
				if preferLocal {
					return group[i].Local
				}
				return !group[i].Local
			}
			return false
		})
		out := append(append([]types.Endpoint(nil), group...), candidates[tieEnd:]...)
		b.record(out[0].Local)
		return out
	}

	b.record(candidates[0].Local)
	return candidates
}
