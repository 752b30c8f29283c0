// Package executor implements the request executor:
// walks an ordered candidate list, issues the outbound call, and applies
// retry/failover/fast-fail policy from the error taxonomy. Breaker and
// learner feedback happen here since both are observations of an
// execution attempt, exactly per the per-attempt algorithm.
package executor

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/airouter/airouter/internal/breaker"
	"github.com/airouter/airouter/internal/learner"
	"github.com/airouter/airouter/internal/routerr"
	"github.com/airouter/airouter/internal/types"
)

// Config holds the executor's tunables.
type Config struct {
	RetryAttempts int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
}

// DefaultConfig mirrors the design defaults.
func DefaultConfig() Config {
	return Config{RetryAttempts: 2, BackoffBase: 100 * time.Millisecond, BackoffCap: 2 * time.Second}
}

// Caller issues one outbound call to an endpoint. The default
// implementation (see client.go) dispatches on ep.WireFormat to an
// OpenAI-compatible or Anthropic-native client; tests substitute a fake.
// fpHash is the fingerprint hash of the request driving this call, carried
// through so a signed request can assert which fingerprint produced it.
type Caller interface {
	Call(ctx context.Context, ep types.Endpoint, messages []types.ChatMessage, maxTokens int, fpHash string) (types.EndpointResponse, *routerr.Error)
}

// Attempt records one execution attempt against one endpoint.
type Attempt struct {
	Endpoint   string
	Outcome    types.Outcome
	DurationMS int64
	ErrKind    routerr.Kind
}

// Result is the executor's success output.
type Result struct {
	Response     types.EndpointResponse
	EndpointUsed string
	Attempts     []Attempt
}

// Executor walks candidates and executes the request.
type Executor struct {
	cfg    Config
	brk    *breaker.Breaker
	learn  *learner.Learner
	caller Caller
	logger *logrus.Logger
}

// New builds an Executor. If caller is nil, the default HTTP-backed
// dispatcher (client.go) is used.
func New(cfg Config, brk *breaker.Breaker, learn *learner.Learner, caller Caller, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	if caller == nil {
		caller = newDefaultCaller(logger)
	}
	return &Executor{cfg: cfg, brk: brk, learn: learn, caller: caller, logger: logger}
}

// Execute attempts candidates in order until one succeeds or all are
// exhausted. perEndpointTimeout and maxTokens come from the router's
// Decision; fpHash feeds learner updates.
func (e *Executor) Execute(ctx context.Context, candidates []types.Endpoint, messages []types.ChatMessage, perEndpointTimeout time.Duration, maxTokens int, fpHash string) (Result, error) {
	var attempts []Attempt
	var attemptedNames []string
	var bestErr *routerr.Error

	for _, ep := range candidates {
		if !e.brk.Allow(ep.Name) {
			continue
		}
		attemptedNames = append(attemptedNames, ep.Name)

		for retry := 0; ; retry++ {
			select {
			case <-ctx.Done():
				return Result{}, routerr.Wrap(routerr.KindCancelled, "deadline or cancellation fired before attempt", ctx.Err()).WithAttempted(attemptedNames...)
			default:
			}

			attemptCtx, cancel := context.WithTimeout(ctx, perEndpointTimeout)
			start := time.Now()
			resp, callErr := e.caller.Call(attemptCtx, ep, messages, maxTokens, fpHash)
			dur := time.Since(start)
			cancel()

			if callErr == nil {
				e.brk.RecordOutcome(ep.Name, "", true)
				e.learn.RecordOutcome(fpHash, types.OutcomeSuccess, dur)
				attempts = append(attempts, Attempt{Endpoint: ep.Name, Outcome: types.OutcomeSuccess, DurationMS: dur.Milliseconds()})
				return Result{Response: resp, EndpointUsed: ep.Name, Attempts: attempts}, nil
			}

			if callErr.Kind == routerr.KindCancelled || errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				attempts = append(attempts, Attempt{Endpoint: ep.Name, Outcome: types.OutcomeOther, DurationMS: dur.Milliseconds(), ErrKind: routerr.KindCancelled})
				return Result{}, routerr.New(routerr.KindCancelled, "cancelled during execution").WithAttempted(attemptedNames...)
			}

			outcome := outcomeForKind(callErr.Kind)
			e.brk.RecordOutcome(ep.Name, callErr.Kind, false)
			e.learn.RecordOutcome(fpHash, outcome, dur)
			attempts = append(attempts, Attempt{Endpoint: ep.Name, Outcome: outcome, DurationMS: dur.Milliseconds(), ErrKind: callErr.Kind})
			bestErr = moreInformative(bestErr, callErr)

			e.logger.WithFields(logrus.Fields{"endpoint": ep.Name, "kind": callErr.Kind, "retry": retry}).Debug("execution attempt failed")

			if routerr.ShouldRetrySameEndpoint(callErr.Kind) && retry < e.cfg.RetryAttempts {
				backoff := jitteredBackoff(e.cfg.BackoffBase, e.cfg.BackoffCap, retry+1)
				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					return Result{}, routerr.New(routerr.KindCancelled, "cancelled during retry backoff").WithAttempted(attemptedNames...)
				}
			}
			break
		}
	}

	if bestErr == nil {
		bestErr = routerr.New(routerr.KindRejected, "no candidate endpoint was allowed by its breaker")
	}
	return Result{}, bestErr.WithAttempted(attemptedNames...)
}

func outcomeForKind(kind routerr.Kind) types.Outcome {
	switch kind {
	case routerr.KindTimeout:
		return types.OutcomeTimeout
	case routerr.KindCapacity:
		return types.OutcomeCapacity
	case routerr.KindNetwork:
		return types.OutcomeNetwork
	case routerr.KindUpstream4xx, routerr.KindUpstream5xx:
		return types.OutcomePolicy
	default:
		return types.OutcomeOther
	}
}

// moreInformative implements rule 2's precedence: timeout >
// network > 4xx > generic.
func moreInformative(current, candidate *routerr.Error) *routerr.Error {
	if current == nil {
		return candidate
	}
	if rank(candidate.Kind) > rank(current.Kind) {
		return candidate
	}
	return current
}

func rank(kind routerr.Kind) int {
	switch kind {
	case routerr.KindTimeout:
		return 4
	case routerr.KindNetwork:
		return 3
	case routerr.KindUpstream4xx, routerr.KindUpstream5xx, routerr.KindCapacity:
		return 2
	default:
		return 1
	}
}

// jitteredBackoff implements the base-100ms/cap-2s jittered
// exponential backoff.
func jitteredBackoff(base, capAt time.Duration, attempt int) time.Duration {
	backoff := base << uint(attempt-1)
	if backoff > capAt || backoff <= 0 {
		backoff = capAt
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
	return backoff/2 + jitter
}
