// Package toolserver wires the router's component pipeline together
// behind its named-tool surface (query, analyze_files, status, compare,
// diagnose_file_access), plus an ambient debug HTTP mirror of that
// surface (see http.go). There is no MCP transport framing here, per
// the Non-goals: callers invoke these as plain Go functions.
package toolserver

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/airouter/airouter/internal/admission"
	"github.com/airouter/airouter/internal/breaker"
	"github.com/airouter/airouter/internal/cache"
	"github.com/airouter/airouter/internal/classifier"
	"github.com/airouter/airouter/internal/executor"
	"github.com/airouter/airouter/internal/fileread"
	"github.com/airouter/airouter/internal/fingerprint"
	"github.com/airouter/airouter/internal/health"
	"github.com/airouter/airouter/internal/learner"
	"github.com/airouter/airouter/internal/pathsafety"
	"github.com/airouter/airouter/internal/promptasm"
	"github.com/airouter/airouter/internal/registry"
	"github.com/airouter/airouter/internal/routerr"
	"github.com/airouter/airouter/internal/routing"
	"github.com/airouter/airouter/internal/types"
)

// Service holds every wired component the tool surface dispatches to.
type Service struct {
	Registry  *registry.Registry
	Breaker   *breaker.Breaker
	Health    *health.Monitor
	Cache     *cache.Cache
	Learner   *learner.Learner
	Router    *routing.Router
	Executor  *executor.Executor
	Reader    *fileread.Reader
	Resolver  *pathsafety.Resolver
	FileOpts  fileread.Options
	Admission *admission.Limiter
	Logger    *logrus.Logger
}

// New builds a Service from its already-constructed components. main.go
// is responsible for wiring each component from the loaded Config before
// calling this. admissionLimiter may be nil, in which case admission
// control is disabled (every Query call is allowed through).
func New(reg *registry.Registry, brk *breaker.Breaker, mon *health.Monitor, c *cache.Cache, learn *learner.Learner, rtr *routing.Router, exec *executor.Executor, reader *fileread.Reader, resolver *pathsafety.Resolver, fileOpts fileread.Options, admissionLimiter *admission.Limiter, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	if admissionLimiter == nil {
		admissionLimiter = admission.New(admission.DefaultConfig(), logger)
	}
	return &Service{
		Registry: reg, Breaker: brk, Health: mon, Cache: c, Learner: learn,
		Router: rtr, Executor: exec, Reader: reader, Resolver: resolver,
		FileOpts: fileOpts, Admission: admissionLimiter, Logger: logger,
	}
}

// QueryInput is the `query` tool's input contract.
type QueryInput struct {
	Prompt        string
	Context       string
	TaskHint      types.TaskHint
	ForceEndpoint string
	FileInputs    []string
	Deadline      time.Time
}

// RoutingMethod is the `method` enum of the routing_decision metadata.
type RoutingMethod string

const (
	MethodDirect    RoutingMethod = "direct"
	MethodForced    RoutingMethod = "forced"
	MethodEmpirical RoutingMethod = "empirical"
	MethodFailover  RoutingMethod = "failover"
)

// RoutingDecision is the structured metadata block the design requires on
// every query-bearing tool response.
type RoutingDecision struct {
	EndpointUsed     string
	ReasonCode       string
	ConfidencePercent int
	Method           RoutingMethod
}

// EmpiricalRouting is the empirical_routing metadata block.
type EmpiricalRouting struct {
	FingerprintHash      string
	HistoricalSuccessRate *float64
	SampleCount          int64
	Demoted              bool
}

// Performance is the performance metadata block.
type Performance struct {
	TotalMS    int64
	EndpointMS int64
	RoutingMS  int64
}

// Classification is the classification metadata block.
type Classification struct {
	Intent            classifier.Intent
	ScorePercent      int
	ComplexityPercent int
}

// AttemptSummary mirrors one executor.Attempt for the attempts[] metadata.
type AttemptSummary struct {
	Endpoint   string
	Outcome    types.Outcome
	DurationMS int64
}

// QueryOutput is the `query` tool's output contract.
type QueryOutput struct {
	Content         string
	RoutingDecision RoutingDecision
	Empirical       EmpiricalRouting
	Performance     Performance
	Classification  Classification
	Attempts        []AttemptSummary
}

// Query implements the `query` tool: fingerprints and
// classifies the request, routes it, executes against the candidate
// list (through the response cache's single-flight coalescing), and
// returns the response with full structured metadata.
func (s *Service) Query(ctx context.Context, in QueryInput) (QueryOutput, error) {
	start := time.Now()

	request := types.Request{
		Prompt:        in.Prompt,
		Context:       in.Context,
		TaskHint:      in.TaskHint,
		FileInputs:    in.FileInputs,
		ForceEndpoint: in.ForceEndpoint,
		Deadline:      in.Deadline,
	}
	if request.Prompt == "" {
		return QueryOutput{}, routerr.New(routerr.KindInvalidRequest, "prompt is required")
	}

	admissionKey := request.ForceEndpoint
	if admissionKey == "" {
		admissionKey = "global"
	}
	if !s.Admission.Allow(admissionKey) {
		return QueryOutput{}, routerr.New(routerr.KindCapacity, "admission control rejected request: rate limit exceeded")
	}

	// Every downstream call inherits the request's deadline, if any, as a
	// cancellation signal rather than relying solely on static per-call
	// timeouts.
	fileOpts := s.FileOpts
	if !request.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, request.Deadline)
		defer cancel()

		if remaining := time.Until(request.Deadline); remaining < fileOpts.PerFileTimeout {
			fileOpts.PerFileTimeout = remaining
		}
	}

	var fileUnits []types.FileUnit
	if len(in.FileInputs) > 0 {
		res := s.Reader.Analyze(ctx, in.FileInputs, fileOpts)
		fileUnits = res.Files
	}

	fp := fingerprint.Fingerprint(request)
	cls := classifier.Classify(request)

	cacheKey := fp.Hash
	if request.ForceEndpoint != "" {
		cacheKey = fp.Hash + "|force:" + request.ForceEndpoint
	}

	var routingMS int64
	var attempts []executor.Attempt
	var endpointUsed string

	value, err := s.Cache.GetOrCompute(cacheKey, func() (types.CacheValue, error) {
		routeStart := time.Now()
		decision, rErr := s.Router.Route(request, fp, cls)
		routingMS = time.Since(routeStart).Milliseconds()
		if rErr != nil {
			return types.CacheValue{}, rErr
		}

		messages := buildMessages(request, fileUnits, decision.Candidates[0])
		result, xErr := s.Executor.Execute(ctx, decision.Candidates, messages, decision.PerEndpointTimeout, decision.ResponseMaxTokens, fp.Hash)
		attempts = result.Attempts
		if xErr != nil {
			return types.CacheValue{}, xErr
		}
		endpointUsed = result.EndpointUsed
		return types.CacheValue{
			Response:     result.Response,
			EndpointUsed: result.EndpointUsed,
			CompletedAt:  time.Now(),
		}, nil
	})
	if err != nil {
		return QueryOutput{}, err
	}
	if endpointUsed == "" {
		endpointUsed = value.EndpointUsed
	}

	demoted := s.Learner.ShouldDemote(fp.Hash)
	method := MethodDirect
	switch {
	case request.ForceEndpoint != "":
		method = MethodForced
	case len(attempts) > 1:
		method = MethodFailover
	case demoted:
		method = MethodEmpirical
	}

	confidence := 100
	if n := len(attempts); n > 1 {
		confidence -= 20 * (n - 1)
	}
	if demoted {
		confidence -= 10
	}
	if confidence < 40 {
		confidence = 40
	}

	var successRate *float64
	var sampleCount int64
	if entry, ok := s.Learner.Snapshot(fp.Hash); ok {
		rate := entry.SuccessRate()
		successRate = &rate
		sampleCount = entry.Total
	}

	var endpointMS int64
	summaries := make([]AttemptSummary, 0, len(attempts))
	for _, a := range attempts {
		summaries = append(summaries, AttemptSummary{Endpoint: a.Endpoint, Outcome: a.Outcome, DurationMS: a.DurationMS})
		endpointMS = a.DurationMS
	}

	out := QueryOutput{
		Content: value.Response.Content,
		RoutingDecision: RoutingDecision{
			EndpointUsed:      endpointUsed,
			ReasonCode:        string(method),
			ConfidencePercent: confidence,
			Method:            method,
		},
		Empirical: EmpiricalRouting{
			FingerprintHash:       fp.Hash,
			HistoricalSuccessRate: successRate,
			SampleCount:           sampleCount,
			Demoted:               demoted,
		},
		Performance: Performance{
			TotalMS:    time.Since(start).Milliseconds(),
			EndpointMS: endpointMS,
			RoutingMS:  routingMS,
		},
		Classification: Classification{
			Intent:            cls.Intent,
			ScorePercent:      int(cls.Score * 100),
			ComplexityPercent: int(fp.Complexity * 100),
		},
		Attempts: summaries,
	}
	return out, nil
}

func buildMessages(request types.Request, fileUnits []types.FileUnit, endpoint types.Endpoint) []types.ChatMessage {
	assembled := promptasm.Assemble(request, endpoint, fileUnits)
	return []types.ChatMessage{{Role: "user", Content: assembled.PromptText}}
}

// AnalyzeFilesInput is the `analyze_files` tool's input contract.
type AnalyzeFilesInput struct {
	Paths                 []string
	MaxFiles              int
	IncludeProjectContext bool
	AttachQuery           *QueryInput
}

// AnalyzeFilesOutput is the `analyze_files` tool's output contract.
type AnalyzeFilesOutput struct {
	Files          []types.FileUnit
	Errors         []fileread.FileError
	ProjectContext *fileread.ProjectContext
	Query          *QueryOutput
}

// AnalyzeFiles implements the `analyze_files` tool: analyzes
// paths/pattern, optionally including project context, and — when an
// AttachQuery is supplied — runs it with FileInputs set to the same
// paths so the prompt is assembled from these files.
func (s *Service) AnalyzeFiles(ctx context.Context, in AnalyzeFilesInput) (AnalyzeFilesOutput, error) {
	opts := s.FileOpts
	if in.MaxFiles > 0 {
		opts.MaxFiles = in.MaxFiles
	}
	opts.IncludeProjectContext = in.IncludeProjectContext

	res := s.Reader.Analyze(ctx, in.Paths, opts)
	out := AnalyzeFilesOutput{Files: res.Files, Errors: res.Errors, ProjectContext: res.Project}

	if in.AttachQuery != nil {
		q := *in.AttachQuery
		q.FileInputs = in.Paths
		queryOut, err := s.Query(ctx, q)
		if err != nil {
			return out, err
		}
		out.Query = &queryOut
	}
	return out, nil
}

// EndpointStatus is one endpoint's entry in the `status` tool's output.
type EndpointStatus struct {
	Name          string
	Health        types.HealthState
	BreakerState  types.BreakerState
	FailureCount  int
	LastLatencyMS int64
	Priority      int
	Local         bool
}

// StatusOutput is the `status` tool's output contract: per-endpoint
// health, cache statistics, breaker states, and empirical top-N patterns.
type StatusOutput struct {
	Endpoints        []EndpointStatus
	CacheEntries     int
	EmpiricalTopNJSON []byte
}

// Status implements the `status` tool, which takes no caller input; topN
// only bounds how many empirical top-N rows are reported (0 reports all).
func (s *Service) Status(topN int) StatusOutput {
	eps := s.Registry.List()
	statuses := make([]EndpointStatus, 0, len(eps))
	for _, ep := range eps {
		statuses = append(statuses, EndpointStatus{
			Name:          ep.Name,
			Health:        ep.Health,
			BreakerState:  s.Breaker.State(ep.Name),
			FailureCount:  s.Breaker.FailureCount(ep.Name),
			LastLatencyMS: ep.LastLatency.Milliseconds(),
			Priority:      ep.Priority,
			Local:         ep.Local,
		})
	}

	topJSON, err := s.Learner.MarshalJSONTopN(topN)
	if err != nil {
		s.Logger.WithError(err).Warn("failed to marshal empirical top-N for status")
		topJSON = []byte("[]")
	}

	return StatusOutput{
		Endpoints:         statuses,
		CacheEntries:      s.Cache.Len(),
		EmpiricalTopNJSON: topJSON,
	}
}

// CompareInput is the `compare` tool's input contract.
type CompareInput struct {
	PathA, PathB string
	AnalyzeWith  *QueryInput // when set, also runs a query against each file
}

// CompareOutput is the `compare` tool's output contract.
type CompareOutput struct {
	FileA, FileB       types.FileUnit
	SizeDeltaBytes     int64
	LineCountDelta     int
	SharedImports      []string
	SimilarityPercent  int
	QueryA, QueryB     *QueryOutput
}

// Compare implements the `compare` tool.
func (s *Service) Compare(ctx context.Context, in CompareInput) (CompareOutput, error) {
	res := s.Reader.Analyze(ctx, []string{in.PathA, in.PathB}, s.FileOpts)
	if len(res.Errors) > 0 {
		return CompareOutput{}, routerr.New(routerr.KindInvalidRequest, fmt.Sprintf("compare: %d file(s) failed to read", len(res.Errors)))
	}
	if len(res.Files) != 2 {
		return CompareOutput{}, routerr.New(routerr.KindInvalidRequest, "compare requires exactly two readable paths")
	}

	a, b := res.Files[0], res.Files[1]
	if resolvedA, rErr := s.Resolver.Resolve(in.PathA); rErr == nil && a.Path != resolvedA {
		a, b = b, a
	}

	out := CompareOutput{
		FileA:             a,
		FileB:             b,
		SizeDeltaBytes:    a.Size - b.Size,
		LineCountDelta:    a.LineCount - b.LineCount,
		SharedImports:     sharedStrings(a.Imports, b.Imports),
		SimilarityPercent: similarityPercent(a, b),
	}

	if in.AnalyzeWith != nil {
		qa := *in.AnalyzeWith
		qa.FileInputs = []string{in.PathA}
		queryA, err := s.Query(ctx, qa)
		if err != nil {
			return out, err
		}
		out.QueryA = &queryA

		qb := *in.AnalyzeWith
		qb.FileInputs = []string{in.PathB}
		queryB, err := s.Query(ctx, qb)
		if err != nil {
			return out, err
		}
		out.QueryB = &queryB
	}
	return out, nil
}

func sharedStrings(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	var shared []string
	for _, s := range b {
		if set[s] {
			shared = append(shared, s)
		}
	}
	sort.Strings(shared)
	return shared
}

// similarityPercent is a coarse, deterministic structural-similarity
// heuristic: language match, complexity-bucket match, and import overlap
// each contribute a third of the score.
func similarityPercent(a, b types.FileUnit) int {
	score := 0.0
	if a.Language == b.Language {
		score += 1.0
	}
	if a.ComplexityBucket == b.ComplexityBucket {
		score += 1.0
	}
	union := make(map[string]bool, len(a.Imports)+len(b.Imports))
	for _, s := range a.Imports {
		union[s] = true
	}
	for _, s := range b.Imports {
		union[s] = true
	}
	if len(union) > 0 {
		score += float64(len(sharedStrings(a.Imports, b.Imports))) / float64(len(union))
	}
	return int(score / 3.0 * 100)
}

// DiagnoseFileAccessOutput is the `diagnose_file_access` tool's output
// contract: a structured report of each safety check and its pass/fail.
type DiagnoseFileAccessOutput struct {
	Path           string
	ResolvedPath   string
	WithinRoot     bool
	TraversalFree  bool
	NotRestricted  bool
	Readable       bool
	FailureReason  string
}

// DiagnoseFileAccess implements the `diagnose_file_access` tool.
// pathsafety.Resolve reports only the first check that failed, as a
// single error; this reconstructs the per-check report from its message,
// since no finer-grained API is exposed.
func (s *Service) DiagnoseFileAccess(path string) DiagnoseFileAccessOutput {
	out := DiagnoseFileAccessOutput{Path: path}

	resolved, err := s.Resolver.Resolve(path)
	if err != nil {
		out.FailureReason = err.Error()
		switch {
		case strings.Contains(out.FailureReason, "restricted prefix"):
			out.NotRestricted = false
			out.WithinRoot, out.TraversalFree = true, true
		case strings.Contains(out.FailureReason, "escapes workspace root"):
			out.WithinRoot = false
			out.TraversalFree, out.NotRestricted = true, true
		case strings.Contains(out.FailureReason, "blocked segment"):
			out.TraversalFree = false
			out.WithinRoot, out.NotRestricted = true, true
		}
		return out
	}

	out.ResolvedPath = resolved
	out.WithinRoot = true
	out.TraversalFree = true
	out.NotRestricted = true

	if info, statErr := os.Stat(resolved); statErr == nil && !info.IsDir() {
		out.Readable = true
	} else if statErr != nil {
		out.FailureReason = statErr.Error()
	}
	return out
}
