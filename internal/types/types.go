// Package types holds the data model shared across the router: requests,
// fingerprints, endpoints, file analysis units, cache entries, and the
// execution/empirical bookkeeping records.
package types

import "time"

// TaskHint is the caller-supplied hint about what kind of work a Request
// represents. It never forbids routing to any endpoint by itself.
type TaskHint string

const (
	TaskCoding     TaskHint = "coding"
	TaskDebugging  TaskHint = "debugging"
	TaskAnalysis   TaskHint = "analysis"
	TaskGeneration TaskHint = "generation"
	TaskGeneral    TaskHint = "general"
)

// Request is the unit accepted by the router.
type Request struct {
	Prompt            string
	Context           string
	TaskHint          TaskHint
	FileInputs        []string
	ForceEndpoint     string
	MaxTokensOverride *int
	Deadline          time.Time
}

// Domain is the coarse subject-matter bucket a Fingerprint falls into.
type Domain string

const (
	DomainDataProcessing Domain = "data_processing"
	DomainFrontend       Domain = "frontend"
	DomainBackend        Domain = "backend"
	DomainDebugging      Domain = "debugging"
	DomainArchitecture   Domain = "architecture"
	DomainFileAnalysis   Domain = "file_analysis"
	DomainGeneral        Domain = "general"
)

// QuestionType classifies the grammatical shape of the request.
type QuestionType string

const (
	QuestionHowTo          QuestionType = "how_to"
	QuestionExplanation    QuestionType = "explanation"
	QuestionTroubleshoot   QuestionType = "troubleshooting"
	QuestionImplementation QuestionType = "implementation"
	QuestionAnalysis       QuestionType = "analysis"
	QuestionGeneral        QuestionType = "general_query"
)

// LengthBucket buckets a request's effective prompt length.
type LengthBucket string

const (
	LengthSmall  LengthBucket = "small"
	LengthMedium LengthBucket = "medium"
	LengthLarge  LengthBucket = "large"
)

// Fingerprint is the derived, canonical summary of a Request. It keys both
// the cache and the empirical-learning table. Two Requests that reduce to
// the same Fingerprint must receive cache-equivalent service.
type Fingerprint struct {
	Domain       Domain
	QuestionType QuestionType
	Keywords     []string
	Complexity   float64
	LengthBucket LengthBucket
	HasCode      bool
	HasJSON      bool
	Hash         string
}

// AuthKind is the authentication policy an Endpoint expects for outbound
// calls.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthBearer AuthKind = "bearer"
)

// WireFormat selects which client the executor uses to talk to an endpoint.
// OpenAICompat is the default and required baseline; Anthropic is an
// additive capability for endpoints that speak the Anthropic Messages API.
type WireFormat string

const (
	WireOpenAICompat WireFormat = "openai_compat"
	WireAnthropic    WireFormat = "anthropic_native"
)

// HealthState is the mutable health of an Endpoint as observed by the
// background health monitor.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// BreakerState is the mutable circuit-breaker state of an Endpoint.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Capability is a tag describing what kind of request an Endpoint can serve.
type Capability string

const (
	CapFIM            Capability = "fim"
	CapCode           Capability = "code"
	CapReasoning      Capability = "reasoning"
	CapLargeContext   Capability = "large_context"
	CapSignedRequests Capability = "signed_requests"
)

// Endpoint is an immutable descriptor plus its mutable runtime state. The
// immutable fields are set at load time and never mutated; the mutable
// fields are guarded by the endpoint's own mutex (see internal/registry).
type Endpoint struct {
	Name              string
	BaseURL           string
	ModelID           string
	MaxContextTokens  int
	MaxResponseTokens int
	Priority          int
	Auth              AuthKind
	AuthSecretRef     string
	WireFormat        WireFormat
	Capabilities      []Capability
	Local             bool

	Health       HealthState
	LastProbeAt  time.Time
	LastLatency  time.Duration
	FailureCount int
	BreakerState BreakerState
}

// HasCapability reports whether the endpoint advertises cap.
func (e *Endpoint) HasCapability(cap Capability) bool {
	for _, c := range e.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// FileUnit is one analyzed source file.
type FileUnit struct {
	Path             string
	Size             int64
	Language         string
	LineCount        int
	Imports          []string
	Functions        []string
	Classes          []string
	ComplexityBucket string // low | medium | high
	Content          string
	Chunks           []Chunk
}

// Chunk is a bounded slice of a FileUnit's content.
type Chunk struct {
	SourcePath      string
	OrderIndex      int
	TokenEstimate   int
	Text            string
	CutAtBoundary   bool
	CarryOverTokens int
}

// ChatMessage is one OpenAI-compatible chat message.
type ChatMessage struct {
	Role    string
	Content string
}

// EndpointResponse is what an endpoint call returns on success.
type EndpointResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// CacheValue is the payload stored for a cache key.
type CacheValue struct {
	Response      EndpointResponse
	EndpointUsed  string
	CompletedAt   time.Time
	TokensCharged int
}

// Outcome classifies how an execution attempt ended, for ExecutionRecord and
// the breaker/learner feeds.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeCapacity Outcome = "capacity"
	OutcomeNetwork Outcome = "network"
	OutcomePolicy  Outcome = "policy"
	OutcomeOther   Outcome = "other"
)

// QualitySignal is an additive, observability-only heuristic carried by
// ExecutionRecord.Quality. No component in this module computes it, and it
// never drives retries, failover, or breaker accounting.
type QualitySignal string

const (
	QualityUnknown   QualitySignal = ""
	QualityOK        QualitySignal = "ok"
	QualityEmpty     QualitySignal = "empty"
	QualityRefusal   QualitySignal = "refusal"
	QualityTruncated QualitySignal = "truncated"
)

// ExecutionRecord describes one execution attempt. No component in this
// module creates or stores ExecutionRecords.
type ExecutionRecord struct {
	FingerprintHash string
	Endpoint        string
	StartedAt       time.Time
	DurationMS      int64
	Outcome         Outcome
	BytesOut        int
	BytesIn         int
	Quality         QualitySignal
}

// EmpiricalEntry is the running success record for a fingerprint.
type EmpiricalEntry struct {
	Total            int64
	Successes        int64
	AvgLatencyMS     float64
	FailureBreakdown map[Outcome]int64
	LastUpdate       time.Time
}

// SuccessRate returns Successes/Total, or 0 when Total is 0.
func (e *EmpiricalEntry) SuccessRate() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Successes) / float64(e.Total)
}
