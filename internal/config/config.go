// Package config implements the router's layered configuration loader:
// compiled-in defaults, overridden by an optional YAML file, overridden by
// AIROUTER_-prefixed environment variables, then validated as a whole.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/airouter/airouter/internal/breaker"
	"github.com/airouter/airouter/internal/cache"
	"github.com/airouter/airouter/internal/executor"
	"github.com/airouter/airouter/internal/fileread"
	"github.com/airouter/airouter/internal/health"
	"github.com/airouter/airouter/internal/learner"
	"github.com/airouter/airouter/internal/routing"
	"github.com/airouter/airouter/internal/types"
)

// EndpointConfig is the on-disk shape of one endpoint descriptor.
type EndpointConfig struct {
	Name              string   `yaml:"name"`
	BaseURL           string   `yaml:"base_url"`
	Model             string   `yaml:"model"`
	Priority          int      `yaml:"priority"`
	MaxContextTokens  int      `yaml:"max_context_tokens"`
	MaxResponseTokens int      `yaml:"max_response_tokens"`
	AuthKind          string   `yaml:"auth_kind"`
	AuthSecretRef     string   `yaml:"auth_secret_ref"`
	WireFormat        string   `yaml:"wire_format"`
	Capabilities      []string `yaml:"capabilities"`
	Local             bool     `yaml:"local"`
}

// ToEndpoint resolves e into the runtime types.Endpoint the rest of the
// router operates on. AuthSecretRef names an environment variable holding
// the actual credential; if that variable is unset, AuthSecretRef itself
// is used verbatim (useful for tests and local-only endpoints).
func (e EndpointConfig) ToEndpoint() types.Endpoint {
	wire := types.WireOpenAICompat
	if e.WireFormat == string(types.WireAnthropic) {
		wire = types.WireAnthropic
	}
	auth := types.AuthNone
	if e.AuthKind == string(types.AuthBearer) {
		auth = types.AuthBearer
	}
	caps := make([]types.Capability, 0, len(e.Capabilities))
	for _, c := range e.Capabilities {
		caps = append(caps, types.Capability(c))
	}
	secret := e.AuthSecretRef
	if v := os.Getenv(e.AuthSecretRef); v != "" {
		secret = v
	}
	return types.Endpoint{
		Name:              e.Name,
		BaseURL:           e.BaseURL,
		ModelID:           e.Model,
		MaxContextTokens:  e.MaxContextTokens,
		MaxResponseTokens: e.MaxResponseTokens,
		Priority:          e.Priority,
		Auth:              auth,
		AuthSecretRef:     secret,
		WireFormat:        wire,
		Capabilities:      caps,
		Local:             e.Local,
		Health:            types.HealthUnknown,
		BreakerState:      types.BreakerClosed,
	}
}

// LoggingConfig controls the logrus logger built at startup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WorkspaceConfig controls the file-reading surface.
type WorkspaceConfig struct {
	Root              string
	MaxFileBytes      int64
	MaxFiles          int
	FileConcurrency   int
	AllowedExtensions []string
}

// Config is the fully-resolved, validated configuration for one router
// process. Its subsystem fields are the same Config types each package
// already exposes (breaker.Config, health.Config, ...); this package's
// job is only to load, layer, and validate them, never to redefine them.
type Config struct {
	Endpoints       []EndpointConfig
	Router          routing.Config
	Breaker         breaker.Config
	Health          health.Config
	Cache           cache.Config
	Learner         learner.Config
	Executor        executor.Config
	Workspace       WorkspaceConfig
	Logging         LoggingConfig
	SnapshotPath    string
	DrainOnShutdown time.Duration
}

// rawConfig mirrors the flat, millisecond-suffixed key names as they appear
// in YAML. It exists because the subsystem Config types use time.Duration
// and typed fields the YAML decoder can't target directly with those flat
// key names; loadFromFile decodes into this shape and applyRaw folds it
// onto the subsystem configs.
type rawConfig struct {
	Endpoints                []EndpointConfig `yaml:"endpoints"`
	Logging                  LoggingConfig    `yaml:"logging"`
	SnapshotPath             string           `yaml:"snapshot_path"`
	LocalFirstRatio          *float64         `yaml:"local_first_ratio"`
	RequestTimeoutBaseMS     *int             `yaml:"request_timeout_base_ms"`
	ComplexMultiplier        *float64         `yaml:"complex_multiplier"`
	ProbeIntervalMS          *int             `yaml:"probe_interval_ms"`
	ProbeTimeoutMS           *int             `yaml:"probe_timeout_ms"`
	BreakerFailureThreshold  *int             `yaml:"breaker_failure_threshold"`
	BreakerOpenMS            *int             `yaml:"breaker_open_ms"`
	BreakerHalfopenSuccesses *int             `yaml:"breaker_halfopen_successes"`
	EmpiricalDemoteThreshold *float64         `yaml:"empirical_demote_threshold"`
	CacheTTLMS               *int             `yaml:"cache_ttl_ms"`
	CacheMaxBytes            *int64           `yaml:"cache_max_bytes"`
	CacheMaxEntries          *int             `yaml:"cache_max_entries"`
	MaxFileBytes             *int64           `yaml:"max_file_bytes"`
	MaxFiles                 *int             `yaml:"max_files"`
	FileConcurrency          *int             `yaml:"file_concurrency"`
	AllowedExtensions        []string         `yaml:"allowed_extensions"`
	WorkspaceRoot            *string          `yaml:"workspace_root"`
	RetryAttempts            *int             `yaml:"retry_attempts"`
	RetryBaseMS              *int             `yaml:"retry_base_ms"`
	RetryCapMS               *int             `yaml:"retry_cap_ms"`
	DrainOnShutdownMS        *int             `yaml:"drain_on_shutdown_ms"`
}

// LoadConfig builds a Config by layering defaults, an optional YAML file
// at configPath (skipped silently when the path is empty or missing),
// and environment variables, then validates the result.
func LoadConfig(configPath string) (*Config, error) {
	c := &Config{}
	c.setDefaults()

	if configPath != "" {
		if err := c.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	c.loadFromEnv()

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return c, nil
}

// setDefaults sets default configuration values, one subsystem
// DefaultConfig at a time.
func (c *Config) setDefaults() {
	c.Router = routing.DefaultConfig()
	c.Breaker = breaker.DefaultConfig()
	c.Health = health.DefaultConfig()
	c.Cache = cache.DefaultConfig()
	c.Learner = learner.DefaultConfig()
	c.Executor = executor.DefaultConfig()

	opts := fileread.DefaultOptions()
	c.Workspace = WorkspaceConfig{
		Root:            ".",
		MaxFileBytes:    opts.MaxFileBytes,
		MaxFiles:        opts.MaxFiles,
		FileConcurrency: opts.Concurrency,
	}
	for ext := range opts.AllowedExtensions {
		c.Workspace.AllowedExtensions = append(c.Workspace.AllowedExtensions, ext)
	}

	c.Logging = LoggingConfig{Level: "info", Format: "json"}
	c.DrainOnShutdown = 3 * time.Second
}

// loadFromFile loads configuration from a YAML file, tolerating a
// missing file the same way an absent snapshot is tolerated elsewhere in
// the router: a first deploy with no config file on disk yet still
// starts on defaults.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if len(raw.Endpoints) > 0 {
		c.Endpoints = raw.Endpoints
	}
	if raw.Logging.Level != "" {
		c.Logging.Level = raw.Logging.Level
	}
	if raw.Logging.Format != "" {
		c.Logging.Format = raw.Logging.Format
	}
	if raw.SnapshotPath != "" {
		c.SnapshotPath = raw.SnapshotPath
	}
	if len(raw.AllowedExtensions) > 0 {
		c.Workspace.AllowedExtensions = raw.AllowedExtensions
	}
	c.applyRaw(raw)
	return nil
}

// applyRaw merges every set field of raw onto c's typed subsystem
// configs, converting the flat millisecond keys to time.Duration.
func (c *Config) applyRaw(raw rawConfig) {
	if raw.LocalFirstRatio != nil {
		c.Router.LocalFirstRatio = *raw.LocalFirstRatio
	}
	if raw.RequestTimeoutBaseMS != nil {
		c.Router.BaseTimeout = time.Duration(*raw.RequestTimeoutBaseMS) * time.Millisecond
	}
	if raw.ComplexMultiplier != nil {
		c.Router.ComplexMultiplier = *raw.ComplexMultiplier
	}
	if raw.ProbeIntervalMS != nil {
		c.Health.ProbeInterval = time.Duration(*raw.ProbeIntervalMS) * time.Millisecond
	}
	if raw.ProbeTimeoutMS != nil {
		c.Health.ProbeTimeout = time.Duration(*raw.ProbeTimeoutMS) * time.Millisecond
	}
	if raw.BreakerFailureThreshold != nil {
		c.Breaker.FailureThreshold = *raw.BreakerFailureThreshold
	}
	if raw.BreakerOpenMS != nil {
		c.Breaker.OpenCooldown = time.Duration(*raw.BreakerOpenMS) * time.Millisecond
	}
	if raw.BreakerHalfopenSuccesses != nil {
		c.Breaker.HalfOpenSuccesses = *raw.BreakerHalfopenSuccesses
	}
	if raw.EmpiricalDemoteThreshold != nil {
		c.Learner.DemoteThreshold = *raw.EmpiricalDemoteThreshold
	}
	if raw.CacheTTLMS != nil {
		c.Cache.TTL = time.Duration(*raw.CacheTTLMS) * time.Millisecond
	}
	if raw.CacheMaxBytes != nil {
		c.Cache.MaxBytes = *raw.CacheMaxBytes
	}
	if raw.CacheMaxEntries != nil {
		c.Cache.MaxEntries = *raw.CacheMaxEntries
	}
	if raw.MaxFileBytes != nil {
		c.Workspace.MaxFileBytes = *raw.MaxFileBytes
	}
	if raw.MaxFiles != nil {
		c.Workspace.MaxFiles = *raw.MaxFiles
	}
	if raw.FileConcurrency != nil {
		c.Workspace.FileConcurrency = *raw.FileConcurrency
	}
	if raw.WorkspaceRoot != nil {
		c.Workspace.Root = *raw.WorkspaceRoot
	}
	if raw.RetryAttempts != nil {
		c.Executor.RetryAttempts = *raw.RetryAttempts
	}
	if raw.RetryBaseMS != nil {
		c.Executor.BackoffBase = time.Duration(*raw.RetryBaseMS) * time.Millisecond
	}
	if raw.RetryCapMS != nil {
		c.Executor.BackoffCap = time.Duration(*raw.RetryCapMS) * time.Millisecond
	}
	if raw.DrainOnShutdownMS != nil {
		c.DrainOnShutdown = time.Duration(*raw.DrainOnShutdownMS) * time.Millisecond
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envDurationMS(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

// loadFromEnv overrides configuration from AIROUTER_-prefixed
// environment variables, each parsed best-effort: an unparseable value
// is left at whatever defaults/file already set, rather than failing
// the whole load.
func (c *Config) loadFromEnv() {
	envFloat("AIROUTER_LOCAL_FIRST_RATIO", &c.Router.LocalFirstRatio)
	envDurationMS("AIROUTER_REQUEST_TIMEOUT_BASE_MS", &c.Router.BaseTimeout)
	envFloat("AIROUTER_COMPLEX_MULTIPLIER", &c.Router.ComplexMultiplier)
	envDurationMS("AIROUTER_PROBE_INTERVAL_MS", &c.Health.ProbeInterval)
	envDurationMS("AIROUTER_PROBE_TIMEOUT_MS", &c.Health.ProbeTimeout)
	envInt("AIROUTER_BREAKER_FAILURE_THRESHOLD", &c.Breaker.FailureThreshold)
	envDurationMS("AIROUTER_BREAKER_OPEN_MS", &c.Breaker.OpenCooldown)
	envInt("AIROUTER_BREAKER_HALFOPEN_SUCCESSES", &c.Breaker.HalfOpenSuccesses)
	envFloat("AIROUTER_EMPIRICAL_DEMOTE_THRESHOLD", &c.Learner.DemoteThreshold)
	envDurationMS("AIROUTER_CACHE_TTL_MS", &c.Cache.TTL)
	envInt64("AIROUTER_CACHE_MAX_BYTES", &c.Cache.MaxBytes)
	envInt("AIROUTER_CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)
	envInt64("AIROUTER_MAX_FILE_BYTES", &c.Workspace.MaxFileBytes)
	envInt("AIROUTER_MAX_FILES", &c.Workspace.MaxFiles)
	envInt("AIROUTER_FILE_CONCURRENCY", &c.Workspace.FileConcurrency)
	envInt("AIROUTER_RETRY_ATTEMPTS", &c.Executor.RetryAttempts)
	envDurationMS("AIROUTER_RETRY_BASE_MS", &c.Executor.BackoffBase)
	envDurationMS("AIROUTER_RETRY_CAP_MS", &c.Executor.BackoffCap)
	envDurationMS("AIROUTER_DRAIN_ON_SHUTDOWN_MS", &c.DrainOnShutdown)

	if v := os.Getenv("AIROUTER_WORKSPACE_ROOT"); v != "" {
		c.Workspace.Root = v
	}
	if v := os.Getenv("AIROUTER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AIROUTER_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("AIROUTER_SNAPSHOT_PATH"); v != "" {
		c.SnapshotPath = v
	}
	if v := os.Getenv("AIROUTER_ALLOWED_EXTENSIONS"); v != "" {
		c.Workspace.AllowedExtensions = strings.Split(v, ",")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"json": true, "text": true}

// validate checks the fully-layered configuration for internal
// consistency. It is the only place LoadConfig can fail once the
// defaults/file/env layers have all applied.
func (c *Config) validate() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	if c.Router.LocalFirstRatio < 0 || c.Router.LocalFirstRatio > 1 {
		return fmt.Errorf("local_first_ratio must be in [0,1], got %v", c.Router.LocalFirstRatio)
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint must be configured")
	}

	seen := make(map[string]bool, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoint with empty name")
		}
		if seen[ep.Name] {
			return fmt.Errorf("duplicate endpoint name: %s", ep.Name)
		}
		seen[ep.Name] = true
		if ep.BaseURL == "" {
			return fmt.Errorf("endpoint %s missing base_url", ep.Name)
		}
		if ep.AuthKind != "" && ep.AuthKind != string(types.AuthNone) && ep.AuthKind != string(types.AuthBearer) {
			return fmt.Errorf("endpoint %s has invalid auth_kind: %s", ep.Name, ep.AuthKind)
		}
	}
	return nil
}

// EndpointDescriptors converts the validated endpoint descriptors into
// the runtime types the registry consumes.
func (c *Config) EndpointDescriptors() []types.Endpoint {
	out := make([]types.Endpoint, 0, len(c.Endpoints))
	for _, e := range c.Endpoints {
		out = append(out, e.ToEndpoint())
	}
	return out
}

// SaveToFile saves the current configuration to a YAML file, in the flat
// the design key shape loadFromFile expects back.
func (c *Config) SaveToFile(path string) error {
	out := rawConfig{
		Endpoints:                c.Endpoints,
		Logging:                  c.Logging,
		SnapshotPath:             c.SnapshotPath,
		LocalFirstRatio:          &c.Router.LocalFirstRatio,
		ComplexMultiplier:        &c.Router.ComplexMultiplier,
		BreakerFailureThreshold:  &c.Breaker.FailureThreshold,
		BreakerHalfopenSuccesses: &c.Breaker.HalfOpenSuccesses,
		EmpiricalDemoteThreshold: &c.Learner.DemoteThreshold,
		CacheMaxBytes:            &c.Cache.MaxBytes,
		CacheMaxEntries:          &c.Cache.MaxEntries,
		MaxFileBytes:             &c.Workspace.MaxFileBytes,
		MaxFiles:                 &c.Workspace.MaxFiles,
		FileConcurrency:          &c.Workspace.FileConcurrency,
		AllowedExtensions:        c.Workspace.AllowedExtensions,
		WorkspaceRoot:            &c.Workspace.Root,
		RetryAttempts:            &c.Executor.RetryAttempts,
	}
	requestTimeoutMS := int(c.Router.BaseTimeout.Milliseconds())
	probeIntervalMS := int(c.Health.ProbeInterval.Milliseconds())
	probeTimeoutMS := int(c.Health.ProbeTimeout.Milliseconds())
	breakerOpenMS := int(c.Breaker.OpenCooldown.Milliseconds())
	cacheTTLMS := int(c.Cache.TTL.Milliseconds())
	retryBaseMS := int(c.Executor.BackoffBase.Milliseconds())
	retryCapMS := int(c.Executor.BackoffCap.Milliseconds())
	drainMS := int(c.DrainOnShutdown.Milliseconds())
	out.RequestTimeoutBaseMS = &requestTimeoutMS
	out.ProbeIntervalMS = &probeIntervalMS
	out.ProbeTimeoutMS = &probeTimeoutMS
	out.BreakerOpenMS = &breakerOpenMS
	out.CacheTTLMS = &cacheTTLMS
	out.RetryBaseMS = &retryBaseMS
	out.RetryCapMS = &retryCapMS
	out.DrainOnShutdownMS = &drainMS

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
