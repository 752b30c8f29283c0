// Package learner implements the empirical learner:
// per-fingerprint outcome tracking with exponentially-weighted running
// averages, snapshot reads that copy an entry under its per-key mutex, and
// serialized per-key writes. The
// learner never vetoes a request — its output is an advisory ranking
// input only.
package learner

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/airouter/airouter/internal/types"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config holds the learner's tunables.
type Config struct {
	DemoteThreshold     float64
	DemoteMinObservations int64
	EWMAAlpha           float64
	MaxEntries          int
}

// DefaultConfig mirrors the design defaults.
func DefaultConfig() Config {
	return Config{DemoteThreshold: 0.2, DemoteMinObservations: 10, EWMAAlpha: 0.2, MaxEntries: 50000}
}

// keyState serializes writes for one fingerprint hash. Reads take the same
// mutex only while copying the entry, so a read waits for an in-progress
// write to the same hash; reads are not lock-free.
type keyState struct {
	mu         sync.Mutex
	entry      types.EmpiricalEntry
	lastAccess time.Time
}

// Learner tracks per-fingerprint success history.
type Learner struct {
	cfg    Config
	logger *logrus.Logger

	mu   sync.RWMutex
	byFP map[string]*keyState
}

// New builds an empty Learner.
func New(cfg Config, logger *logrus.Logger) *Learner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Learner{cfg: cfg, logger: logger, byFP: make(map[string]*keyState)}
}

func (l *Learner) stateFor(hash string, create bool) *keyState {
	l.mu.RLock()
	s, ok := l.byFP[hash]
	l.mu.RUnlock()
	if ok || !create {
		return s
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.byFP[hash]; ok {
		return s
	}
	s = &keyState{}
	l.byFP[hash] = s
	return s
}

// Snapshot returns a copy of the current entry for hash, taken under the
// key's mutex, or (zero, false) when nothing has been recorded yet (cold
// start).
func (l *Learner) Snapshot(hash string) (types.EmpiricalEntry, bool) {
	s := l.stateFor(hash, false)
	if s == nil {
		return types.EmpiricalEntry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entry
	if s.entry.FailureBreakdown != nil {
		entry.FailureBreakdown = make(map[types.Outcome]int64, len(s.entry.FailureBreakdown))
		for k, v := range s.entry.FailureBreakdown {
			entry.FailureBreakdown[k] = v
		}
	}
	return entry, s.entry.Total > 0
}

// RecordOutcome updates hash's entry with the given outcome and latency.
// Writes for the same hash are serialized; writes across distinct hashes
// proceed independently.
func (l *Learner) RecordOutcome(hash string, outcome types.Outcome, latency time.Duration) {
	s := l.stateFor(hash, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &s.entry
	e.Total++
	if outcome == types.OutcomeSuccess {
		e.Successes++
	} else {
		if e.FailureBreakdown == nil {
			e.FailureBreakdown = make(map[types.Outcome]int64)
		}
		e.FailureBreakdown[outcome]++
	}

	latMS := float64(latency.Milliseconds())
	if e.Total == 1 {
		e.AvgLatencyMS = latMS
	} else {
		e.AvgLatencyMS = l.cfg.EWMAAlpha*latMS + (1-l.cfg.EWMAAlpha)*e.AvgLatencyMS
	}
	e.LastUpdate = time.Now()
	s.lastAccess = e.LastUpdate

	l.evictIfNeeded()
}

// ShouldDemote reports whether the top-ranked candidate for this
// fingerprint should be moved behind the next candidate, per rule 5: the
// fingerprint's success rate below the configured threshold over at
// least the configured minimum observation count. The router always
// tries the (possibly demoted) candidate list in order — this never
// removes a candidate, only reorders.
func (l *Learner) ShouldDemote(hash string) bool {
	entry, ok := l.Snapshot(hash)
	if !ok {
		return false
	}
	if entry.Total < l.cfg.DemoteMinObservations {
		return false
	}
	return entry.SuccessRate() < l.cfg.DemoteThreshold
}

// evictIfNeeded drops the least-recently-updated entries once the table
// exceeds MaxEntries. Caller need not hold any lock; it acquires its own.
func (l *Learner) evictIfNeeded() {
	if l.cfg.MaxEntries <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.byFP) <= l.cfg.MaxEntries {
		return
	}
	type agedKey struct {
		hash string
		at   time.Time
	}
	aged := make([]agedKey, 0, len(l.byFP))
	for h, s := range l.byFP {
		s.mu.Lock()
		aged = append(aged, agedKey{hash: h, at: s.lastAccess})
		s.mu.Unlock()
	}
	sort.Slice(aged, func(i, j int) bool { return aged[i].at.Before(aged[j].at) })
	excess := len(l.byFP) - l.cfg.MaxEntries
	for i := 0; i < excess && i < len(aged); i++ {
		delete(l.byFP, aged[i].hash)
	}
}

// snapshotEntry is the YAML-serializable form of one table row.
type snapshotEntry struct {
	Hash  string               `yaml:"hash"`
	Entry types.EmpiricalEntry `yaml:"entry"`
}

// SaveSnapshot writes the current table to path as YAML, for reload across
// restarts.
func (l *Learner) SaveSnapshot(path string) error {
	l.mu.RLock()
	rows := make([]snapshotEntry, 0, len(l.byFP))
	for h, s := range l.byFP {
		s.mu.Lock()
		rows = append(rows, snapshotEntry{Hash: h, Entry: s.entry})
		s.mu.Unlock()
	}
	l.mu.RUnlock()

	out, err := yaml.Marshal(rows)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// LoadSnapshot loads a table previously written by SaveSnapshot. A missing
// or corrupt file is tolerated and treated as cold-start, logging a
// warning rather than failing startup.
func (l *Learner) LoadSnapshot(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.WithError(err).Warn("learner snapshot unreadable, starting cold")
		}
		return
	}
	var rows []snapshotEntry
	if err := yaml.Unmarshal(data, &rows); err != nil {
		l.logger.WithError(err).Warn("learner snapshot corrupt, starting cold")
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range rows {
		l.byFP[row.Hash] = &keyState{entry: row.Entry, lastAccess: row.Entry.LastUpdate}
	}
}

// MarshalJSONTopN is used by the ops/status surface (internal/toolserver)
// to report empirical top-N success/failure patterns without exposing the
// learner's internal locking to callers.
func (l *Learner) MarshalJSONTopN(n int) ([]byte, error) {
	l.mu.RLock()
	rows := make([]snapshotEntry, 0, len(l.byFP))
	for h, s := range l.byFP {
		s.mu.Lock()
		rows = append(rows, snapshotEntry{Hash: h, Entry: s.entry})
		s.mu.Unlock()
	}
	l.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].Entry.Total > rows[j].Entry.Total })
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return json.Marshal(rows)
}
