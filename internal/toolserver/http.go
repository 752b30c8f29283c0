package toolserver

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

//go:embed openapi.yaml
var embeddedSpec []byte

// Server is the ambient debug/ops HTTP surface: a thin, operator-facing
// mirror of the status tool over /healthz, /status, /metrics. It is not
// the MCP transport, which stays out of scope per the Non-goals.
type Server struct {
	svc     *Service
	router  *mux.Router
	oaRouter routers.Router
	logger  *logrus.Logger
	started time.Time
}

// NewServer builds the ops HTTP surface, loading and validating the
// embedded OpenAPI document up front so a malformed embedded spec fails
// fast at construction rather than silently skipping validation later.
func NewServer(svc *Service, logger *logrus.Logger) (*Server, error) {
	if logger == nil {
		logger = logrus.New()
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(embeddedSpec)
	if err != nil {
		return nil, fmt.Errorf("toolserver: parse embedded openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("toolserver: embedded openapi document is invalid: %w", err)
	}
	oaRouter, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("toolserver: build openapi router: %w", err)
	}

	s := &Server{svc: svc, logger: logger, oaRouter: oaRouter, started: time.Now()}

	r := mux.NewRouter()
	r.Use(s.validationMiddleware)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router = r
	return s, nil
}

// ServeHTTP implements http.Handler so Server can be passed straight to
// http.Server.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// validationMiddleware validates each request against the embedded
// OpenAPI document: documented routes fail closed on validation errors,
// undocumented routes pass through unvalidated. GET requests carry no
// body here, so this mainly guards against unsupported methods and
// malformed query parameters as the ops surface grows.
func (s *Server) validationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := s.oaRouter.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
		}
		if err := openapi3filter.ValidateRequest(context.Background(), input); err != nil {
			s.logger.WithError(err).WithField("path", r.URL.Path).Warn("ops request failed openapi validation")
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type endpointStatusDoc struct {
	Name          string `json:"name"`
	Health        string `json:"health"`
	BreakerState  string `json:"breaker_state"`
	FailureCount  int    `json:"failure_count"`
	LastLatencyMS int64  `json:"last_latency_ms"`
	Priority      int    `json:"priority"`
	Local         bool   `json:"local"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.svc.Status(10)

	docs := make([]endpointStatusDoc, 0, len(status.Endpoints))
	for _, ep := range status.Endpoints {
		docs = append(docs, endpointStatusDoc{
			Name:          ep.Name,
			Health:        string(ep.Health),
			BreakerState:  string(ep.BreakerState),
			FailureCount:  ep.FailureCount,
			LastLatencyMS: ep.LastLatencyMS,
			Priority:      ep.Priority,
			Local:         ep.Local,
		})
	}

	var topN []json.RawMessage
	if err := json.Unmarshal(status.EmpiricalTopNJSON, &topN); err != nil {
		topN = nil
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"endpoints":       docs,
		"cache_entries":   status.CacheEntries,
		"empirical_top_n": topN,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	status := s.svc.Status(0)
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "airouter_uptime_seconds %d\n", int64(time.Since(s.started).Seconds()))
	fmt.Fprintf(w, "airouter_cache_entries %d\n", status.CacheEntries)
	for _, ep := range status.Endpoints {
		fmt.Fprintf(w, "airouter_endpoint_failure_count{endpoint=%q} %d\n", ep.Name, ep.FailureCount)
		fmt.Fprintf(w, "airouter_endpoint_last_latency_ms{endpoint=%q} %d\n", ep.Name, ep.LastLatencyMS)
	}
}
