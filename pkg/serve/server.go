// Package serve exposes the scanner over HTTP with the production
// hardening the boundary needs: auth, per-client rate limits, a circuit
// breaker, health probes, and Prometheus metrics.
package serve

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/pkg/config"
	"github.com/promptgate/promptgate/pkg/scanner"
	"github.com/promptgate/promptgate/pkg/types"
)

const (
	scanRateLimit       = 100 // per minute per client
	reloadRateLimit     = 10  // per hour per client
	breakerFailures     = 10
	breakerRecovery     = 60 * time.Second
	shutdownGracePeriod = 10 * time.Second
)

// Server wires the scan pipeline behind the HTTP boundary.
type Server struct {
	cfg     *config.Settings
	core    *scanner.Core
	log     *zap.Logger
	metrics *Metrics

	breaker       *CircuitBreaker
	scanLimiter   *RateLimiter
	reloadLimiter *RateLimiter
}

// NewServer builds the server around an initialized scanner core.
func NewServer(cfg *config.Settings, core *scanner.Core, log *zap.Logger) *Server {
	return &Server{
		cfg:  cfg,
		core: core,
		log:  log,
		metrics: NewMetrics(func() float64 {
			var total int64
			for _, n := range core.Evaluator().TimeoutCounts() {
				total += n
			}
			return float64(total)
		}),
		breaker:       NewCircuitBreaker(breakerFailures, breakerRecovery),
		scanLimiter:   NewRateLimiter(scanRateLimit, time.Minute),
		reloadLimiter: NewRateLimiter(reloadRateLimit, time.Hour),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /scan", s.handleScan)
	mux.HandleFunc("POST /datasets/reload", s.handleReload)
	mux.HandleFunc("GET /health/live", s.handleLiveness)
	mux.HandleFunc("GET /health/ready", s.handleReadiness)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return mux
}

// ListenAndServe runs the server until ctx is canceled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	s.metrics.ActiveRequests.Inc()
	defer s.metrics.ActiveRequests.Dec()

	if !s.authorize(w, r) {
		return
	}
	if !s.scanLimiter.Allow(clientKey(r)) {
		s.metrics.RequestsTotal.WithLabelValues("rate_limited", "scan").Inc()
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}
	if !s.breaker.Allow() {
		s.metrics.RequestsTotal.WithLabelValues("circuit_open", "scan").Inc()
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable due to high error rate")
		return
	}

	var input types.PreparedInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.breaker.RecordResult(true)
		s.metrics.RequestsTotal.WithLabelValues("validation_error", "scan").Inc()
		writeError(w, http.StatusUnprocessableEntity, "Validation error: "+err.Error())
		return
	}
	if err := input.Validate(s.cfg.MaxInputLength, s.cfg.MaxChunks); err != nil {
		s.breaker.RecordResult(true)
		s.metrics.RequestsTotal.WithLabelValues("validation_error", "scan").Inc()
		writeError(w, http.StatusUnprocessableEntity, "Validation error: "+err.Error())
		return
	}

	start := time.Now()
	result, err := s.core.Scan(r.Context(), input)
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		if s.breaker.RecordResult(false) {
			s.metrics.CircuitBreakerTrips.Inc()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			s.metrics.RequestsTotal.WithLabelValues("timeout", "scan").Inc()
			writeError(w, http.StatusGatewayTimeout, "Request timeout")
			return
		}
		s.metrics.RequestsTotal.WithLabelValues("error", "scan").Inc()
		writeError(w, http.StatusInternalServerError, "Scan failed: "+err.Error())
		return
	}

	// Fail-policy verdicts count as failures even though they carry a
	// folded status, otherwise fail-closed would keep the breaker closed
	// through any scanner outage.
	if s.breaker.RecordResult(!result.ScannerFailure) {
		s.metrics.CircuitBreakerTrips.Inc()
	}
	s.metrics.RequestsTotal.WithLabelValues(string(result.Status), "scan").Inc()
	s.metrics.ScanDuration.Observe(elapsed)
	if result.RuleID != "" {
		dataset := result.Dataset
		if dataset == "" {
			dataset = "unknown"
		}
		s.metrics.RulesMatched.WithLabelValues(dataset, string(result.Severity)).Inc()
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	if !s.reloadLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	report, err := s.core.Reload()
	if err != nil {
		s.metrics.DatasetReloadFailures.Inc()
		writeError(w, http.StatusInternalServerError, "Reload failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "alive",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	reg := s.core.Registry()
	if reg.RuleCount() == 0 {
		writeError(w, http.StatusServiceUnavailable, "Service not ready: No rules loaded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"rule_count":    reg.RuleCount(),
		"dataset_count": reg.DatasetCount(),
		"timestamp":     time.Now().Unix(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	reg := s.core.Registry()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"rule_set_version": reg.Version(),
		"total_rules":      reg.RuleCount(),
		"total_datasets":   reg.DatasetCount(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registry":       s.core.Registry().Stats(),
		"prefilter":      s.core.Prefilter().Stats(),
		"regex_cache":    s.core.Evaluator().CacheSize(),
		"regex_timeouts": s.core.Evaluator().TimeoutCounts(),
		"circuit_state":  s.breaker.State(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.MetricsEnabled {
		writeError(w, http.StatusNotFound, "Metrics not enabled")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "promptgate",
		"version": scanner.Version,
		"status":  "operational",
		"endpoints": map[string]string{
			"scan":      "POST /scan",
			"health":    "GET /health",
			"liveness":  "GET /health/live",
			"readiness": "GET /health/ready",
			"metrics":   "GET /metrics",
			"reload":    "POST /datasets/reload",
			"stats":     "GET /stats",
		},
	})
}

// authorize enforces the optional X-API-Key header. With no key
// configured all requests pass.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.APIKey == "" {
		return true
	}
	key := r.Header.Get("X-API-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
		s.metrics.AuthFailures.Inc()
		w.Header().Set("WWW-Authenticate", "ApiKey")
		writeError(w, http.StatusUnauthorized, "Invalid or missing API key")
		return false
	}
	return true
}

// clientKey identifies a client for rate limiting by remote address.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
