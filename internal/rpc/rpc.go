// Copyright 2024-2025 FlowSpec
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rpc binds the engine's six RPCs to HTTP+JSON, plus a health
// check and a Prometheus metrics endpoint. Handlers never let a
// panic or native exception escape: anything unexpected becomes a
// {success:false, error:...} response, the same shape the engine
// itself returns.
package rpc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/jakekausler/campaign-manager-rules/internal/engine"
)

// Server wires an Engine to an HTTP router.
type Server struct {
	engine  *engine.Engine
	logger  *logrus.Logger
	router  *mux.Router
	metrics *metrics
}

type metrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rules_worker_rpc_duration_seconds",
			Help:    "RPC handler latency by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rules_worker_rpc_total",
			Help: "RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
	}
	reg.MustRegister(m.requestDuration, m.requestTotal)
	return m
}

// NewServer constructs a Server with routes registered.
func NewServer(e *engine.Engine, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())

	s := &Server{
		engine:  e,
		logger:  logger,
		router:  mux.NewRouter(),
		metrics: newMetrics(reg),
	}
	s.routes(reg)
	return s
}

// Router returns the underlying mux.Router, e.g. for http.ListenAndServe.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes(reg *prometheus.Registry) {
	s.router.HandleFunc("/rpc/evaluate-condition", s.timed("EvaluateCondition", s.handleEvaluateCondition)).Methods(http.MethodPost)
	s.router.HandleFunc("/rpc/evaluate-conditions", s.timed("EvaluateConditions", s.handleEvaluateConditions)).Methods(http.MethodPost)
	s.router.HandleFunc("/rpc/evaluation-order", s.timed("GetEvaluationOrder", s.handleGetEvaluationOrder)).Methods(http.MethodPost)
	s.router.HandleFunc("/rpc/validate-dependencies", s.timed("ValidateDependencies", s.handleValidateDependencies)).Methods(http.MethodPost)
	s.router.HandleFunc("/rpc/invalidate-cache", s.timed("InvalidateCache", s.handleInvalidateCache)).Methods(http.MethodPost)
	s.router.HandleFunc("/rpc/cache-stats", s.timed("GetCacheStats", s.handleGetCacheStats)).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// timed wraps handler with a Prometheus duration observation and a
// total-by-outcome counter, matching the teacher's pattern of catching
// handler panics at the transport boundary so a bug in one handler
// cannot take the whole listener down.
func (s *Server) timed(method string, handler func(http.ResponseWriter, *http.Request) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		outcome := "success"

		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithField("method", method).Errorf("rpc handler panicked: %v", rec)
				outcome = "panic"
				writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
					"success": false,
					"error":   "internal error",
				})
			}
			s.metrics.requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
			s.metrics.requestTotal.WithLabelValues(method, outcome).Inc()
		}()

		if !handler(w, r) {
			outcome = "error"
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}
