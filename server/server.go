// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package server is the HTTP surface of the sharing gateway: the protocol
// endpoints under a configurable prefix, bearer authorization, capability
// negotiation and the NDJSON action streams.
package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/delta-io/sharing-go/catalog"
	"github.com/delta-io/sharing-go/config"
	sio "github.com/delta-io/sharing-go/io"
)

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharing_requests_total",
			Help: "Requests served, by route and status code.",
		}, []string{"route", "code"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sharing_request_duration_seconds",
			Help:    "Request latency, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Server serves the sharing protocol for one catalog.
type Server struct {
	catalog catalog.Catalog
	signer  sio.Signer
	log     *zap.SugaredLogger
	cfg     config.ServerConfig
	expiry  time.Duration
	metrics *metrics

	router chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger replaces the default nop logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Server) { s.log = log }
}

// WithSigner sets the URL signer. The default passes http(s) URLs through
// and rejects object-store schemes.
func WithSigner(signer sio.Signer, expiry time.Duration) Option {
	return func(s *Server) {
		s.signer = signer
		if expiry > 0 {
			s.expiry = expiry
		}
	}
}

// WithRegistry sets the Prometheus registry metrics are registered on.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.metrics = newMetrics(reg)
		s.router.Get("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP)
	}
}

// New builds the server and mounts its routes.
func New(cat catalog.Catalog, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		catalog: cat,
		signer:  sio.ForScheme(nil),
		log:     zap.NewNop().Sugar(),
		cfg:     cfg,
		expiry:  15 * time.Minute,
		router:  chi.NewRouter(),
	}

	s.router.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		reg := prometheus.NewRegistry()
		s.metrics = newMetrics(reg)
		s.router.Get("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP)
	}

	prefix := cfg.URLPrefix
	if prefix == "" {
		prefix = "/delta-sharing"
	}

	s.router.Route(prefix, func(r chi.Router) {
		r.Use(s.observe)
		r.Use(s.authorize)

		r.Get("/shares", s.listShares)
		r.Get("/shares/{share}", s.getShare)
		r.Get("/shares/{share}/schemas", s.listSchemas)
		r.Get("/shares/{share}/schemas/{schema}/tables", s.listTables)
		r.Get("/shares/{share}/all-tables", s.listAllTables)
		r.Get("/shares/{share}/schemas/{schema}/tables/{table}/version", s.tableVersion)
		r.Get("/shares/{share}/schemas/{schema}/tables/{table}/metadata", s.tableMetadata)
		r.Post("/shares/{share}/schemas/{schema}/tables/{table}/query", s.tableQuery)
		r.Get("/shares/{share}/schemas/{schema}/tables/{table}/changes", s.tableChanges)
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// observe advertises the server capabilities and records request metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(capabilitiesHeader, capabilitiesValue)

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		s.metrics.requests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		s.metrics.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())

		s.log.Debugw("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

// authorize checks the bearer token. An empty configured token disables the
// check entirely.
func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.BearerToken == "" {
			next.ServeHTTP(w, r)

			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.BearerToken)) != 1 {
			writeErrorCode(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid or missing bearer token")

			return
		}

		next.ServeHTTP(w, r)
	})
}
