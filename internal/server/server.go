package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/truefoundry/capacity-scheduler/internal/engine"
	"github.com/truefoundry/capacity-scheduler/pkg/clusters"
	"github.com/truefoundry/capacity-scheduler/pkg/messages"
	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
	"github.com/truefoundry/capacity-scheduler/pkg/store"
	"go.uber.org/zap"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
)

type Params struct {
	Runner   *engine.Runner
	Store    store.Store
	Registry *clusters.Registry
	Scaler   engine.ScalerControl
	Reaper   engine.InstanceReaper
	// PassTimeout bounds passes triggered over HTTP
	PassTimeout time.Duration
	Logger      *zap.Logger
}

// Server exposes manual passes, schedule editing and direct capacity calls next to the
// metrics and health endpoints
type Server struct {
	runner      *engine.Runner
	store       store.Store
	registry    *clusters.Registry
	scaler      engine.ScalerControl
	reaper      engine.InstanceReaper
	passTimeout time.Duration
	logger      *zap.Logger
}

func NewServer(params *Params) *Server {
	return &Server{
		runner:      params.Runner,
		store:       params.Store,
		registry:    params.Registry,
		scaler:      params.Scaler,
		reaper:      params.Reaper,
		passTimeout: params.PassTimeout,
		logger:      params.Logger.Named("server"),
	}
}

// Handler declares the endpoints of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	sentryHandler := sentryhttp.New(sentryhttp.Options{})

	mux.Handle("/metrics", sentryHandler.Handle(promhttp.Handler()))
	healthzHandler := http.StripPrefix("/healthz", &healthz.Handler{Checks: map[string]healthz.Checker{
		"ping": healthz.Ping,
	}})
	readyzHandler := http.StripPrefix("/readyz", &healthz.Handler{Checks: map[string]healthz.Checker{
		"store": s.storeCheck,
	}})
	mux.Handle("/healthz", healthzHandler)
	mux.Handle("/healthz/", healthzHandler)
	mux.Handle("/readyz", readyzHandler)
	mux.Handle("/readyz/", readyzHandler)

	mux.Handle("POST /v1/passes", sentryHandler.HandleFunc(s.passHandler))
	mux.Handle("GET /v1/schedules", sentryHandler.HandleFunc(s.listSchedulesHandler))
	mux.Handle("PUT /v1/schedules", sentryHandler.HandleFunc(s.saveScheduleHandler))
	mux.Handle("GET /v1/clusters", sentryHandler.HandleFunc(s.listClustersHandler))
	mux.Handle("POST /v1/clusters/{cluster}/capacity", sentryHandler.HandleFunc(s.capacityHandler))
	mux.Handle("POST /v1/clusters/{cluster}/terminate", sentryHandler.HandleFunc(s.terminateHandler))
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", strings.TrimPrefix(port, ":")),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.passTimeout + 30*time.Second,
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Could not gracefully shutdown the server", zap.Error(err))
		}
		close(done)
	}()

	s.logger.Info("Starting server", zap.String("port", port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Failed to start server", zap.Error(err))
		return err
	}

	<-done
	s.logger.Info("Server stopped")
	return nil
}

func (s *Server) storeCheck(req *http.Request) error {
	if _, err := s.store.ListActive(req.Context()); err != nil {
		return fmt.Errorf("storeCheck: %w", err)
	}
	return nil
}

func (s *Server) passHandler(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(engine.WithTrigger(req.Context(), "api"), s.passTimeout)
	defer cancel()

	report, err := s.runner.RunPass(ctx)
	if err != nil {
		s.logger.Error("Pass failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, messages.Response{Message: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) listSchedulesHandler(w http.ResponseWriter, req *http.Request) {
	records, err := s.store.ListActive(req.Context())
	if err != nil {
		s.logger.Error("Failed to list schedules", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, messages.Response{Message: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) saveScheduleHandler(w http.ResponseWriter, req *http.Request) {
	defer func() {
		if err := req.Body.Close(); err != nil {
			s.logger.Error("Failed to close request body", zap.Error(err))
		}
	}()

	var body messages.ScheduleRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		s.logger.Error("Failed to decode request body", zap.Error(err))
		s.writeJSON(w, http.StatusBadRequest, messages.Response{Message: "Invalid request body"})
		return
	}
	record := body.Record()
	if err := record.Validate(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, messages.Response{Message: err.Error()})
		return
	}

	var saved schedule.Record
	var err error
	if body.Version != nil {
		saved, err = s.store.CompareAndPut(req.Context(), record, *body.Version)
	} else {
		saved, err = s.store.Put(req.Context(), record)
	}
	switch {
	case errors.Is(err, store.ErrConflict):
		s.writeJSON(w, http.StatusConflict, messages.Response{Message: err.Error()})
		return
	case err != nil:
		s.logger.Error("Failed to save schedule", zap.String("id", record.ID), zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, messages.Response{Message: err.Error()})
		return
	}
	s.logger.Info("Schedule saved", zap.String("id", saved.ID), zap.String("start", saved.Start), zap.String("end", saved.End), zap.Int64("version", saved.Version))
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) listClustersHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) capacityHandler(w http.ResponseWriter, req *http.Request) {
	cluster := req.PathValue("cluster")
	cpuLimit, err := strconv.ParseInt(req.URL.Query().Get("cpu-limit"), 10, 64)
	if err != nil || cpuLimit < 0 {
		s.writeJSON(w, http.StatusBadRequest, messages.Response{Message: "cpu-limit must be a non-negative integer"})
		return
	}

	if err := s.scaler.SetClusterCapacity(req.Context(), cluster, cpuLimit); err != nil {
		s.logger.Error("Failed to set cluster capacity", zap.String("cluster", cluster), zap.Int64("cpuLimit", cpuLimit), zap.Error(err))
		s.writeJSON(w, statusFor(err), messages.Response{Message: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, messages.CapacityResponse{Cluster: cluster, CPULimit: cpuLimit})
}

func (s *Server) terminateHandler(w http.ResponseWriter, req *http.Request) {
	cluster := req.PathValue("cluster")
	instances, err := s.reaper.TerminateWorkers(req.Context(), cluster)
	if err != nil {
		s.logger.Error("Failed to terminate workers", zap.String("cluster", cluster), zap.Error(err))
		s.writeJSON(w, statusFor(err), messages.Response{Message: err.Error()})
		return
	}
	if instances == nil {
		instances = []string{}
	}
	s.writeJSON(w, http.StatusOK, messages.TerminateResponse{Cluster: cluster, Instances: instances})
}

func statusFor(err error) int {
	if errors.Is(err, clusters.ErrUnknownCluster) {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	jsonResponse, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("Failed to marshal response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(jsonResponse); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}
