package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kvlens/kvlens/internal/artifact"
	"github.com/kvlens/kvlens/internal/config"
	"github.com/kvlens/kvlens/internal/metrics"
	"github.com/kvlens/kvlens/internal/middleware"
	"github.com/kvlens/kvlens/internal/preview"
	"github.com/kvlens/kvlens/internal/processor"
	"github.com/kvlens/kvlens/internal/schema"
	"github.com/kvlens/kvlens/internal/store"
)

// Server wires the store, the preview pipeline and the HTTP surface. It
// owns the opened database and the artifact directory for the lifetime of
// the process.
type Server struct {
	config         *config.Config
	httpServer     *http.Server
	store          store.Store
	service        *preview.Service
	artifacts      *artifact.Manager
	metricsManager *metrics.Manager
	logger         *logrus.Logger
	startTime      time.Time
}

// New opens the store and assembles the preview pipeline from cfg. All
// configuration problems surface here; a Server that constructs
// successfully is ready to serve.
func New(cfg *config.Config, logger *logrus.Logger) (*Server, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	st, err := store.Open(store.Options{
		Path:    cfg.Store.Path,
		Backend: cfg.Store.Backend,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	resolver, err := buildResolver(cfg.Schema, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to build schema resolver: %w", err)
	}

	metricsManager := metrics.NewManager(cfg.Metrics.Namespace)

	registry := processor.NewRegistry(logger)
	registry.SetMetrics(metricsManager)
	for _, b := range cfg.Processors.Bindings {
		if err := registry.Register(b); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to register processor binding: %w", err)
		}
	}

	artifacts, err := artifact.NewManager(artifact.Options{
		Dir:    cfg.Artifacts.Dir,
		TTL:    time.Duration(cfg.Artifacts.TTLSeconds) * time.Second,
		Logger: logger,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create artifact manager: %w", err)
	}

	service := preview.NewService(st, resolver, registry, preview.Options{
		MaxLimit:         uint64(cfg.Search.MaxLimit),
		TextPreviewBytes: cfg.Search.TextPreviewBytes,
		ValueHexBytes:    cfg.Search.ValueHexBytes,
		Metrics:          metricsManager,
		Logger:           logger,
	})

	server := &Server{
		config:         cfg,
		store:          st,
		service:        service,
		artifacts:      artifacts,
		metricsManager: metricsManager,
		logger:         logger,
		startTime:      time.Now(),
	}

	server.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      handlers.RecoveryHandler()(server.setupRoutes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server, nil
}

// buildResolver assembles the ordered candidate list: configured protobuf
// message types first, then the enabled generic codecs.
func buildResolver(cfg config.SchemaConfig, logger *logrus.Logger) (*schema.Resolver, error) {
	var candidates []schema.Candidate

	if cfg.DescriptorSet != "" {
		files, err := schema.LoadDescriptorSet(cfg.DescriptorSet)
		if err != nil {
			return nil, err
		}
		protoCandidates, err := schema.NewProtoCandidates(files, cfg.MessageTypes)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, protoCandidates...)
	}

	if cfg.EnableCBOR {
		candidates = append(candidates, schema.NewCBORCandidate())
	}
	if cfg.EnableMsgpack {
		candidates = append(candidates, schema.NewMsgpackCandidate())
	}
	if cfg.EnableJSON {
		candidates = append(candidates, schema.NewJSONCandidate())
	}

	return schema.NewResolver(logger, candidates...), nil
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"address": s.config.Listen,
		"store":   s.store.Path(),
		"backend": s.store.Backend(),
	}).Info("Starting kvlens server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.close()
		return err
	case <-ctx.Done():
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	s.logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to shutdown HTTP server")
	}

	s.close()
	return nil
}

func (s *Server) close() {
	if err := s.artifacts.Close(); err != nil {
		s.logger.WithError(err).Error("Failed to close artifact manager")
	}
	if err := s.store.Close(); err != nil {
		s.logger.WithError(err).Error("Failed to close store")
	}
}

func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/info", s.handleInfo).Methods("GET")
	api.HandleFunc("/search", s.handleSearch).Methods("POST")
	api.HandleFunc("/artifacts/{id}", s.handleArtifact).Methods("GET")

	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	if s.config.Metrics.Enable {
		router.Handle(s.config.Metrics.Path, s.metricsManager.Handler()).Methods("GET")
	}

	router.HandleFunc("/", s.handleIndex).Methods("GET")

	router.Use(middleware.CORS())
	router.Use(middleware.Logging(s.logger))
	router.Use(middleware.Metrics(s.metricsManager))

	return router
}
