// Copyright 2025 Poiesic Systems
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


package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/pipeline"
	"github.com/poiesic/strata/queue"
	"github.com/poiesic/strata/search"
	"github.com/poiesic/strata/storage"
)

// DefaultMaxUploadBytes caps a single upload.
const DefaultMaxUploadBytes = 64 << 20

// Pipeline is the part of pipeline.Pipeline the API drives.
type Pipeline interface {
	Register(ctx context.Context, up pipeline.Upload) (*core.Document, error)
	Enqueue(ctx context.Context, stage, documentID string) (*queue.Message, error)
	Summary(ctx context.Context, documentID string) (*core.DistributionSummary, error)
	RetryFailedDistributions(ctx context.Context, documentID string) (int, error)
	Stats(ctx context.Context) ([]queue.Stats, error)
	DeleteDocument(ctx context.Context, id string) error
}

// Searcher ranks chunks against a query.
type Searcher interface {
	FindSimilar(ctx context.Context, q search.Query) ([]*search.Hit, error)
}

// Server serves the admin API.
type Server struct {
	engine    *gin.Engine
	pipe      Pipeline
	repo      storage.Repository
	searcher  Searcher
	targets   func() map[string]bool
	maxUpload int64
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server) error

// WithSearcher enables POST /search.
func WithSearcher(s Searcher) Option {
	return func(srv *Server) error {
		srv.searcher = s
		return nil
	}
}

// WithTargets reports target availability on /health.
func WithTargets(fn func() map[string]bool) Option {
	return func(srv *Server) error {
		srv.targets = fn
		return nil
	}
}

// WithMaxUploadBytes caps the size of an upload.
// Default is DefaultMaxUploadBytes.
func WithMaxUploadBytes(n int64) Option {
	return func(srv *Server) error {
		if n <= 0 {
			return fmt.Errorf("max upload bytes must be positive, got %d", n)
		}
		srv.maxUpload = n
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(srv *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		srv.logger = logger
		return nil
	}
}

// New creates a server and registers its routes.
func New(pipe Pipeline, repo storage.Repository, opts ...Option) (*Server, error) {
	if pipe == nil {
		return nil, ErrPipelineRequired
	}
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	s := &Server{
		pipe:      pipe,
		repo:      repo,
		maxUpload: DefaultMaxUploadBytes,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "server")

	s.engine = gin.New()
	s.engine.MaxMultipartMemory = s.maxUpload
	s.engine.Use(gin.Recovery(), requestID(), requestLogger(s.logger))
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	api := s.engine.Group("/api/v1")
	{
		api.GET("/health", s.health)
		api.GET("/queues", s.queues)
		api.POST("/search", s.search)

		docs := api.Group("/documents")
		docs.POST("", s.upload)
		docs.GET("", s.listDocuments)
		docs.GET("/:id", s.getDocument)
		docs.DELETE("/:id", s.deleteDocument)
		docs.GET("/:id/chunks", s.chunks)
		docs.GET("/:id/summary", s.summary)
		docs.POST("/:id/stages/:stage", s.enqueue)
		docs.POST("/:id/retry", s.retry)

		api.GET("/categories", s.listCategories)
		api.PUT("/categories/:id", s.putCategory)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
