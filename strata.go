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


package strata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/poiesic/strata/ai"
	"github.com/poiesic/strata/ai/gemini"
	"github.com/poiesic/strata/ai/mock"
	"github.com/poiesic/strata/ai/openai"
	"github.com/poiesic/strata/blob"
	"github.com/poiesic/strata/chunking"
	"github.com/poiesic/strata/config"
	"github.com/poiesic/strata/extract"
	"github.com/poiesic/strata/pipeline"
	"github.com/poiesic/strata/queue"
	"github.com/poiesic/strata/scheduler"
	"github.com/poiesic/strata/search"
	"github.com/poiesic/strata/storage"
	"github.com/poiesic/strata/storage/badger"
	"github.com/poiesic/strata/stores"
	"github.com/poiesic/strata/stores/analytics"
	"github.com/poiesic/strata/stores/graph"
	"github.com/poiesic/strata/stores/vector"
	"github.com/redis/go-redis/v9"
)

// ErrSearchUnavailable is returned by Search when no vector target is configured.
var ErrSearchUnavailable = errors.New("semantic search needs a vector target")

// System owns every component of a running deployment.
type System struct {
	cfg      *config.Config
	backend  *badger.Backend
	repo     storage.Repository
	blobs    blob.Store
	redis    redis.UniversalClient
	provider ai.AIProvider

	analytics *analytics.Store
	graph     stores.GraphStore
	vectors   stores.VectorStore

	pipeline *pipeline.Pipeline
	searcher *search.Searcher
	sweeper  *scheduler.RetrySweeper
	logger   *slog.Logger

	closeOnce sync.Once
}

// Option configures Open.
type Option func(*options)

type options struct {
	provider ai.AIProvider
	logger   *slog.Logger
}

// WithProvider supplies the embedding provider instead of building one from
// the ai section.
func WithProvider(p ai.AIProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open builds a System from cfg. Target stores that cannot be reached are
// left out and their deliveries are SKIPPED.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	s := &System{cfg: cfg, logger: o.logger}
	if err := s.open(ctx, o); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *System) open(ctx context.Context, o *options) error {
	var err error
	s.backend, err = badger.OpenBackend(s.cfg.Storage.Path, s.cfg.Storage.InMemory, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	repo, err := badger.NewRepository(s.backend)
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	s.repo = repo

	if s.blobs, err = s.openBlobs(ctx); err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}
	queues, err := s.openQueues()
	if err != nil {
		return fmt.Errorf("failed to open queues: %w", err)
	}

	s.provider = o.provider
	if s.provider == nil {
		if s.provider, err = newProvider(ctx, s.cfg.AI.ProviderConfig()); err != nil {
			return fmt.Errorf("failed to create AI provider: %w", err)
		}
	}
	embedder := s.provider.Embedder()
	if s.cfg.AI.RequestsPerSecond > 0 {
		embedder = ai.NewRateLimitedEmbedder(embedder, s.cfg.AI.RequestsPerSecond, s.cfg.AI.Burst)
	}

	s.openTargets(ctx)

	extractors, err := extract.NewRegistry(extract.WithLogger(s.logger.With("component", "extract")))
	if err != nil {
		return err
	}
	pipeOpts, err := s.pipelineOptions(embedder)
	if err != nil {
		return err
	}
	if s.pipeline, err = pipeline.NewPipeline(s.repo, s.blobs, extractors, queues, pipeOpts...); err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	if s.vectors != nil {
		searchOpts := []search.Option{search.WithLogger(s.logger.With("component", "search"))}
		if t := s.cfg.Vector.SearchThreshold; t != 0 {
			searchOpts = append(searchOpts, search.WithThreshold(t))
		}
		if s.searcher, err = search.NewSearcher(s.vectors, s.repo, s.provider, searchOpts...); err != nil {
			return fmt.Errorf("failed to create searcher: %w", err)
		}
	}

	s.sweeper, err = scheduler.NewRetrySweeper(s.repo, s.pipeline,
		scheduler.WithMaxRetries(s.cfg.Scheduler.MaxRetries),
		scheduler.WithTimeout(config.Duration(s.cfg.Scheduler.Timeout)),
		scheduler.WithLogger(s.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create retry sweeper: %w", err)
	}
	return nil
}

func newProvider(ctx context.Context, cfg *ai.Config) (ai.AIProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case ai.ProviderGemini:
		return gemini.NewProvider(ctx, cfg)
	case ai.ProviderMock:
		if cfg.Dimension > 0 {
			return mock.NewMockProviderWithEmbedder(mock.NewMockEmbedderWithDimension(cfg.Dimension)), nil
		}
		return mock.NewMockProvider(), nil
	}
	return openai.NewProvider(cfg)
}

func (s *System) openBlobs(ctx context.Context) (blob.Store, error) {
	if s.cfg.Blob.Backend == "minio" {
		m := s.cfg.Blob.Minio
		return blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			Secure:    m.Secure,
		})
	}
	return blob.NewFSStore(s.cfg.Blob.Dir)
}

func (s *System) openQueues() (pipeline.Queues, error) {
	qc := s.cfg.Queue
	visibility := config.Duration(qc.VisibilityTimeout)

	var open func(name string) (queue.Queue, error)
	if qc.Backend == "redis" {
		s.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{qc.Redis.Addr},
			Password: qc.Redis.Password,
			DB:       qc.Redis.DB,
		})
		open = func(name string) (queue.Queue, error) {
			opts := []queue.RedisOption{}
			if qc.Redis.KeyPrefix != "" {
				opts = append(opts, queue.WithKeyPrefix(qc.Redis.KeyPrefix))
			}
			if visibility > 0 {
				opts = append(opts, queue.WithRedisVisibilityTimeout(visibility))
			}
			return queue.NewRedisQueue(s.redis, name, opts...)
		}
	} else {
		open = func(name string) (queue.Queue, error) {
			opts := []queue.BadgerOption{}
			if visibility > 0 {
				opts = append(opts, queue.WithVisibilityTimeout(visibility))
			}
			return queue.NewBadgerQueue(s.backend.DB(), name, opts...)
		}
	}

	var queues pipeline.Queues
	for _, slot := range []struct {
		name string
		dst  *queue.Queue
	}{
		{pipeline.StageBronze, &queues.Bronze},
		{pipeline.StageSilver, &queues.Silver},
		{pipeline.StageGold, &queues.Gold},
		{pipeline.QueueEmbedding, &queues.Embedding},
	} {
		q, err := open(slot.name)
		if err != nil {
			return queues, fmt.Errorf("queue %s: %w", slot.name, err)
		}
		*slot.dst = q
	}
	return queues, nil
}

// openTargets connects the three Gold targets. Failures are logged and the
// target is left unset.
func (s *System) openTargets(ctx context.Context) {
	if ac := s.cfg.Analytics; ac.Enabled {
		opts := []analytics.Option{analytics.WithLogger(s.logger.With("target", "analytics"))}
		if ac.Table != "" {
			opts = append(opts, analytics.WithTable(ac.Table))
		}
		store, err := analytics.Open(ac.Driver, ac.DSN, opts...)
		if err != nil {
			s.logger.Warn("analytics target disabled", "err", err)
		} else {
			// a store that is not ready yet reports Unavailable on every insert
			if err := store.Bootstrap(ctx); err != nil {
				s.logger.Warn("analytics target not ready", "err", err)
			}
			s.analytics = store
		}
	}

	switch s.cfg.Graph.Backend {
	case "badger":
		g, err := graph.NewBadgerStore(s.backend.DB())
		if err != nil {
			s.logger.Warn("graph target disabled", "err", err)
		} else {
			s.graph = g
		}
	case "postgres":
		g, err := graph.OpenPostgres(s.cfg.Graph.DSN, s.logger.With("target", "graph"))
		if err != nil {
			s.logger.Warn("graph target disabled", "err", err)
		} else {
			s.graph = g
		}
	}

	switch vc := s.cfg.Vector; vc.Backend {
	case "badger":
		v, err := vector.NewBadgerStore(s.backend.DB())
		if err != nil {
			s.logger.Warn("vector target disabled", "err", err)
		} else {
			s.vectors = v
		}
	case "qdrant":
		v, err := vector.OpenQdrant(ctx, vector.QdrantConfig{
			Host:       vc.Host,
			Port:       vc.Port,
			APIKey:     vc.APIKey,
			UseTLS:     vc.UseTLS,
			Collection: vc.Collection,
			Dimension:  uint64(s.cfg.AI.Dimension),
		}, s.logger.With("target", "vector"))
		if err != nil {
			s.logger.Warn("vector target disabled", "err", err)
		} else {
			s.vectors = v
		}
	}
}

func (s *System) pipelineOptions(embedder ai.Embedder) ([]pipeline.Option, error) {
	qc := s.cfg.Queue
	opts := []pipeline.Option{
		pipeline.WithLogger(s.logger),
		pipeline.WithChunkParallelism(s.cfg.Gold.ChunkParallelism),
	}
	if d := config.Duration(qc.PollInterval); d > 0 {
		opts = append(opts, pipeline.WithPollInterval(d))
	}
	for name, sc := range map[string]config.StageConfig{
		pipeline.StageBronze:    qc.Bronze,
		pipeline.StageSilver:    qc.Silver,
		pipeline.StageGold:      qc.Gold,
		pipeline.QueueEmbedding: qc.Embedding,
	} {
		opts = append(opts, pipeline.WithStageConfig(name, pipeline.StageConfig{
			Attempts:    sc.Attempts,
			Backoff:     sc.Backoff(),
			Concurrency: sc.Concurrency,
		}))
	}

	if s.cfg.Chunking.TokenCounter == "tiktoken" {
		counter, err := chunking.NewTiktokenCounter(s.cfg.Chunking.Encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to load token encoding: %w", err)
		}
		opts = append(opts, pipeline.WithChunkerOptions(chunking.WithTokenCounter(counter)))
	}

	// typed nils must not reach the pipeline as non-nil interfaces
	if s.analytics != nil {
		opts = append(opts, pipeline.WithAnalytics(s.analytics))
	}
	if s.graph != nil {
		opts = append(opts, pipeline.WithGraph(s.graph))
	}
	if s.vectors != nil {
		opts = append(opts, pipeline.WithVectors(s.vectors, embedder))
	}
	return opts, nil
}

// Config returns the configuration the system was opened with.
func (s *System) Config() *config.Config { return s.cfg }

// Repository returns the document repository.
func (s *System) Repository() storage.Repository { return s.repo }

// Pipeline returns the stage pipeline.
func (s *System) Pipeline() *pipeline.Pipeline { return s.pipeline }

// Searcher returns the semantic searcher, or nil without a vector target.
func (s *System) Searcher() *search.Searcher { return s.searcher }

// Sweeper returns the retry sweeper.
func (s *System) Sweeper() *scheduler.RetrySweeper { return s.sweeper }

// Targets reports which Gold targets are configured.
func (s *System) Targets() map[string]bool {
	return map[string]bool{
		"analytics": s.analytics != nil && s.analytics.IsReady(),
		"graph":     s.graph != nil,
		"vector":    s.vectors != nil,
	}
}

// Search runs a semantic search over the vector target.
func (s *System) Search(ctx context.Context, q search.Query) ([]*search.Hit, error) {
	if s.searcher == nil {
		return nil, ErrSearchUnavailable
	}
	return s.searcher.FindSimilar(ctx, q)
}

// Run consumes every stage queue until ctx is done. The retry sweep runs
// alongside when the scheduler is enabled.
func (s *System) Run(ctx context.Context) error {
	if s.cfg.Scheduler.Enabled {
		if err := s.sweeper.Start(s.cfg.Scheduler.Schedule); err != nil {
			return err
		}
		defer s.sweeper.Stop()
	}
	return s.pipeline.Run(ctx)
}

type closer struct {
	name string
	io.Closer
}

// Close releases every component in reverse order of creation. It is safe
// to call more than once.
func (s *System) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.pipeline != nil {
			s.pipeline.Release()
		}
		if s.provider != nil {
			if err := s.provider.Close(); err != nil {
				s.logger.Error("error closing AI provider", "err", err)
				errs = append(errs, err)
			}
		}
		var closers []closer
		add := func(name string, c io.Closer, ok bool) {
			if ok {
				closers = append(closers, closer{name, c})
			}
		}
		add("vector target", s.vectors, s.vectors != nil)
		add("graph target", s.graph, s.graph != nil)
		add("analytics target", s.analytics, s.analytics != nil)
		add("redis", s.redis, s.redis != nil)
		add("repository", s.repo, s.repo != nil)
		add("backend storage", s.backend, s.backend != nil)
		for _, c := range closers {
			if err := c.Close(); err != nil {
				s.logger.Error("error closing "+c.name, "err", err)
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
