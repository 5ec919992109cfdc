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

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/storage"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a sweep every fifteen minutes. Schedules use the
// six-field cron syntax with seconds.
const DefaultSchedule = "0 */15 * * * *"

// DefaultMaxRetries is the retry ceiling for a single delivery.
const DefaultMaxRetries = 5

// Retrier resets a document's failed deliveries and queues them for Gold.
type Retrier interface {
	RetryFailedDistributions(ctx context.Context, documentID string) (int, error)
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Documents int // PARTIAL documents examined
	Retried   int // documents handed to the retrier
	Reset     int // deliveries reset to PENDING
	Exhausted int // documents whose failures all hit the ceiling
	Errors    int
	Duration  time.Duration
}

// RetrySweeper periodically retries failed Gold deliveries.
type RetrySweeper struct {
	repo       storage.Repository
	retrier    Retrier
	maxRetries int
	timeout    time.Duration
	cron       *cron.Cron
	logger     *slog.Logger
}

// Option configures a RetrySweeper.
type Option func(*RetrySweeper) error

// WithMaxRetries sets the retry ceiling. A delivery whose retry count has
// reached it is left FAILED.
func WithMaxRetries(n int) Option {
	return func(s *RetrySweeper) error {
		if n < 1 {
			return fmt.Errorf("max retries must be at least 1, got %d", n)
		}
		s.maxRetries = n
		return nil
	}
}

// WithTimeout bounds a single sweep. Default is 30 minutes.
func WithTimeout(d time.Duration) Option {
	return func(s *RetrySweeper) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		s.timeout = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *RetrySweeper) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewRetrySweeper creates a sweeper. It does nothing until Start or Sweep.
func NewRetrySweeper(repo storage.Repository, retrier Retrier, opts ...Option) (*RetrySweeper, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if retrier == nil {
		return nil, errors.New("retrier is required")
	}
	s := &RetrySweeper{
		repo:       repo,
		retrier:    retrier,
		maxRetries: DefaultMaxRetries,
		timeout:    30 * time.Minute,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "retry-sweeper")
	// Overlapping sweeps would retry the same deliveries twice.
	s.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return s, nil
}

// Start schedules sweeps. An empty schedule uses DefaultSchedule.
func (s *RetrySweeper) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("retry sweeper started", "schedule", schedule, "max_retries", s.maxRetries)
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish.
func (s *RetrySweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("retry sweeper stopped")
}

func (s *RetrySweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	stats, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("retry sweep failed", "err", err)
		return
	}
	s.logger.Info("retry sweep completed",
		"documents", stats.Documents,
		"retried", stats.Retried,
		"reset", stats.Reset,
		"exhausted", stats.Exhausted,
		"errors", stats.Errors,
		"duration", stats.Duration)
}

// Sweep retries every PARTIAL document that still has a FAILED delivery
// below the ceiling. Per-document errors are counted and logged; only a
// failure to list documents is returned.
func (s *RetrySweeper) Sweep(ctx context.Context) (SweepStats, error) {
	start := time.Now()
	var stats SweepStats

	docs, err := s.repo.ListDocuments(ctx, storage.DocumentFilter{GoldStatus: core.GoldPartial})
	if err != nil {
		return stats, fmt.Errorf("list partial documents: %w", err)
	}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Documents++

		retryable, err := s.retryable(ctx, doc.ID)
		if err != nil {
			stats.Errors++
			s.logger.Warn("cannot read distributions", "document", doc.ID, "err", err)
			continue
		}
		if !retryable {
			stats.Exhausted++
			continue
		}

		reset, err := s.retrier.RetryFailedDistributions(ctx, doc.ID)
		if err != nil {
			stats.Errors++
			s.logger.Warn("retry failed", "document", doc.ID, "err", err)
			continue
		}
		stats.Retried++
		stats.Reset += reset
	}
	stats.Duration = time.Since(start)
	return stats, nil
}

// retryable reports whether any FAILED delivery of the document is below
// the retry ceiling.
func (s *RetrySweeper) retryable(ctx context.Context, id string) (bool, error) {
	dists, err := s.repo.GetDistributions(ctx, id)
	if err != nil {
		return false, err
	}
	for _, d := range dists {
		for _, layer := range core.AllTargets {
			ts := d.Target(layer)
			if ts.Status == core.DeliveryFailed && ts.RetryCount < s.maxRetries {
				return true, nil
			}
		}
	}
	return false, nil
}
