package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/stores"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// VertexRecord is the gorm model of a vertex.
type VertexRecord struct {
	ID        string         `gorm:"primaryKey"`
	Label     string         `gorm:"index"`
	Props     map[string]any `gorm:"serializer:json;type:jsonb"`
	UpdatedAt time.Time
}

func (VertexRecord) TableName() string { return "graph_vertices" }

// EdgeRecord is the gorm model of an edge.
type EdgeRecord struct {
	ID        string         `gorm:"primaryKey"`
	FromID    string         `gorm:"index"`
	ToID      string         `gorm:"index"`
	Label     string
	Props     map[string]any `gorm:"serializer:json;type:jsonb"`
	UpdatedAt time.Time
}

func (EdgeRecord) TableName() string { return "graph_edges" }

// GormStore implements stores.GraphStore on PostgreSQL.
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ stores.GraphStore = (*GormStore)(nil)

// OpenPostgres connects to dsn and migrates the graph tables.
func OpenPostgres(dsn string, log *slog.Logger) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
	return NewGormStore(db, log)
}

// NewGormStore wraps an open gorm connection and migrates the graph tables.
func NewGormStore(db *gorm.DB, log *slog.Logger) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("gorm db is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&VertexRecord{}, &EdgeRecord{}); err != nil {
		return nil, fmt.Errorf("migrate graph tables: %w", err)
	}
	return &GormStore{db: db, logger: log}, nil
}

// classify separates an unreachable database from a failed statement.
func (s *GormStore) classify(ctx context.Context, err error) stores.Result {
	sqlDB, dbErr := s.db.DB()
	if dbErr != nil {
		return stores.Unavailable(dbErr)
	}
	if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		s.logger.Warn("graph store unreachable", "err", pingErr)
		return stores.Unavailable(pingErr)
	}
	return stores.Failed(err)
}

// UpsertVertex implements stores.GraphStore.
func (s *GormStore) UpsertVertex(ctx context.Context, v stores.Vertex) stores.Result {
	rec := VertexRecord{ID: v.ID, Label: v.Label, Props: v.Props, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return s.classify(ctx, fmt.Errorf("upsert vertex %s: %w", v.ID, err))
	}
	return stores.Ok(v.ID, map[string]string{"label": v.Label})
}

// InsertEdge implements stores.GraphStore.
func (s *GormStore) InsertEdge(ctx context.Context, e stores.Edge) stores.Result {
	if e.ID == "" {
		e.ID = core.EdgeID(e.From, e.Label, e.To)
	}
	rec := EdgeRecord{ID: e.ID, FromID: e.From, ToID: e.To, Label: e.Label, Props: e.Props, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return s.classify(ctx, fmt.Errorf("insert edge %s: %w", e.ID, err))
	}
	return stores.Ok(e.ID, map[string]string{"label": e.Label})
}

// Close implements stores.GraphStore.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
