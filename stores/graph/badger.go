package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/stores"
)

// ErrMissingVertex is returned when an edge references an unknown vertex.
var ErrMissingVertex = errors.New("edge endpoint does not exist")

// Key prefixes
const (
	vertexPrefix = "graph:v:"
	edgePrefix   = "graph:e:"
	outPrefix    = "graph:out:"
)

func vertexKey(id string) []byte { return []byte(vertexPrefix + id) }
func edgeKey(id string) []byte   { return []byte(edgePrefix + id) }

// outKey indexes edges by source vertex.
// Format: prefix:from:edgeID
func outKey(from, edgeID string) []byte {
	return []byte(outPrefix + from + ":" + edgeID)
}

type storedVertex struct {
	stores.Vertex
	UpdatedAt time.Time
}

type storedEdge struct {
	stores.Edge
	UpdatedAt time.Time
}

// BadgerStore implements stores.GraphStore in BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

var _ stores.GraphStore = (*BadgerStore)(nil)

// NewBadgerStore creates a graph store in db.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) unavailable() bool {
	return s.db.IsClosed()
}

// UpsertVertex implements stores.GraphStore.
func (s *BadgerStore) UpsertVertex(ctx context.Context, v stores.Vertex) stores.Result {
	if s.unavailable() {
		return stores.Unavailable(nil)
	}
	if v.ID == "" {
		return stores.Failed(errors.New("vertex id is required"))
	}
	data, err := json.Marshal(storedVertex{Vertex: v, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return stores.Failed(err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(vertexKey(v.ID), data)
	}); err != nil {
		return stores.Failed(fmt.Errorf("upsert vertex %s: %w", v.ID, err))
	}
	return stores.Ok(v.ID, map[string]string{"label": v.Label})
}

// InsertEdge implements stores.GraphStore.
func (s *BadgerStore) InsertEdge(ctx context.Context, e stores.Edge) stores.Result {
	if s.unavailable() {
		return stores.Unavailable(nil)
	}
	if e.ID == "" {
		e.ID = core.EdgeID(e.From, e.Label, e.To)
	}
	data, err := json.Marshal(storedEdge{Edge: e, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return stores.Failed(err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, id := range []string{e.From, e.To} {
			if _, err := txn.Get(vertexKey(id)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("%w: %s", ErrMissingVertex, id)
				}
				return err
			}
		}
		if err := txn.Set(edgeKey(e.ID), data); err != nil {
			return err
		}
		return txn.Set(outKey(e.From, e.ID), []byte(e.To))
	})
	if err != nil {
		return stores.Failed(fmt.Errorf("insert edge %s: %w", e.ID, err))
	}
	return stores.Ok(e.ID, map[string]string{"label": e.Label})
}

// GetVertex returns a vertex by id.
func (s *BadgerStore) GetVertex(_ context.Context, id string) (*stores.Vertex, error) {
	var v storedVertex
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(vertexKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: vertex %s", core.ErrNotFound, id)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
	})
	if err != nil {
		return nil, err
	}
	return &v.Vertex, nil
}

// OutEdges returns every edge leaving the vertex.
func (s *BadgerStore) OutEdges(_ context.Context, from string) ([]*stores.Edge, error) {
	var edges []*stores.Edge
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(outPrefix + from + ":")
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			edgeID := string(it.Item().Key()[len(prefix):])
			item, err := txn.Get(edgeKey(edgeID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var e storedEdge
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			edges = append(edges, &e.Edge)
		}
		return nil
	})
	return edges, err
}

// Close implements stores.GraphStore. The database is owned by the caller.
func (s *BadgerStore) Close() error {
	return nil
}
