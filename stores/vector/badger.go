package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/strata/stores"
)

// ErrDimensionMismatch is returned when a point's size differs from the index's.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Key prefixes
const (
	pointPrefix    = "vec:p:"
	docIndexPrefix = "vec:doc:"
	dimensionKey   = "vec:dim"
)

func pointKey(id string) []byte { return []byte(pointPrefix + id) }

// docKey indexes points by owning document.
// Format: prefix:documentID:pointID
func docKey(documentID, id string) []byte {
	return []byte(docIndexPrefix + documentID + ":" + id)
}

// BadgerStore implements stores.VectorStore with exact search over BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

var _ stores.VectorStore = (*BadgerStore)(nil)

// NewBadgerStore creates a vector store in db.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	return &BadgerStore{db: db}, nil
}

func documentOf(p map[string]any) string {
	id, _ := p[stores.PayloadDocumentID].(string)
	return id
}

// UpsertVectors implements stores.VectorStore.
func (s *BadgerStore) UpsertVectors(_ context.Context, points []stores.Point) stores.Result {
	if s.db.IsClosed() {
		return stores.Unavailable(nil)
	}
	if len(points) == 0 {
		return stores.Ok("", nil)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		dim, err := readDimension(txn)
		if err != nil {
			return err
		}
		for _, p := range points {
			if p.ID == "" {
				return errors.New("point id is required")
			}
			if dim == 0 {
				dim = len(p.Vector)
				if err := txn.Set([]byte(dimensionKey), fmt.Appendf(nil, "%d", dim)); err != nil {
					return err
				}
			}
			if len(p.Vector) != dim {
				return fmt.Errorf("%w: point %s has %d, index has %d", ErrDimensionMismatch, p.ID, len(p.Vector), dim)
			}
			if old, err := readPoint(txn, p.ID); err != nil {
				return err
			} else if old != nil {
				if err := txn.Delete(docKey(documentOf(old.Payload), old.ID)); err != nil {
					return err
				}
			}
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := txn.Set(pointKey(p.ID), data); err != nil {
				return err
			}
			if err := txn.Set(docKey(documentOf(p.Payload), p.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return stores.Failed(fmt.Errorf("upsert vectors: %w", err))
	}
	last := points[len(points)-1]
	return stores.Ok(last.ID, map[string]string{"dimension": fmt.Sprint(len(last.Vector))})
}

func readDimension(txn *badger.Txn) (int, error) {
	item, err := txn.Get([]byte(dimensionKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var dim int
	err = item.Value(func(val []byte) error {
		_, err := fmt.Sscanf(string(val), "%d", &dim)
		return err
	})
	return dim, err
}

func readPoint(txn *badger.Txn, id string) (*stores.Point, error) {
	item, err := txn.Get(pointKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p stores.Point
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &p)
	}); err != nil {
		return nil, err
	}
	return &p, nil
}

// SearchVectors implements stores.VectorStore.
func (s *BadgerStore) SearchVectors(ctx context.Context, vector []float32, limit int, threshold float32, filter stores.VectorFilter) ([]stores.VectorMatch, error) {
	var results []stores.VectorMatch

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(pointPrefix), PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var p stores.Point
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			if filter.DocumentID != "" && documentOf(p.Payload) != filter.DocumentID {
				continue
			}
			score := cosine(vector, p.Vector)
			if score >= threshold {
				results = append(results, stores.VectorMatch{ID: p.ID, Score: score, Payload: p.Payload})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b stores.VectorMatch) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DeleteByDocument implements stores.VectorStore.
func (s *BadgerStore) DeleteByDocument(_ context.Context, documentID string) error {
	if documentID == "" {
		return errors.New("document id is required")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		prefix := []byte(docIndexPrefix + documentID + ":")
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, key := range keys {
			id := string(key[len(prefix):])
			if err := txn.Delete(pointKey(id)); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements stores.VectorStore. The database is owned by the caller.
func (s *BadgerStore) Close() error {
	return nil
}
