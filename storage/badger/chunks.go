package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/storage"
	"github.com/timshannon/badgerhold/v4"
)

// Chunks and distributions live outside badgerhold under document-scoped
// keys, so replacing a document's chunks only touches that document's range.
//
//	silver:c:{documentID}:{index}  chunk record
//	silver:d:{documentID}:{index}  distribution record
//	silver:id:{recordID}           key of the record above
const (
	chunkPrefix = "silver:c:"
	distPrefix  = "silver:d:"
	idPrefix    = "silver:id:"
)

// slotKey zero-pads the index so a prefix scan returns records in chunk order.
func slotKey(prefix, documentID string, index int) []byte {
	return fmt.Appendf(nil, "%s%s:%010d", prefix, documentID, index)
}

func slotPrefix(prefix, documentID string) []byte {
	return []byte(prefix + documentID + ":")
}

func idKey(id string) []byte { return []byte(idPrefix + id) }

type recordID struct {
	ID string
}

func exists(tx *badger.Txn, key []byte) (bool, error) {
	_, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// scanSlots calls fn with the value of every record of documentID under prefix.
func scanSlots(tx *badger.Txn, prefix, documentID string, fn func(key, val []byte) error) error {
	p := slotPrefix(prefix, documentID)
	it := tx.NewIterator(badger.IteratorOptions{Prefix: p, PrefetchValues: true, PrefetchSize: 100})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		// Skip documents whose id extends this one past a colon.
		if bytes.IndexByte(item.Key()[len(p):], ':') >= 0 {
			continue
		}
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error { return fn(key, val) }); err != nil {
			return err
		}
	}
	return nil
}

// clearSlots deletes every record of documentID under prefix with its id entry.
func clearSlots(tx *badger.Txn, prefix, documentID string) error {
	var keys, ids [][]byte
	err := scanSlots(tx, prefix, documentID, func(key, val []byte) error {
		var rec recordID
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		keys = append(keys, key)
		ids = append(ids, idKey(rec.ID))
		return nil
	})
	if err != nil {
		return err
	}
	for i := range keys {
		if err := tx.Delete(keys[i]); err != nil {
			return err
		}
		if err := tx.Delete(ids[i]); err != nil {
			return err
		}
	}
	return nil
}

func putSlot(tx *badger.Txn, prefix, documentID string, index int, id string, v any) error {
	key := slotKey(prefix, documentID, index)
	for _, k := range [][]byte{idKey(id), key} {
		taken, err := exists(tx, k)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s at index %d", storage.ErrDuplicateKey, id, index)
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := tx.Set(key, data); err != nil {
		return err
	}
	return tx.Set(idKey(id), key)
}

// lookup resolves a record id to its slot key, requiring it to sit under prefix.
func lookup(tx *badger.Txn, prefix, id string) ([]byte, error) {
	item, err := tx.Get(idKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(string(key), prefix) {
		return nil, nil
	}
	return key, nil
}

func validSlot(kind, id, owner, documentID string, index int) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: %s at index %d has no id", storage.ErrInvalidRecord, kind, index)
	case owner != documentID:
		return fmt.Errorf("%w: %s %s belongs to %s", storage.ErrInvalidRecord, kind, id, owner)
	case index < 0:
		return fmt.Errorf("%w: %s %s has negative index", storage.ErrInvalidRecord, kind, id)
	}
	return nil
}

// ReplaceChunks implements storage.ChunkRepository. Every write happens in a
// single Badger transaction.
func (r *Repository) ReplaceChunks(ctx context.Context, doc *core.Document, chunks []*core.SilverChunk, dists []*core.GoldDistribution) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	for _, c := range chunks {
		if err := validSlot("chunk", c.ID, c.DocumentID, doc.ID, c.ChunkIndex); err != nil {
			return err
		}
	}
	for _, d := range dists {
		if err := validSlot("distribution", d.ID, d.DocumentID, doc.ID, d.ChunkIndex); err != nil {
			return err
		}
	}

	store := r.backend.store
	now := time.Now().UTC()
	err := r.backend.WithTransaction(ctx, func(tx *badger.Txn) error {
		var existing core.Document
		if err := store.TxGet(tx, doc.ID, &existing); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return notFound("document", doc.ID)
			}
			return err
		}
		if err := clearSlots(tx, chunkPrefix, doc.ID); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if err := clearSlots(tx, distPrefix, doc.ID); err != nil {
			return fmt.Errorf("delete distributions: %w", err)
		}
		for _, c := range chunks {
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			if err := putSlot(tx, chunkPrefix, doc.ID, c.ChunkIndex, c.ID, c); err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
			}
		}
		for _, d := range dists {
			if d.CreatedAt.IsZero() {
				d.CreatedAt = now
			}
			d.UpdatedAt = now
			if err := putSlot(tx, distPrefix, doc.ID, d.ChunkIndex, d.ID, d); err != nil {
				return fmt.Errorf("insert distribution %d: %w", d.ChunkIndex, err)
			}
		}
		doc.UpdatedAt = now
		return store.TxUpdate(tx, doc.ID, doc)
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	return nil
}

// GetChunks implements storage.ChunkRepository.
func (r *Repository) GetChunks(ctx context.Context, documentID string) ([]*core.SilverChunk, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	out := []*core.SilverChunk{}
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanSlots(tx, chunkPrefix, documentID, func(_, val []byte) error {
			var c core.SilverChunk
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	}, false)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	return out, nil
}

// GetChunk implements storage.ChunkRepository.
func (r *Repository) GetChunk(ctx context.Context, id string) (*core.SilverChunk, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	var chunk *core.SilverChunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key, err := lookup(tx, chunkPrefix, id)
		if err != nil || key == nil {
			return err
		}
		item, err := tx.Get(key)
		if err != nil {
			return err
		}
		chunk = &core.SilverChunk{}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, chunk) })
	}, false)
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	if chunk == nil {
		return nil, notFound("chunk", id)
	}
	return chunk, nil
}

// GetDistributions implements storage.ChunkRepository.
func (r *Repository) GetDistributions(ctx context.Context, documentID string) ([]*core.GoldDistribution, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	out := []*core.GoldDistribution{}
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanSlots(tx, distPrefix, documentID, func(_, val []byte) error {
			var d core.GoldDistribution
			if err := json.Unmarshal(val, &d); err != nil {
				return err
			}
			out = append(out, &d)
			return nil
		})
	}, false)
	if err != nil {
		return nil, fmt.Errorf("get distributions: %w", err)
	}
	return out, nil
}

// UpdateDistribution implements storage.ChunkRepository.
func (r *Repository) UpdateDistribution(ctx context.Context, dist *core.GoldDistribution) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	dist.UpdatedAt = time.Now().UTC()
	var missing bool
	err := r.backend.WithTransaction(ctx, func(tx *badger.Txn) error {
		key, err := lookup(tx, distPrefix, dist.ID)
		if err != nil {
			return err
		}
		if key == nil {
			missing = true
			return nil
		}
		data, err := json.Marshal(dist)
		if err != nil {
			return err
		}
		return tx.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("update distribution: %w", err)
	}
	if missing {
		return notFound("distribution", dist.ID)
	}
	return nil
}
