// Package editstore is the durable queue of local edits that the server has
// not acknowledged yet. Edits are partitioned by document and kept in
// insertion order.
package editstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/exp/slog"

	"clinsync/internal/domain/edit"
)

// Store is the queue used by a Syncer. Implementations are safe for
// concurrent use.
type Store interface {
	// Append persists e at the end of its document queue. Appending an id
	// that is already queued is a no-op.
	Append(e edit.Edit) error
	// PeekAll returns the pending edits of document oldest first.
	PeekAll(document string) ([]edit.Edit, error)
	// Clear removes the named edits. Unknown ids are ignored.
	Clear(document string, ids []string) error
	Len(document string) (int, error)
	Documents() ([]string, error)
	Close() error
}

var (
	rootBucket  = []byte("documents")
	queueBucket = []byte("queue")
	indexBucket = []byte("index")
)

// BoltStore keeps one bucket per document with two sub-buckets: queue maps
// a big-endian sequence to the edit JSON and index maps the edit id to its
// sequence.
type BoltStore struct {
	db  *bbolt.DB
	log *slog.Logger
}

func NewBoltStore(path string, log *slog.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init buckets: %v", ErrStorageUnavailable, err)
	}

	return &BoltStore{db: db, log: log.With("component", "editstore")}, nil
}

func (s *BoltStore) Append(e edit.Edit) error {
	if err := e.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode edit %s: %w", e.ID, err)
	}

	var duplicate bool
	err = s.db.Update(func(tx *bbolt.Tx) error {
		doc, err := tx.Bucket(rootBucket).CreateBucketIfNotExists([]byte(e.Document))
		if err != nil {
			return err
		}
		queue, err := doc.CreateBucketIfNotExists(queueBucket)
		if err != nil {
			return err
		}
		index, err := doc.CreateBucketIfNotExists(indexBucket)
		if err != nil {
			return err
		}

		if index.Get([]byte(e.ID)) != nil {
			duplicate = true
			return nil
		}

		seq, err := queue.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := queue.Put(key, data); err != nil {
			return err
		}
		return index.Put([]byte(e.ID), key)
	})
	if err != nil {
		return fmt.Errorf("%w: append %s: %v", ErrStorageUnavailable, e.ID, err)
	}

	if duplicate {
		s.log.Debug("edit already queued", "document", e.Document, "edit_id", e.ID)
	}
	return nil
}

func (s *BoltStore) PeekAll(document string) ([]edit.Edit, error) {
	var edits []edit.Edit
	err := s.db.View(func(tx *bbolt.Tx) error {
		queue := subBucket(tx, document, queueBucket)
		if queue == nil {
			return nil
		}
		return queue.ForEach(func(k, v []byte) error {
			var e edit.Edit
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("%w: %s/%d: %v", ErrCorruptEntry, document, binary.BigEndian.Uint64(k), err)
			}
			edits = append(edits, e)
			return nil
		})
	})
	if err != nil {
		return nil, wrapStorage(err, "peek "+document)
	}
	return edits, nil
}

func (s *BoltStore) Clear(document string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		queue := subBucket(tx, document, queueBucket)
		index := subBucket(tx, document, indexBucket)
		if queue == nil || index == nil {
			return nil
		}
		for _, id := range ids {
			key := index.Get([]byte(id))
			if key == nil {
				continue
			}
			// key points into the mmap and is invalid after Delete
			key = append([]byte(nil), key...)
			if err := queue.Delete(key); err != nil {
				return err
			}
			if err := index.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapStorage(err, "clear "+document)
	}
	return nil
}

func (s *BoltStore) Len(document string) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		if queue := subBucket(tx, document, queueBucket); queue != nil {
			n = queue.Stats().KeyN
		}
		return nil
	})
	if err != nil {
		return 0, wrapStorage(err, "len "+document)
	}
	return n, nil
}

// Documents lists documents that have at least one pending edit.
func (s *BoltStore) Documents() ([]string, error) {
	var docs []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(rootBucket).ForEachBucket(func(name []byte) error {
			queue := subBucket(tx, string(name), queueBucket)
			if queue == nil {
				return nil
			}
			if k, _ := queue.Cursor().First(); k != nil {
				docs = append(docs, string(name))
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrapStorage(err, "documents")
	}
	sort.Strings(docs)
	return docs, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func subBucket(tx *bbolt.Tx, document string, name []byte) *bbolt.Bucket {
	doc := tx.Bucket(rootBucket).Bucket([]byte(document))
	if doc == nil {
		return nil
	}
	return doc.Bucket(name)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func wrapStorage(err error, op string) error {
	if errors.Is(err, ErrCorruptEntry) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
