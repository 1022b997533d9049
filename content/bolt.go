package content

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	chaterr "github.com/vinayprograms/chatkit/errors"
)

// OpenBolt opens (or creates) a bbolt database file.
func OpenBolt(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, chaterr.StorageUnavailable("bolt", err)
	}
	return db, nil
}

// BoltStore keeps a pool in one bbolt bucket with JSON values.
// Several stores may share one database under different buckets.
type BoltStore[T any] struct {
	db     *bolt.DB
	bucket []byte
}

// NewBoltStore creates the bucket if needed and returns a store over it.
// The database is owned by the caller.
func NewBoltStore[T any](db *bolt.DB, bucket string) (*BoltStore[T], error) {
	if db == nil {
		return nil, chaterr.InvalidInput("bolt database required")
	}
	if bucket == "" {
		return nil, chaterr.InvalidInput("bolt bucket required")
	}
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, chaterr.StorageUnavailable("bolt", err)
	}
	return &BoltStore[T]{db: db, bucket: []byte(bucket)}, nil
}

// GetAll returns every item.
func (s *BoltStore[T]) GetAll(ctx context.Context) (map[string]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items := make(map[string]T)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return chaterr.CorruptState(string(s.bucket)+"/"+string(k), err)
			}
			items[string(k)] = item
			return nil
		})
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	return items, nil
}

// Get returns one item.
func (s *BoltStore[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var item T
	if err := ctx.Err(); err != nil {
		return item, false, err
	}
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(v, &item); err != nil {
			return chaterr.CorruptState(string(s.bucket)+"/"+id, err)
		}
		return nil
	})
	if err != nil {
		var zero T
		return zero, false, s.wrap(err)
	}
	return item, found, nil
}

// Put creates or replaces an item.
func (s *BoltStore[T]) Put(ctx context.Context, id string, v T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return chaterr.InvalidInput("content id required")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return chaterr.Wrap(err, "encode content")
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(id), data)
	})
	return s.wrap(err)
}

// Delete removes an item.
func (s *BoltStore[T]) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b.Get([]byte(id)) == nil {
			return nil
		}
		existed = true
		return b.Delete([]byte(id))
	})
	if err != nil {
		return false, s.wrap(err)
	}
	return existed, nil
}

func (s *BoltStore[T]) wrap(err error) error {
	if err == nil {
		return nil
	}
	if chaterr.AsBotError(err) != nil {
		return err
	}
	return chaterr.StorageUnavailable("bolt", err)
}

var _ Store[struct{}] = (*BoltStore[struct{}])(nil)
