package kvstore

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Index is a derived, rebuildable fast-lookup cache over a Tree: id→name
// for containers, its only mapping (no volume data is kept). It is never
// the system of record — on any mismatch the Tree wins and the index is
// rebuilt — but it saves a full directory walk on every lookup, the same
// role the teacher's BoltStore plays for warren's cluster state, just
// demoted from primary store to cache.
type Index struct {
	db *bolt.DB
}

var bucketByID = []byte("by_id")

// OpenIndex opens (or creates) the bbolt-backed index file at path.
func OpenIndex(path string) (*Index, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open index %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketByID)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: init index buckets: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying bbolt handle.
func (i *Index) Close() error {
	return i.db.Close()
}

// PutID records that numeric id currently belongs to name.
func (i *Index) PutID(id uint32, name string) error {
	return i.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketByID).Put(idKey(id), []byte(name))
	})
}

// DeleteID removes the id→name mapping.
func (i *Index) DeleteID(id uint32) error {
	return i.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketByID).Delete(idKey(id))
	})
}

// Lookup returns the name last associated with id, or "" if absent.
func (i *Index) Lookup(id uint32) (string, error) {
	var name string
	err := i.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketByID).Get(idKey(id))
		if v != nil {
			name = string(v)
		}
		return nil
	})
	return name, err
}

// Rebuild clears the index and repopulates it from a caller-supplied
// (id, name) enumeration, used at startup after the canonical Tree has
// been loaded (§4.2.4 "GCs place directories that correspond to no
// loaded volume" — the equivalent container-side step rebuilds this
// index instead of trusting a stale one across restarts).
func (i *Index) Rebuild(entries map[uint32]string) error {
	return i.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketByID)
		if err := tx.DeleteBucket(bucketByID); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketByID)
		if err != nil {
			return err
		}
		for id, name := range entries {
			if err := b.Put(idKey(id), []byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func idKey(id uint32) []byte {
	return []byte(fmt.Sprintf("%010d", id))
}
