// Package offline keeps the last known copy of each record collection on disk
// and reconciles it with the data service when the network allows.
package offline

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var collectionsBucket = []byte("collections")

// CachedRecordSet is one snapshot of a collection.
type CachedRecordSet struct {
	Key         string            `json:"key"`
	Records     []json.RawMessage `json:"records"`
	LastFetched time.Time         `json:"lastFetched"`
}

func (s CachedRecordSet) Empty() bool {
	return len(s.Records) == 0
}

type Cache struct {
	db *bolt.DB
}

func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(collectionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the stored snapshot for key, or an empty one if nothing has
// been stored yet.
func (c *Cache) Get(key string) (CachedRecordSet, error) {
	set := CachedRecordSet{Key: key, Records: []json.RawMessage{}}

	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(collectionsBucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &set)
	})
	if err != nil {
		return CachedRecordSet{Key: key, Records: []json.RawMessage{}}, fmt.Errorf("read %s from cache: %w", key, err)
	}
	if set.Records == nil {
		set.Records = []json.RawMessage{}
	}
	return set, nil
}

func (c *Cache) Put(set CachedRecordSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode %s: %w", set.Key, err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(collectionsBucket).Put([]byte(set.Key), data)
	})
}
