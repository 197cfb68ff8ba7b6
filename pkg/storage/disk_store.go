package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var dataBucket = []byte("data")

// DiskStore is a Store backed by a single bbolt bucket, one entry per
// key. It is the on-disk backend (spec.md §1 "in-memory, on-disk, SQL,
// or HTTP-proxied" KV backends), grounded on the teacher's
// bucket-per-entity BoltDB layout, collapsed to a single bucket since a
// KV store has no per-entity schema.
type DiskStore struct {
	db *bolt.DB
}

// NewDiskStore opens (creating if absent) a bbolt database file named
// file within dir.
func NewDiskStore(dir, file string) (*DiskStore, error) {
	path := filepath.Join(dir, file)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open disk store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dataBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &DiskStore{db: db}, nil
}

// encodeWithTTL returns the byte-prefixed value actually stored: an
// 8-byte big-endian unix-nano expiry (0 if no TTL) followed by the raw
// payload, so TTL survives without a second bucket.
func encodeWithTTL(value []byte, ttl time.Duration) []byte {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixNano()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt))
	copy(buf[8:], value)
	return buf
}

func decodeWithTTL(stored []byte) (value []byte, expiresAt int64, ok bool) {
	if len(stored) < 8 {
		return nil, 0, false
	}
	expiresAt = int64(binary.BigEndian.Uint64(stored[:8]))
	return stored[8:], expiresAt, true
}

func isExpired(expiresAt int64, now time.Time) bool {
	return expiresAt != 0 && now.UnixNano() > expiresAt
}

func (s *DiskStore) Write(key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Put([]byte(key), encodeWithTTL(value, ttl))
	})
}

func (s *DiskStore) Read(key string, pop bool) ([]byte, error) {
	var out []byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(dataBucket)
		stored := b.Get([]byte(key))
		if stored == nil {
			return ErrNotFound
		}
		value, expiresAt, ok := decodeWithTTL(stored)
		if !ok || isExpired(expiresAt, time.Now()) {
			_ = b.Delete([]byte(key))
			return ErrNotFound
		}
		out = append([]byte(nil), value...)
		if pop {
			return b.Delete([]byte(key))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompareAndSwap runs the compare and the Put inside a single bolt
// write transaction; bbolt serializes all writers against one another,
// so no other Write/Delete/CompareAndSwap can land between the read and
// the conditional Put.
func (s *DiskStore) CompareAndSwap(key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	applied := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(dataBucket)
		var current []byte
		if stored := b.Get([]byte(key)); stored != nil {
			if value, expiresAt, ok := decodeWithTTL(stored); ok && !isExpired(expiresAt, time.Now()) {
				current = value
			}
		}
		if !bytes.Equal(current, oldValue) {
			return nil
		}
		applied = true
		return b.Put([]byte(key), encodeWithTTL(newValue, ttl))
	})
	return applied, err
}

func (s *DiskStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Delete([]byte(key))
	})
}

func (s *DiskStore) Keys() ([]string, error) {
	var keys []string
	now := time.Now()
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).ForEach(func(k, v []byte) error {
			_, expiresAt, ok := decodeWithTTL(v)
			if ok && !isExpired(expiresAt, now) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	return keys, err
}

func (s *DiskStore) Next(pop bool) (Entry, error) {
	now := time.Now()
	var live []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).ForEach(func(k, v []byte) error {
			value, expiresAt, ok := decodeWithTTL(v)
			if ok && !isExpired(expiresAt, now) {
				live = append(live, Entry{Key: string(k), Value: append([]byte(nil), value...)})
			}
			return nil
		})
	})
	if err != nil {
		return Entry{}, err
	}
	if len(live) == 0 {
		return Entry{}, ErrNotFound
	}
	chosen := live[rand.Intn(len(live))]
	if pop {
		if err := s.Delete(chosen.Key); err != nil {
			return Entry{}, err
		}
	}
	return chosen, nil
}

func (s *DiskStore) Close() error {
	return s.db.Close()
}
