// Package boltdb stores settings records in a bbolt database.
package boltdb

import (
	"bytes"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/rigado/fpstorage"
)

// SettingsBucket holds every record, keyed by its settings name.
var SettingsBucket = []byte("settings")

// Storage provides bbolt-backed settings.
type Storage struct {
	db     *bolt.DB
	noSync bool
	tmo    time.Duration
}

// Option configures Open.
type Option func(*Storage)

// OptNoSync disables fsync per transaction. Only for tests.
func OptNoSync(noSync bool) Option {
	return func(s *Storage) {
		s.noSync = noSync
	}
}

// OptTimeout bounds how long Open waits for the file lock.
func OptTimeout(d time.Duration) Option {
	return func(s *Storage) {
		s.tmo = d
	}
}

// Open opens or creates a settings database at path.
func Open(path string, opts ...Option) (*Storage, error) {
	s := &Storage{tmo: time.Second}
	for _, opt := range opts {
		opt(s)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: s.tmo, NoSync: s.noSync})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open settings database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(SettingsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create settings bucket")
	}

	s.db = db
	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Load(prefix string, fn func(name string, value []byte) error) error {
	type rec struct {
		name  string
		value []byte
	}
	var recs []rec

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(SettingsBucket).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			// values are only valid inside the transaction
			recs = append(recs, rec{name: string(k), value: append([]byte(nil), v...)})
		}
		return nil
	})
	if err != nil {
		return &fpstorage.StorageError{Op: "load", Name: prefix, Err: err}
	}

	for _, r := range recs {
		if err := fn(r.name, r.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) Save(name string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(SettingsBucket).Put([]byte(name), value)
	})
	if err != nil {
		return &fpstorage.StorageError{Op: "save", Name: name, Err: err}
	}
	return nil
}

func (s *Storage) Delete(name string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(SettingsBucket).Delete([]byte(name))
	})
	if err != nil {
		return &fpstorage.StorageError{Op: "delete", Name: name, Err: err}
	}
	return nil
}
