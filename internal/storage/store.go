// Package storage persists small key/value data for plugins. Each plugin
// gets its own bucket; the backend is chosen by a datastore URI.
package storage

import (
	"fmt"
	"strings"
)

// Driver persists string values grouped into buckets.
type Driver interface {
	Put(bucket, key, value string) error
	Get(bucket, key string) (string, bool, error)
	Delete(bucket, key string) error
	Keys(bucket string) ([]string, error)
	Drop(bucket string) error
	Close() error
}

// Open selects a driver from a datastore URI:
//
//	file:///var/lib/neubot/store   one text file per bucket
//	sqlite:///var/lib/neubot/db    a single SQLite database
//	memory://                      process memory, for tests
func Open(uri string) (Driver, error) {
	scheme, path, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("datastore %q: missing scheme", uri)
	}
	switch scheme {
	case "file":
		return NewFileDriver(path)
	case "sqlite":
		return OpenSQLite(path)
	case "memory":
		return NewMemoryDriver(), nil
	}
	return nil, fmt.Errorf("datastore %q: unknown scheme %q", uri, scheme)
}

func checkBucket(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid bucket name %q", name)
	}
	return nil
}

// Store is a Driver scoped to one bucket.
type Store struct {
	driver Driver
	bucket string
}

// Bucket scopes d to name.
func Bucket(d Driver, name string) *Store {
	return &Store{driver: d, bucket: name}
}

// Name returns the bucket name
func (s *Store) Name() string {
	return s.bucket
}

// Put stores value under key
func (s *Store) Put(key, value string) error {
	return s.driver.Put(s.bucket, key, value)
}

// Get returns the value for key and whether it exists.
func (s *Store) Get(key string) (string, bool, error) {
	return s.driver.Get(s.bucket, key)
}

// Delete removes key
func (s *Store) Delete(key string) error {
	return s.driver.Delete(s.bucket, key)
}

// Keys lists keys in sorted order
func (s *Store) Keys() ([]string, error) {
	return s.driver.Keys(s.bucket)
}

// Drop removes the whole bucket
func (s *Store) Drop() error {
	return s.driver.Drop(s.bucket)
}
