package storage

import (
	"sort"
	"sync"
)

// MemoryDriver is a Driver that forgets everything on exit.
type MemoryDriver struct {
	mu      sync.Mutex
	buckets map[string]map[string]string
}

// NewMemoryDriver creates an empty driver
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{buckets: make(map[string]map[string]string)}
}

func (d *MemoryDriver) Put(bucket, key, value string) error {
	if err := checkBucket(bucket); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buckets[bucket]
	if !ok {
		b = make(map[string]string)
		d.buckets[bucket] = b
	}
	b[key] = value
	return nil
}

func (d *MemoryDriver) Get(bucket, key string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.buckets[bucket][key]
	return v, ok, nil
}

func (d *MemoryDriver) Delete(bucket, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buckets[bucket], key)
	return nil
}

func (d *MemoryDriver) Keys(bucket string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.buckets[bucket]))
	for k := range d.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *MemoryDriver) Drop(bucket string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buckets, bucket)
	return nil
}

func (d *MemoryDriver) Close() error {
	return nil
}
