package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const separator = "%%"

// FileDriver keeps each bucket in <dir>/<bucket>.txt, one key%%value per
// line. Values are quoted so they may contain newlines.
type FileDriver struct {
	dir string
	mu  sync.Mutex
}

// NewFileDriver creates dir if needed
func NewFileDriver(dir string) (*FileDriver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &FileDriver{dir: dir}, nil
}

func (d *FileDriver) path(bucket string) (string, error) {
	if err := checkBucket(bucket); err != nil {
		return "", err
	}
	return filepath.Join(d.dir, bucket+".txt"), nil
}

func (d *FileDriver) load(bucket string) (map[string]string, error) {
	path, err := d.path(bucket)
	if err != nil {
		return nil, err
	}
	lines, err := readLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}

	entries := make(map[string]string, len(lines))
	for _, line := range lines {
		key, quoted, ok := strings.Cut(line, separator)
		if !ok {
			continue
		}
		value, err := strconv.Unquote(quoted)
		if err != nil {
			return nil, fmt.Errorf("corrupt entry %q in %s: %w", key, path, err)
		}
		entries[key] = value
	}
	return entries, nil
}

func (d *FileDriver) save(bucket string, entries map[string]string) error {
	path, err := d.path(bucket)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+separator+strconv.Quote(entries[k]))
	}
	return writeLines(path, lines)
}

// Put implements Driver.
func (d *FileDriver) Put(bucket, key, value string) error {
	if strings.Contains(key, separator) || strings.ContainsAny(key, "\r\n") {
		return fmt.Errorf("invalid key %q", key)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, err := d.load(bucket)
	if err != nil {
		return err
	}
	entries[key] = value
	return d.save(bucket, entries)
}

// Get implements Driver.
func (d *FileDriver) Get(bucket, key string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, err := d.load(bucket)
	if err != nil {
		return "", false, err
	}
	v, ok := entries[key]
	return v, ok, nil
}

// Delete implements Driver.
func (d *FileDriver) Delete(bucket, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, err := d.load(bucket)
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return d.save(bucket, entries)
}

// Keys implements Driver.
func (d *FileDriver) Keys(bucket string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, err := d.load(bucket)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Drop implements Driver.
func (d *FileDriver) Drop(bucket string) error {
	path, err := d.path(bucket)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Close implements Driver.
func (d *FileDriver) Close() error {
	return nil
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// writeLines replaces path through a temporary file so readers never see a
// partial bucket.
func writeLines(path string, lines []string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}

	for _, line := range lines {
		if _, err := fmt.Fprintln(file, line); err != nil {
			file.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
