// Package store persists record collections as JSON files. Every mutation
// rewrites the whole collection under a mutex, so readers never observe a
// half-written state and concurrent updates to different records are never
// lost. The tracking data is non-critical: an unreadable file is recovered
// as an empty collection instead of failing startup.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/firmscope/backend/internal/logger"
)

var ErrNotFound = errors.New("record not found")

// Record is anything storable in a Collection.
type Record interface {
	RecordID() string
}

// Collection is a file-backed, insertion-ordered set of records keyed by id.
type Collection[T Record] struct {
	mu   sync.Mutex
	path string
	recs []T
}

// Open loads the collection at path. A missing file starts empty; a corrupt
// or unreadable file is logged and also starts empty.
func Open[T Record](path string) (*Collection[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	c := &Collection[T]{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		logger.Error("Failed to read record collection, starting empty", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return c, nil
	}

	if err := json.Unmarshal(data, &c.recs); err != nil {
		logger.Error("Record collection is corrupt, starting empty", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		c.recs = nil
	}
	return c, nil
}

// List returns a copy of all records in insertion order.
func (c *Collection[T]) List() []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]T, len(c.recs))
	copy(out, c.recs)
	return out
}

// Get returns the record with the given id, or ErrNotFound.
func (c *Collection[T]) Get(id string) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range c.recs {
		if rec.RecordID() == id {
			return rec, nil
		}
	}
	var zero T
	return zero, ErrNotFound
}

// Upsert inserts the record, or replaces the existing record with the same id.
func (c *Collection[T]) Upsert(rec T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.recs {
		if existing.RecordID() == rec.RecordID() {
			c.recs[i] = rec
			return c.persist()
		}
	}
	c.recs = append(c.recs, rec)
	return c.persist()
}

// Update applies fn to the record with the given id under the collection
// lock, then persists. The read-modify-write happens against the current
// snapshot, so updates to other records made in between are preserved.
// Returns ErrNotFound if the record no longer exists.
func (c *Collection[T]) Update(id string, fn func(*T)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.recs {
		if c.recs[i].RecordID() == id {
			fn(&c.recs[i])
			return c.recs[i], c.persist()
		}
	}
	var zero T
	return zero, ErrNotFound
}

// Delete removes the record with the given id, or returns ErrNotFound.
func (c *Collection[T]) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, rec := range c.recs {
		if rec.RecordID() == id {
			c.recs = append(c.recs[:i], c.recs[i+1:]...)
			return c.persist()
		}
	}
	return ErrNotFound
}

// persist rewrites the backing file. Callers must hold the mutex. The write
// goes to a temp file first and is renamed into place so a crash mid-write
// cannot leave a torn collection behind.
func (c *Collection[T]) persist() error {
	recs := c.recs
	if recs == nil {
		recs = []T{}
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace records file: %w", err)
	}
	return nil
}
