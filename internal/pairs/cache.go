package pairs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"perpscan/internal/models"
	"perpscan/logger"
)

// CacheError marks a cache read or write failure. Callers treat it as
// recoverable and fall back to recomputing the pair set.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("pair cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// cacheFile is the on-disk layout of the persisted pair set.
type cacheFile struct {
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"key"`
	Exchanges []string  `json:"exchanges"`
	Pairs     []string  `json:"pairs"`
	Count     int       `json:"count"`
}

// Cache persists the last computed CommonPairSet to a JSON file.
type Cache struct {
	path string
	log  *logger.Entry
}

func NewCache(path string) *Cache {
	return &Cache{
		path: path,
		log:  logger.GetLogger().WithComponent("pair_cache"),
	}
}

// Load reads the persisted pair set. A missing file is reported as a
// CacheError wrapping os.ErrNotExist.
func (c *Cache) Load() (*models.CommonPairSet, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, &CacheError{Op: "read", Err: err}
	}

	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &CacheError{Op: "decode", Err: err}
	}

	c.log.WithFields(logger.Fields{"pairs": file.Count, "key": file.Key}).Debug("loaded pair cache")
	return &models.CommonPairSet{
		Pairs:      file.Pairs,
		Key:        file.Key,
		Exchanges:  file.Exchanges,
		ComputedAt: file.Timestamp,
	}, nil
}

// Save writes the pair set, creating the parent directory when needed.
func (c *Cache) Save(set *models.CommonPairSet) error {
	file := cacheFile{
		Timestamp: set.ComputedAt,
		Key:       set.Key,
		Exchanges: set.Exchanges,
		Pairs:     set.Pairs,
		Count:     len(set.Pairs),
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return &CacheError{Op: "encode", Err: err}
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &CacheError{Op: "mkdir", Err: err}
		}
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return &CacheError{Op: "write", Err: err}
	}

	c.log.WithFields(logger.Fields{"pairs": file.Count, "key": file.Key}).Info("saved pair cache")
	return nil
}
