package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/saferun/safe-pkgs/internal/core"
)

var decisionsBucket = []byte("decisions")

// Cache is the decision cache of §4.3, backed by a single bbolt file. On open
// failure it falls back to an in-memory map for the process lifetime, per the
// corruption policy, and records that fallback so the caller can emit the
// required single audit warning.
type Cache struct {
	db         *bbolt.DB
	mu         sync.Mutex
	mem        map[string]core.CacheEntry
	fellBack   bool
	fallbackErr error
}

// Open opens (creating if absent) the cache file at path, auto-creating
// parent directories. On any failure it returns a Cache already running in
// in-memory mode rather than an error, matching "fall back ... for the
// lifetime of the process".
func Open(path string) *Cache {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &Cache{mem: map[string]core.CacheEntry{}, fellBack: true, fallbackErr: err}
	}
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return &Cache{mem: map[string]core.CacheEntry{}, fellBack: true, fallbackErr: err}
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(decisionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return &Cache{mem: map[string]core.CacheEntry{}, fellBack: true, fallbackErr: err}
	}
	return &Cache{db: db}
}

// FellBack reports whether the cache is running in in-memory fallback mode,
// and the error that caused it.
func (c *Cache) FellBack() (bool, error) {
	return c.fellBack, c.fallbackErr
}

// Close releases the underlying file handle, if any.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

type row struct {
	Value     core.Decision `json:"value"`
	ExpiresAt int64         `json:"expires_at"`
}

// Get performs the expiry check and purge-on-read the spec requires: an
// entry found but expired is deleted and reported as a miss.
func (c *Cache) Get(key string, now time.Time) (core.Decision, bool) {
	if c.db == nil {
		return c.memGet(key, now)
	}

	var found *row
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(decisionsBucket)
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		var r row
		if err := json.Unmarshal(data, &r); err != nil {
			// Malformed entry: treat as a miss and drop it.
			return b.Delete([]byte(key))
		}
		if now.Unix() >= r.ExpiresAt {
			return b.Delete([]byte(key))
		}
		found = &r
		return nil
	})
	if found == nil {
		return core.Decision{}, false
	}
	return found.Value, true
}

// Put stores value with an expiry of now+ttl. Concurrent misses on the same
// key may both perform work; the last writer wins and no partially written
// entry is ever observable, since bbolt commits the whole JSON blob in one
// transaction.
func (c *Cache) Put(key string, value core.Decision, now time.Time, ttl time.Duration) {
	r := row{Value: value, ExpiresAt: now.Add(ttl).Unix()}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if c.db == nil {
		c.memPut(key, core.CacheEntry{Value: value, ExpiresAt: r.ExpiresAt})
		return
	}
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(decisionsBucket).Put([]byte(key), data)
	})
}

// PurgeExpired walks every entry once and deletes those whose TTL has
// elapsed, the explicit maintenance operation from §4.3.
func (c *Cache) PurgeExpired(now time.Time) int {
	if c.db == nil {
		return c.memPurgeExpired(now)
	}
	purged := 0
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(decisionsBucket)
		var stale [][]byte
		_ = b.ForEach(func(k, v []byte) error {
			var r row
			if err := json.Unmarshal(v, &r); err != nil || now.Unix() >= r.ExpiresAt {
				stale = append(stale, append([]byte{}, k...))
			}
			return nil
		})
		for _, k := range stale {
			if err := b.Delete(k); err == nil {
				purged++
			}
		}
		return nil
	})
	return purged
}

func (c *Cache) memGet(key string, now time.Time) (core.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.mem[key]
	if !ok {
		return core.Decision{}, false
	}
	if now.Unix() >= entry.ExpiresAt {
		delete(c.mem, key)
		return core.Decision{}, false
	}
	return entry.Value, true
}

func (c *Cache) memPut(key string, entry core.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem[key] = entry
}

func (c *Cache) memPurgeExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	purged := 0
	for k, v := range c.mem {
		if now.Unix() >= v.ExpiresAt {
			delete(c.mem, k)
			purged++
		}
	}
	return purged
}

// Key builds the deterministic cache key of §3: absent version normalizes to
// the literal "latest".
func Key(ref core.PackageRef) string {
	return "check_package:" + ref.Registry + ":" + ref.Name + "@" + ref.VersionOrLatest()
}

// DefaultPath resolves the cache file location: SAFE_PKGS_CACHE_PATH, or a
// per-user default.
func DefaultPath() string {
	if explicit := os.Getenv("SAFE_PKGS_CACHE_PATH"); explicit != "" {
		return explicit
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "safe-pkgs", "cache.db")
	}
	return filepath.Join(home, ".cache", "safe-pkgs", "cache.db")
}
