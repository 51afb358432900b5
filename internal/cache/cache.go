// Package cache stores provider responses on disk keyed by a request
// fingerprint. Entries expire a fixed TTL after they were written.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultTTL is how long entries stay fresh.
const DefaultTTL = 24 * time.Hour

const fileExt = ".json"

// Cache is a fingerprint-keyed byte store. Get never fails: expired or
// unreadable entries are reported as a miss.
type Cache interface {
	Get(fingerprint string) ([]byte, bool)
	Set(fingerprint string, value []byte) error
	Clear(prefix string) (int, error)
}

// Fingerprint builds a stable key from the provider, endpoint and request
// arguments. Arguments are encoded as JSON with sorted map keys, so the same
// logical request always hashes to the same key. The readable
// provider_endpoint_ prefix allows clearing by provider.
func Fingerprint(provider, endpoint string, args map[string]any) string {
	payload, err := json.Marshal(args)
	if err != nil {
		// Unencodable arguments get a key that never matches a real entry.
		payload = []byte(err.Error())
	}
	sum := sha256.Sum256(payload)
	return sanitize(provider) + "_" + sanitize(endpoint) + "_" + hex.EncodeToString(sum[:])
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}

// envelope is the on-disk format; the payload must be valid JSON.
type envelope struct {
	Fingerprint string          `json:"fingerprint"`
	Payload     json.RawMessage `json:"payload"`
}

// FileCache keeps one file per entry under dir.
type FileCache struct {
	dir     string
	ttl     time.Duration
	nowFunc func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// NewFileCache creates the cache directory if needed. A non-positive ttl
// falls back to DefaultTTL.
func NewFileCache(dir string, ttl time.Duration) (*FileCache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "cache: create dir %s", dir)
	}
	return &FileCache{dir: dir, ttl: ttl, nowFunc: time.Now}, nil
}

func (c *FileCache) path(fingerprint string) string {
	return filepath.Join(c.dir, sanitizeKey(fingerprint)+fileExt)
}

func sanitizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '-'
		}
		return r
	}, s)
}

// Get returns the payload for fingerprint if it is younger than the TTL.
func (c *FileCache) Get(fingerprint string) ([]byte, bool) {
	p := c.path(fingerprint)
	info, err := os.Stat(p)
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	if c.nowFunc().Sub(info.ModTime()) > c.ttl {
		c.misses.Add(1)
		return nil, false
	}

	data, err := os.ReadFile(p)
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Fingerprint != fingerprint || len(env.Payload) == 0 {
		zap.L().Debug("cache: discarding corrupt entry", zap.String("fingerprint", fingerprint))
		_ = os.Remove(p)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return env.Payload, true
}

// Set writes value atomically through a temp file and rename. value must be
// valid JSON.
func (c *FileCache) Set(fingerprint string, value []byte) error {
	if !json.Valid(value) {
		return eris.Errorf("cache: value for %s is not valid JSON", fingerprint)
	}
	data, err := json.Marshal(envelope{Fingerprint: fingerprint, Payload: value})
	if err != nil {
		return eris.Wrap(err, "cache: marshal entry")
	}

	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return eris.Wrap(err, "cache: create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrap(err, "cache: write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrap(err, "cache: close temp file")
	}
	if err := os.Rename(tmpName, c.path(fingerprint)); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrap(err, "cache: rename entry")
	}
	return nil
}

// Clear removes entries whose fingerprint starts with prefix. An empty
// prefix removes everything.
func (c *FileCache) Clear(prefix string) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "cache: read dir %s", c.dir)
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) || !strings.HasPrefix(name, prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, eris.Wrapf(err, "cache: remove %s", name)
		}
		removed++
	}
	return removed, nil
}

// Stats returns hit and miss counts since creation.
func (c *FileCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Nop is a Cache that stores nothing.
type Nop struct{}

func (Nop) Get(string) ([]byte, bool) { return nil, false }
func (Nop) Set(string, []byte) error  { return nil }
func (Nop) Clear(string) (int, error) { return 0, nil }
