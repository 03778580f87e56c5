package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	cacheBodyFile = "body.ics"
	cacheMetaFile = "meta.json"
)

var errCacheCorrupt = errors.New("cached feed body does not match its checksum")

// cacheEntry is the metadata stored next to a cached feed body.
type cacheEntry struct {
	URL          string    `json:"url"`
	SourceID     string    `json:"source_id"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	SHA256       string    `json:"sha256"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// cachedFeed is a verified body plus the validators it was served with.
type cachedFeed struct {
	meta cacheEntry
	body []byte
}

// conditional sets If-None-Match / If-Modified-Since from the cached
// validators.
func (c cachedFeed) conditional(req *http.Request) {
	if c.meta.ETag != "" {
		req.Header.Set("If-None-Match", c.meta.ETag)
	}
	if c.meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", c.meta.LastModified)
	}
}

// feedCache keeps one directory per feed URL under dir.
type feedCache struct {
	dir string
}

func (c feedCache) entryDir(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8]))
}

// load returns the cached feed for rawURL. A missing entry is (zero, false,
// nil); a body that fails its checksum is reported as errCacheCorrupt.
func (c feedCache) load(rawURL string) (cachedFeed, bool, error) {
	dir := c.entryDir(rawURL)
	data, err := os.ReadFile(filepath.Join(dir, cacheMetaFile))
	if errors.Is(err, os.ErrNotExist) {
		return cachedFeed{}, false, nil
	}
	if err != nil {
		return cachedFeed{}, false, err
	}
	var meta cacheEntry
	if err := json.Unmarshal(data, &meta); err != nil {
		return cachedFeed{}, false, fmt.Errorf("cache meta: %w", err)
	}
	body, err := os.ReadFile(filepath.Join(dir, cacheBodyFile))
	if err != nil {
		return cachedFeed{}, false, err
	}
	if checksum(body) != meta.SHA256 {
		return cachedFeed{}, false, errCacheCorrupt
	}
	return cachedFeed{meta: meta, body: body}, true, nil
}

// store writes body then meta, each through a temp file and rename, so a
// reader never sees a meta without its body.
func (c feedCache) store(meta cacheEntry, body []byte) error {
	dir := c.entryDir(meta.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	meta.SHA256 = checksum(body)
	meta.UpdatedAt = time.Now().UTC()

	if err := writeFileAtomic(filepath.Join(dir, cacheBodyFile), body); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, cacheMetaFile), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".feed-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func checksum(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
