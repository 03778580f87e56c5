package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	appLog "eventcal/internal/log"
)

const (
	defaultUserAgent    = "eventcal/0.1"
	defaultMaxFeedBytes = 20 << 20
)

// Source is a single ICS feed.
type Source struct {
	// ID is an internal identifier (config ICS ID).
	ID string
	// URL is http(s)://, file:// or a plain local path.
	URL string
}

// FetchStatus says where a fetched body came from.
type FetchStatus int

const (
	// StatusFresh is a 200 response, now cached.
	StatusFresh FetchStatus = iota
	// StatusNotModified is a 304 answered from the cache.
	StatusNotModified
	// StatusStale is the cached body served because the feed failed.
	StatusStale
	// StatusLocal is a file read from disk.
	StatusLocal
)

func (s FetchStatus) String() string {
	switch s {
	case StatusNotModified:
		return "not_modified"
	case StatusStale:
		return "stale"
	case StatusLocal:
		return "local"
	default:
		return "fresh"
	}
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source Source
	Body   []byte
	Status FetchStatus
}

// FromCache reports whether the body was served from the disk cache.
func (r FetchResult) FromCache() bool {
	return r.Status == StatusNotModified || r.Status == StatusStale
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default 15s-timeout client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithUserAgent sets the User-Agent sent to feed servers.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithMaxFeedBytes caps the size of a downloaded feed.
func WithMaxFeedBytes(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// Fetcher fetches ICS feeds. HTTP feeds are revalidated against a disk cache
// with ETag / Last-Modified, and the cached body stands in when a feed is
// unreachable. Local sources are read directly.
type Fetcher struct {
	client    *http.Client
	cache     feedCache
	userAgent string
	maxBytes  int64
}

// NewFetcher creates a Fetcher caching under cacheDir.
func NewFetcher(cacheDir string, opts ...FetcherOption) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	f := &Fetcher{
		client:    &http.Client{Timeout: 15 * time.Second},
		cache:     feedCache{dir: cacheDir},
		userAgent: defaultUserAgent,
		maxBytes:  defaultMaxFeedBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll fetches every source in order. Failed sources are logged, skipped
// and returned in the error slice. It stops early when ctx is done.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	var errs []error

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		results = append(results, res)
	}

	return results, errs
}

// FetchOne fetches a single source.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}
	if path, ok := localPath(src.URL); ok {
		body, err := os.ReadFile(path)
		if err != nil {
			return FetchResult{}, err
		}
		return FetchResult{Source: src, Body: body, Status: StatusLocal}, nil
	}
	return f.fetchHTTP(ctx, src)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, src Source) (FetchResult, error) {
	log := []any{"id", src.ID, "url", redactURL(src.URL)}

	cached, hasCache, err := f.cache.load(src.URL)
	if err != nil {
		appLog.Error("ics cache unreadable, fetching without it", err, log...)
	}

	// stale serves the cached body when the feed itself failed.
	stale := func(cause error) (FetchResult, error) {
		if !hasCache {
			return FetchResult{}, cause
		}
		appLog.Error("ics fetch failed, serving cached body", cause, append(log, "cached_at", cached.meta.UpdatedAt)...)
		return FetchResult{Source: src, Body: cached.body, Status: StatusStale}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	if hasCache {
		cached.conditional(req)
	}

	appLog.Debug("ics fetch start", append(log, "conditional", hasCache)...)

	resp, err := f.client.Do(req)
	if err != nil {
		return stale(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if !hasCache {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("ics fetch not modified", log...)
		return FetchResult{Source: src, Body: cached.body, Status: StatusNotModified}, nil

	case resp.StatusCode != http.StatusOK:
		return stale(fmt.Errorf("unexpected status %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return stale(err)
	}
	if int64(len(body)) > f.maxBytes {
		return stale(fmt.Errorf("feed larger than %d bytes", f.maxBytes))
	}

	meta := cacheEntry{
		URL:          src.URL,
		SourceID:     src.ID,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	if err := f.cache.store(meta, body); err != nil {
		appLog.Error("ics cache save failed", err, log...)
	}
	appLog.Info("ics fetch success", append(log, "bytes", len(body))...)
	return FetchResult{Source: src, Body: body, Status: StatusFresh}, nil
}

// localPath reports whether raw names a file rather than an HTTP feed.
func localPath(raw string) (string, bool) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return "", false
	}
	if strings.HasPrefix(raw, "file://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false
		}
		return u.Path, true
	}
	return raw, true
}

// redactURL keeps only scheme and host of a feed URL for logging; feed
// paths and queries often carry private tokens.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
