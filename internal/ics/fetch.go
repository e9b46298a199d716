package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/peterbourgon/diskv/v3"
	"github.com/sourcegraph/conc/pool"

	appLog "sharedcal/internal/log"
)

// Source represents a single ICS subscription source.
type Source struct {
	// ID is an internal identifier (e.g., config ICS ID).
	ID string
	// URL is the ICS endpoint.
	URL string
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source    Source
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused cached body due to 304 or an error
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// maxBodySize caps a single feed download. Larger feeds are rejected, not
// truncated.
var maxBodySize int64 = 16 << 20

// ErrFeedTooLarge is returned when a feed exceeds maxBodySize.
var ErrFeedTooLarge = errors.New("ics: feed is too large")

// Fetcher fetches ICS feeds with HTTP caching (ETag / Last-Modified) and a
// disk-backed body cache.
type Fetcher struct {
	client     *http.Client
	cache      *diskv.Diskv
	maxWorkers int
}

// NewFetcher creates a new ICS Fetcher.
//
// cacheDir is where cached bodies and metadata are stored, one pair of files
// per URL. Example: "~/.cache/sharedcal/ics".
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		// Caller should set this explicitly; fall back to a relative dir so
		// development runs need no setup.
		cacheDir = "./var/ics-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{
		client: client,
		cache: diskv.New(diskv.Options{
			BasePath:     cacheDir,
			CacheSizeMax: 4 << 20,
			FilePerm:     0o600,
			PathPerm:     0o700,
		}),
		maxWorkers: 4,
	}
}

// FetchAll fetches all sources concurrently. Results keep the order of
// sources; failed sources are logged, left out of the results and returned
// in the error slice.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	slots := make([]*FetchResult, len(sources))
	var (
		errsMu sync.Mutex
		errs   []error
	)

	p := pool.New().WithMaxGoroutines(f.maxWorkers)
	for i, src := range sources {
		p.Go(func() {
			res, err := f.FetchOne(ctx, src)
			if err != nil {
				appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
				errsMu.Lock()
				errs = append(errs, fmt.Errorf("ics: %s: %w", src.ID, err))
				errsMu.Unlock()
				return
			}
			slots[i] = &res
		})
	}
	p.Wait()

	results := make([]FetchResult, 0, len(sources))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, errs
}

// FetchOne fetches a single ICS source, honoring ETag and Last-Modified.
// The cache is keyed by a hash of the URL.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	key := cacheKey(src.URL)
	meta, _ := f.loadCacheMeta(key)
	cachedBody, _ := f.cache.Read(key + ".ics")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}

	// Conditional headers only make sense when the body is still cached.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		// Network error; if we have a cached body, fall back to it.
		if len(cachedBody) > 0 {
			appLog.Warn("ics fetch network error, using cached body", "err", err, "id", src.ID, "url", redactURL(src.URL))
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
		if readErr != nil {
			return FetchResult{}, readErr
		}
		if int64(len(body)) > maxBodySize {
			return FetchResult{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrFeedTooLarge, redactURL(src.URL), maxBodySize)
		}

		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := f.saveCache(key, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("ics cache save failed", err, "id", src.ID, "url", redactURL(src.URL))
		}

		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("ics fetch not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		// Non-OK status: if we have cached data, fall back to it.
		if len(cachedBody) > 0 {
			appLog.Warn("ics fetch non-OK, using cached body", "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode)
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, errors.New(resp.Status)
	}
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}

func (f *Fetcher) loadCacheMeta(key string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := f.cache.Read(key + ".meta")
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) saveCache(key string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at a missing body.
	if err := f.cache.Write(key+".ics", body); err != nil {
		return err
	}
	data, err := json.Marshal(&meta)
	if err != nil {
		return err
	}
	return f.cache.Write(key+".meta", data)
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	// Find next slash after host.
	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
