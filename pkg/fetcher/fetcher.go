package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/semaphore"
	"golang.org/x/xerrors"

	"github.com/getsolus/eopkg2stone/pkg/catalog"
	"github.com/getsolus/eopkg2stone/pkg/index"
	"github.com/getsolus/eopkg2stone/pkg/store"
)

const DefaultLimit = 8

// Digest is a finalized SHA-256 sum of an artifact's bytes.
type Digest [sha256.Size]byte

func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Artifact is one successfully fetched package: its index record, the digest
// of the downloaded bytes and the path they were persisted to. Artifacts are
// only produced after the response body has fully drained; a partial download
// never becomes one.
type Artifact struct {
	Package index.Package
	SHA256  Digest
	Path    string
}

// FetchError records a per-artifact failure. One artifact failing never
// aborts its siblings; the caller decides what to do with the batch.
type FetchError struct {
	Name string
	URI  string
	Err  error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %s", e.Name, e.URI, e.Err)
}

func (e FetchError) Unwrap() error {
	return e.Err
}

// Cache answers whether an artifact was already fetched and records new
// completions. *store.Store satisfies it.
type Cache interface {
	Get(name string) (store.Fetch, bool, error)
	Record(f store.Fetch) error
}

type Option struct {
	// Origin is the repository base URL package URIs are joined onto.
	Origin string

	// CacheDir receives the downloaded artifacts.
	CacheDir string

	// Limit bounds the number of in-flight fetches. Defaults to DefaultLimit.
	Limit int64

	// Cache, when set, lets completed downloads be skipped on later runs.
	Cache Cache

	// Progress, when set, is invoked once per finished artifact (success or
	// failure). It must be safe for concurrent use.
	Progress func()
}

// Fetcher downloads package artifacts with bounded concurrency, hashing each
// byte stream while writing it to the cache dir.
type Fetcher struct {
	http     *retryablehttp.Client
	origin   string
	dir      string
	limit    *semaphore.Weighted
	cache    Cache
	progress func()
	logger   *slog.Logger

	bytes atomic.Int64
}

func New(opt Option) (*Fetcher, error) {
	client := retryablehttp.NewClient()
	// Transient failures are reported per artifact, never retried. Non-2xx
	// responses surface as responses so the caller can tell a bad status
	// from an unreachable host.
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, err error) (bool, error) {
		return false, err
	}
	client.HTTPClient.Timeout = 30 * time.Minute
	client.Logger = slog.Default()
	client.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		if resp.StatusCode != http.StatusOK {
			slog.Warn("Unexpected http response", slog.String("url", resp.Request.URL.String()), slog.String("status", resp.Status))
		}
	}

	if opt.Limit <= 0 {
		opt.Limit = DefaultLimit
	}

	if err := os.MkdirAll(opt.CacheDir, os.ModePerm); err != nil {
		return nil, xerrors.Errorf("unable to create artifact dir: %w", err)
	}

	return &Fetcher{
		http:     client,
		origin:   opt.Origin,
		dir:      opt.CacheDir,
		limit:    semaphore.NewWeighted(opt.Limit),
		cache:    opt.Cache,
		progress: opt.Progress,
		logger:   slog.With(slog.String("component", "fetcher")),
	}, nil
}

// Dir returns the directory artifacts are written to.
func (f *Fetcher) Dir() string {
	return f.dir
}

// Bytes returns the number of artifact bytes downloaded so far.
func (f *Fetcher) Bytes() int64 {
	return f.bytes.Load()
}

// FetchAll downloads every named package, at most Limit in flight at once.
// Successes are returned in input order; failures are collected per item and
// returned alongside, so the caller can choose between aborting and
// proceeding with the successful subset. The returned error is reserved for
// whole-pipeline breakage (cancellation, a name missing from the catalog).
func (f *Fetcher) FetchAll(ctx context.Context, names []string, c *catalog.Catalog) ([]Artifact, []FetchError, error) {
	results := make([]Artifact, len(names))
	done := make([]bool, len(names))

	var mu sync.Mutex
	var failures []FetchError
	var wg sync.WaitGroup

	for i, name := range names {
		pkg, ok := c.Get(name)
		if !ok {
			// The sequence comes from a graph built over the same catalog,
			// so this is a defect, not a fetch failure.
			wg.Wait()
			return nil, nil, xerrors.Errorf("package %q missing from catalog", name)
		}

		if err := f.limit.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, nil, xerrors.Errorf("semaphore acquire error: %w", err)
		}

		wg.Add(1)
		go func(i int, pkg index.Package) {
			defer f.limit.Release(1)
			defer wg.Done()

			art, err := f.fetchOne(ctx, pkg)

			mu.Lock()
			if err != nil {
				failures = append(failures, FetchError{Name: pkg.Name, URI: pkg.PackageURI, Err: err})
			} else {
				results[i] = art
				done[i] = true
			}
			mu.Unlock()

			if f.progress != nil {
				f.progress()
			}
		}(i, pkg)
	}
	wg.Wait()

	artifacts := make([]Artifact, 0, len(names))
	for i := range results {
		if done[i] {
			artifacts = append(artifacts, results[i])
		}
	}
	return artifacts, failures, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, pkg index.Package) (Artifact, error) {
	uri, err := url.JoinPath(f.origin, pkg.PackageURI)
	if err != nil {
		return Artifact{}, xerrors.Errorf("unable to join artifact uri: %w", err)
	}
	dest := filepath.Join(f.dir, pkg.FileName())

	if art, ok := f.cached(pkg, dest); ok {
		f.logger.Debug("Already fetched", slog.String("name", pkg.Name))
		return art, nil
	}

	resp, err := f.httpGet(ctx, uri)
	if err != nil {
		return Artifact{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Artifact{}, xerrors.Errorf("unexpected status %s for %s", resp.Status, uri)
	}

	sum, n, err := f.save(resp.Body, dest)
	if err != nil {
		return Artifact{}, err
	}
	if pkg.PackageSize > 0 && n != int64(pkg.PackageSize) {
		_ = os.Remove(dest)
		return Artifact{}, xerrors.Errorf("truncated download for %s: got %d bytes, want %d", uri, n, pkg.PackageSize)
	}

	if f.cache != nil {
		if err := f.cache.Record(store.Fetch{
			Name:   pkg.Name,
			Source: pkg.Source.Name,
			URI:    pkg.PackageURI,
			Size:   n,
			SHA256: sum[:],
		}); err != nil {
			f.logger.Warn("Unable to record fetch", slog.String("name", pkg.Name), slog.String("error", err.Error()))
		}
	}

	f.logger.Debug("Fetched", slog.String("name", pkg.Name), slog.Int64("bytes", n))
	return Artifact{Package: pkg, SHA256: sum, Path: dest}, nil
}

// cached reports whether the artifact bytes already sit at dest with a digest
// recorded from a previous run.
func (f *Fetcher) cached(pkg index.Package, dest string) (Artifact, bool) {
	if f.cache == nil {
		return Artifact{}, false
	}
	rec, ok, err := f.cache.Get(pkg.Name)
	if err != nil || !ok || len(rec.SHA256) != sha256.Size {
		return Artifact{}, false
	}
	fi, err := os.Stat(dest)
	if err != nil || fi.Size() != rec.Size {
		return Artifact{}, false
	}

	var sum Digest
	copy(sum[:], rec.SHA256)
	return Artifact{Package: pkg, SHA256: sum, Path: dest}, true
}

// save streams body to dest while hashing it. The bytes live under a .part
// name until the stream fully drains, so an interrupted download is never
// mistaken for a complete artifact.
func (f *Fetcher) save(body io.Reader, dest string) (Digest, int64, error) {
	part := dest + ".part"
	out, err := os.Create(part)
	if err != nil {
		return Digest{}, 0, xerrors.Errorf("can't create file %s: %w", part, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), body)
	f.bytes.Add(n)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(part)
		return Digest{}, n, xerrors.Errorf("can't copy body to %s: %w", part, err)
	}
	if err = out.Close(); err != nil {
		_ = os.Remove(part)
		return Digest{}, n, xerrors.Errorf("can't close %s: %w", part, err)
	}
	if err = os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return Digest{}, n, xerrors.Errorf("can't finalize %s: %w", dest, err)
	}

	var sum Digest
	copy(sum[:], h.Sum(nil))
	return sum, n, nil
}

func (f *Fetcher) httpGet(ctx context.Context, url string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, xerrors.Errorf("unable to create a HTTP request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("http error (%s): %w", url, err)
	}
	return resp, nil
}
