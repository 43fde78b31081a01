package fetcher

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/whyaji/map-tile-converter/internal/geometry"
	"github.com/whyaji/map-tile-converter/internal/store"
)

// Defaults for fetch options
const (
	DefaultConcurrency = 10
	DefaultTimeout     = 15 * time.Second
	DefaultBatchDelay  = 200 * time.Millisecond
)

// Options controls one fetch pass
type Options struct {
	// Concurrency is the batch size: all tiles in a batch download in
	// parallel, then the fetcher waits for the whole batch before moving on
	Concurrency int

	// Timeout applies per tile request
	Timeout time.Duration

	// BatchDelay is the fixed sleep between batches, kept non-adaptive to
	// stay polite to upstream tile servers
	BatchDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.BatchDelay < 0 {
		o.BatchDelay = DefaultBatchDelay
	}
	return o
}

// Progress is emitted after each completed batch
type Progress struct {
	Downloaded int `json:"downloaded"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Result summarizes one fetch pass. Per-tile failures are non-fatal and only
// counted; a pass that stopped early (pause or cancel) reports Stopped.
type Result struct {
	Downloaded int
	Failed     int
	Stopped    bool
}

// Fetcher downloads tile sets with bounded concurrency. Tiles already on
// disk are skipped, so re-invoking a pass resumes where the last one ended.
type Fetcher struct {
	client *http.Client
	store  *store.Store
}

// New creates a fetcher backed by the given store
func New(st *store.Store) *Fetcher {
	return &Fetcher{
		client: &http.Client{},
		store:  st,
	}
}

// Fetch downloads every tile in tiles for the given job. Batches of
// opts.Concurrency tiles run in parallel with a barrier between batches;
// keepGoing is consulted at each batch boundary and a false return stops the
// pass without error (in-flight requests in the current batch always finish
// first). A progress event is sent on events after every batch when events
// is non-nil.
//
// Individual tile failures (timeout, non-2xx status) increment the failure
// count and are not retried within this pass; retries happen by re-invoking
// Fetch, which skips tiles already present.
func (f *Fetcher) Fetch(
	ctx context.Context,
	jobID string,
	tiles []geometry.Tile,
	provider Provider,
	opts Options,
	events chan<- Progress,
	keepGoing func() bool,
) (Result, error) {
	if provider.template == "" {
		return Result{}, fmt.Errorf("%w: empty template", ErrInvalidTemplate)
	}
	opts = opts.withDefaults()

	total := len(tiles)
	var downloaded, failed int64

	sem := semaphore.NewWeighted(int64(opts.Concurrency))
	batches := geometry.Batch(tiles, opts.Concurrency)

	for i, batch := range batches {
		if ctx.Err() != nil {
			log.Printf("[Fetcher] Job %s cancelled after %d/%d batches", jobID, i, len(batches))
			return Result{Downloaded: int(downloaded), Failed: int(failed), Stopped: true}, nil
		}
		if keepGoing != nil && !keepGoing() {
			log.Printf("[Fetcher] Job %s paused after %d/%d batches", jobID, i, len(batches))
			return Result{Downloaded: int(downloaded), Failed: int(failed), Stopped: true}, nil
		}

		var wg sync.WaitGroup
		for _, tile := range batch {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(tile geometry.Tile) {
				defer wg.Done()
				defer sem.Release(1)

				if f.store.HasTile(jobID, tile.Z, tile.X, tile.Y) {
					atomic.AddInt64(&downloaded, 1)
					return
				}

				if err := f.fetchTile(ctx, jobID, tile, provider, opts.Timeout); err != nil {
					atomic.AddInt64(&failed, 1)
					log.Printf("[Fetcher] Tile %d/%d/%d failed: %v", tile.Z, tile.X, tile.Y, err)
					return
				}
				atomic.AddInt64(&downloaded, 1)
			}(tile)
		}
		wg.Wait()

		if events != nil {
			events <- Progress{
				Downloaded: int(atomic.LoadInt64(&downloaded)),
				Failed:     int(atomic.LoadInt64(&failed)),
				Total:      total,
			}
		}

		if i < len(batches)-1 && opts.BatchDelay > 0 {
			select {
			case <-time.After(opts.BatchDelay):
			case <-ctx.Done():
			}
		}
	}

	return Result{Downloaded: int(downloaded), Failed: int(failed)}, nil
}

// fetchTile downloads a single tile and persists it
func (f *Fetcher) fetchTile(ctx context.Context, jobID string, tile geometry.Tile, provider Provider, timeout time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := provider.TileURL(tile.Z, tile.X, tile.Y)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "map-tile-converter/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}

	if err := f.store.WriteTile(jobID, tile.Z, tile.X, tile.Y, data); err != nil {
		return err
	}
	return nil
}
