package jobs

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/whyaji/map-tile-converter/internal/analytics"
	"github.com/whyaji/map-tile-converter/internal/archive"
	"github.com/whyaji/map-tile-converter/internal/chunker"
	"github.com/whyaji/map-tile-converter/internal/fetcher"
	"github.com/whyaji/map-tile-converter/internal/geometry"
	"github.com/whyaji/map-tile-converter/internal/regions"
	"github.com/whyaji/map-tile-converter/internal/store"
)

// DefaultChunkSize is 2 MiB, small enough for flaky connections to retry
// a single chunk cheaply
const DefaultChunkSize = 2 * 1024 * 1024

// Config tunes the generation pipeline
type Config struct {
	FetchOptions     fetcher.Options
	DefaultChunkSize int
}

// GenerationParams describes one archive generation request
type GenerationParams struct {
	Region         string
	BBox           geometry.BoundingBox
	MinZoom        int
	MaxZoom        int
	Provider       string
	CustomTemplate string
	ChunkSizeBytes int
}

// Manager owns the job lifecycle. Each job is driven by exactly one
// pipeline goroutine; all metadata writes for a job go through its per-job
// lock so progress updates and external queries never interleave partially.
type Manager struct {
	repo      Repository
	store     *store.Store
	fetcher   *fetcher.Fetcher
	codec     *chunker.Codec
	assembler *archive.Assembler
	resolver  *regions.Resolver
	tracker   *analytics.Tracker
	cfg       Config

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	running map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager wires the pipeline components together. Jobs found mid-pipeline
// on disk (left by a crash or hard shutdown) are parked in PAUSED so they can
// be resumed.
func NewManager(
	repo Repository,
	st *store.Store,
	resolver *regions.Resolver,
	tracker *analytics.Tracker,
	cfg Config,
) *Manager {
	if cfg.DefaultChunkSize <= 0 {
		cfg.DefaultChunkSize = DefaultChunkSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		repo:      repo,
		store:     st,
		fetcher:   fetcher.New(st),
		codec:     chunker.NewCodec(st),
		assembler: archive.New(st),
		resolver:  resolver,
		tracker:   tracker,
		cfg:       cfg,
		locks:     make(map[string]*sync.Mutex),
		running:   make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.parkInterrupted()
	return m
}

// lockFor returns the per-job writer lock
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// tryAcquirePipeline claims the single pipeline slot for a job. A paused
// pass keeps running until its next batch boundary, so the slot only frees
// once that pass has actually stopped; until then no second pipeline may own
// the job.
func (m *Manager) tryAcquirePipeline(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[id] {
		return false
	}
	m.running[id] = true
	return true
}

// releasePipeline frees a job's pipeline slot
func (m *Manager) releasePipeline(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, id)
}

// parkInterrupted moves jobs left mid-pipeline by a previous process into
// PAUSED. This is a recovery path and deliberately sidesteps the lifecycle
// edge set (CHUNKING has no pause edge during normal operation).
func (m *Manager) parkInterrupted() {
	jobsList, err := m.repo.List()
	if err != nil {
		return
	}
	for _, job := range jobsList {
		if job.Status.Terminal() || job.Status == StatusPaused {
			continue
		}
		job.Status = StatusPaused
		job.UpdatedAt = time.Now()
		if err := m.repo.Put(job); err != nil {
			log.Printf("[Jobs] Failed to park interrupted job %s: %v", job.ID, err)
			continue
		}
		log.Printf("[Jobs] Parked interrupted job %s (was mid-pipeline)", job.ID)
	}
}

// StartGeneration validates params, creates the job record and launches the
// pipeline asynchronously. Configuration problems (bad bounding box, zoom
// range, provider template or chunk size) surface immediately; nothing is
// persisted for a rejected request.
func (m *Manager) StartGeneration(params GenerationParams) (*Job, error) {
	if err := params.BBox.Validate(); err != nil {
		return nil, err
	}
	if err := geometry.ValidateZoomRange(params.MinZoom, params.MaxZoom); err != nil {
		return nil, err
	}
	provider, err := fetcher.Resolve(params.Provider, params.CustomTemplate)
	if err != nil {
		return nil, err
	}
	chunkSize := params.ChunkSizeBytes
	if chunkSize == 0 {
		chunkSize = m.cfg.DefaultChunkSize
	}
	if chunkSize < 0 {
		return nil, fmt.Errorf("%w: %d", chunker.ErrInvalidChunkSize, chunkSize)
	}

	id := m.resolver.Resolve(params.Region)

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := m.repo.Get(id); err == nil {
		if !existing.Status.Terminal() {
			return nil, fmt.Errorf("%w: %s", ErrJobActive, id)
		}
		// Regenerating a known region: clear the previous run's artifacts
		if err := m.store.RemoveJob(id); err != nil {
			return nil, fmt.Errorf("failed to clear previous artifacts: %w", err)
		}
	}

	if !m.tryAcquirePipeline(id) {
		return nil, fmt.Errorf("%w: %s", ErrJobActive, id)
	}

	now := time.Now()
	job := &Job{
		ID:             id,
		Region:         params.Region,
		Provider:       provider.Name,
		CustomTemplate: params.CustomTemplate,
		BBox:           params.BBox,
		MinZoom:        params.MinZoom,
		MaxZoom:        params.MaxZoom,
		Status:         StatusInitializing,
		ChunkSizeBytes: chunkSize,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.repo.Put(job); err != nil {
		m.releasePipeline(id)
		return nil, err
	}

	m.tracker.Track("generation_started", map[string]interface{}{
		"region":   params.Region,
		"provider": provider.Name,
		"minZoom":  params.MinZoom,
		"maxZoom":  params.MaxZoom,
	})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.releasePipeline(id)
		m.runPipeline(id, provider)
	}()

	return job.clone(), nil
}

// Get returns a snapshot of one job
func (m *Manager) Get(id string) (*Job, error) {
	return m.repo.Get(id)
}

// List returns snapshots of all jobs, newest first
func (m *Manager) List() ([]*Job, error) {
	return m.repo.List()
}

// Pause requests a pause; the running fetch pass honors it at the next
// batch boundary
func (m *Manager) Pause(id string) (*Job, error) {
	return m.Transition(id, StatusPaused, nil)
}

// Resume moves a paused job back to DOWNLOADING and relaunches its
// pipeline. Tiles fetched before the pause are skipped by the next pass.
// While the paused pass is still finishing its current batch the job cannot
// be handed over; callers get ErrJobActive and retry.
func (m *Manager) Resume(id string) (*Job, error) {
	current, err := m.repo.Get(id)
	if err != nil {
		return nil, err
	}
	provider, err := fetcher.Resolve(current.Provider, current.CustomTemplate)
	if err != nil {
		return nil, err
	}

	if !m.tryAcquirePipeline(id) {
		return nil, fmt.Errorf("%w: previous pass has not stopped yet", ErrJobActive)
	}

	job, err := m.Transition(id, StatusDownloading, nil)
	if err != nil {
		m.releasePipeline(id)
		return nil, err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.releasePipeline(id)
		m.runPipeline(id, provider)
	}()
	return job, nil
}

// Delete removes a job and all of its artifacts. Running jobs must be
// paused first.
func (m *Manager) Delete(id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.repo.Get(id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() && job.Status != StatusPaused {
		return fmt.Errorf("%w: pause or wait for completion before deleting", ErrJobActive)
	}

	if err := m.store.RemoveJob(id); err != nil {
		return err
	}
	return m.repo.Delete(id)
}

// GetChunk returns one chunk's bytes for a completed job
func (m *Manager) GetChunk(id string, index int) ([]byte, error) {
	if _, err := m.repo.Get(id); err != nil {
		return nil, err
	}
	return m.codec.ReadChunk(id, index)
}

// Verify re-hashes the job's chunk files against the manifest recorded at
// split time. A job that has not produced chunks yet has nothing to verify
// and must not report a vacuous pass.
func (m *Manager) Verify(id string) (chunker.VerifyResult, error) {
	job, err := m.repo.Get(id)
	if err != nil {
		return chunker.VerifyResult{}, err
	}
	if len(job.Chunks) == 0 {
		return chunker.VerifyResult{}, fmt.Errorf("%w: job %s has no chunk manifest", chunker.ErrMissingChunk, id)
	}
	return m.codec.Verify(id, job.Chunks), nil
}

// Reconstruct reassembles the job's archive into w and returns the byte
// count and number of chunks used
func (m *Manager) Reconstruct(id string, w io.Writer) (int64, int, error) {
	if _, err := m.repo.Get(id); err != nil {
		return 0, 0, err
	}
	return m.codec.ReconstructTo(id, w)
}

// Transition validates and applies one lifecycle edge under the job's
// writer lock. mutate, when non-nil, runs inside the same critical section
// after the status change. Terminal jobs are returned unchanged with
// ErrJobTerminal; invalid edges leave the job untouched and return
// ErrInvalidTransition.
func (m *Manager) Transition(id string, to Status, mutate func(*Job)) (*Job, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.repo.Get(id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, fmt.Errorf("%w: %s is %s", ErrJobTerminal, id, job.Status)
	}
	if !canTransition(job.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}

	job.Status = to
	if mutate != nil {
		mutate(job)
	}
	job.UpdatedAt = time.Now()
	job.recomputeProgress()

	if err := m.repo.Put(job); err != nil {
		return nil, err
	}
	return job, nil
}

// update applies a non-status mutation as one read-modify-write critical
// section per the single-writer discipline
func (m *Manager) update(id string, mutate func(*Job)) (*Job, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.repo.Get(id)
	if err != nil {
		return nil, err
	}
	mutate(job)
	job.UpdatedAt = time.Now()
	job.recomputeProgress()

	if err := m.repo.Put(job); err != nil {
		return nil, err
	}
	return job, nil
}

// fail moves a job to ERROR with the cause recorded. Safe to call from any
// pipeline stage.
func (m *Manager) fail(id string, cause error) {
	log.Printf("[Jobs] Job %s failed: %v", id, cause)
	if _, err := m.Transition(id, StatusError, func(j *Job) {
		j.Error = cause.Error()
	}); err != nil {
		log.Printf("[Jobs] Could not record failure for job %s: %v", id, err)
	}
	m.tracker.Track("generation_failed", map[string]interface{}{
		"jobId": id,
		"error": cause.Error(),
	})
}

// runPipeline drives one job from tile enumeration to completion. It is
// also the resume path: a job already in DOWNLOADING skips the initial
// transition, and tiles on disk are skipped by the fetcher.
func (m *Manager) runPipeline(id string, provider fetcher.Provider) {
	job, err := m.repo.Get(id)
	if err != nil {
		log.Printf("[Jobs] Pipeline aborted, %v", err)
		return
	}

	tiles := geometry.TilesForBounds(job.BBox, job.MinZoom, job.MaxZoom)
	if _, err := m.update(id, func(j *Job) { j.TotalTiles = len(tiles) }); err != nil {
		m.fail(id, err)
		return
	}

	if job.Status == StatusInitializing {
		if _, err := m.Transition(id, StatusDownloading, nil); err != nil {
			m.fail(id, err)
			return
		}
	}

	// The tile directory must exist even for an empty tile set so the
	// assembler always has a tree to package
	if err := os.MkdirAll(m.store.TileDir(id), 0755); err != nil {
		m.fail(id, err)
		return
	}

	// Fetch progress arrives as events on a channel; a single consumer
	// goroutine owns the metadata updates so fetch cadence and persistence
	// cadence stay decoupled
	events := make(chan fetcher.Progress, 16)
	var consumerWg sync.WaitGroup
	consumerWg.Add(1)
	go func() {
		defer consumerWg.Done()
		for p := range events {
			if _, err := m.update(id, func(j *Job) {
				j.DownloadedTiles = p.Downloaded
				j.FailedTiles = p.Failed
			}); err != nil {
				log.Printf("[Jobs] Failed to record progress for job %s: %v", id, err)
			}
		}
	}()

	keepGoing := func() bool {
		current, err := m.repo.Get(id)
		return err == nil && current.Status == StatusDownloading
	}

	result, err := m.fetcher.Fetch(m.ctx, id, tiles, provider, m.cfg.FetchOptions, events, keepGoing)
	close(events)
	consumerWg.Wait()

	if err != nil {
		m.fail(id, err)
		return
	}

	if _, err := m.update(id, func(j *Job) {
		j.DownloadedTiles = result.Downloaded
		j.FailedTiles = result.Failed
	}); err != nil {
		m.fail(id, err)
		return
	}

	if result.Stopped {
		if m.ctx.Err() != nil {
			// Shutdown, not a user pause: park so the job resumes cleanly
			m.park(id)
		}
		log.Printf("[Jobs] Job %s stopped at a batch boundary (%d/%d tiles)",
			id, result.Downloaded, len(tiles))
		return
	}

	if _, err := m.Transition(id, StatusChunking, nil); err != nil {
		// A pause can race the final batch; leave the job where it is
		log.Printf("[Jobs] Job %s not chunked: %v", id, err)
		return
	}

	data, err := m.assembler.Assemble(id)
	if err != nil {
		m.fail(id, err)
		return
	}

	chunks, err := m.codec.Split(id, data, job.ChunkSizeBytes)
	if err != nil {
		m.fail(id, err)
		return
	}

	completed, err := m.Transition(id, StatusCompleted, func(j *Job) {
		j.TotalSizeBytes = int64(len(data))
		j.Chunks = chunks
	})
	if err != nil {
		m.fail(id, err)
		return
	}

	log.Printf("[Jobs] Job %s completed: %d tiles (%d failed), %d bytes in %d chunks",
		id, completed.DownloadedTiles, completed.FailedTiles, completed.TotalSizeBytes, len(chunks))
	m.tracker.Track("generation_completed", map[string]interface{}{
		"jobId":      id,
		"tiles":      completed.DownloadedTiles,
		"failed":     completed.FailedTiles,
		"sizeBytes":  completed.TotalSizeBytes,
		"chunkCount": len(chunks),
	})
}

// park writes PAUSED directly, used only on shutdown/crash recovery
func (m *Manager) park(id string) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.repo.Get(id)
	if err != nil || job.Status.Terminal() || job.Status == StatusPaused {
		return
	}
	job.Status = StatusPaused
	job.UpdatedAt = time.Now()
	job.recomputeProgress()
	if err := m.repo.Put(job); err != nil {
		log.Printf("[Jobs] Failed to park job %s: %v", id, err)
	}
}

// Close stops all pipelines at their next batch boundary and waits for
// them to park
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
