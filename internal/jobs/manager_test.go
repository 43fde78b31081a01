package jobs

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/whyaji/map-tile-converter/internal/analytics"
	"github.com/whyaji/map-tile-converter/internal/chunker"
	"github.com/whyaji/map-tile-converter/internal/fetcher"
	"github.com/whyaji/map-tile-converter/internal/geometry"
	"github.com/whyaji/map-tile-converter/internal/regions"
	"github.com/whyaji/map-tile-converter/internal/store"
)

var testMappings = map[string]string{
	"test region": "region-test",
}

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	repo, err := NewFileRepository(st.JobsDir())
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(repo, st, regions.NewResolverWithMappings(testMappings),
		analytics.New("", "", "test"), Config{
			FetchOptions: fetcher.Options{
				Concurrency: 8,
				Timeout:     2 * time.Second,
				BatchDelay:  0,
			},
		})
	t.Cleanup(m.Close)
	return m, st
}

func stubTileHandler(delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		fmt.Fprint(w, "tile-bytes")
	}
}

func testParams(template string) GenerationParams {
	return GenerationParams{
		Region:         "test region",
		BBox:           geometry.BoundingBox{South: -2.70, West: 111.60, North: -2.50, East: 111.80},
		MinZoom:        14,
		MaxZoom:        14,
		Provider:       fetcher.ProviderCustom,
		CustomTemplate: template,
		ChunkSizeBytes: 512,
	}
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) *Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Get(id)
		if err == nil {
			if job.Status == want {
				return job
			}
			if job.Status == StatusError && want != StatusError {
				t.Fatalf("job failed while waiting for %s: %s", want, job.Error)
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for job %s to reach %s", id, want)
	return nil
}

func TestGenerationPipelineCompletes(t *testing.T) {
	srv := httptest.NewServer(stubTileHandler(0))
	defer srv.Close()

	m, _ := newTestManager(t)
	job, err := m.StartGeneration(testParams(srv.URL + "/{z}/{x}/{y}.png"))
	if err != nil {
		t.Fatalf("StartGeneration failed: %v", err)
	}
	if job.ID != "region-test" {
		t.Errorf("job id = %s, want the stable region identifier", job.ID)
	}
	if job.Status != StatusInitializing {
		t.Errorf("initial status = %s, want %s", job.Status, StatusInitializing)
	}

	done := waitForStatus(t, m, job.ID, StatusCompleted)

	if done.ProgressPercent != 100 {
		t.Errorf("completed progress = %d, want 100", done.ProgressPercent)
	}
	if done.TotalTiles == 0 || done.DownloadedTiles != done.TotalTiles {
		t.Errorf("downloaded %d of %d tiles", done.DownloadedTiles, done.TotalTiles)
	}
	if done.FailedTiles != 0 {
		t.Errorf("FailedTiles = %d, want 0", done.FailedTiles)
	}
	if done.TotalSizeBytes == 0 || len(done.Chunks) == 0 {
		t.Fatalf("no archive produced: size=%d chunks=%d", done.TotalSizeBytes, len(done.Chunks))
	}

	var sizeSum int64
	for _, c := range done.Chunks {
		sizeSum += c.Size
	}
	if sizeSum != done.TotalSizeBytes {
		t.Errorf("chunk sizes sum to %d, want %d", sizeSum, done.TotalSizeBytes)
	}

	result, err := m.Verify(job.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.IsValid || result.ValidCount != len(done.Chunks) {
		t.Errorf("Verify = %+v, want all %d chunks valid", result, len(done.Chunks))
	}

	var buf bytes.Buffer
	size, used, err := m.Reconstruct(job.ID, &buf)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if size != done.TotalSizeBytes || used != len(done.Chunks) {
		t.Errorf("Reconstruct = (%d, %d), want (%d, %d)", size, used, done.TotalSizeBytes, len(done.Chunks))
	}

	data, err := m.GetChunk(job.ID, 0)
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if int64(len(data)) != done.Chunks[0].Size {
		t.Errorf("chunk 0 size = %d, want %d", len(data), done.Chunks[0].Size)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	srv := httptest.NewServer(stubTileHandler(2 * time.Millisecond))
	defer srv.Close()

	m, _ := newTestManager(t)
	job, err := m.StartGeneration(testParams(srv.URL + "/{z}/{x}/{y}.png"))
	if err != nil {
		t.Fatal(err)
	}

	last := -1
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		current, err := m.Get(job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if current.ProgressPercent < last {
			t.Fatalf("progress went backwards: %d after %d", current.ProgressPercent, last)
		}
		last = current.ProgressPercent
		if current.Status == StatusCompleted {
			if current.ProgressPercent != 100 {
				t.Errorf("completed progress = %d, want 100", current.ProgressPercent)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not complete in time")
}

func TestStartGenerationRejectsBadParams(t *testing.T) {
	m, _ := newTestManager(t)

	base := testParams("https://tiles.example.com/{z}/{x}/{y}.png")

	t.Run("antimeridian bbox", func(t *testing.T) {
		p := base
		p.BBox = geometry.BoundingBox{South: -1, West: 179, North: 1, East: -179}
		if _, err := m.StartGeneration(p); err == nil {
			t.Error("expected error for antimeridian-crossing bbox")
		}
	})

	t.Run("zoom out of range", func(t *testing.T) {
		p := base
		p.MaxZoom = 40
		if _, err := m.StartGeneration(p); err == nil {
			t.Error("expected error for zoom out of range")
		}
	})

	t.Run("bad template", func(t *testing.T) {
		p := base
		p.CustomTemplate = "no placeholders"
		if _, err := m.StartGeneration(p); !errors.Is(err, fetcher.ErrInvalidTemplate) {
			t.Errorf("got %v, want ErrInvalidTemplate", err)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		p := base
		p.Provider = "mapbox"
		if _, err := m.StartGeneration(p); !errors.Is(err, fetcher.ErrInvalidTemplate) {
			t.Errorf("got %v, want ErrInvalidTemplate", err)
		}
	})

	t.Run("negative chunk size", func(t *testing.T) {
		p := base
		p.ChunkSizeBytes = -1
		if _, err := m.StartGeneration(p); err == nil {
			t.Error("expected error for negative chunk size")
		}
	})

	t.Run("nothing persisted for rejected requests", func(t *testing.T) {
		if _, err := m.Get("region-test"); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("rejected request left a job record: %v", err)
		}
	})
}

func TestStartGenerationConflictsWithActiveJob(t *testing.T) {
	srv := httptest.NewServer(stubTileHandler(20 * time.Millisecond))
	defer srv.Close()

	m, _ := newTestManager(t)
	params := testParams(srv.URL + "/{z}/{x}/{y}.png")

	if _, err := m.StartGeneration(params); err != nil {
		t.Fatal(err)
	}
	if _, err := m.StartGeneration(params); !errors.Is(err, ErrJobActive) {
		t.Errorf("second StartGeneration: got %v, want ErrJobActive", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		time.Sleep(10 * time.Millisecond)
		fmt.Fprint(w, "tile-bytes")
	}))
	defer srv.Close()

	m, _ := newTestManager(t)
	job, err := m.StartGeneration(testParams(srv.URL + "/{z}/{x}/{y}.png"))
	if err != nil {
		t.Fatal(err)
	}

	waitForStatus(t, m, job.ID, StatusDownloading)
	time.Sleep(30 * time.Millisecond)

	if _, err := m.Pause(job.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	paused := waitForStatus(t, m, job.ID, StatusPaused)

	if paused.DownloadedTiles >= paused.TotalTiles {
		t.Skip("download finished before the pause took effect")
	}
	requestsAtPause := atomic.LoadInt64(&requests)

	// The fetch loop must stop issuing batches shortly after the pause
	time.Sleep(100 * time.Millisecond)
	if grew := atomic.LoadInt64(&requests) - requestsAtPause; grew > int64(m.cfg.FetchOptions.Concurrency) {
		t.Errorf("fetch kept issuing %d requests after pause", grew)
	}

	// The stopped pass may still be releasing the job; retry until the
	// handover succeeds
	var resumed *Job
	for {
		resumed, err = m.Resume(job.ID)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrJobActive) {
			t.Fatalf("Resume failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if resumed.Status != StatusDownloading {
		t.Errorf("resumed status = %s", resumed.Status)
	}

	done := waitForStatus(t, m, job.ID, StatusCompleted)
	if done.DownloadedTiles != done.TotalTiles || done.FailedTiles != 0 {
		t.Errorf("after resume: %d/%d downloaded, %d failed",
			done.DownloadedTiles, done.TotalTiles, done.FailedTiles)
	}

	// Tiles fetched before the pause must not be fetched twice
	if total := atomic.LoadInt64(&requests); total != int64(done.TotalTiles) {
		t.Errorf("server saw %d requests for %d tiles", total, done.TotalTiles)
	}
}

func TestResumeImmediatelyAfterPause(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		time.Sleep(10 * time.Millisecond)
		fmt.Fprint(w, "tile-bytes")
	}))
	defer srv.Close()

	m, _ := newTestManager(t)
	job, err := m.StartGeneration(testParams(srv.URL + "/{z}/{x}/{y}.png"))
	if err != nil {
		t.Fatal(err)
	}

	waitForStatus(t, m, job.ID, StatusDownloading)
	time.Sleep(30 * time.Millisecond)
	if _, err := m.Pause(job.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	// The paused pass keeps running until its batch boundary; an immediate
	// resume must not hand the job to a second pipeline in the meantime.
	// Until the pass stops, Resume reports the job as still active.
	deadline := time.Now().Add(10 * time.Second)
	for {
		_, err := m.Resume(job.ID)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrJobActive) {
			t.Fatalf("Resume: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("Resume kept reporting an active pipeline")
		}
		time.Sleep(5 * time.Millisecond)
	}

	done := waitForStatus(t, m, job.ID, StatusCompleted)

	// One pipeline at a time means every tile is fetched exactly once;
	// duplicate requests would mean two passes ran concurrently
	if total := atomic.LoadInt64(&requests); total != int64(done.TotalTiles) {
		t.Errorf("server saw %d requests for %d tiles", total, done.TotalTiles)
	}
}

func TestVerifyWithoutChunks(t *testing.T) {
	m, _ := newTestManager(t)

	pending := newTestJob("job-pending")
	pending.Status = StatusDownloading
	if err := m.repo.Put(pending); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Verify("job-pending"); !errors.Is(err, chunker.ErrMissingChunk) {
		t.Errorf("Verify with no chunk manifest: got %v, want ErrMissingChunk", err)
	}
}

func TestTransitionRules(t *testing.T) {
	m, _ := newTestManager(t)

	job := newTestJob("job-x")
	if err := m.repo.Put(job); err != nil {
		t.Fatal(err)
	}

	t.Run("invalid edge leaves job unchanged", func(t *testing.T) {
		if _, err := m.Transition("job-x", StatusChunking, nil); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("got %v, want ErrInvalidTransition", err)
		}
		current, _ := m.Get("job-x")
		if current.Status != StatusInitializing {
			t.Errorf("status changed to %s after rejected transition", current.Status)
		}
	})

	t.Run("terminal state is a reported no-op", func(t *testing.T) {
		if _, err := m.Transition("job-x", StatusError, func(j *Job) { j.Error = "boom" }); err != nil {
			t.Fatal(err)
		}
		got, err := m.Transition("job-x", StatusDownloading, nil)
		if !errors.Is(err, ErrJobTerminal) {
			t.Fatalf("got %v, want ErrJobTerminal", err)
		}
		if got == nil || got.Status != StatusError {
			t.Error("terminal transition attempt should return the unchanged job")
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		if _, err := m.Transition("missing", StatusDownloading, nil); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("got %v, want ErrJobNotFound", err)
		}
	})
}

func TestDeleteRules(t *testing.T) {
	srv := httptest.NewServer(stubTileHandler(10 * time.Millisecond))
	defer srv.Close()

	m, st := newTestManager(t)
	job, err := m.StartGeneration(testParams(srv.URL + "/{z}/{x}/{y}.png"))
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, m, job.ID, StatusDownloading)

	if err := m.Delete(job.ID); !errors.Is(err, ErrJobActive) {
		t.Errorf("Delete on active job: got %v, want ErrJobActive", err)
	}

	waitForStatus(t, m, job.ID, StatusCompleted)
	if err := m.Delete(job.ID); err != nil {
		t.Fatalf("Delete on completed job failed: %v", err)
	}
	if _, err := m.Get(job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Error("job still readable after delete")
	}
	if st.HasTile(job.ID, 14, 13271, 8305) {
		t.Error("tile artifacts survived delete")
	}
}

func TestGetChunkUnknownJob(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.GetChunk("missing", 0); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("got %v, want ErrJobNotFound", err)
	}
}

func TestInterruptedJobsAreParked(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	repo, err := NewFileRepository(st.JobsDir())
	if err != nil {
		t.Fatal(err)
	}

	interrupted := newTestJob("job-crashed")
	interrupted.Status = StatusDownloading
	if err := repo.Put(interrupted); err != nil {
		t.Fatal(err)
	}

	m := NewManager(repo, st, regions.NewResolver(), analytics.New("", "", "test"), Config{})
	t.Cleanup(m.Close)

	got, err := m.Get("job-crashed")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPaused {
		t.Errorf("interrupted job status = %s, want %s", got.Status, StatusPaused)
	}
}
