package jobs

import (
	"errors"
	"math"
	"time"

	"github.com/whyaji/map-tile-converter/internal/chunker"
	"github.com/whyaji/map-tile-converter/internal/geometry"
)

// Status represents the lifecycle state of a generation job
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusDownloading  Status = "downloading"
	StatusChunking     Status = "chunking"
	StatusCompleted    Status = "completed"
	StatusPaused       Status = "paused"
	StatusError        Status = "error"
)

var (
	// ErrJobNotFound is returned for unknown job ids on any query
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status change does not follow
	// a valid lifecycle edge; the job is left unchanged
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrJobTerminal is returned when a transition is attempted from a
	// terminal state. The job is returned unchanged so callers can tell a
	// no-op from a success.
	ErrJobTerminal = errors.New("job is in a terminal state")

	// ErrJobActive is returned when an operation conflicts with a job that
	// is still being generated
	ErrJobActive = errors.New("job is still active")
)

// validTransitions is the complete lifecycle edge set. COMPLETED and ERROR
// have no outgoing edges.
var validTransitions = map[Status][]Status{
	StatusInitializing: {StatusDownloading, StatusError},
	StatusDownloading:  {StatusChunking, StatusPaused, StatusError},
	StatusPaused:       {StatusDownloading, StatusError},
	StatusChunking:     {StatusCompleted, StatusError},
}

// Terminal reports whether no further transitions are accepted
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// canTransition checks one lifecycle edge
func canTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job holds the full state of one archive generation request, from tile
// fetch through chunk production
type Job struct {
	ID       string `json:"id"`
	Region   string `json:"region"`
	Provider string `json:"provider"`
	// CustomTemplate is kept so a paused custom-provider job can resume
	CustomTemplate string               `json:"customTemplate,omitempty"`
	BBox           geometry.BoundingBox `json:"bbox"`
	MinZoom        int                  `json:"minZoom"`
	MaxZoom        int                  `json:"maxZoom"`

	Status          Status `json:"status"`
	TotalTiles      int    `json:"totalTiles"`
	DownloadedTiles int    `json:"downloadedTiles"`
	FailedTiles     int    `json:"failedTiles"`

	// ProgressPercent is derived, never set directly: downloaded/total
	// scaled to 90 during DOWNLOADING (rounded half away from zero), 90
	// while chunking, forced to 100 on COMPLETED
	ProgressPercent int `json:"progressPercent"`

	TotalSizeBytes int64           `json:"totalSizeBytes"`
	ChunkSizeBytes int             `json:"chunkSizeBytes"`
	Chunks         []chunker.Chunk `json:"chunks,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Error     string    `json:"error,omitempty"`
}

// recomputeProgress rederives ProgressPercent from the current counters.
// The final 10% is reserved for the chunking phase.
func (j *Job) recomputeProgress() {
	switch j.Status {
	case StatusInitializing:
		j.ProgressPercent = 0
	case StatusDownloading, StatusPaused:
		if j.TotalTiles > 0 {
			j.ProgressPercent = int(math.Round(float64(j.DownloadedTiles) / float64(j.TotalTiles) * 90))
		}
	case StatusChunking:
		j.ProgressPercent = 90
	case StatusCompleted:
		j.ProgressPercent = 100
	case StatusError:
		// keep the last computed value
	}
}

// clone returns a copy safe to hand to readers while the pipeline keeps
// mutating the original
func (j *Job) clone() *Job {
	c := *j
	if j.Chunks != nil {
		c.Chunks = make([]chunker.Chunk, len(j.Chunks))
		copy(c.Chunks, j.Chunks)
	}
	return &c
}
