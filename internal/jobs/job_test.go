package jobs

import (
	"testing"

	"github.com/whyaji/map-tile-converter/internal/chunker"
)

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusInitializing: false,
		StatusDownloading:  false,
		StatusChunking:     false,
		StatusPaused:       false,
		StatusCompleted:    true,
		StatusError:        true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusInitializing, StatusDownloading, true},
		{StatusInitializing, StatusError, true},
		{StatusInitializing, StatusChunking, false},
		{StatusDownloading, StatusChunking, true},
		{StatusDownloading, StatusPaused, true},
		{StatusDownloading, StatusError, true},
		{StatusDownloading, StatusCompleted, false},
		{StatusPaused, StatusDownloading, true},
		{StatusPaused, StatusChunking, false},
		{StatusChunking, StatusCompleted, true},
		{StatusChunking, StatusPaused, false},
		{StatusCompleted, StatusDownloading, false},
		{StatusError, StatusDownloading, false},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRecomputeProgress(t *testing.T) {
	tests := []struct {
		name       string
		status     Status
		downloaded int
		total      int
		want       int
	}{
		{"initializing is zero", StatusInitializing, 5, 10, 0},
		{"downloading scales to 90", StatusDownloading, 10, 10, 90},
		{"half downloaded", StatusDownloading, 5, 10, 45},
		{"rounds half away from zero", StatusDownloading, 1, 180, 1}, // 0.5 -> 1
		{"chunking holds at 90", StatusChunking, 10, 10, 90},
		{"completed forced to 100", StatusCompleted, 10, 10, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{Status: tt.status, DownloadedTiles: tt.downloaded, TotalTiles: tt.total}
			j.recomputeProgress()
			if j.ProgressPercent != tt.want {
				t.Errorf("ProgressPercent = %d, want %d", j.ProgressPercent, tt.want)
			}
		})
	}
}

func TestRecomputeProgressZeroTotal(t *testing.T) {
	j := &Job{Status: StatusDownloading, ProgressPercent: 37}
	j.recomputeProgress()
	if j.ProgressPercent != 37 {
		t.Errorf("progress with zero total should hold, got %d", j.ProgressPercent)
	}
}

func TestCloneIsolatesChunks(t *testing.T) {
	j := &Job{
		ID:     "a",
		Chunks: []chunker.Chunk{{Index: 0, Filename: "chunk_000.bin", Size: 10, Checksum: "x"}},
	}
	c := j.clone()
	c.Chunks[0].Checksum = "mutated"
	if j.Chunks[0].Checksum != "x" {
		t.Error("mutating a clone's chunks leaked into the original")
	}
}
