package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store manages the on-disk layout shared by the generation pipeline.
// Everything is namespaced by job id so concurrent jobs never contend:
//
//	baseDir/tiles/{jobID}/{z}/{x}/{y}.png
//	baseDir/chunks/{jobID}/chunk_NNN.bin
//	baseDir/jobs/{jobID}.json
type Store struct {
	baseDir string
}

// New creates the store root directories under baseDir
func New(baseDir string) (*Store, error) {
	for _, dir := range []string{
		filepath.Join(baseDir, "tiles"),
		filepath.Join(baseDir, "chunks"),
		filepath.Join(baseDir, "jobs"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return &Store{baseDir: baseDir}, nil
}

// BaseDir returns the store root
func (s *Store) BaseDir() string {
	return s.baseDir
}

// TileDir returns the tile directory for a job
func (s *Store) TileDir(jobID string) string {
	return filepath.Join(s.baseDir, "tiles", jobID)
}

// ChunkDir returns the chunk directory for a job
func (s *Store) ChunkDir(jobID string) string {
	return filepath.Join(s.baseDir, "chunks", jobID)
}

// JobsDir returns the job metadata directory
func (s *Store) JobsDir() string {
	return filepath.Join(s.baseDir, "jobs")
}

// tilePath builds the ZXY file path for one tile
func (s *Store) tilePath(jobID string, z, x, y int) string {
	return filepath.Join(s.TileDir(jobID), fmt.Sprintf("%d", z), fmt.Sprintf("%d", x), fmt.Sprintf("%d.png", y))
}

// HasTile reports whether a tile is already present on disk
func (s *Store) HasTile(jobID string, z, x, y int) bool {
	info, err := os.Stat(s.tilePath(jobID, z, x, y))
	return err == nil && info.Size() > 0
}

// WriteTile persists one tile's bytes in the ZXY layout
func (s *Store) WriteTile(jobID string, z, x, y int, data []byte) error {
	path := s.tilePath(jobID, z, x, y)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create tile directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write tile %d/%d/%d: %w", z, x, y, err)
	}
	return nil
}

// ReadTile loads one tile's bytes
func (s *Store) ReadTile(jobID string, z, x, y int) ([]byte, error) {
	return os.ReadFile(s.tilePath(jobID, z, x, y))
}

// RemoveJob deletes every artifact belonging to a job: tiles, chunks and
// the metadata record
func (s *Store) RemoveJob(jobID string) error {
	if err := os.RemoveAll(s.TileDir(jobID)); err != nil {
		return fmt.Errorf("failed to remove tiles: %w", err)
	}
	if err := os.RemoveAll(s.ChunkDir(jobID)); err != nil {
		return fmt.Errorf("failed to remove chunks: %w", err)
	}
	metaPath := filepath.Join(s.JobsDir(), jobID+".json")
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove job metadata: %w", err)
	}
	return nil
}
