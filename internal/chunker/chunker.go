package chunker

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/whyaji/map-tile-converter/internal/store"
)

var (
	// ErrInvalidChunkSize is returned when a split is requested with a
	// non-positive chunk size
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	// ErrMissingChunk is returned when reconstruction finds no chunk files
	ErrMissingChunk = errors.New("no chunk files found")
)

// chunkFileRegex matches chunk filenames and captures the numeric index.
// Indexes are zero-padded on write but parsed numerically on read, so
// unpadded names still sort correctly.
var chunkFileRegex = regexp.MustCompile(`^chunk_(\d+)\.bin$`)

// Chunk describes one stored slice of an archive
type Chunk struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// VerifyResult reports per-chunk integrity. Counts are reported instead of
// failing fast so callers can decide whether partial corruption is tolerable.
type VerifyResult struct {
	ValidCount   int  `json:"validCount"`
	InvalidCount int  `json:"invalidCount"`
	IsValid      bool `json:"isValid"`
}

// Codec splits archives into fixed-size checksummed chunk files and puts
// them back together. Chunk files live under the store's per-job chunk
// directory.
type Codec struct {
	store *store.Store
}

// NewCodec creates a chunk codec backed by the given store
func NewCodec(st *store.Store) *Codec {
	return &Codec{store: st}
}

// ChunkFilename builds the canonical filename for a chunk index
func ChunkFilename(index int) string {
	return fmt.Sprintf("chunk_%03d.bin", index)
}

// Split walks data in strides of chunkSize, persists each stride as a chunk
// file and returns the ordered chunk manifest. Every chunk except possibly
// the last has exactly chunkSize bytes. Zero-length data produces zero
// chunks.
func (c *Codec) Split(jobID string, data []byte, chunkSize int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}

	dir := c.store.ChunkDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}

	chunks := make([]Chunk, 0, (len(data)+chunkSize-1)/chunkSize)
	for offset, index := 0, 0; offset < len(data); offset, index = offset+chunkSize, index+1 {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		stride := data[offset:end]

		sum := md5.Sum(stride)
		chunk := Chunk{
			Index:    index,
			Filename: ChunkFilename(index),
			Size:     int64(len(stride)),
			Checksum: hex.EncodeToString(sum[:]),
		}

		if err := os.WriteFile(filepath.Join(dir, chunk.Filename), stride, 0644); err != nil {
			return nil, fmt.Errorf("failed to write chunk %d: %w", index, err)
		}
		chunks = append(chunks, chunk)
	}

	log.Printf("[Chunker] Split %d bytes into %d chunks for job %s", len(data), len(chunks), jobID)
	return chunks, nil
}

// listChunkFiles returns the job's chunk filenames sorted by numeric index
func (c *Codec) listChunkFiles(jobID string) ([]string, error) {
	dir := c.store.ChunkDir(jobID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingChunk, dir)
	}

	type indexed struct {
		index int
		name  string
	}
	files := make([]indexed, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := chunkFileRegex.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		index, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		files = append(files, indexed{index: index, name: entry.Name()})
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingChunk, dir)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

// ReconstructTo concatenates the job's chunk files in index order into w.
// Checksums are not verified here; callers that need integrity should run
// Verify first. Returns the total byte count and the number of chunks used.
func (c *Codec) ReconstructTo(jobID string, w io.Writer) (int64, int, error) {
	names, err := c.listChunkFiles(jobID)
	if err != nil {
		return 0, 0, err
	}

	dir := c.store.ChunkDir(jobID)
	var total int64
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return total, 0, fmt.Errorf("%w: %s", ErrMissingChunk, name)
		}
		n, err := io.Copy(w, f)
		f.Close()
		if err != nil {
			return total, 0, fmt.Errorf("failed to copy chunk %s: %w", name, err)
		}
		total += n
	}

	return total, len(names), nil
}

// Reconstruct returns the reassembled archive as one byte slice
func (c *Codec) Reconstruct(jobID string) ([]byte, error) {
	var buf bytes.Buffer
	if _, _, err := c.ReconstructTo(jobID, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Verify re-hashes every chunk file and compares against the manifest
// recorded at split time. A chunk in the manifest whose file is missing or
// unreadable counts as invalid.
func (c *Codec) Verify(jobID string, manifest []Chunk) VerifyResult {
	dir := c.store.ChunkDir(jobID)

	result := VerifyResult{}
	for _, chunk := range manifest {
		data, err := os.ReadFile(filepath.Join(dir, chunk.Filename))
		if err != nil {
			result.InvalidCount++
			continue
		}
		sum := md5.Sum(data)
		if hex.EncodeToString(sum[:]) == chunk.Checksum && int64(len(data)) == chunk.Size {
			result.ValidCount++
		} else {
			result.InvalidCount++
		}
	}

	result.IsValid = result.InvalidCount == 0
	return result
}

// ReadChunk loads one chunk's bytes by index
func (c *Codec) ReadChunk(jobID string, index int) ([]byte, error) {
	path := filepath.Join(c.store.ChunkDir(jobID), ChunkFilename(index))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingChunk, ChunkFilename(index))
	}
	return data, nil
}
