package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/whyaji/map-tile-converter/internal/store"
)

// Assembler packages a job's downloaded tile tree into one opaque byte
// sequence (a zstd-compressed tarball preserving the z/x/y layout). Callers
// only depend on the "one byte sequence in, same byte sequence out" contract;
// the format is an implementation detail.
type Assembler struct {
	store *store.Store
}

// New creates an assembler backed by the given store
func New(st *store.Store) *Assembler {
	return &Assembler{store: st}
}

// Assemble walks the job's tile directory and returns the archive bytes
func (a *Assembler) Assemble(jobID string) ([]byte, error) {
	root := a.store.TileDir(jobID)
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("tile directory unavailable: %w", err)
	}

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	tw := tar.NewWriter(zw)

	fileCount := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		header := &tar.Header{
			Name:    filepath.ToSlash(rel),
			Mode:    0644,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", rel, err)
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("failed to archive %s: %w", rel, err)
		}
		fileCount++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assemble archive: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize compression: %w", err)
	}

	log.Printf("[Archive] Job %s: packaged %d tiles into %d bytes", jobID, fileCount, buf.Len())
	return buf.Bytes(), nil
}

// Extract unpacks an assembled archive into destDir, restoring the z/x/y
// tile layout. Used by the reconstruct flow to turn chunked archives back
// into a browsable tile tree.
func Extract(data []byte, destDir string) (int, error) {
	zr, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	extracted := 0
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extracted, fmt.Errorf("failed to read archive entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		// Reject entries that would escape destDir
		target := filepath.Join(destDir, filepath.FromSlash(header.Name))
		rel, err := filepath.Rel(destDir, target)
		if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
			return extracted, fmt.Errorf("archive entry escapes destination: %s", header.Name)
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return extracted, err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return extracted, err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return extracted, fmt.Errorf("failed to extract %s: %w", header.Name, err)
		}
		f.Close()
		extracted++
	}

	return extracted, nil
}
