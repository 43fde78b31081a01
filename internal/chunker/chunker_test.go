package chunker

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/whyaji/map-tile-converter/internal/store"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return NewCodec(st)
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	rng := rand.New(rand.NewSource(42))
	if _, err := rng.Read(data); err != nil {
		t.Fatalf("failed to generate test data: %v", err)
	}
	return data
}

func TestSplitReconstructRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		dataLen   int
		chunkSize int
	}{
		{"empty data", 0, 1024},
		{"smaller than one chunk", 100, 1024},
		{"exactly one chunk", 1024, 1024},
		{"evenly divisible", 4096, 1024},
		{"uneven tail", 4000, 1024},
		{"chunk size one", 17, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := newTestCodec(t)
			data := randomBytes(t, tt.dataLen)

			chunks, err := codec.Split("job1", data, tt.chunkSize)
			if err != nil {
				t.Fatalf("Split failed: %v", err)
			}

			var sizeSum int64
			for i, chunk := range chunks {
				if chunk.Index != i {
					t.Errorf("chunk %d has index %d", i, chunk.Index)
				}
				if i < len(chunks)-1 && chunk.Size != int64(tt.chunkSize) {
					t.Errorf("non-final chunk %d has size %d, want %d", i, chunk.Size, tt.chunkSize)
				}
				sizeSum += chunk.Size
			}
			if sizeSum != int64(len(data)) {
				t.Errorf("chunk sizes sum to %d, want %d", sizeSum, len(data))
			}

			if tt.dataLen == 0 {
				if len(chunks) != 0 {
					t.Fatalf("expected zero chunks for empty data, got %d", len(chunks))
				}
				return
			}

			got, err := codec.Reconstruct("job1")
			if err != nil {
				t.Fatalf("Reconstruct failed: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("reconstructed data differs from original (%d vs %d bytes)", len(got), len(data))
			}
		})
	}
}

func TestSplitFiveMegabyteScenario(t *testing.T) {
	codec := newTestCodec(t)
	data := randomBytes(t, 5_000_000)

	chunks, err := codec.Split("job1", data, 2_097_152)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	wantSizes := []int64{2_097_152, 2_097_152, 805_696}
	for i, want := range wantSizes {
		if chunks[i].Size != want {
			t.Errorf("chunk %d size = %d, want %d", i, chunks[i].Size, want)
		}
	}
}

func TestSplitInvalidChunkSize(t *testing.T) {
	codec := newTestCodec(t)
	for _, size := range []int{0, -1} {
		if _, err := codec.Split("job1", []byte("data"), size); !errors.Is(err, ErrInvalidChunkSize) {
			t.Errorf("Split with chunk size %d: got %v, want ErrInvalidChunkSize", size, err)
		}
	}
}

func TestReconstructMissingChunks(t *testing.T) {
	codec := newTestCodec(t)
	if _, err := codec.Reconstruct("no-such-job"); !errors.Is(err, ErrMissingChunk) {
		t.Errorf("Reconstruct on missing dir: got %v, want ErrMissingChunk", err)
	}
}

func TestReconstructSortsNumerically(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	codec := NewCodec(st)

	// Write chunks with unpadded names out of order; numeric index sort must
	// still produce 2 before 10
	dir := st.ChunkDir("job1")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"chunk_10.bin": "C",
		"chunk_2.bin":  "B",
		"chunk_1.bin":  "A",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := codec.Reconstruct("job1")
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if string(got) != "ABC" {
		t.Errorf("Reconstruct order = %q, want %q", got, "ABC")
	}
}

func TestVerify(t *testing.T) {
	codec := newTestCodec(t)
	data := randomBytes(t, 10_000)

	chunks, err := codec.Split("job1", data, 3_000)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	t.Run("untouched chunks are all valid", func(t *testing.T) {
		result := codec.Verify("job1", chunks)
		if result.InvalidCount != 0 || !result.IsValid {
			t.Errorf("Verify = %+v, want all valid", result)
		}
		if result.ValidCount != len(chunks) {
			t.Errorf("ValidCount = %d, want %d", result.ValidCount, len(chunks))
		}
	})

	t.Run("corrupting one byte flips exactly one chunk", func(t *testing.T) {
		path := filepath.Join(codec.store.ChunkDir("job1"), chunks[1].Filename)
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		raw[0] ^= 0xFF
		if err := os.WriteFile(path, raw, 0644); err != nil {
			t.Fatal(err)
		}

		result := codec.Verify("job1", chunks)
		if result.InvalidCount != 1 {
			t.Errorf("InvalidCount = %d, want 1", result.InvalidCount)
		}
		if result.ValidCount != len(chunks)-1 {
			t.Errorf("ValidCount = %d, want %d", result.ValidCount, len(chunks)-1)
		}
		if result.IsValid {
			t.Error("IsValid = true after corruption")
		}
	})

	t.Run("missing chunk file counts as invalid", func(t *testing.T) {
		path := filepath.Join(codec.store.ChunkDir("job1"), chunks[2].Filename)
		if err := os.Remove(path); err != nil {
			t.Fatal(err)
		}

		result := codec.Verify("job1", chunks)
		if result.InvalidCount != 2 {
			t.Errorf("InvalidCount = %d, want 2", result.InvalidCount)
		}
	})
}

func TestReadChunk(t *testing.T) {
	codec := newTestCodec(t)
	data := randomBytes(t, 2_500)

	chunks, err := codec.Split("job1", data, 1_000)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	got, err := codec.ReadChunk("job1", 2)
	if err != nil {
		t.Fatalf("ReadChunk failed: %v", err)
	}
	if int64(len(got)) != chunks[2].Size {
		t.Errorf("chunk 2 has %d bytes, want %d", len(got), chunks[2].Size)
	}
	if !bytes.Equal(got, data[2_000:]) {
		t.Error("chunk 2 bytes differ from source slice")
	}

	if _, err := codec.ReadChunk("job1", 9); !errors.Is(err, ErrMissingChunk) {
		t.Errorf("ReadChunk out of range: got %v, want ErrMissingChunk", err)
	}
}
