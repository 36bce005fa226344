package index

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xhad/docqa/internal/models"
)

// snapshot is one immutable generation of the index. The i-th vector
// and the i-th metadata entry always describe the same chunk; mutations
// build a new snapshot and publish it wholesale.
type snapshot struct {
	vectors  [][]float32
	metadata []models.Chunk
}

func (s *snapshot) size() int {
	if s == nil {
		return 0
	}
	return len(s.vectors)
}

// loadSnapshot reads the vector and metadata files. Missing files count
// as empty. A length mismatch between the two files is corruption: the
// caller receives an empty snapshot together with ErrSnapshotDesync.
func loadSnapshot(vectorsPath, metadataPath string) (*snapshot, error) {
	vectors, err := readVectors(vectorsPath)
	if err != nil {
		return &snapshot{}, fmt.Errorf("%w: %v", ErrSnapshotDesync, err)
	}

	metadata, err := readMetadata(metadataPath)
	if err != nil {
		return &snapshot{}, fmt.Errorf("%w: %v", ErrSnapshotDesync, err)
	}

	if len(vectors) != len(metadata) {
		return &snapshot{}, fmt.Errorf("%w: %d vectors, %d metadata entries",
			ErrSnapshotDesync, len(vectors), len(metadata))
	}

	return &snapshot{vectors: vectors, metadata: metadata}, nil
}

// saveSnapshot persists both files, each with a write-then-rename so a
// crash never leaves a half-written file behind.
func saveSnapshot(vectorsPath, metadataPath string, snap *snapshot) error {
	if err := os.MkdirAll(filepath.Dir(vectorsPath), 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	if err := writeVectors(vectorsPath, snap.vectors); err != nil {
		return err
	}
	return writeMetadata(metadataPath, snap.metadata)
}

func readVectors(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var vectors [][]float32
	if err := gob.NewDecoder(f).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("failed to decode vectors: %w", err)
	}
	return vectors, nil
}

func writeVectors(path string, vectors [][]float32) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(vectors); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode vectors: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readMetadata(path string) ([]models.Chunk, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var metadata []models.Chunk
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return metadata, nil
}

func writeMetadata(path string, metadata []models.Chunk) error {
	if metadata == nil {
		metadata = []models.Chunk{}
	}
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
