// Package index implements an exact-search flat vector index with a
// parallel metadata store. Vectors and metadata are persisted as a pair
// of files whose lengths must always agree; a snapshot that violates
// that invariant is reset to empty on load.
package index

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

type IndexConfig struct {
	Dimension    int
	DataDir      string
	VectorsFile  string
	MetadataFile string

	// Embedder is used only to re-embed surviving chunks when a delete
	// forces a rebuild. Optional for read/add-only indexes.
	Embedder types.Embedder
}

// Index is a flat exact-L2 index. Mutations run under a single writer
// lock, build a fresh snapshot, persist it and publish it atomically;
// searches read the last published snapshot and never observe a
// mid-rebuild state.
type Index struct {
	config IndexConfig

	mu   sync.RWMutex
	snap *snapshot
}

// NewWithConfig opens (or creates) an index. When the persisted files
// are out of sync the index comes back empty and the returned error
// wraps ErrSnapshotDesync; the index is still usable.
func NewWithConfig(config IndexConfig) (*Index, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", config.Dimension)
	}
	if config.DataDir == "" {
		config.DataDir = "data"
	}
	if config.VectorsFile == "" {
		config.VectorsFile = "vectors.gob"
	}
	if config.MetadataFile == "" {
		config.MetadataFile = "metadata.json"
	}

	ix := &Index{
		config: config,
		snap:   &snapshot{},
	}

	if err := ix.Load(); err != nil {
		return ix, err
	}
	return ix, nil
}

func (ix *Index) vectorsPath() string {
	return filepath.Join(ix.config.DataDir, ix.config.VectorsFile)
}

func (ix *Index) metadataPath() string {
	return filepath.Join(ix.config.DataDir, ix.config.MetadataFile)
}

// Load replaces the in-memory snapshot with the persisted one. On a
// desynced snapshot the index resets to empty and the error wraps
// ErrSnapshotDesync so callers can alert instead of silently losing
// data.
func (ix *Index) Load() error {
	snap, err := loadSnapshot(ix.vectorsPath(), ix.metadataPath())
	if err == nil {
		for _, v := range snap.vectors {
			if len(v) != ix.config.Dimension {
				snap = &snapshot{}
				err = fmt.Errorf("%w: stored vector has dimension %d, index expects %d",
					ErrSnapshotDesync, len(v), ix.config.Dimension)
				break
			}
		}
	}

	ix.mu.Lock()
	ix.snap = snap
	ix.mu.Unlock()
	return err
}

// Save persists the current snapshot.
func (ix *Index) Save() error {
	ix.mu.RLock()
	snap := ix.snap
	ix.mu.RUnlock()
	return saveSnapshot(ix.vectorsPath(), ix.metadataPath(), snap)
}

// Len reports the number of stored vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.snap.size()
}

func (ix *Index) Dimension() int {
	return ix.config.Dimension
}

// Add appends vectors and their metadata. The call is all-or-nothing:
// any dimension or length mismatch fails before anything is written,
// and a persistence failure leaves the published snapshot untouched.
func (ix *Index) Add(vectors [][]float32, metas []models.Chunk) error {
	if len(vectors) != len(metas) {
		return fmt.Errorf("%w: %d vectors, %d metadata entries",
			ErrLengthMismatch, len(vectors), len(metas))
	}
	for _, v := range vectors {
		if len(v) != ix.config.Dimension {
			return fmt.Errorf("%w: got %d, expected %d",
				ErrDimensionMismatch, len(v), ix.config.Dimension)
		}
	}
	if len(vectors) == 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	next := &snapshot{
		vectors:  append(append([][]float32{}, ix.snap.vectors...), vectors...),
		metadata: append(append([]models.Chunk{}, ix.snap.metadata...), metas...),
	}

	if err := saveSnapshot(ix.vectorsPath(), ix.metadataPath(), next); err != nil {
		return err
	}
	ix.snap = next
	return nil
}

// Search returns the k nearest stored chunks by exact L2 distance
// (squared, ascending). k=0 or an empty index returns an empty result;
// k larger than the index returns everything.
func (ix *Index) Search(query []float32, k int) ([]models.RetrievalHit, error) {
	if len(query) != ix.config.Dimension {
		return nil, fmt.Errorf("%w: got %d, expected %d",
			ErrDimensionMismatch, len(query), ix.config.Dimension)
	}

	ix.mu.RLock()
	snap := ix.snap
	ix.mu.RUnlock()

	if k <= 0 || snap.size() == 0 {
		return nil, nil
	}
	if k > snap.size() {
		k = snap.size()
	}

	type scored struct {
		pos  int
		dist float64
	}
	distances := make([]scored, snap.size())
	for i, v := range snap.vectors {
		distances[i] = scored{pos: i, dist: l2Squared(query, v)}
	}
	sort.Slice(distances, func(i, j int) bool {
		return distances[i].dist < distances[j].dist
	})

	hits := make([]models.RetrievalHit, 0, k)
	for _, d := range distances[:k] {
		meta := snap.metadata[d.pos]
		hits = append(hits, models.RetrievalHit{
			DocumentID: meta.DocumentID,
			ChunkIndex: meta.ChunkIndex,
			Title:      meta.Title,
			Text:       meta.Text,
			Score:      d.dist,
		})
	}
	return hits, nil
}

// DeleteByDocument removes every record of the document. Embeddings are
// not retained outside the index, so deletion re-embeds the surviving
// chunks and rebuilds from scratch: O(N) in total chunk count, meant to
// run in the background, not on a request path. Returns the number of
// records removed; zero matches leave the snapshot byte-for-byte
// untouched.
func (ix *Index) DeleteByDocument(ctx context.Context, documentID int) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	survivors := make([]models.Chunk, 0, len(ix.snap.metadata))
	for _, meta := range ix.snap.metadata {
		if meta.DocumentID != documentID {
			survivors = append(survivors, meta)
		}
	}
	removed := len(ix.snap.metadata) - len(survivors)
	if removed == 0 {
		return 0, nil
	}

	var vectors [][]float32
	if len(survivors) > 0 {
		if ix.config.Embedder == nil {
			return 0, ErrNoEmbedder
		}
		texts := make([]string, len(survivors))
		for i, meta := range survivors {
			texts[i] = meta.Text
		}
		embedded, err := ix.config.Embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("failed to re-embed surviving chunks: %w", err)
		}
		if len(embedded) != len(survivors) {
			return 0, fmt.Errorf("%w: embedder returned %d vectors for %d chunks",
				ErrLengthMismatch, len(embedded), len(survivors))
		}
		for _, v := range embedded {
			if len(v) != ix.config.Dimension {
				return 0, fmt.Errorf("%w: got %d, expected %d",
					ErrDimensionMismatch, len(v), ix.config.Dimension)
			}
		}
		vectors = embedded
	}

	next := &snapshot{vectors: vectors, metadata: survivors}
	if err := saveSnapshot(ix.vectorsPath(), ix.metadataPath(), next); err != nil {
		return 0, err
	}
	ix.snap = next
	return removed, nil
}

// Close is part of the store contract; the flat index holds no
// resources beyond its files.
func (ix *Index) Close() error {
	return nil
}

func l2Squared(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
