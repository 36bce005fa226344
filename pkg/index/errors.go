package index

import "errors"

var (
	// ErrDimensionMismatch is returned when a vector does not match the
	// index dimension. The failed call writes nothing.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrLengthMismatch is returned when an add supplies a different
	// number of vectors and metadata entries.
	ErrLengthMismatch = errors.New("vectors and metadata length mismatch")

	// ErrSnapshotDesync is returned by Load when the persisted vector
	// and metadata files disagree in length. The index recovers by
	// resetting to empty; callers should surface this loudly because
	// the reset discards all indexed data.
	ErrSnapshotDesync = errors.New("vector/metadata snapshot out of sync")

	// ErrNoEmbedder is returned by DeleteByDocument when the index was
	// built without an embedder and a rebuild would require one.
	ErrNoEmbedder = errors.New("index has no embedder for rebuild")
)
