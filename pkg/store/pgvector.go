// Package store provides a PostgreSQL/pgvector backend implementing
// the same contract as the embedded flat index, for deployments that
// already run Postgres. Deletion here is a plain SQL DELETE; the
// rebuild-by-re-embedding scheme is specific to the flat index.
package store

import (
	"context"
	"fmt"
	"log"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/docqa/internal/models"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
}

type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 384
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize() error {
	ctx := context.Background()

	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			document_id INTEGER NOT NULL,
			chunk_index INTEGER NOT NULL,
			title TEXT,
			text TEXT,
			embedding vector(%d),
			PRIMARY KEY (document_id, chunk_index)
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	return nil
}

// Add inserts vectors with their chunk metadata in one transaction, so
// a failure writes nothing.
func (vs *VectorStore) Add(vectors [][]float32, metas []models.Chunk) error {
	if len(vectors) != len(metas) {
		return fmt.Errorf("vectors and metadata length mismatch: %d vs %d",
			len(vectors), len(metas))
	}
	for _, v := range vectors {
		if len(v) != vs.config.VectorDim {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d",
				len(v), vs.config.VectorDim)
		}
	}

	ctx := context.Background()

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (document_id, chunk_index, title, text, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id, chunk_index) DO UPDATE SET
			title = EXCLUDED.title,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding`,
		vs.config.TableName)

	for i, meta := range metas {
		_, err = tx.Exec(ctx, stmt,
			meta.DocumentID,
			meta.ChunkIndex,
			sanitizeUTF8(meta.Title),
			sanitizeUTF8(meta.Text),
			pgvector.NewVector(vectors[i]),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	return nil
}

// Search returns the k nearest chunks by L2 distance, ascending.
func (vs *VectorStore) Search(queryEmbedding []float32, k int) ([]models.RetrievalHit, error) {
	if k <= 0 {
		return nil, nil
	}

	ctx := context.Background()

	query := fmt.Sprintf(`
		SELECT document_id, chunk_index, title, text, embedding <-> $1 AS distance
		FROM %s
		ORDER BY distance
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(queryEmbedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %v", err)
	}
	defer rows.Close()

	var hits []models.RetrievalHit
	for rows.Next() {
		var hit models.RetrievalHit
		err := rows.Scan(
			&hit.DocumentID,
			&hit.ChunkIndex,
			&hit.Title,
			&hit.Text,
			&hit.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		hits = append(hits, hit)
	}

	return hits, rows.Err()
}

// DeleteByDocument removes every chunk of the document and reports how
// many rows went away. Zero matches is a no-op.
func (vs *VectorStore) DeleteByDocument(ctx context.Context, documentID int) (int, error) {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", vs.config.TableName)

	tag, err := vs.pool.Exec(ctx, stmt, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %v", err)
	}
	return int(tag.RowsAffected()), nil
}

// Len reports the number of stored chunks. A failed count is logged
// and reported as zero, which callers treat as "size unknown" rather
// than "empty".
func (vs *VectorStore) Len() int {
	var count int
	err := vs.pool.QueryRow(context.Background(),
		fmt.Sprintf("SELECT COUNT(*) FROM %s", vs.config.TableName)).Scan(&count)
	if err != nil {
		log.Printf("Error counting chunks: %v", err)
		return 0
	}
	return count
}

func (vs *VectorStore) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
