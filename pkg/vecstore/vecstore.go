// Package vecstore is the Postgres pgvector index of catalog embeddings
// behind semantic product discovery.
package vecstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type Config struct {
	DSN        string `envconfig:"DSN" split_words:"true" required:"true"`
	Table      string `envconfig:"TABLE" split_words:"true" default:"product_embeddings"`
	Dimensions int    `envconfig:"DIMENSIONS" split_words:"true" default:"1536"`
}

// Hit is one nearest-neighbor match. Similarity is cosine similarity in
// [0, 1], computed as 1 - cosine distance.
type Hit struct {
	ProductID  string  `bun:"product_id"`
	Similarity float64 `bun:"similarity"`
}

// Index queries and maintains the product embedding table.
type Index struct {
	db    *bun.DB
	table string
	dims  int
}

func New(cfg Config) (*Index, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = "product_embeddings"
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 1536
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	return &Index{db: db, table: table, dims: dims}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

func (ix *Index) Ping(ctx context.Context) error {
	return ix.db.PingContext(ctx)
}

// EnsureSchema creates the vector extension and embedding table when they
// do not exist yet. Safe to run on every start.
func (ix *Index) EnsureSchema(ctx context.Context) error {
	if _, err := ix.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS ? (product_id text PRIMARY KEY, embedding vector(%d) NOT NULL, updated_at timestamptz NOT NULL DEFAULT now())",
		ix.dims,
	)
	if _, err := ix.db.NewRaw(ddl, bun.Ident(ix.table)).Exec(ctx); err != nil {
		return fmt.Errorf("create embedding table: %w", err)
	}
	return nil
}

// Upsert writes a product vector, replacing any existing one.
func (ix *Index) Upsert(ctx context.Context, productID string, vec []float32) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product id is required")
	}
	if len(vec) != ix.dims {
		return fmt.Errorf("vector has %d dimensions, index expects %d", len(vec), ix.dims)
	}

	_, err := ix.db.NewRaw(
		"INSERT INTO ? (product_id, embedding, updated_at) VALUES (?, ?, now()) "+
			"ON CONFLICT (product_id) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = now()",
		bun.Ident(ix.table), productID, pgvector.NewVector(vec),
	).Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert embedding for %q: %w", productID, err)
	}
	return nil
}

// Search returns the topK nearest products by cosine similarity, best
// first. Callers apply their own similarity floor.
func (ix *Index) Search(ctx context.Context, vec []float32, topK int) ([]Hit, error) {
	if len(vec) == 0 {
		return nil, errors.New("query vector is empty")
	}
	if topK <= 0 {
		topK = 5
	}

	query := pgvector.NewVector(vec)
	var hits []Hit
	err := ix.db.NewRaw(
		"SELECT product_id, 1 - (embedding <=> ?) AS similarity FROM ? ORDER BY embedding <=> ? LIMIT ?",
		query, bun.Ident(ix.table), query, topK,
	).Scan(ctx, &hits)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}
