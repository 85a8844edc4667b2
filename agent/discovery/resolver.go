// Package discovery turns vague shopper wording into concrete catalog
// candidates: the query is embedded, matched against the product vector
// index, and the surviving hits are enriched with live catalog data.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
	"github.com/chatcart-ai/chatcart/pkg/occ"
	"github.com/chatcart-ai/chatcart/pkg/vecstore"
)

var ErrEmptyQuery = errors.New("empty discovery query")

const (
	defaultTopK          = 5
	defaultMinSimilarity = 0.35
	enrichConcurrency    = 4
	summaryLimit         = 200
)

type Config struct {
	TopK           int           `envconfig:"TOP_K" split_words:"true" default:"5"`
	MinSimilarity  float64       `envconfig:"MIN_SIMILARITY" split_words:"true" default:"0.35"`
	DetailCacheTTL time.Duration `envconfig:"DETAIL_CACHE_TTL" split_words:"true" default:"5m"`
}

// Embedder maps free text into the vector space the index was built with.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex finds the stored product vectors nearest to a query vector.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, limit int) ([]vecstore.Hit, error)
}

// Detailer fetches live product data for candidate enrichment.
type Detailer interface {
	GetProductDetails(ctx context.Context, productCode string) (*occ.Product, error)
}

// Resolver answers "something for muddy trail runs" with ranked, priced,
// in-catalog products.
type Resolver struct {
	cfg      Config
	embedder Embedder
	index    VectorIndex
	detailer Detailer
	details  *cache.Cache
	logger   zerolog.Logger
}

func NewResolver(cfg Config, embedder Embedder, index VectorIndex, detailer Detailer) (*Resolver, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if index == nil {
		return nil, errors.New("vector index is required")
	}
	if detailer == nil {
		return nil, errors.New("detailer is required")
	}
	if cfg.MinSimilarity < 0 || cfg.MinSimilarity > 1 {
		return nil, fmt.Errorf("min similarity %v out of range [0, 1]", cfg.MinSimilarity)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.DetailCacheTTL <= 0 {
		cfg.DetailCacheTTL = 5 * time.Minute
	}

	return &Resolver{
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		detailer: detailer,
		details:  cache.New(cfg.DetailCacheTTL, 2*cfg.DetailCacheTTL),
		logger:   log.With().Str("component", "discovery.resolver").Logger(),
	}, nil
}

// Resolve returns up to TopK candidates ordered by similarity. An empty
// slice means nothing in the catalog was close enough; that is a normal
// outcome, not an error.
func (r *Resolver) Resolve(ctx context.Context, query string) ([]contractx.ProductCandidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.index.Search(ctx, vector, r.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	ranked := make([]vecstore.Hit, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity >= r.cfg.MinSimilarity {
			ranked = append(ranked, hit)
		}
	}
	r.logger.Debug().
		Int("hits", len(hits)).
		Int("above_threshold", len(ranked)).
		Msg("vector search complete")
	if len(ranked) == 0 {
		return []contractx.ProductCandidate{}, nil
	}

	return r.enrich(ctx, ranked)
}

// enrich attaches live name, price, and stock to each hit. Results land in
// per-hit slots so the similarity ranking survives concurrent fetches.
func (r *Resolver) enrich(ctx context.Context, hits []vecstore.Hit) ([]contractx.ProductCandidate, error) {
	slots := make([]*contractx.ProductCandidate, len(hits))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for i, hit := range hits {
		i, hit := i, hit
		g.Go(func() error {
			product, err := r.detail(gctx, hit.ProductID)
			switch {
			case errors.Is(err, occ.ErrNotFound):
				// The index can lag the catalog; a vanished product is
				// dropped rather than failing the whole resolution.
				r.logger.Debug().Str("product_id", hit.ProductID).Msg("indexed product no longer in catalog")
				return nil
			case err != nil:
				return err
			}
			c := candidateOf(product, hit.Similarity)
			slots[i] = &c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("enrich candidates: %w", err)
	}

	out := make([]contractx.ProductCandidate, 0, len(slots))
	for _, c := range slots {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *Resolver) detail(ctx context.Context, code string) (*occ.Product, error) {
	if hit, ok := r.details.Get(code); ok {
		if product, ok := hit.(*occ.Product); ok {
			return product, nil
		}
	}
	product, err := r.detailer.GetProductDetails(ctx, code)
	if err != nil {
		return nil, err
	}
	r.details.Set(code, product, cache.DefaultExpiration)
	return product, nil
}

func candidateOf(p *occ.Product, similarity float64) contractx.ProductCandidate {
	c := contractx.ProductCandidate{
		ProductID:  p.Code,
		Name:       p.Name,
		Summary:    truncate(p.Summary, summaryLimit),
		Similarity: similarity,
	}
	if p.Price != nil {
		c.Price = p.Price.Value
		c.Currency = p.Price.CurrencyISO
	}
	if p.Stock != nil {
		c.Stock = p.Stock.StockLevel
	}
	return c
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
