package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/preprocess"
	"github.com/dgallion1/docingest/internal/vectorstore"
)

const (
	DefaultSearchLimit    = 5
	DefaultScoreThreshold = float32(0.3)
	DefaultKeywordCount   = 10
	MaxSearchLimit        = 100
)

type SearchRequest struct {
	Query string
	Limit int
	// ScoreThreshold defaults to DefaultScoreThreshold when nil.
	ScoreThreshold *float32
}

// Search embeds the preprocessed query and returns the closest chunks.
func (c *Coordinator) Search(ctx context.Context, req SearchRequest) ([]vectorstore.SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ingesterr.Validationf("query is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return nil, ingesterr.Validationf("limit %d exceeds %d", limit, MaxSearchLimit)
	}
	threshold := DefaultScoreThreshold
	if req.ScoreThreshold != nil {
		threshold = *req.ScoreThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, ingesterr.Validationf("score_threshold must be within [0, 1], got %g", threshold)
	}

	text := preprocess.OrRaw(c.opts.Preprocessor, query, c.opts.MinRunes)
	vec, err := submit(ctx, c.pools.embed, func(ctx context.Context) ([]float32, error) {
		return withRetry(ctx, c.backoff, nil, func(ctx context.Context) ([]float32, error) {
			return c.embedder.Embed(ctx, text)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := submit(ctx, c.pools.store, func(ctx context.Context) ([]vectorstore.SearchResult, error) {
		return c.store.Search(ctx, vec, limit, threshold)
	})
	if err != nil {
		return nil, err
	}
	c.log.Debug("search",
		zap.String("query", query),
		zap.String("embedded", text),
		zap.Int("hits", len(results)))
	if results == nil {
		results = []vectorstore.SearchResult{}
	}
	return results, nil
}

// Keywords returns the most frequent content words of text.
func (c *Coordinator) Keywords(text string, max int) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ingesterr.Validationf("text is required")
	}
	if max <= 0 {
		max = DefaultKeywordCount
	}
	kw := c.keywords.ExtractKeywords(text, max)
	if kw == nil {
		kw = []string{}
	}
	return kw, nil
}

func (c *Coordinator) ListDocuments(ctx context.Context) ([]vectorstore.DocumentInfo, error) {
	return submit(ctx, c.pools.store, func(ctx context.Context) ([]vectorstore.DocumentInfo, error) {
		return c.store.ListDocuments(ctx)
	})
}

// DeleteDocument removes every chunk of a document. It reports false when
// the id matched nothing.
func (c *Coordinator) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	if strings.TrimSpace(documentID) == "" {
		return false, ingesterr.Validationf("document id is required")
	}
	return submit(ctx, c.pools.store, func(ctx context.Context) (bool, error) {
		return c.store.DeleteDocument(ctx, documentID)
	})
}

func (c *Coordinator) Outline(ctx context.Context, q vectorstore.OutlineQuery) ([]string, error) {
	return submit(ctx, c.pools.store, func(ctx context.Context) ([]string, error) {
		return c.store.Outline(ctx, q)
	})
}

func (c *Coordinator) StoreStats(ctx context.Context) (vectorstore.Stats, error) {
	return submit(ctx, c.pools.store, func(ctx context.Context) (vectorstore.Stats, error) {
		return c.store.Stats(ctx)
	})
}

func (c *Coordinator) Health(ctx context.Context) error {
	return c.store.Health(ctx)
}

func (c *Coordinator) PoolStats() PoolStats {
	return c.pools.Stats()
}
