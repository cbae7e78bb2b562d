package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/metrics"
)

// Config holds the embedding provider settings.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	Dimensions    int // requested from the model when > 0
	BatchSize     int
	MaxInputRunes int
	Timeout       time.Duration
	Logger        *zap.Logger
	Stats         *LatencyStats
}

// OpenAI is an Embedder backed by any OpenAI-compatible embeddings endpoint.
type OpenAI struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	requested int
	batchSize int
	maxRunes  int
	timeout   time.Duration
	logger    *zap.Logger
	stats     *LatencyStats

	dim atomic.Int64
}

// NewOpenAI creates an OpenAI-compatible embedding provider.
func NewOpenAI(cfg Config) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MaxInputRunes <= 0 {
		cfg.MaxInputRunes = DefaultMaxInputRunes
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	e := &OpenAI{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     openai.EmbeddingModel(cfg.Model),
		requested: cfg.Dimensions,
		batchSize: cfg.BatchSize,
		maxRunes:  cfg.MaxInputRunes,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger.With(zap.String("model", cfg.Model)),
		stats:     cfg.Stats,
	}
	e.dim.Store(int64(cfg.Dimensions))
	return e
}

// Dimension returns the configured size, or the size of the first vector
// the model returned.
func (e *OpenAI) Dimension() int { return int(e.dim.Load()) }

// Embed embeds a single text.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.create(ctx, []string{Prepare(text, e.maxRunes)}, "single")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in batches. A failed batch is retried one text at a
// time; a text that still fails gets a zero vector so positions line up.
// When no text at all could be embedded the last error is returned instead.
func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	var (
		failed  int
		lastErr error
	)
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		inputs := make([]string, 0, end-start)
		for _, t := range texts[start:end] {
			inputs = append(inputs, Prepare(t, e.maxRunes))
		}

		vecs, err := e.create(ctx, inputs, "batch")
		if err == nil {
			out = append(out, vecs...)
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		e.logger.Warn("batch embedding failed, falling back to single requests",
			zap.Int("batch_start", start), zap.Int("batch_size", len(inputs)), zap.Error(err))
		metrics.EmbeddingFallbacksTotal.WithLabelValues(string(e.model), "per_item").Inc()

		for i, in := range inputs {
			v, err := e.create(ctx, []string{in}, "single")
			if err == nil {
				out = append(out, v[0])
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			lastErr = err
			dim := e.Dimension()
			if dim == 0 {
				return nil, fmt.Errorf("embed text %d: %w (%w)", start+i, err, ErrNoDimension)
			}
			e.logger.Warn("embedding failed, using zero vector", zap.Int("index", start+i), zap.Error(err))
			metrics.EmbeddingFallbacksTotal.WithLabelValues(string(e.model), "zero_vector").Inc()
			out = append(out, make([]float32, dim))
		}
	}
	if len(texts) > 0 && failed == len(texts) {
		return nil, fmt.Errorf("all %d texts failed to embed: %w", failed, lastErr)
	}
	return out, nil
}

func (e *OpenAI) create(ctx context.Context, inputs []string, mode string) ([][]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req := openai.EmbeddingRequest{
		Input:          inputs,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.requested > 0 {
		req.Dimensions = e.requested
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	model := string(e.model)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(model, mode, "error").Inc()
		return nil, parseAPIError(err)
	}
	if len(resp.Data) != len(inputs) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(model, mode, "error").Inc()
		return nil, fmt.Errorf("got %d vectors for %d inputs: %w", len(resp.Data), len(inputs), ErrEmptyResponse)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(model, mode, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(model, mode).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(model, "total").Add(float64(resp.Usage.TotalTokens))
	}
	if e.stats != nil {
		e.stats.Record(duration)
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vecs := make([][]float32, len(data))
	for i, d := range data {
		vecs[i] = d.Embedding
	}
	if len(vecs[0]) > 0 {
		e.dim.CompareAndSwap(0, int64(len(vecs[0])))
	}
	return vecs, nil
}

// parseAPIError extracts a readable error from the API response. Rate limits,
// server errors and transport failures are marked transient.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		wrapped := fmt.Errorf("embedding API error %d: %s", reqErr.HTTPStatusCode, detail)
		if retryableStatus(reqErr.HTTPStatusCode) {
			return ingesterr.Transient("embed", wrapped)
		}
		return wrapped
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped := fmt.Errorf("embedding API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		if retryableStatus(apiErr.HTTPStatusCode) {
			return ingesterr.Transient("embed", wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	return ingesterr.Transient("embed", fmt.Errorf("embedding request failed: %w", err))
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// extractDetail reads the "detail" field some providers use for errors.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
