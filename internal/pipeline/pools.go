package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const (
	DefaultEmbedConcurrency = 4
	DefaultStoreConcurrency = 8
)

// Pools bounds concurrent calls to the embedding model and the vector store.
// Every document run hands its dependency calls to these pools and waits, so
// the number of in-flight requests is fixed regardless of how many documents
// are being processed.
type Pools struct {
	embed *ants.Pool
	store *ants.Pool
}

// PoolStats reports pool occupancy.
type PoolStats struct {
	EmbedRunning int `json:"embed_running"`
	EmbedWaiting int `json:"embed_waiting"`
	EmbedCap     int `json:"embed_cap"`
	StoreRunning int `json:"store_running"`
	StoreWaiting int `json:"store_waiting"`
	StoreCap     int `json:"store_cap"`
}

func NewPools(embedSize, storeSize int, log *zap.Logger) (*Pools, error) {
	if embedSize <= 0 {
		embedSize = DefaultEmbedConcurrency
	}
	if storeSize <= 0 {
		storeSize = DefaultStoreConcurrency
	}
	if log == nil {
		log = zap.NewNop()
	}

	panics := func(pool string) ants.Option {
		return ants.WithPanicHandler(func(p any) {
			log.Error("worker panic", zap.String("pool", pool), zap.Any("panic", p))
		})
	}

	embed, err := ants.NewPool(embedSize, panics("embed"))
	if err != nil {
		return nil, fmt.Errorf("creating embedding pool: %w", err)
	}
	store, err := ants.NewPool(storeSize, panics("store"))
	if err != nil {
		embed.Release()
		return nil, fmt.Errorf("creating store pool: %w", err)
	}
	return &Pools{embed: embed, store: store}, nil
}

func (p *Pools) Stats() PoolStats {
	return PoolStats{
		EmbedRunning: p.embed.Running(),
		EmbedWaiting: p.embed.Waiting(),
		EmbedCap:     p.embed.Cap(),
		StoreRunning: p.store.Running(),
		StoreWaiting: p.store.Waiting(),
		StoreCap:     p.store.Cap(),
	}
}

// Release stops both pools. Tasks already running are allowed to finish.
func (p *Pools) Release() {
	p.embed.Release()
	p.store.Release()
}

type taskResult[T any] struct {
	val T
	err error
}

var errTaskPanicked = errors.New("pool task panicked")

// submit runs fn on pool and waits for its result or for ctx to end. When
// ctx ends first the task keeps running but its result is discarded.
func submit[T any](ctx context.Context, pool *ants.Pool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	done := make(chan taskResult[T], 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- taskResult[T]{err: fmt.Errorf("%w: %v", errTaskPanicked, r)}
			}
		}()
		v, err := fn(ctx)
		done <- taskResult[T]{val: v, err: err}
	}
	if err := pool.Submit(task); err != nil {
		return zero, fmt.Errorf("submitting task: %w", err)
	}
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case out := <-done:
		return out.val, out.err
	}
}
