package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/ingesterr"
)

// Ingester is the part of Coordinator a Worker drives.
type Ingester interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
}

// Worker processes a single document job.
type Worker struct {
	ingester Ingester
	log      *zap.Logger
	timeout  time.Duration
}

func NewWorker(ingester Ingester, log *zap.Logger, timeout time.Duration) *Worker {
	return &Worker{ingester: ingester, log: log, timeout: timeout}
}

// Process runs the full ingest pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With(zap.String("job_id", job.ID), zap.String("filename", job.Filename))

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	phase := "parsing"
	res, err := w.ingester.Ingest(ctx, IngestRequest{
		Filename:          job.Filename,
		Data:              job.FileData(),
		ReplaceDocumentID: job.ReplaceDocumentID,
		Progress: func(status JobStatus, chunks int) {
			phase = string(status)
			job.SetStatus(status, phase)
			if chunks > 0 {
				job.SetTotalChunks(chunks)
			}
		},
	})
	if err != nil {
		log.Error("job failed", zap.String("phase", phase), zap.String("class", outcome(err)), zap.Error(err))
		if ingesterr.IsValidation(err) {
			phase = "validation"
		}
		job.Fail(phase, err)
		return
	}

	job.Complete(res)
	log.Info("job completed",
		zap.String("document_id", res.DocumentID),
		zap.Int("chunks", res.Chunks))
}
