package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"leadflow/engine"
)

// SequenceWorker triggers the automation engine on a fixed cadence. It is
// the in-process counterpart of the cron endpoint; the per-lead lease
// makes the two safe to run side by side.
type SequenceWorker struct {
	engine   *engine.Engine
	logger   *logrus.Logger
	interval time.Duration
}

func NewSequenceWorker(eng *engine.Engine, logger *logrus.Logger, interval time.Duration) *SequenceWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SequenceWorker{
		engine:   eng,
		logger:   logger,
		interval: interval,
	}
}

func (w *SequenceWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	select {
	case <-ctx.Done():
		return
	case <-time.After(10 * time.Second):
	}

	w.logger.Info("Sequence worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sequence worker shutting down")
			return
		case <-ticker.C:
			summary, err := w.engine.ProcessBatch(ctx, "worker")
			if err != nil {
				w.logger.WithError(err).Error("Batch processing failed")
				continue
			}
			if summary.Eligible > 0 {
				w.logger.WithFields(logrus.Fields{
					"run_id":    summary.RunID,
					"eligible":  summary.Eligible,
					"succeeded": summary.Succeeded,
					"failed":    summary.Failed,
				}).Info("Batch processed")
			}
		}
	}
}
