package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/indexforge/docproc/internal/storage"
	"github.com/indexforge/docproc/pkg/types"
)

// DeletionWorker drains deleted events: tear down the graph subgraph,
// then the relational rows. Graph first, so a failure leaves the document
// findable and the task retryable.
type DeletionWorker struct {
	queue        storage.TaskQueue
	docs         storage.DocumentStore
	graph        GraphStore // nil when the graph store is disabled
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewDeletionWorker wires a deletion worker. graph may be nil.
func NewDeletionWorker(queue storage.TaskQueue, docs storage.DocumentStore, graph GraphStore,
	pollInterval time.Duration, logger *slog.Logger) *DeletionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeletionWorker{queue: queue, docs: docs, graph: graph, pollInterval: pollInterval, logger: logger}
}

// Run claims and processes deletion tasks until the context is canceled.
func (w *DeletionWorker) Run(ctx context.Context) error {
	w.logger.Info("worker: deletion worker started")
	for {
		if ctx.Err() != nil {
			return nil
		}

		task, err := w.queue.ClaimNext(ctx, types.OpDeleted)
		if err != nil {
			return fmt.Errorf("worker: deletion claim failed: %w", err)
		}
		if task == nil {
			sleepCtx(ctx, w.pollInterval)
			continue
		}
		w.handle(ctx, task)
	}
}

func (w *DeletionWorker) handle(ctx context.Context, task *types.Task) {
	logger := w.logger.With("task_id", task.ID, "doc_id", task.ItemUUID, "tenant_id", task.TenantID)
	logger.Info("worker: claimed deletion task")

	timer := prometheus.NewTimer(docProcessingDuration.WithLabelValues("delete"))
	err := w.process(ctx, task)
	timer.ObserveDuration()

	if err != nil {
		logger.Error("worker: deletion task failed", "error", err)
		processingErrorsTotal.WithLabelValues("deletion", "main").Inc()
		if cerr := w.queue.Complete(ctx, task.ID, types.TaskFailed, err.Error()); cerr != nil {
			logger.Error("worker: failed to mark task failed", "error", cerr)
		}
		return
	}

	if cerr := w.queue.Complete(ctx, task.ID, types.TaskDone, "document deindexed"); cerr != nil {
		logger.Error("worker: failed to mark task done", "error", cerr)
		return
	}
	docsDeprovisionedTotal.Inc()
	logger.Info("worker: deletion task completed")
}

func (w *DeletionWorker) process(ctx context.Context, task *types.Task) error {
	if w.graph != nil {
		if err := w.graph.DeleteByDoc(ctx, task.ItemUUID, task.TenantID); err != nil {
			return fmt.Errorf("worker: failed to delete graph subgraph: %w", err)
		}
	}
	return w.docs.DeleteDocument(ctx, task.ItemUUID)
}
