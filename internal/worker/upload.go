package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/indexforge/docproc/internal/chunker"
	"github.com/indexforge/docproc/internal/storage"
	"github.com/indexforge/docproc/pkg/types"
)

// emptyFileThreshold separates genuinely empty uploads from non-empty
// files the parser failed to extract anything from.
const emptyFileThreshold = 1024

// UploadWorker drains created (and updated) events: download, parse,
// normalize, chunk and persist. Embeddings and LLM enrichment happen later
// in the enrichment worker; chunks are persisted with all stages pending.
type UploadWorker struct {
	queue            storage.TaskQueue
	docs             storage.DocumentStore
	objects          ObjectStore
	graph            GraphStore // nil when the graph store is disabled
	parser           DocumentParser
	chunker          Chunker
	embeddingVersion int // current persisted version, stamped on new chunks
	pollInterval     time.Duration
	logger           *slog.Logger
}

// NewUploadWorker wires an upload worker. graph may be nil.
func NewUploadWorker(queue storage.TaskQueue, docs storage.DocumentStore, objects ObjectStore,
	graph GraphStore, parser DocumentParser, ch Chunker, embeddingVersion int,
	pollInterval time.Duration, logger *slog.Logger) *UploadWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadWorker{
		queue: queue, docs: docs, objects: objects, graph: graph,
		parser: parser, chunker: ch, embeddingVersion: embeddingVersion,
		pollInterval: pollInterval, logger: logger,
	}
}

// Run claims and processes tasks until the context is canceled.
func (w *UploadWorker) Run(ctx context.Context) error {
	w.logger.Info("worker: upload worker started")
	for {
		if ctx.Err() != nil {
			return nil
		}

		task, err := w.claim(ctx)
		if err != nil {
			return fmt.Errorf("worker: upload claim failed: %w", err)
		}
		if task == nil {
			sleepCtx(ctx, w.pollInterval)
			continue
		}
		w.handle(ctx, task)
	}
}

// claim takes the oldest created event; updated events are treated as
// full reprocessing and share the same pipeline.
func (w *UploadWorker) claim(ctx context.Context) (*types.Task, error) {
	task, err := w.queue.ClaimNext(ctx, types.OpCreated)
	if err != nil || task != nil {
		return task, err
	}
	return w.queue.ClaimNext(ctx, types.OpUpdated)
}

func (w *UploadWorker) handle(ctx context.Context, task *types.Task) {
	logger := w.logger.With("task_id", task.ID, "doc_id", task.ItemUUID, "tenant_id", task.TenantID)
	logger.Info("worker: claimed upload task", "filename", task.ItemName)

	timer := prometheus.NewTimer(docProcessingDuration.WithLabelValues("upload"))
	message, indexed, err := w.process(ctx, task, logger)
	timer.ObserveDuration()

	if err != nil {
		logger.Error("worker: upload task failed", "error", err)
		processingErrorsTotal.WithLabelValues("upload", "main").Inc()
		if cerr := w.queue.Complete(ctx, task.ID, types.TaskFailed, err.Error()); cerr != nil {
			logger.Error("worker: failed to mark task failed", "error", cerr)
		}
		return
	}

	if cerr := w.queue.Complete(ctx, task.ID, types.TaskDone, message); cerr != nil {
		logger.Error("worker: failed to mark task done", "error", cerr)
		return
	}
	if indexed {
		docsProcessedTotal.Inc()
	}
	logger.Info("worker: upload task completed", "result", message)
}

// process runs the full upload pipeline for one task. The bool result
// reports whether a document was actually indexed (vs. an empty upload).
func (w *UploadWorker) process(ctx context.Context, task *types.Task, logger *slog.Logger) (string, bool, error) {
	if task.S3Path == "" {
		return "", false, fmt.Errorf("worker: task %d has no s3_path", task.ID)
	}

	exists, err := w.docs.Exists(ctx, task.ItemUUID)
	if err != nil {
		return "", false, err
	}
	if exists {
		logger.Warn("worker: document already exists, cleaning up before reprocessing")
		if w.graph != nil {
			// A half-cleaned graph would leave orphaned relations pointing
			// at the new document version, so this failure is fatal.
			if err := w.graph.DeleteByDoc(ctx, task.ItemUUID, task.TenantID); err != nil {
				return "", false, fmt.Errorf("worker: failed to clean graph before reprocessing: %w", err)
			}
		}
		if err := w.docs.DeleteDocument(ctx, task.ItemUUID); err != nil {
			return "", false, err
		}
	}

	localPath, err := w.objects.Download(ctx, task.S3Path)
	if err != nil {
		return "", false, err
	}
	defer os.Remove(localPath)

	blocks, props, err := w.parser.Parse(ctx, localPath, task.ItemUUID)
	if err != nil {
		return "", false, err
	}
	if len(blocks) > 0 && blocks[0].Type == types.BlockError {
		return "", false, fmt.Errorf("worker: parsing failed: %s", blocks[0].Text)
	}

	blocks = EnrichHierarchy(NormalizeBlocks(blocks))
	chunks := w.chunker.SplitDocument(sectionsFromBlocks(blocks))

	if len(chunks) == 0 {
		if size := sizeBytes(props); size > emptyFileThreshold {
			return "", false, fmt.Errorf("worker: parser produced no content from non-empty file (%d bytes)", size)
		}
		return "document is empty, nothing to index", false, nil
	}

	doc := &types.Document{
		DocID:       task.ItemUUID,
		TenantID:    task.TenantID,
		OwnerUserID: task.UserID,
		Filename:    task.ItemName,
		Title:       stringProp(props, "title"),
		Author:      stringProp(props, "author"),
		Metadata:    props,
		UploadedAt:  time.Now().UTC(),
	}

	relationStage := w.graph != nil
	rows := make([]*types.Chunk, len(chunks))
	for i, sc := range chunks {
		blockType := sc.BlockType
		typ := stringProp(sc.Meta, "type")
		if typ == "" {
			typ = blockType
		}
		rows[i] = &types.Chunk{
			DocID:            task.ItemUUID,
			ChunkID:          i + 1,
			TenantID:         task.TenantID,
			Text:             sc.Text,
			Section:          stringProp(sc.Meta, "section"),
			Type:             typ,
			BlockType:        blockType,
			Metadata:         sc.Meta,
			EmbeddingVersion: w.embeddingVersion,
			Enrichment:       types.NewPendingStatus(relationStage),
		}
	}

	if err := w.docs.CreateDocumentAndChunks(ctx, doc, rows); err != nil {
		return "", false, err
	}
	return fmt.Sprintf("saved document and %d chunks", len(rows)), true, nil
}

// sectionsFromBlocks converts parser blocks into chunker input, folding
// the typed fields into the section metadata.
func sectionsFromBlocks(blocks []types.Block) []chunker.Section {
	sections := make([]chunker.Section, len(blocks))
	for i, b := range blocks {
		meta := make(map[string]any, len(b.Metadata)+3)
		for k, v := range b.Metadata {
			meta[k] = v
		}
		meta["type"] = b.Type
		if b.Section != "" {
			meta["section"] = b.Section
		}
		if b.Caption != "" {
			meta["caption"] = b.Caption
		}
		sections[i] = chunker.Section{Text: b.Text, Meta: meta}
	}
	return sections
}

func stringProp(props map[string]any, key string) string {
	if props == nil {
		return ""
	}
	s, _ := props[key].(string)
	return s
}

func sizeBytes(props map[string]any) int64 {
	switch v := props["size_bytes"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
