// Package types defines the core data structures for the document
// processing pipeline: documents, chunks, queue tasks, enrichment status,
// and the process-wide embedding configuration.
package types

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a queue task.
type TaskStatus string

// Task lifecycle constants.
const (
	// TaskNew indicates the task was inserted by the command plane and not yet claimed.
	TaskNew TaskStatus = "new"

	// TaskProcessing indicates a worker has claimed the task.
	TaskProcessing TaskStatus = "processing"

	// TaskDone indicates terminal success. The Content field carries the result message.
	TaskDone TaskStatus = "done"

	// TaskFailed indicates terminal failure. The Content field carries the error message.
	TaskFailed TaskStatus = "failed"
)

// Operation is the kind of change a queue task describes.
type Operation string

// Queue operation constants.
const (
	OpCreated       Operation = "created"
	OpUpdated       Operation = "updated"
	OpDeleted       Operation = "deleted"
	OpStatusChanged Operation = "status_changed"
)

// StageState represents the state of a single enrichment stage on a chunk.
type StageState string

// Enrichment stage state constants.
const (
	StagePending    StageState = "pending"
	StageProcessing StageState = "processing"
	StageCompleted  StageState = "completed"
	StageFailed     StageState = "failed"
)

// Enrichment stage names. Relation extraction is present only when the
// graph store is enabled.
const (
	StageEmbedding = "embedding_generation"
	StageMetadata  = "metadata_extraction"
	StageRelations = "relation_extraction"
)

// StageStatus is the persisted status record for one enrichment stage.
type StageStatus struct {
	Status       StageState `json:"status"`
	UpdatedAt    string     `json:"updated_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// EnrichmentStatus maps stage name to its status record. It is stored as a
// JSONB column on the chunk row; stages are merged individually so that
// concurrent stage updates never clobber each other.
type EnrichmentStatus map[string]StageStatus

// NewPendingStatus returns the initial enrichment status for a freshly
// persisted chunk. relationStage controls whether relation_extraction is
// included (it is skipped entirely when the graph store is disabled).
func NewPendingStatus(relationStage bool) EnrichmentStatus {
	s := EnrichmentStatus{
		StageEmbedding: {Status: StagePending},
		StageMetadata:  {Status: StagePending},
	}
	if relationStage {
		s[StageRelations] = StageStatus{Status: StagePending}
	}
	return s
}

// Task is a row in the knowledge_events queue: the authoritative wire
// contract with the command plane.
type Task struct {
	ID            int64
	ItemUUID      uuid.UUID
	TenantID      uuid.UUID
	UserID        uuid.UUID
	Operation     Operation
	OperationTime time.Time
	ItemName      string
	ItemType      string
	Content       string
	Size          int64
	Status        TaskStatus
	S3Path        string
}

// Document is a user-visible uploaded item after parsing. It exclusively
// owns its chunks: deleting a document cascades to them.
type Document struct {
	DocID       uuid.UUID
	TenantID    uuid.UUID
	OwnerUserID uuid.UUID
	Filename    string
	Title       string
	Author      string
	Metadata    map[string]any
	UploadedAt  time.Time
}

// Chunk is the atomic unit of retrieval and enrichment, keyed by
// (DocID, ChunkID) where ChunkID is 1-based within the document.
type Chunk struct {
	DocID            uuid.UUID
	ChunkID          int
	TenantID         uuid.UUID
	Text             string
	Section          string
	Type             string // source block type
	BlockType        string // chunker output class
	Metadata         map[string]any
	Embedding        []float32 // nil until embedding_generation completes
	EmbeddingVersion int
	Enrichment       EnrichmentStatus
}

// Well-known chunk metadata keys. Everything else in the metadata map is an
// open extra carried through verbatim.
const (
	MetaContextPath = "context_path" // []string, heading stack at the block's position
	MetaSections    = "sections"     // []map[string]any, per-source-section metadata
	MetaIsWholeDoc  = "is_whole_doc" // bool, set on whole-document chunks
)

// LLMResultKey returns the metadata key under which a successful LLM stage
// result is merged into the chunk metadata (e.g. "llm_metadata_extraction").
func LLMResultKey(stage string) string { return "llm_" + stage }

// ContextPath extracts the heading context path from chunk metadata.
// Returns nil when absent or malformed.
func (c *Chunk) ContextPath() []string {
	raw, ok := c.Metadata[MetaContextPath]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		path := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				path = append(path, s)
			}
		}
		return path
	}
	return nil
}

// EmbeddingConfig is the process-wide record determining how embeddings are
// produced and what vector shape is stored. It is persisted in the settings
// table under the key "embedding_config". Version increases monotonically;
// any change to ModelName or Dimension requires a migration.
type EmbeddingConfig struct {
	ModelName string `json:"model_name"`
	Dimension int    `json:"dimension"`
	Version   int    `json:"version"`
	Generator string `json:"generator,omitempty"`
}

// Relation is one sanitized knowledge-graph triple extracted by the LLM.
type Relation struct {
	Subject     string `json:"subject"`
	SubjectType string `json:"subject_type"`
	Relation    string `json:"relation"`
	Object      string `json:"object"`
	ObjectType  string `json:"object_type"`
}

// Allowed graph node labels. Anything outside this set is coerced to ENTITY.
var AllowedNodeLabels = map[string]bool{
	"PERSON":       true,
	"ORGANIZATION": true,
	"LOCATION":     true,
	"DATE":         true,
	"PRODUCT":      true,
	"EVENT":        true,
	"CONCEPT":      true,
	"ENTITY":       true,
}

// Block type constants emitted by the parsers.
const (
	BlockParagraph      = "paragraph"
	BlockHeading        = "heading"
	BlockTable          = "table"
	BlockList           = "list"
	BlockListItem       = "list_item"
	BlockSlideContent   = "slide_content"
	BlockTableRowsGroup = "table_rows_group"
	BlockJSONContent    = "json_content"
	BlockImageText      = "image_text"
	BlockCaption        = "caption"
	BlockSection        = "section"
	BlockError          = "error"
)

// Block is one typed unit of parser output, ordered within the document.
// ChunkID is provisional; the chunker assigns final chunk ids.
type Block struct {
	DocID    uuid.UUID
	ChunkID  int
	Type     string
	Text     string
	Section  string
	Level    int
	Caption  string
	Metadata map[string]any
}

// LLMLogRecord is one append-only row of the LLM audit log.
type LLMLogRecord struct {
	Start            time.Time
	End              time.Time
	Duration         float64
	Success          bool
	RequestType      string
	Model            string
	Prompt           string
	RawResponse      string
	Error            string
	PromptTokens     *int
	CompletionTokens *int
	TenantID         uuid.UUID
	DocID            uuid.UUID
	ChunkID          int
}
