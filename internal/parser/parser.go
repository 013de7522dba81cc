// Package parser turns source files into ordered typed blocks. A registry
// routes lowercase extensions to format parsers; unknown extensions fall
// back to the plain-text parser. A parse failure is always reported as a
// single error block, never as partial output.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/indexforge/docproc/internal/ocr"
	"github.com/indexforge/docproc/pkg/types"
)

// Parser extracts typed blocks and document properties from one file
// format. Implementations return an error on failure; the registry turns
// it into the error-block contract.
type Parser interface {
	Parse(ctx context.Context, path string, docID uuid.UUID) ([]types.Block, map[string]any, error)
}

// Config carries parser tuning knobs.
type Config struct {
	ExcelRowBatchSize int
}

type entry struct {
	name   string
	parser Parser
}

// Registry dispatches files to format parsers by extension.
type Registry struct {
	byExt    map[string]entry
	fallback entry
	logger   *slog.Logger
}

// NewRegistry builds the standard parser set.
func NewRegistry(cfg Config, backend ocr.Backend, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ExcelRowBatchSize < 1 {
		cfg.ExcelRowBatchSize = 10
	}

	text := &TextParser{}
	html := &HTMLParser{}
	excel := &ExcelParser{RowBatchSize: cfg.ExcelRowBatchSize}

	r := &Registry{
		byExt:    map[string]entry{},
		fallback: entry{name: "text", parser: text},
		logger:   logger,
	}
	r.register("pdf", &PDFParser{OCR: backend}, ".pdf")
	r.register("docx", &DocxParser{OCR: backend}, ".docx")
	r.register("pptx", &PptxParser{}, ".pptx")
	r.register("html", html, ".html", ".htm")
	r.register("txt", text, ".txt")
	r.register("excel", excel, ".xlsx", ".xls")
	r.register("json", &JSONParser{}, ".json")
	r.register("xml", &XMLParser{}, ".xml")
	return r
}

func (r *Registry) register(name string, p Parser, exts ...string) {
	for _, ext := range exts {
		r.byExt[ext] = entry{name: name, parser: p}
	}
}

// Parse routes the file to its format parser and attaches filesystem
// properties. Parser failures come back as a single error block with a nil
// error so the caller always has blocks to inspect.
func (r *Registry) Parse(ctx context.Context, path string, docID uuid.UUID) ([]types.Block, map[string]any, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		r.logger.Warn("parser: no direct support for extension, using text fallback",
			"extension", ext, "doc_id", docID)
		e = r.fallback
	}

	fsProps := filesystemProperties(path)

	blocks, props, err := e.parser.Parse(ctx, path, docID)
	if err != nil {
		msg := fmt.Sprintf("[%s parse error: %v]", e.name, err)
		r.logger.Error("parser: parse failed", "parser", e.name, "doc_id", docID, "error", err)
		return errorBlocks(docID, msg), fsProps, nil
	}

	merged := make(map[string]any, len(fsProps)+len(props))
	for k, v := range fsProps {
		merged[k] = v
	}
	for k, v := range props {
		merged[k] = v
	}
	return blocks, merged, nil
}

func errorBlocks(docID uuid.UUID, msg string) []types.Block {
	return []types.Block{{DocID: docID, ChunkID: 1, Type: types.BlockError, Text: msg}}
}

// filesystemProperties collects the baseline properties every parsed
// document carries. Creation time is not portably available, so the
// modification time stands in for both timestamps.
func filesystemProperties(path string) map[string]any {
	props := map[string]any{"source_filename": filepath.Base(path)}
	info, err := os.Stat(path)
	if err != nil {
		return props
	}
	mod := info.ModTime().UTC().Format(time.RFC3339)
	props["size_bytes"] = info.Size()
	props["created_fs"] = mod
	props["modified_fs"] = mod
	return props
}

var blankLine = regexp.MustCompile(`\n\s*\n`)

// splitParagraphs breaks text on blank lines, trimming each paragraph and
// dropping empties. CRLF input is normalized first.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range blankLine.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
