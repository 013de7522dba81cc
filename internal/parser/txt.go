package parser

import (
	"context"
	"fmt"
	"os"

	"github.com/gogs/chardet"
	"github.com/google/uuid"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/indexforge/docproc/pkg/types"
)

// TextParser handles plain text files with encoding autodetection. It is
// also the fallback for unknown extensions.
type TextParser struct{}

// Parse splits the decoded content on blank lines into paragraph blocks.
// The detected encoding and its confidence ride in the properties.
func (p *TextParser) Parse(_ context.Context, path string, docID uuid.UUID) ([]types.Block, map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read file: %w", err)
	}
	if len(raw) == 0 {
		return nil, map[string]any{}, nil
	}

	content, encoding, confidence := decodeBytes(raw)

	var blocks []types.Block
	for i, para := range splitParagraphs(content) {
		blocks = append(blocks, types.Block{
			DocID:    docID,
			ChunkID:  i + 1,
			Type:     types.BlockParagraph,
			Text:     para,
			Metadata: map[string]any{},
		})
	}

	props := map[string]any{
		"encoding":            encoding,
		"encoding_confidence": confidence,
	}
	return blocks, props, nil
}

// decodeBytes detects the charset and decodes to UTF-8. Detection or
// decoding failures fall back to interpreting the bytes as UTF-8.
func decodeBytes(raw []byte) (content, encoding string, confidence int) {
	encoding = "utf-8"

	result, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil || result.Charset == "" {
		return string(raw), encoding, 0
	}
	encoding = result.Charset
	confidence = result.Confidence

	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return string(raw), encoding, confidence
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw), encoding, confidence
	}
	return string(decoded), encoding, confidence
}
