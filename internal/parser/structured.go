package parser

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/indexforge/docproc/pkg/types"
)

// JSONParser emits the whole file as one pretty-printed block.
type JSONParser struct{}

func (p *JSONParser) Parse(_ context.Context, path string, docID uuid.UUID) ([]types.Block, map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read file: %w", err)
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, nil, fmt.Errorf("invalid json: %w", err)
	}

	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return nil, nil, fmt.Errorf("format json: %w", err)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return nil, map[string]any{}, nil
	}

	blocks := []types.Block{{
		DocID:    docID,
		ChunkID:  1,
		Type:     types.BlockJSONContent,
		Text:     text,
		Metadata: map[string]any{},
	}}
	return blocks, map[string]any{}, nil
}

// XMLParser extracts all character data and splits it into paragraphs.
type XMLParser struct{}

func (p *XMLParser) Parse(_ context.Context, path string, docID uuid.UUID) ([]types.Block, map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var parts []string
	dec := xml.NewDecoder(f)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("invalid xml: %w", err)
		}
		if cd, ok := tok.(xml.CharData); ok {
			if text := strings.TrimSpace(string(cd)); text != "" {
				parts = append(parts, text)
			}
		}
	}

	var blocks []types.Block
	for i, para := range splitParagraphs(strings.Join(parts, "\n\n")) {
		blocks = append(blocks, types.Block{
			DocID:    docID,
			ChunkID:  i + 1,
			Type:     types.BlockParagraph,
			Text:     para,
			Metadata: map[string]any{},
		})
	}
	return blocks, map[string]any{}, nil
}
