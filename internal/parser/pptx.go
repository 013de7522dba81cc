package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/indexforge/docproc/pkg/types"
)

var slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// PptxParser emits one slide_content block per slide, aggregating the
// text of all shapes on it.
type PptxParser struct{}

func (p *PptxParser) Parse(_ context.Context, path string, docID uuid.UUID) ([]types.Block, map[string]any, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open pptx: %w", err)
	}
	defer zr.Close()

	props := coreProperties(&zr.Reader)

	type slideEntry struct {
		num  int
		file *zip.File
	}
	var slides []slideEntry
	for _, f := range zr.File {
		if m := slidePattern.FindStringSubmatch(f.Name); m != nil {
			num, _ := strconv.Atoi(m[1])
			slides = append(slides, slideEntry{num: num, file: f})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var blocks []types.Block
	chunkID := 0
	for _, slide := range slides {
		rc, err := slide.file.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("open slide %d: %w", slide.num, err)
		}
		text, err := slideText(rc)
		rc.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("parse slide %d: %w", slide.num, err)
		}
		if text == "" {
			continue
		}

		chunkID++
		blocks = append(blocks, types.Block{
			DocID: docID, ChunkID: chunkID,
			Type: types.BlockSlideContent, Text: text,
			Section:  fmt.Sprintf("Slide %d", slide.num),
			Metadata: map[string]any{"slide": slide.num},
		})
	}
	return blocks, props, nil
}

// slideText flattens the slide XML: paragraphs within a shape join with
// newlines, shapes join with blank lines.
func slideText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					return "", err
				}
				sb.WriteString(text)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				sb.WriteString("\n")
			case "txBody":
				sb.WriteString("\n\n")
			}
		}
	}

	return strings.TrimSpace(strings.Join(splitParagraphs(sb.String()), "\n\n")), nil
}
