package parser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/indexforge/docproc/internal/ocr"
	"github.com/indexforge/docproc/pkg/types"
)

const ocrRasterDPI = 300

// PDFParser emits one paragraph block per page. Pages with no extractable
// text are rasterized and run through OCR when a backend is enabled.
type PDFParser struct {
	OCR ocr.Backend
}

func (p *PDFParser) Parse(ctx context.Context, path string, docID uuid.UUID) ([]types.Block, map[string]any, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	props := map[string]any{}
	if info := reader.Trailer().Key("Info"); !info.IsNull() {
		if title := info.Key("Title").Text(); title != "" {
			props["title"] = title
		}
		if author := info.Key("Author").Text(); author != "" {
			props["author"] = author
		}
	}

	var blocks []types.Block
	chunkID := 0
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			text = ""
		}
		if strings.TrimSpace(text) == "" && p.OCR != nil && p.OCR.Enabled() {
			text = p.recognizePage(ctx, path, pageNum)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		chunkID++
		blocks = append(blocks, types.Block{
			DocID:    docID,
			ChunkID:  chunkID,
			Type:     types.BlockParagraph,
			Text:     strings.TrimSpace(text),
			Section:  fmt.Sprintf("Page %d", pageNum),
			Metadata: map[string]any{"page": pageNum},
		})
	}
	return blocks, props, nil
}

// recognizePage rasterizes one page and runs OCR on it. Failures produce
// an inline marker instead of losing the page silently.
func (p *PDFParser) recognizePage(ctx context.Context, path string, pageNum int) string {
	imgPath, err := ocr.RasterizePDFPage(ctx, path, pageNum, ocrRasterDPI)
	if err != nil {
		return fmt.Sprintf("[OCR error on page %d: %v]", pageNum, err)
	}
	defer os.Remove(imgPath)

	text, err := p.OCR.ImageToText(ctx, imgPath)
	if err != nil {
		return fmt.Sprintf("[OCR error on page %d: %v]", pageNum, err)
	}
	return text
}
