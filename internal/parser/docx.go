package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/indexforge/docproc/internal/ocr"
	"github.com/indexforge/docproc/pkg/types"
)

// captionPrefixes mark a paragraph following a table or figure as its
// caption. Russian documents are the primary corpus.
var captionPrefixes = []string{"таблица", "table", "рис.", "рисунок"}

// DocxParser walks the top-level block items of a Word document in order:
// headings and paragraphs become typed blocks, tables render to
// GitHub-flavored markdown, and a caption-styled paragraph right after a
// table is attached to it. Embedded images go through OCR when enabled.
type DocxParser struct {
	OCR ocr.Backend
}

// docxItem is one top-level block of the document body.
type docxItem struct {
	table bool
	text  string
	style string
	rows  [][]string
}

func (p *DocxParser) Parse(ctx context.Context, path string, docID uuid.UUID) ([]types.Block, map[string]any, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	props := coreProperties(&zr.Reader)

	body, err := openZipEntry(&zr.Reader, "word/document.xml")
	if err != nil {
		return nil, nil, err
	}
	items, err := walkDocxBody(body)
	body.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("parse document body: %w", err)
	}

	var (
		blocks         []types.Block
		chunkID        int
		currentSection string
		currentLevel   int
	)
	for i := 0; i < len(items); i++ {
		item := items[i]
		if !item.table {
			text := strings.TrimSpace(item.text)
			if text == "" {
				continue
			}
			level := headingLevel(item.style)
			blockType := types.BlockParagraph
			if level > 0 {
				blockType = types.BlockHeading
				currentSection, currentLevel = text, level
			}
			chunkID++
			blocks = append(blocks, types.Block{
				DocID: docID, ChunkID: chunkID,
				Type: blockType, Text: text,
				Section: currentSection, Level: currentLevel,
				Metadata: map[string]any{},
			})
			continue
		}

		md := tableToMarkdown(item.rows)

		// A caption-styled paragraph right after the table belongs to it.
		var caption string
		if i+1 < len(items) && !items[i+1].table {
			next := items[i+1]
			if isCaption(next.style, next.text) {
				caption = strings.TrimSpace(next.text)
				i++
			}
		}
		if md == "" {
			continue
		}
		chunkID++
		blocks = append(blocks, types.Block{
			DocID: docID, ChunkID: chunkID,
			Type: types.BlockTable, Text: md,
			Section: currentSection, Level: currentLevel,
			Caption:  caption,
			Metadata: map[string]any{},
		})
	}

	if p.OCR != nil && p.OCR.Enabled() {
		imageBlocks := p.recognizeImages(ctx, &zr.Reader, docID, &chunkID, currentSection, currentLevel)
		blocks = append(blocks, imageBlocks...)
	}

	return blocks, props, nil
}

func isCaption(style, text string) bool {
	if strings.Contains(strings.ToLower(style), "caption") {
		return true
	}
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, prefix := range captionPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// headingLevel derives the outline level from a paragraph style id.
// Non-heading styles return 0.
func headingLevel(style string) int {
	lower := strings.ToLower(style)
	for _, prefix := range []string{"heading", "заголовок"} {
		if strings.HasPrefix(lower, prefix) {
			suffix := strings.TrimSpace(strings.TrimPrefix(lower, prefix))
			if n, err := strconv.Atoi(suffix); err == nil {
				return n
			}
			return 1
		}
	}
	return 0
}

// tableToMarkdown renders cell rows as a GitHub-flavored markdown table.
// An empty header row shifts to the first non-empty row; a table with no
// usable header renders as nothing.
func tableToMarkdown(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	header := rows[0]
	if !anyNonEmpty(header) && len(rows) > 1 {
		rows = rows[1:]
		header = rows[0]
	}
	if !anyNonEmpty(header) {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("| " + strings.Join(header, " | ") + " |\n")
	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	sb.WriteString("| " + strings.Join(sep, " | ") + " |")
	for _, row := range rows[1:] {
		sb.WriteString("\n| " + strings.Join(row, " | ") + " |")
	}
	return sb.String()
}

func anyNonEmpty(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}

// walkDocxBody streams word/document.xml and returns top-level paragraphs
// and tables in document order. Nested tables are flattened into the cell
// text of the outer table.
func walkDocxBody(r io.Reader) ([]docxItem, error) {
	dec := xml.NewDecoder(r)

	var (
		items      []docxItem
		table      *docxItem
		tableDepth int
		row        []string
		cell       strings.Builder
		para       strings.Builder
		paraStyle  string
		inPara     bool
		inCell     bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
				if tableDepth == 1 {
					table = &docxItem{table: true}
				}
			case "tr":
				if tableDepth == 1 {
					row = nil
				}
			case "tc":
				if tableDepth == 1 {
					inCell = true
					cell.Reset()
				}
			case "p":
				if tableDepth == 0 {
					para.Reset()
					paraStyle = ""
					inPara = true
				}
			case "pStyle":
				if inPara && tableDepth == 0 {
					for _, attr := range t.Attr {
						if attr.Name.Local == "val" {
							paraStyle = attr.Value
						}
					}
				}
			case "t":
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					return nil, err
				}
				if inCell {
					cell.WriteString(text)
				} else if inPara {
					para.WriteString(text)
				}
			case "tab":
				if inPara && tableDepth == 0 {
					para.WriteString("\t")
				}
			case "br":
				if inPara && tableDepth == 0 {
					para.WriteString("\n")
				}
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if tableDepth == 0 && inPara {
					items = append(items, docxItem{text: para.String(), style: paraStyle})
					inPara = false
				} else if inCell {
					cell.WriteString(" ")
				}
			case "tc":
				if tableDepth == 1 && inCell {
					text := strings.ReplaceAll(cell.String(), "\n", " ")
					row = append(row, strings.TrimSpace(text))
					inCell = false
				}
			case "tr":
				if tableDepth == 1 && table != nil {
					table.rows = append(table.rows, row)
					row = nil
				}
			case "tbl":
				tableDepth--
				if tableDepth == 0 && table != nil {
					items = append(items, *table)
					table = nil
				}
			}
		}
	}
	return items, nil
}

// docxCoreProps maps docProps/core.xml by local element name.
type docxCoreProps struct {
	Title       string `xml:"title"`
	Creator     string `xml:"creator"`
	Keywords    string `xml:"keywords"`
	Description string `xml:"description"`
	Category    string `xml:"category"`
	Created     string `xml:"created"`
	Modified    string `xml:"modified"`
}

// coreProperties reads the OOXML core properties part. A missing or
// malformed part yields an empty map, never an error.
func coreProperties(zr *zip.Reader) map[string]any {
	props := map[string]any{}
	f, err := openZipEntry(zr, "docProps/core.xml")
	if err != nil {
		return props
	}
	defer f.Close()

	var core docxCoreProps
	if err := xml.NewDecoder(f).Decode(&core); err != nil {
		return props
	}
	for key, value := range map[string]string{
		"title":    core.Title,
		"author":   core.Creator,
		"keywords": core.Keywords,
		"comments": core.Description,
		"category": core.Category,
		"created":  core.Created,
		"modified": core.Modified,
	} {
		if value != "" {
			props[key] = value
		}
	}
	return props
}

func openZipEntry(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("missing archive entry %s", name)
}

// recognizeImages runs OCR over embedded raster images; wmf/emf vector
// images are converted via ImageMagick when present, else skipped.
func (p *DocxParser) recognizeImages(ctx context.Context, zr *zip.Reader, docID uuid.UUID, chunkID *int, section string, level int) []types.Block {
	var blocks []types.Block
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "word/media/") {
			continue
		}

		text, err := p.recognizeImage(ctx, f)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}

		*chunkID++
		blocks = append(blocks, types.Block{
			DocID: docID, ChunkID: *chunkID,
			Type: types.BlockImageText, Text: strings.TrimSpace(text),
			Section: section, Level: level,
			Metadata: map[string]any{
				"source":    "ocr_from_embedded_image",
				"image_ref": f.Name,
			},
		})
	}
	return blocks
}

func (p *DocxParser) recognizeImage(ctx context.Context, f *zip.File) (string, error) {
	ext := strings.ToLower(filepath.Ext(f.Name))
	vector := ext == ".wmf" || ext == ".emf"
	if vector && !ocr.HasImageMagick() {
		return "", nil
	}

	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "docproc_img_*"+ext)
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return "", err
	}
	tmp.Close()

	imgPath := tmpPath
	if vector {
		converted, err := ocr.ConvertToPNG(ctx, tmpPath)
		if err != nil {
			return "", err
		}
		defer os.Remove(converted)
		imgPath = converted
	}
	return p.OCR.ImageToText(ctx, imgPath)
}
