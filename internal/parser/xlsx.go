package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/indexforge/docproc/pkg/types"
)

// ExcelParser groups spreadsheet rows into table_rows_group blocks so
// that wide sheets do not explode into thousands of tiny chunks. The
// first row of each sheet is treated as the header.
type ExcelParser struct {
	RowBatchSize int
}

func (p *ExcelParser) Parse(_ context.Context, path string, docID uuid.UUID) ([]types.Block, map[string]any, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	batchSize := p.RowBatchSize
	if batchSize < 1 {
		batchSize = 10
	}

	sheets := f.GetSheetList()
	props := map[string]any{"sheets": sheets}

	var blocks []types.Block
	chunkID := 0
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if len(rows) < 2 {
			continue
		}
		header := rows[0]
		data := rows[1:]

		for start := 0; start < len(data); start += batchSize {
			end := start + batchSize
			if end > len(data) {
				end = len(data)
			}

			var lines []string
			for _, row := range data[start:end] {
				if line := formatRow(header, row); line != "" {
					lines = append(lines, line)
				}
			}
			if len(lines) == 0 {
				continue
			}

			chunkID++
			blocks = append(blocks, types.Block{
				DocID: docID, ChunkID: chunkID,
				Type: types.BlockTableRowsGroup, Text: strings.Join(lines, "\n"),
				Section: sheet,
				Metadata: map[string]any{
					"sheet":     sheet,
					"start_row": start + 2, // 1-based, after the header row
					"end_row":   end + 1,
				},
			})
		}
	}
	return blocks, props, nil
}

// formatRow renders a data row as "header: value" pairs, skipping empty
// cells. Cells beyond the header width use their column index as the key.
func formatRow(header, row []string) string {
	var parts []string
	for i, val := range row {
		if strings.TrimSpace(val) == "" {
			continue
		}
		key := fmt.Sprintf("col_%d", i+1)
		if i < len(header) && strings.TrimSpace(header[i]) != "" {
			key = strings.TrimSpace(header[i])
		}
		parts = append(parts, fmt.Sprintf("%s: %s", key, strings.TrimSpace(val)))
	}
	return strings.Join(parts, ", ")
}
