package worker

import (
	"regexp"
	"strings"

	"github.com/indexforge/docproc/pkg/types"
)

var hyphenLinebreak = regexp.MustCompile(`-\s*\n`)

// textLikeTypes are block types whose text came out of running prose and
// benefits from linebreak normalization. Structured blocks (tables, lists,
// json) keep their newlines intact.
var textLikeTypes = map[string]bool{
	types.BlockParagraph: true,
	types.BlockHeading:   true,
	types.BlockImageText: true,
	types.BlockSection:   true,
	types.BlockCaption:   true,
}

// normalizeTextBlock repairs extraction artifacts in prose: words broken
// by hyphenated linebreaks are rejoined, and single newlines inside a
// paragraph become spaces while blank-line paragraph boundaries survive.
func normalizeTextBlock(text string) string {
	if text == "" {
		return ""
	}
	text = hyphenLinebreak.ReplaceAllString(text, "")

	paragraphs := strings.Split(text, "\n\n")
	cleaned := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		p = strings.TrimSpace(strings.ReplaceAll(p, "\n", " "))
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "\n\n")
}

// NormalizeBlocks cleans prose blocks and drops blocks that end up empty.
// Non-prose blocks pass through untouched as long as they carry text.
func NormalizeBlocks(blocks []types.Block) []types.Block {
	out := make([]types.Block, 0, len(blocks))
	for _, b := range blocks {
		if textLikeTypes[b.Type] {
			cleaned := normalizeTextBlock(b.Text)
			if cleaned == "" {
				continue
			}
			b.Text = cleaned
			out = append(out, b)
		} else if strings.TrimSpace(b.Text) != "" {
			out = append(out, b)
		}
	}
	return out
}

// EnrichHierarchy streams blocks in order maintaining a heading stack and
// stamps every content block with the context path of headings above it.
// A heading of level N pops all headings of level >= N before pushing
// itself; headings only feed the stack, they carry no path of their own.
func EnrichHierarchy(blocks []types.Block) []types.Block {
	type heading struct {
		level int
		text  string
	}
	var stack []heading

	for i := range blocks {
		b := &blocks[i]
		if b.Type == types.BlockHeading {
			if b.Level > 0 {
				for len(stack) > 0 && stack[len(stack)-1].level >= b.Level {
					stack = stack[:len(stack)-1]
				}
				stack = append(stack, heading{level: b.Level, text: b.Text})
			}
			continue
		}

		path := make([]string, len(stack))
		for j, h := range stack {
			path[j] = h.text
		}
		if b.Metadata == nil {
			b.Metadata = map[string]any{}
		}
		b.Metadata[types.MetaContextPath] = path
	}
	return blocks
}
