package parser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/indexforge/docproc/pkg/types"
)

// HTMLParser extracts readable text from HTML documents, preferring the
// <main> or <article> region when one exists.
type HTMLParser struct{}

func (p *HTMLParser) Parse(_ context.Context, path string, docID uuid.UUID) ([]types.Block, map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid html: %w", err)
	}

	props := map[string]any{}
	title := strings.TrimSpace(nodeText(findElement(doc, atom.Title)))
	if title != "" {
		props["title"] = title
	}

	root := findElement(doc, atom.Main)
	if root == nil {
		root = findElement(doc, atom.Article)
	}
	if root == nil {
		root = findElement(doc, atom.Body)
	}
	if root == nil {
		root = doc
	}

	var blocks []types.Block
	for i, para := range splitParagraphs(extractText(root)) {
		blocks = append(blocks, types.Block{
			DocID:    docID,
			ChunkID:  i + 1,
			Type:     types.BlockParagraph,
			Text:     para,
			Section:  title,
			Metadata: map[string]any{},
		})
	}
	return blocks, props, nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// blockAtoms are elements that end a visual paragraph.
var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Li: true, atom.Tr: true,
	atom.Br: true, atom.Blockquote: true, atom.Pre: true,
}

// extractText flattens the subtree into text with blank lines between
// block-level elements. Script and style content is skipped.
func extractText(root *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
			return
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockAtoms[n.DataAtom] {
			sb.WriteString("\n\n")
		}
	}
	walk(root)
	return sb.String()
}
