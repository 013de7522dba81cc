// Package chunker merges parsed document sections into retrieval-sized
// chunks. Small semantic blocks are greedily combined up to a token budget
// with a trailing overlap carried between consecutive chunks; tables and
// lists get specialized handling that preserves their structure.
package chunker

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"github.com/indexforge/docproc/internal/tokenizer"
)

// Section is one chunker input unit: a parsed block's text plus its
// metadata. Meta["type"] selects the handler (list, table, or the default
// paragraph accumulator).
type Section struct {
	Text string
	Meta map[string]any
}

// Type returns the section's block type, defaulting to "paragraph".
func (s Section) Type() string {
	if t, ok := s.Meta["type"].(string); ok && t != "" {
		return t
	}
	return "paragraph"
}

// Chunk is one chunker output unit.
type Chunk struct {
	Text      string
	Meta      map[string]any
	BlockType string
}

// Config controls the chunking budgets. All limits are in tokens of the
// configured counter.
type Config struct {
	ChunkTokens         int // target size of a composite chunk
	OverlapTokens       int // trailing overlap carried between chunks
	SectionLimit        int // sections above this bypass the accumulator
	DocLimit            int // whole documents at or below this become one chunk
	ListLimit           int // lists at or below this stay whole
	TableLimit          int // tables above this are split into row groups
	TableRowGroupTokens int // optional explicit row-group budget (0 = derive from ChunkTokens)
	TableRowOverlap     int // optional row-count overlap between table parts (0 = token-based)
}

// Chunker splits parsed sections into chunks within the configured budgets.
type Chunker struct {
	cfg     Config
	counter tokenizer.Counter
}

// New returns a Chunker using the given token counter. Zero-value budgets
// are replaced with defaults matching the steady-state deployment.
func New(cfg Config, counter tokenizer.Counter) *Chunker {
	if cfg.ChunkTokens <= 0 {
		cfg.ChunkTokens = 500
	}
	if cfg.SectionLimit <= 0 {
		cfg.SectionLimit = 2000
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 1500
	}
	if cfg.TableLimit <= 0 {
		cfg.TableLimit = 2000
	}
	return &Chunker{cfg: cfg, counter: counter}
}

func (c *Chunker) count(text string) int { return c.counter.Count(text) }

// indexedSection tracks a buffered section with its original index and a
// cached token count, so the accumulator never re-counts the whole buffer.
type indexedSection struct {
	idx    int
	sec    Section
	tokens int
}

// SplitDocument converts ordered sections into chunks.
//
// Whole documents at or below DocLimit short-circuit into a single chunk.
// Lists and tables are routed to their handlers; everything else is greedily
// accumulated into composite chunks of at most ChunkTokens, seeding each new
// buffer with a trailing overlap of at most OverlapTokens. Sections above
// SectionLimit are flushed around and split by sentences.
func (c *Chunker) SplitDocument(sections []Section) []Chunk {
	var nonEmpty []indexedSection
	total := 0
	for i, sec := range sections {
		text := strings.TrimSpace(sec.Text)
		if text == "" {
			continue
		}
		tokens := c.count(text)
		nonEmpty = append(nonEmpty, indexedSection{idx: i, sec: Section{Text: text, Meta: sec.Meta}, tokens: tokens})
		total += tokens
	}
	if len(nonEmpty) == 0 {
		return nil
	}

	if total <= c.cfg.DocLimit {
		texts := make([]string, len(nonEmpty))
		for i, e := range nonEmpty {
			texts[i] = e.sec.Text
		}
		meta := c.combineMeta(nonEmpty, true)
		return []Chunk{{Text: strings.Join(texts, "\n\n"), Meta: meta, BlockType: "doc"}}
	}

	var chunks []Chunk
	var buffer []indexedSection
	bufferTokens := 0
	overlapOnly := false

	emitBuffer := func() {
		texts := make([]string, len(buffer))
		for i, e := range buffer {
			texts[i] = e.sec.Text
		}
		chunks = append(chunks, Chunk{
			Text:      strings.Join(texts, "\n\n"),
			Meta:      c.combineMeta(buffer, false),
			BlockType: "composite_section",
		})
	}

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		// A buffer holding nothing but the carried overlap is already
		// fully contained in the previous chunk; drop it instead of
		// emitting a duplicate.
		if !overlapOnly {
			emitBuffer()
		}
		buffer, bufferTokens = nil, 0
		overlapOnly = false
		if c.cfg.OverlapTokens > 0 && len(chunks) > 0 {
			last := chunks[len(chunks)-1]
			if tail, tokens := c.textOverlap(last.Text); tail != "" {
				buffer = append(buffer, indexedSection{
					idx:    -1,
					sec:    Section{Text: tail, Meta: map[string]any{"overlap": true}},
					tokens: tokens,
				})
				bufferTokens = tokens
				overlapOnly = true
			}
		}
	}

	for _, entry := range nonEmpty {
		switch entry.sec.Type() {
		case "list", "list_item":
			chunks = append(chunks, c.handleList(entry.sec.Text, entry.sec.Meta)...)
			continue
		case "table":
			chunks = append(chunks, c.handleTable(entry.sec.Text, entry.sec.Meta)...)
			continue
		}

		if entry.tokens > c.cfg.SectionLimit {
			// Oversized section: flush whatever is buffered with no
			// overlap carry, then split the section by sentences on its
			// own.
			if len(buffer) > 0 && !overlapOnly {
				emitBuffer()
			}
			buffer, bufferTokens, overlapOnly = nil, 0, false
			chunks = append(chunks, c.splitLargeTextBlock(entry.sec.Text, entry.sec.Meta)...)
			continue
		}

		if bufferTokens > 0 && bufferTokens+entry.tokens > c.cfg.ChunkTokens {
			flush()
		}
		buffer = append(buffer, entry)
		bufferTokens += entry.tokens
		overlapOnly = false
	}

	if len(buffer) > 0 && !overlapOnly {
		emitBuffer()
	}

	return chunks
}

// textOverlap returns the trailing portion of a flushed chunk's text that
// fits OverlapTokens, preferring whole trailing sentences and falling back
// to trailing words when even the last sentence is over budget. Returns ""
// when nothing fits.
func (c *Chunker) textOverlap(text string) (string, int) {
	sentences := splitToSentences(text)
	var kept []string
	tokens := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		n := c.count(sentences[i])
		if tokens+n > c.cfg.OverlapTokens {
			break
		}
		kept = append([]string{sentences[i]}, kept...)
		tokens += n
	}
	if len(kept) > 0 {
		return strings.Join(kept, " "), tokens
	}

	words := strings.Fields(text)
	start := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		n := c.count(words[i])
		if tokens+n > c.cfg.OverlapTokens {
			break
		}
		start = i
		tokens += n
	}
	if start == len(words) {
		return "", 0
	}
	return strings.Join(words[start:], " "), tokens
}

// combineMeta merges the metadata of buffered sections without losing
// boundaries: an ordered "sections" list keeps each source's metadata with
// its index, and flattened "section_<idx>.<key>" entries allow direct
// lookup. Colliding keys are never overwritten because the index prefix is
// unique per source section.
func (c *Chunker) combineMeta(buffer []indexedSection, wholeDoc bool) map[string]any {
	combined := map[string]any{}
	var list []map[string]any
	for _, e := range buffer {
		entry := map[string]any{"index": e.idx}
		for k, v := range e.sec.Meta {
			entry[k] = v
			if e.idx >= 0 {
				combined["section_"+itoa(e.idx)+"."+k] = v
			}
		}
		list = append(list, entry)
	}
	combined["sections"] = list
	if wholeDoc {
		combined["is_whole_doc"] = true
	}
	return combined
}

// itoa avoids pulling strconv into the hot path signature; small positive
// section indices only.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

// handleList emits a single list chunk when the list fits ListLimit,
// otherwise splits on newline-separated items with item-level overlap.
func (c *Chunker) handleList(text string, meta map[string]any) []Chunk {
	if c.count(text) <= c.cfg.ListLimit {
		return []Chunk{{Text: text, Meta: meta, BlockType: "list"}}
	}

	items := strings.Split(text, "\n")
	var chunks []Chunk
	var block []string
	blockTokens := 0

	for _, item := range items {
		itemTokens := c.count(item)
		if len(block) > 0 && blockTokens+itemTokens > c.cfg.ChunkTokens {
			chunks = append(chunks, Chunk{Text: strings.Join(block, "\n"), Meta: meta, BlockType: "list_part"})
			if c.cfg.OverlapTokens > 0 {
				block, blockTokens = c.trailingWithinBudget(block, c.cfg.OverlapTokens)
			} else {
				block, blockTokens = nil, 0
			}
		}
		block = append(block, item)
		blockTokens += itemTokens
	}
	if len(block) > 0 {
		chunks = append(chunks, Chunk{Text: strings.Join(block, "\n"), Meta: meta, BlockType: "list_part"})
	}
	return chunks
}

// trailingWithinBudget returns the largest suffix of items whose token sum
// fits budget (always at least one item), plus that sum.
func (c *Chunker) trailingWithinBudget(items []string, budget int) ([]string, int) {
	var kept []string
	tokens := 0
	for i := len(items) - 1; i >= 0; i-- {
		itemTokens := c.count(items[i])
		if len(kept) > 0 && tokens+itemTokens > budget {
			break
		}
		kept = append([]string{items[i]}, kept...)
		tokens += itemTokens
		if tokens >= budget {
			break
		}
	}
	return kept, tokens
}

// handleTable splits a markdown table (header row, separator row, data
// rows) into row groups that each fit the effective group budget, repeating
// the header rows on every part. Tables with fewer than two rows are not
// tables at all and fall through to the sentence splitter.
func (c *Chunker) handleTable(text string, meta map[string]any) []Chunk {
	rows := strings.Split(text, "\n")
	if len(rows) < 2 {
		return c.splitLargeTextBlock(text, meta)
	}

	header, separator := rows[0], rows[1]
	dataRows := rows[2:]
	headerTokens := c.count(header) + c.count(separator)
	totalTokens := c.count(text)

	tableMeta := withTableSection(meta, text)

	groupLimit := c.cfg.TableRowGroupTokens
	if groupLimit <= 0 {
		groupLimit = c.cfg.ChunkTokens - headerTokens
	}
	if groupLimit <= 0 {
		groupLimit = max(c.cfg.ChunkTokens, 1)
	}
	effectiveLimit := min(groupLimit, max(c.cfg.ChunkTokens-headerTokens, 1))

	if totalTokens <= c.cfg.TableLimit && totalTokens <= headerTokens+effectiveLimit {
		return []Chunk{{Text: text, Meta: tableMeta, BlockType: "table"}}
	}

	var chunks []Chunk
	var block []string
	blockTokens := 0

	emit := func() {
		part := append([]string{header, separator}, block...)
		chunks = append(chunks, Chunk{Text: strings.Join(part, "\n"), Meta: tableMeta, BlockType: "table_part"})
	}

	for _, row := range dataRows {
		rowTokens := c.count(row)
		if len(block) > 0 && blockTokens+rowTokens > effectiveLimit {
			emit()
			block, blockTokens = c.tableOverlapRows(block)
		}
		block = append(block, row)
		blockTokens += rowTokens
	}
	if len(block) > 0 {
		emit()
	}
	return chunks
}

// tableOverlapRows picks the overlap carried into the next table part:
// the last TableRowOverlap rows when configured, otherwise the largest
// row suffix fitting OverlapTokens, otherwise nothing.
func (c *Chunker) tableOverlapRows(rows []string) ([]string, int) {
	if c.cfg.TableRowOverlap > 0 {
		n := min(c.cfg.TableRowOverlap, len(rows))
		kept := append([]string(nil), rows[len(rows)-n:]...)
		tokens := 0
		for _, r := range kept {
			tokens += c.count(r)
		}
		return kept, tokens
	}
	if c.cfg.OverlapTokens > 0 {
		return c.trailingWithinBudget(rows, c.cfg.OverlapTokens)
	}
	return nil, 0
}

// withTableSection copies meta and ensures a stable section identifier for
// the table: meta section, then table_id, then caption, then a short hash
// of the table text.
func withTableSection(meta map[string]any, text string) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	for _, key := range []string{"section", "table_id", "caption"} {
		if s, ok := out[key].(string); ok && s != "" {
			out["section"] = s
			return out
		}
	}
	sum := sha1.Sum([]byte(text))
	out["section"] = "table_" + hex.EncodeToString(sum[:])[:8]
	return out
}

// splitLargeTextBlock splits one oversized text into sentence-accumulated
// chunks. The text is first cut into logical paragraph blocks, each block
// into sentences; sentences are then packed into chunks of at most
// ChunkTokens with a sentence-level overlap. Words are never broken.
func (c *Chunker) splitLargeTextBlock(text string, meta map[string]any) []Chunk {
	if text == "" {
		return nil
	}

	var chunks []Chunk
	var current []string
	currentTokens := 0

	emit := func() {
		chunks = append(chunks, Chunk{Text: strings.Join(current, " "), Meta: meta, BlockType: "section_part"})
		if c.cfg.OverlapTokens > 0 {
			current, currentTokens = c.trailingWithinBudget(current, c.cfg.OverlapTokens)
		} else {
			current, currentTokens = nil, 0
		}
	}

	for _, paragraph := range splitToLogicalBlocks(text) {
		sentences := splitToSentences(paragraph)
		if len(sentences) == 0 {
			continue
		}
		paragraphTokens := 0
		sentenceTokens := make([]int, len(sentences))
		for i, s := range sentences {
			sentenceTokens[i] = c.count(s)
			paragraphTokens += sentenceTokens[i]
		}

		if paragraphTokens > c.cfg.ChunkTokens {
			if len(current) > 0 {
				emit()
			}
			for i, sentence := range sentences {
				if len(current) > 0 && currentTokens+sentenceTokens[i] > c.cfg.ChunkTokens {
					emit()
				}
				current = append(current, sentence)
				currentTokens += sentenceTokens[i]
			}
			continue
		}

		if len(current) > 0 && currentTokens+paragraphTokens > c.cfg.ChunkTokens {
			emit()
		}
		current = append(current, sentences...)
		currentTokens += paragraphTokens
	}

	if len(current) > 0 {
		chunks = append(chunks, Chunk{Text: strings.Join(current, " "), Meta: meta, BlockType: "section_part"})
	}
	return chunks
}

var (
	bulletPattern  = regexp.MustCompile(`^\s*([-*+•·]|\d+[.)])\s+`)
	headingPattern = regexp.MustCompile(`^\s{0,3}(#{1,6}\s+.+|.+?:)$`)
)

// splitToLogicalBlocks cuts text into paragraph-like blocks: blank lines
// separate blocks, bullet and heading lines stand alone, and short
// label-like lines following a colon-terminated heading stand alone too.
func splitToLogicalBlocks(text string) []string {
	lines := strings.Split(text, "\n")
	var blocks []string
	var current []string
	listContext := false

	flush := func() {
		if len(current) > 0 {
			var parts []string
			for _, l := range current {
				if s := strings.TrimSpace(l); s != "" {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				blocks = append(blocks, strings.Join(parts, " "))
			}
			current = current[:0]
		}
		listContext = false
	}

	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			flush()
			continue
		}

		isBullet := bulletPattern.MatchString(stripped)
		isHeading := headingPattern.MatchString(stripped)

		if isBullet || isHeading {
			flush()
			current = append(current, stripped)
			flush()
			listContext = isHeading && strings.HasSuffix(stripped, ":")
			continue
		}

		if listContext && len(strings.Fields(stripped)) <= 10 {
			flush()
			blocks = append(blocks, stripped)
			listContext = true
			continue
		}

		current = append(current, stripped)
	}
	flush()
	return blocks
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// splitToSentences splits normalized text at sentence terminators
// (. ! ? …) followed by whitespace and an uppercase letter or digit.
// Text without such boundaries is returned whole.
func splitToSentences(text string) []string {
	normalized := whitespaceRun.ReplaceAllString(strings.TrimSpace(text), " ")
	if normalized == "" {
		return nil
	}

	runes := []rune(normalized)
	var sentences []string
	start := 0
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?', '…':
		default:
			continue
		}
		// Consume the whitespace run after the terminator and require an
		// uppercase letter or digit to treat it as a boundary.
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 || j >= len(runes) {
			continue
		}
		if !unicode.IsUpper(runes[j]) && !unicode.IsDigit(runes[j]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	if len(sentences) == 0 {
		return []string{normalized}
	}
	return sentences
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
