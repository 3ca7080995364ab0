package parser

import (
	"strings"
	"unicode/utf8"
)

// ChunkConfig defines chunking parameters. Sizes are in runes.
type ChunkConfig struct {
	// MaxSize is the maximum window size including the overlap prefix.
	MaxSize int
	// Overlap is the maximum number of runes repeated from the preceding
	// text at the start of each window after the first.
	Overlap int
}

// DefaultChunkConfig returns the defaults used for ingestion.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxSize: 1000,
		Overlap: 200,
	}
}

// separators in the order they are tried: paragraph, line, sentence, word.
// When none applies, text is cut at the rune limit.
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

// Window is one chunk of text. The first Overlap runes of Content repeat
// the end of the previous window's text.
type Window struct {
	Content  string
	Position int
	Overlap  int
}

// Body returns Content without the overlap prefix.
func (w Window) Body() string {
	if w.Overlap == 0 {
		return w.Content
	}
	r := []rune(w.Content)
	return string(r[w.Overlap:])
}

// Chunker splits extracted text into overlapping windows.
type Chunker struct {
	cfg ChunkConfig
}

// NewChunker returns a Chunker for cfg. Non-positive MaxSize falls back to
// the default; Overlap is clamped to [0, MaxSize/2].
func NewChunker(cfg ChunkConfig) *Chunker {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultChunkConfig().MaxSize
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.Overlap > cfg.MaxSize/2 {
		cfg.Overlap = cfg.MaxSize / 2
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Chunker) Config() ChunkConfig { return c.cfg }

// Split returns the window contents for text.
func (c *Chunker) Split(text string) []string {
	windows := c.Windows(text)
	if windows == nil {
		return nil
	}
	out := make([]string, len(windows))
	for i, w := range windows {
		out[i] = w.Content
	}
	return out
}

// Windows splits text recursively on paragraph, line, sentence and word
// boundaries, packs the pieces into bodies of at most MaxSize-Overlap runes
// and prefixes every body after the first with up to Overlap runes of the
// text before it. Stripping each window's overlap and concatenating the
// rest yields text exactly.
func (c *Chunker) Windows(text string) []Window {
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= c.cfg.MaxSize {
		return []Window{{Content: text}}
	}

	limit := c.cfg.MaxSize - c.cfg.Overlap
	bodies := mergePieces(splitRecursive(text, separators, limit), limit)

	runes := []rune(text)
	windows := make([]Window, 0, len(bodies))
	offset := 0
	for i, body := range bodies {
		prefix := overlapPrefix(runes[:offset], c.cfg.Overlap)
		windows = append(windows, Window{
			Content:  string(prefix) + body,
			Position: i,
			Overlap:  len(prefix),
		})
		offset += utf8.RuneCountInString(body)
	}
	return windows
}

// splitRecursive breaks text into pieces of at most limit runes. Separators
// stay attached to the piece they end.
func splitRecursive(text string, seps []string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	for i, sep := range seps {
		if !strings.Contains(text, sep) {
			continue
		}
		var pieces []string
		for _, part := range strings.SplitAfter(text, sep) {
			if part == "" {
				continue
			}
			pieces = append(pieces, splitRecursive(part, seps[i+1:], limit)...)
		}
		return pieces
	}
	return hardCut(text, limit)
}

func hardCut(text string, limit int) []string {
	runes := []rune(text)
	pieces := make([]string, 0, len(runes)/limit+1)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}

// mergePieces greedily packs consecutive pieces into bodies of at most
// limit runes.
func mergePieces(pieces []string, limit int) []string {
	var bodies []string
	var current strings.Builder
	currentLen := 0

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if currentLen > 0 && currentLen+n > limit {
			bodies = append(bodies, current.String())
			current.Reset()
			currentLen = 0
		}
		current.WriteString(p)
		currentLen += n
	}
	if currentLen > 0 {
		bodies = append(bodies, current.String())
	}
	return bodies
}

// overlapPrefix takes the last n runes of preceding, starting after the
// first space when there is one so the prefix begins on a word.
func overlapPrefix(preceding []rune, n int) []rune {
	if n <= 0 || len(preceding) == 0 {
		return nil
	}
	tail := preceding[max(0, len(preceding)-n):]
	for i, r := range tail {
		if r == ' ' {
			if i < len(tail)-1 {
				return tail[i+1:]
			}
			break
		}
	}
	return tail
}
