package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried coarsest first: paragraph, line, sentence,
// word, character.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

const (
	StrategyRecursive = "recursive"
	StrategyFixed     = "fixed"
)

// ValidStrategy reports whether s names a supported strategy. Empty means
// the caller's default.
func ValidStrategy(s string) bool {
	return s == "" || s == StrategyRecursive || s == StrategyFixed
}

type Chunker interface {
	Chunk(text string, opts ChunkOptions) []TextChunk
}

type ChunkOptions struct {
	ChunkSize    int    // target chunk size in runes
	ChunkOverlap int    // runes shared between adjacent chunks
	Strategy     string // "recursive" or "fixed"
}

type TextChunk struct {
	Content string
	Index   int
}

func DefaultOptions() ChunkOptions {
	return ChunkOptions{
		ChunkSize:    500,
		ChunkOverlap: 50,
		Strategy:     StrategyRecursive,
	}
}

type defaultChunker struct{}

func New() Chunker {
	return &defaultChunker{}
}

func (c *defaultChunker) Chunk(text string, opts ChunkOptions) []TextChunk {
	opts = normalize(opts)

	var parts []string
	switch opts.Strategy {
	case StrategyFixed:
		parts = chunkFixed(text, opts)
	default:
		parts = Split(text, opts.ChunkSize, opts.ChunkOverlap)
	}

	chunks := make([]TextChunk, len(parts))
	for i, p := range parts {
		chunks[i] = TextChunk{Content: p, Index: i}
	}
	return chunks
}

// Split breaks text into segments of at most chunkSize runes using
// DefaultSeparators. Adjacent segments share up to chunkOverlap runes,
// rounded to whole pieces of the separator in use. The result depends only
// on the arguments.
func Split(text string, chunkSize, chunkOverlap int) []string {
	opts := normalize(ChunkOptions{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap})
	if strings.TrimSpace(text) == "" {
		return nil
	}
	s := splitter{size: opts.ChunkSize, overlap: opts.ChunkOverlap}
	return s.split(text, DefaultSeparators)
}

func normalize(opts ChunkOptions) ChunkOptions {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 500
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = opts.ChunkSize - 1
	}
	return opts
}

type splitter struct {
	size    int
	overlap int
}

func (s splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = candidate
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	for _, p := range splitOn(text, sep) {
		if p != "" {
			pieces = append(pieces, p)
		}
	}

	var out, good []string
	for _, p := range pieces {
		if runeLen(p) < s.size {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good, sep)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, s.split(p, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good, sep)...)
	}
	return out
}

// merge packs pieces into chunks no larger than size, carrying trailing
// pieces worth at most overlap runes into the next chunk.
func (s splitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var docs, current []string
	total := 0

	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, p := range pieces {
		n := runeLen(p)
		if total+n+joinLen() > s.size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.overlap || (total > 0 && total+n+joinLen() > s.size) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func splitOn(text, sep string) []string {
	if sep != "" {
		return strings.Split(text, sep)
	}
	out := make([]string, 0, len(text))
	for _, r := range text {
		out = append(out, string(r))
	}
	return out
}

func chunkFixed(text string, opts ChunkOptions) []string {
	var chunks []string
	runes := []rune(text)

	for start := 0; start < len(runes); {
		end := start + opts.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}

		content := string(runes[start:end])
		if strings.TrimSpace(content) != "" {
			chunks = append(chunks, content)
		}
		if end == len(runes) {
			break
		}

		step := opts.ChunkSize - opts.ChunkOverlap
		if step <= 0 {
			step = opts.ChunkSize
		}
		start += step
	}

	return chunks
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
