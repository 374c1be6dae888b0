// Package ingestion turns source files into ordered, overlapping text chunks
// ready for indexing. It covers plain-text formats only; rich formats (PDF,
// DOCX, images) must be extracted to text before they reach this package.
package ingestion

import (
	"maps"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/convrag/internal/rag"
)

const (
	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is the number of trailing characters of one chunk
	// repeated at the start of the next.
	DefaultChunkOverlap = 200
)

// defaultSeparators are tried in order: paragraphs, lines, words, characters.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter is a recursive character splitter. It splits on the coarsest
// separator present in the text and recurses with finer separators into any
// piece that is still longer than ChunkSize, then greedily merges adjacent
// pieces back into chunks of at most ChunkSize characters with
// ChunkOverlap characters of overlap. Lengths are counted in runes.
//
// A Splitter is immutable after construction and safe for concurrent use.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewSplitter returns a Splitter. A non-positive size falls back to
// DefaultChunkSize; an overlap that is negative or not smaller than size is
// reduced to size/5.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Splitter{
		chunkSize:    size,
		chunkOverlap: overlap,
		separators:   defaultSeparators,
	}
}

// NewSplitterFromEnv returns a Splitter configured from CHUNK_SIZE and
// CHUNK_OVERLAP, falling back to the package defaults.
func NewSplitterFromEnv() *Splitter {
	return NewSplitter(
		envInt("CHUNK_SIZE", DefaultChunkSize),
		envInt("CHUNK_OVERLAP", DefaultChunkOverlap),
	)
}

// envInt reads an integer environment variable, returning fallback when it
// is unset or malformed.
func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

// ChunkSize returns the configured maximum chunk length.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// ChunkOverlap returns the configured overlap.
func (s *Splitter) ChunkOverlap() int { return s.chunkOverlap }

// Split splits text into chunks carrying a copy of base plus chunk_index and
// total_chunks. The result is deterministic for a given text, base and
// configuration. Blank text yields no chunks.
func (s *Splitter) Split(text string, base rag.Metadata) []rag.Chunk {
	pieces := s.SplitText(text)
	chunks := make([]rag.Chunk, len(pieces))
	for i, p := range pieces {
		md := make(rag.Metadata, len(base)+2)
		maps.Copy(md, base)
		md[rag.MetaChunkIndex] = i
		md[rag.MetaTotalChunks] = len(pieces)
		chunks[i] = rag.Chunk{Text: p, Metadata: md}
	}
	return chunks
}

// SplitText returns the chunk texts of text, trimmed of surrounding
// whitespace, in document order.
func (s *Splitter) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var finer []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = candidate
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			finer = separators[i+1:]
			break
		}
	}

	var out, fitting []string
	for _, piece := range splitOn(text, sep) {
		if runeLen(piece) < s.chunkSize {
			fitting = append(fitting, piece)
			continue
		}
		if len(fitting) > 0 {
			out = append(out, s.merge(fitting, sep)...)
			fitting = nil
		}
		if len(finer) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, s.split(piece, finer)...)
		}
	}
	if len(fitting) > 0 {
		out = append(out, s.merge(fitting, sep)...)
	}
	return out
}

// merge joins pieces with sep into chunks no longer than chunkSize, carrying
// up to chunkOverlap characters from the end of one chunk into the next.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var (
		out     []string
		current []string
		total   int
	)
	joinCost := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, p := range pieces {
		n := runeLen(p)
		if total+n+joinCost() > s.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
				out = append(out, doc)
			}
			for total > s.chunkOverlap || (total > 0 && total+n+joinCost() > s.chunkSize) {
				drop := runeLen(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
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
		out = append(out, doc)
	}
	return out
}

// splitOn splits text on sep, dropping empty pieces. An empty sep splits
// into single runes.
func splitOn(text, sep string) []string {
	var parts []string
	if sep == "" {
		parts = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
		return parts
	}
	for _, p := range strings.Split(text, sep) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
