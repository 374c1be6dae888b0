package ingestion

import (
	"fmt"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/54b3r/convrag/internal/rag"
)

func TestNewSplitter_Defaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		size, overlap         int
		wantSize, wantOverlap int
	}{
		{0, -1, DefaultChunkSize, DefaultChunkOverlap},
		{DefaultChunkSize, DefaultChunkOverlap, 1000, 200},
		{100, 100, 100, 20},
		{100, 0, 100, 0},
	}
	for _, tc := range tests {
		s := NewSplitter(tc.size, tc.overlap)
		if s.ChunkSize() != tc.wantSize || s.ChunkOverlap() != tc.wantOverlap {
			t.Errorf("NewSplitter(%d, %d) = (%d, %d), want (%d, %d)",
				tc.size, tc.overlap, s.ChunkSize(), s.ChunkOverlap(), tc.wantSize, tc.wantOverlap)
		}
	}
}

// Not parallel: mutates the process environment.
func TestNewSplitterFromEnv(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "400")
	t.Setenv("CHUNK_OVERLAP", "50")
	s := NewSplitterFromEnv()
	if s.ChunkSize() != 400 || s.ChunkOverlap() != 50 {
		t.Errorf("want (400, 50), got (%d, %d)", s.ChunkSize(), s.ChunkOverlap())
	}

	t.Setenv("CHUNK_SIZE", "lots")
	t.Setenv("CHUNK_OVERLAP", "")
	s = NewSplitterFromEnv()
	if s.ChunkSize() != DefaultChunkSize || s.ChunkOverlap() != DefaultChunkOverlap {
		t.Errorf("want defaults, got (%d, %d)", s.ChunkSize(), s.ChunkOverlap())
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		size    int
		overlap int
		text    string
		want    []string
	}{
		{
			name: "short text is one chunk",
			size: 100,
			text: "  hello world  ",
			want: []string{"hello world"},
		},
		{
			name: "blank text yields nothing",
			size: 100,
			text: " \n\n \t",
			want: nil,
		},
		{
			name: "paragraphs merge up to the limit",
			size: 20,
			text: "aaaa bbbb\n\ncccc dddd\n\neeee",
			want: []string{"aaaa bbbb\n\ncccc dddd", "eeee"},
		},
		{
			name: "unbroken text falls back to characters",
			size: 10,
			text: strings.Repeat("x", 25),
			want: []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)},
		},
		{
			name: "lengths count runes",
			size: 10,
			text: strings.Repeat("é", 15),
			want: []string{strings.Repeat("é", 10), strings.Repeat("é", 5)},
		},
		{
			name: "long paragraph recurses into words",
			size: 12,
			text: "one two three four\n\nfive",
			want: []string{"one two", "three four", "five"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := NewSplitter(tc.size, tc.overlap).SplitText(tc.text)
			if !slices.Equal(got, tc.want) {
				t.Errorf("SplitText = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSplitText_SizeAndOverlap(t *testing.T) {
	t.Parallel()
	words := make([]string, 200)
	for i := range words {
		words[i] = fmt.Sprintf("w%02d", i%100)
	}
	text := strings.Join(words, " ")

	chunks := NewSplitter(50, 10).SplitText(text)
	if len(chunks) < 2 {
		t.Fatalf("want several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 50 {
			t.Errorf("chunk %d has %d runes, want <= 50", i, n)
		}
		if i == 0 {
			continue
		}
		first := strings.Fields(c)[0]
		if !strings.Contains(chunks[i-1], first) {
			t.Errorf("chunk %d does not overlap its predecessor: starts with %q", i, first)
		}
	}
	if !strings.HasPrefix(chunks[1], "w10 w11 w12") {
		t.Errorf("want second chunk to repeat w10 w11, got %q", chunks[1])
	}
}

func TestSplit_Metadata(t *testing.T) {
	t.Parallel()
	base := rag.Metadata{rag.MetaFileName: "notes.md", rag.MetaFileID: "f1"}
	text := strings.Repeat("paragraph text here.\n\n", 20)

	s := NewSplitter(100, 20)
	chunks := s.Split(text, base)
	if len(chunks) < 2 {
		t.Fatalf("want several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Metadata[rag.MetaChunkIndex] != i {
			t.Errorf("chunk %d: chunk_index = %v", i, c.Metadata[rag.MetaChunkIndex])
		}
		if c.Metadata[rag.MetaTotalChunks] != len(chunks) {
			t.Errorf("chunk %d: total_chunks = %v, want %d", i, c.Metadata[rag.MetaTotalChunks], len(chunks))
		}
		if c.Metadata.String(rag.MetaFileName) != "notes.md" {
			t.Errorf("chunk %d: base metadata not copied", i)
		}
	}
	if _, ok := base[rag.MetaChunkIndex]; ok {
		t.Error("base metadata must not be mutated")
	}

	again := s.Split(text, base)
	for i := range chunks {
		if chunks[i].Text != again[i].Text {
			t.Fatalf("split is not deterministic at chunk %d", i)
		}
	}
}
