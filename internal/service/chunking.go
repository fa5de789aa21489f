package service

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/homilia/internal/domain"
)

// ChunkConfig controls document chunking. Sizes are counted in characters
// (code points), not bytes.
type ChunkConfig struct {
	Size    int
	Overlap int
}

// DefaultChunkConfig provides the standard chunk geometry.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Size:    1000,
		Overlap: 200,
	}
}

// separators are tried in order, coarsest first. The empty separator splits
// into single characters.
var separators = []string{"\n\n", "\n", " ", ""}

// Chunker splits extracted text into overlapping, position-tracked segments.
// It holds no state between calls.
type Chunker struct {
	cfg ChunkConfig
}

// NewChunker creates a Chunker. Invalid geometry falls back to the defaults.
func NewChunker(cfg ChunkConfig) *Chunker {
	if cfg.Size <= 0 {
		cfg = DefaultChunkConfig()
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		cfg.Overlap = 0
	}
	return &Chunker{cfg: cfg}
}

// Split returns the ordered segments of text. Blank input yields nil.
//
// Offsets are recovered by searching for each segment at or after the end of
// the previous one. When the segment is not found there (overlapping
// segments usually are not) the start falls back to that cursor, so offsets
// are approximate for overlapping or repeated content. With overlap the
// fallback accumulates, and Start and End can run past the rune length of
// text. They are positional metadata; use Segment.Text, not the offsets, to
// get the content.
func (c *Chunker) Split(text string) []domain.Segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := c.splitRecursive(text, separators)
	if len(pieces) == 0 {
		return nil
	}

	byteAt := runeByteOffsets(text)
	totalRunes := len(byteAt) - 1

	segments := make([]domain.Segment, 0, len(pieces))
	cursor := 0
	for _, piece := range pieces {
		pieceLen := utf8.RuneCountInString(piece)

		start := cursor
		if cursor <= totalRunes {
			if idx := strings.Index(text[byteAt[cursor]:], piece); idx >= 0 {
				start = runeIndexOf(byteAt, byteAt[cursor]+idx)
			}
		}
		end := start + pieceLen

		segments = append(segments, domain.Segment{
			Text:  piece,
			Start: start,
			End:   end,
		})
		cursor = end
	}

	return segments
}

// splitRecursive splits text on the first separator it contains and merges
// the pieces back toward the target size. Pieces that are still too large
// are split again with the finer separators.
func (c *Chunker) splitRecursive(text string, seps []string) []string {
	separator := seps[len(seps)-1]
	var finer []string
	for i, sep := range seps {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			finer = seps[i+1:]
			break
		}
	}

	var chunks []string
	var good []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if utf8.RuneCountInString(piece) < c.cfg.Size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, c.merge(good)...)
			good = nil
		}
		if len(finer) == 0 {
			chunks = append(chunks, piece)
			continue
		}
		chunks = append(chunks, c.splitRecursive(piece, finer)...)
	}
	if len(good) > 0 {
		chunks = append(chunks, c.merge(good)...)
	}

	return chunks
}

// merge packs consecutive pieces into chunks no larger than the target size,
// carrying up to Overlap characters of trailing pieces into the next chunk.
func (c *Chunker) merge(pieces []string) []string {
	var docs []string
	var current []string
	total := 0

	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if total+n > c.cfg.Size && len(current) > 0 {
			if doc := joinPieces(current); doc != "" {
				docs = append(docs, doc)
			}
			for total > c.cfg.Overlap || (total+n > c.cfg.Size && total > 0) {
				total -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}

	if doc := joinPieces(current); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func joinPieces(pieces []string) string {
	return strings.TrimSpace(strings.Join(pieces, ""))
}

// splitKeepingSeparator splits text on sep, attaching each separator to the
// start of the piece that follows it. Empty pieces are dropped.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

// runeByteOffsets maps each rune index of s (plus the end) to its byte offset.
func runeByteOffsets(s string) []int {
	offsets := make([]int, 0, len(s)+1)
	for i := range s {
		offsets = append(offsets, i)
	}
	return append(offsets, len(s))
}

// runeIndexOf converts a byte offset on a rune boundary to a rune index.
func runeIndexOf(byteAt []int, byteOffset int) int {
	return sort.SearchInts(byteAt, byteOffset)
}
