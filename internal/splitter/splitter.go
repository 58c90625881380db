// Package splitter turns document text into ordered, bounded chunks using a
// recursive separator-priority strategy: paragraph breaks first, then line
// breaks, then spaces, then sentence-ending punctuation, then a
// character-level fallback. Content is packed into chunks of a fixed target
// size with a fixed overlap between consecutive chunks.
//
// Every caller (initial ingestion, the watcher, manual reindex) must use
// DefaultPolicy. The "no hash change, no re-chunk" optimization in the
// reindex pipeline is only sound while all writers split identically.
package splitter

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the target chunk length in bytes of UTF-8 text.
	DefaultChunkSize = 1000

	// DefaultOverlap is how much of the previous chunk's tail is repeated
	// at the start of the next chunk.
	DefaultOverlap = 200

	// TokensPerChar is the heuristic for estimating tokens (chars/4).
	TokensPerChar = 4
)

// DefaultSeparators is the separator priority order. The punctuation tiers
// keep text with no whitespace (CJK prose, minified content) breaking on
// sentence ends instead of falling straight to fixed windows. The empty
// string is the character-level fallback and must come last.
var DefaultSeparators = []string{"\n\n", "\n", " ", ".", "。", ""}

// Policy fixes the splitting behaviour. Output chunk count, boundaries and
// order are a deterministic function of input text and policy alone.
type Policy struct {
	ChunkSize  int
	Overlap    int
	Separators []string
}

// DefaultPolicy is the single shared policy used by every caller.
var DefaultPolicy = Policy{
	ChunkSize:  DefaultChunkSize,
	Overlap:    DefaultOverlap,
	Separators: DefaultSeparators,
}

// Piece is one chunk of the input text. StartChar and EndChar are offsets
// into the source text; consecutive pieces overlap by up to Policy.Overlap.
type Piece struct {
	Text       string
	StartChar  int
	EndChar    int
	TokenCount int
}

// Splitter splits text according to a fixed policy.
type Splitter struct {
	policy Policy
}

// New creates a Splitter. Zero or invalid policy fields fall back to the
// defaults; Overlap is clamped below ChunkSize.
func New(policy Policy) *Splitter {
	if policy.ChunkSize <= 0 {
		policy.ChunkSize = DefaultChunkSize
	}
	if policy.Overlap < 0 {
		policy.Overlap = DefaultOverlap
	}
	if policy.Overlap >= policy.ChunkSize {
		policy.Overlap = policy.ChunkSize / 2
	}
	if len(policy.Separators) == 0 {
		policy.Separators = DefaultSeparators
	}
	return &Splitter{policy: policy}
}

// Split returns the ordered chunk sequence for text. Empty input yields no
// pieces. Piece indices are implied by slice order; StartChar is strictly
// increasing and EndChar is monotonically non-decreasing.
func (s *Splitter) Split(text string) []Piece {
	if text == "" {
		return nil
	}
	frags := split(text, 0, s.policy.Separators, s.policy.ChunkSize)
	return s.pack(text, frags)
}

// span is a half-open [start, end) byte range into the source text.
type span struct {
	start, end int
}

// split recursively fragments text (whose first byte sits at offset base in
// the original document) into spans no longer than size. Separators are
// retained at the end of the fragment they terminate, so the spans cover
// the input exactly.
func split(text string, base int, seps []string, size int) []span {
	if len(text) <= size {
		return []span{{base, base + len(text)}}
	}

	// Pick the highest-priority separator that actually occurs.
	for i, sep := range seps {
		if sep == "" {
			return windows(text, base, size)
		}
		if !strings.Contains(text, sep) {
			continue
		}
		var out []span
		off := 0
		for _, part := range strings.SplitAfter(text, sep) {
			if part == "" {
				continue
			}
			if len(part) > size {
				out = append(out, split(part, base+off, seps[i+1:], size)...)
			} else {
				out = append(out, span{base + off, base + off + len(part)})
			}
			off += len(part)
		}
		return out
	}
	return windows(text, base, size)
}

// windows is the character-level fallback: fixed-size spans aligned to rune
// boundaries.
func windows(text string, base, size int) []span {
	var out []span
	start := 0
	cur := 0
	for cur < len(text) {
		_, n := utf8.DecodeRuneInString(text[cur:])
		if cur+n-start > size && cur > start {
			out = append(out, span{base + start, base + cur})
			start = cur
		}
		cur += n
	}
	if cur > start {
		out = append(out, span{base + start, base + cur})
	}
	return out
}

// pack greedily merges fragments into chunks of roughly ChunkSize, carrying
// Overlap bytes of the emitted chunk into the next one. A chunk may exceed
// the target by at most the overlap it inherited.
func (s *Splitter) pack(text string, frags []span) []Piece {
	var pieces []Piece
	start := frags[0].start
	end := frags[0].end

	emit := func() {
		pieces = append(pieces, s.piece(text, start, end))
		// The next chunk begins inside the one just emitted. Overlap is
		// capped below the emitted length so StartChar stays strictly
		// increasing, and nudged forward onto a rune boundary.
		ov := s.policy.Overlap
		if ov >= end-start {
			ov = (end - start) / 2
		}
		start = end - ov
		for start < len(text) && !utf8.RuneStart(text[start]) {
			start++
		}
	}

	for _, f := range frags[1:] {
		if f.end-start > s.policy.ChunkSize && end > start {
			emit()
		}
		end = f.end
	}
	if end > start {
		pieces = append(pieces, s.piece(text, start, end))
	}
	return pieces
}

func (s *Splitter) piece(text string, start, end int) Piece {
	return Piece{
		Text:       text[start:end],
		StartChar:  start,
		EndChar:    end,
		TokenCount: (end - start) / TokensPerChar,
	}
}
