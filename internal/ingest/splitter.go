package ingest

import (
	"strings"
	"unicode/utf8"

	"github.com/docuchat/docuchat/internal/store"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// separators in decreasing semantic granularity: paragraph, line, word.
// A hard rune cut is the last resort.
var separators = []string{"\n\n", "\n", " "}

// Splitter cuts documents into overlapping chunks. ChunkSize is a soft
// maximum in characters; Overlap is the number of trailing characters of one
// chunk repeated at the start of the next.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
		if overlap >= chunkSize {
			overlap = chunkSize / 5
		}
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap}
}

// Split chunks every document and tags each chunk with the document's
// metadata plus the acting user. This is the single place chunk ownership is
// established; chunks never leave ingestion without it.
func (s *Splitter) Split(docs []RawDocument, username string) []store.DocumentChunk {
	var chunks []store.DocumentChunk
	for _, doc := range docs {
		for _, text := range s.SplitText(doc.Text) {
			metadata := make(map[string]string, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			metadata[store.MetaUsername] = username
			chunks = append(chunks, store.DocumentChunk{
				Content:  text,
				Metadata: metadata,
			})
		}
	}
	return chunks
}

// SplitText splits a single text hierarchically: paragraphs first, then
// lines, then words, with hard rune cuts as the last resort.
func (s *Splitter) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= s.ChunkSize {
		return []string{text}
	}
	return s.split(text, separators)
}

func (s *Splitter) split(text string, seps []string) []string {
	sep, rest := pickSeparator(text, seps)
	if sep == "" {
		return s.hardSplit(text)
	}

	var final []string
	var pending []string
	for _, part := range strings.SplitAfter(text, sep) {
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) <= s.ChunkSize {
			pending = append(pending, part)
			continue
		}
		// The part alone exceeds the chunk size; flush what has accumulated
		// and descend to the next finer separator.
		final = append(final, s.merge(pending)...)
		pending = nil
		final = append(final, s.split(part, rest)...)
	}
	return append(final, s.merge(pending)...)
}

// merge greedily packs small pieces into chunks up to ChunkSize, carrying the
// previous chunk's tail forward as overlap.
func (s *Splitter) merge(pieces []string) []string {
	var chunks []string
	current := ""
	for _, piece := range pieces {
		if current != "" && utf8.RuneCountInString(current)+utf8.RuneCountInString(piece) > s.ChunkSize {
			chunks = append(chunks, current)
			current = tail(current, s.Overlap)
			if utf8.RuneCountInString(current)+utf8.RuneCountInString(piece) > s.ChunkSize {
				current = tail(current, s.ChunkSize-utf8.RuneCountInString(piece))
			}
		}
		current += piece
	}
	if strings.TrimSpace(current) != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// hardSplit cuts text into fixed-size rune windows with overlap.
func (s *Splitter) hardSplit(text string) []string {
	runes := []rune(text)
	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// pickSeparator returns the first separator present in the text and the finer
// ones after it. An empty separator means no boundary exists to split on.
func pickSeparator(text string, seps []string) (string, []string) {
	for i, sep := range seps {
		if strings.Contains(text, sep) {
			return sep, seps[i+1:]
		}
	}
	return "", nil
}

// tail returns the last n runes of text.
func tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[len(runes)-n:])
}
