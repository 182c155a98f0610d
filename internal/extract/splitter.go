package extract

import "strings"

// defaultSeparators are tried in order; the empty string is a hard cut.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter breaks long text into chunks of at most chunkSize characters,
// preferring to cut on paragraph and sentence boundaries. Consecutive chunks
// share up to overlap trailing characters.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// NewSplitter creates a splitter. Overlap must be smaller than chunkSize.
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	return &Splitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: defaultSeparators,
	}
}

// Split returns the chunks of text, each at most chunkSize characters.
// Chunks are not trimmed; callers decide what to do with whitespace.
func (s *Splitter) Split(text string) []string {
	if len(text) <= s.chunkSize {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := ""
	var rest []string
	for i, cand := range separators {
		if cand == "" || strings.Contains(text, cand) {
			sep = cand
			rest = separators[i+1:]
			break
		}
	}

	var parts []string
	if sep == "" {
		return s.hardCut(text)
	}
	parts = splitKeepSeparator(text, sep)

	var chunks []string
	var buf []string
	bufLen := 0

	emit := func() {
		if bufLen == 0 {
			return
		}
		chunks = append(chunks, strings.Join(buf, ""))
		// Retain a tail of the buffer as overlap for the next chunk.
		for bufLen > s.overlap && len(buf) > 1 {
			bufLen -= len(buf[0])
			buf = buf[1:]
		}
		if bufLen > s.overlap {
			buf = buf[:0]
			bufLen = 0
		}
	}

	for _, p := range parts {
		if len(p) > s.chunkSize {
			emit()
			buf = buf[:0]
			bufLen = 0
			chunks = append(chunks, s.split(p, rest)...)
			continue
		}
		if bufLen+len(p) > s.chunkSize {
			emit()
		}
		buf = append(buf, p)
		bufLen += len(p)
	}
	if bufLen > 0 {
		chunks = append(chunks, strings.Join(buf, ""))
	}
	return chunks
}

// hardCut slices text at fixed offsets with overlap, for content that has no
// usable separator at all.
func (s *Splitter) hardCut(text string) []string {
	step := s.chunkSize - s.overlap
	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + s.chunkSize
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		chunks = append(chunks, text[start:end])
	}
	return chunks
}

// splitKeepSeparator splits text on sep, keeping the separator attached to
// the preceding part so joins reconstruct the original text.
func splitKeepSeparator(text, sep string) []string {
	raw := strings.SplitAfter(text, sep)
	parts := raw[:0]
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
