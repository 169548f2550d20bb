package document

import "strings"

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// Chunk is one retrievable slice of a document, tagged with the page it
// starts on.
type Chunk struct {
	Text    string
	Page    int
	Ordinal int
}

// Chunker splits page text into overlapping fixed-size windows. Size and
// Overlap are in runes.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker returns a chunker with the default window geometry.
func NewChunker() Chunker {
	return Chunker{Size: defaultChunkSize, Overlap: defaultChunkOverlap}
}

// Split concatenates the pages and slides a window across the full text,
// so chunks may span page boundaries. Each chunk is attributed to the
// page its first rune falls on.
func (c Chunker) Split(pages []Page) []Chunk {
	size := c.Size
	if size <= 0 {
		size = defaultChunkSize
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}

	// Join pages with a separator and remember where each page starts.
	var sb strings.Builder
	type pageStart struct {
		offset int // rune offset into the joined text
		number int
	}
	starts := make([]pageStart, 0, len(pages))
	offset := 0
	for i, p := range pages {
		if i > 0 {
			sb.WriteString("\n\n")
			offset += 2
		}
		starts = append(starts, pageStart{offset: offset, number: p.Number})
		runes := len([]rune(p.Text))
		sb.WriteString(p.Text)
		offset += runes
	}

	text := []rune(sb.String())
	if len(text) == 0 {
		return nil
	}

	pageAt := func(pos int) int {
		page := starts[0].number
		for _, s := range starts {
			if s.offset > pos {
				break
			}
			page = s.number
		}
		return page
	}

	step := size - overlap
	var chunks []Chunk
	for start := 0; start < len(text); start += step {
		end := min(start+size, len(text))
		piece := strings.TrimSpace(string(text[start:end]))
		if piece != "" {
			chunks = append(chunks, Chunk{
				Text:    piece,
				Page:    pageAt(start),
				Ordinal: len(chunks),
			})
		}
		if end == len(text) {
			break
		}
	}
	return chunks
}
