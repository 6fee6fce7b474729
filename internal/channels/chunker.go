package channels

import (
	"strings"
	"unicode"
)

const defaultChunkSize = 4000

// MessageChunker splits outbound text into pieces that fit a platform's
// message size limit. Breaks prefer paragraph boundaries, then line breaks,
// then sentence endings, then whitespace. Fenced code blocks are kept whole
// when a break before the fence is possible.
type MessageChunker struct {
	MaxSize int
}

// NewMessageChunker creates a chunker with the given size limit.
func NewMessageChunker(maxSize int) *MessageChunker {
	if maxSize <= 0 {
		maxSize = defaultChunkSize
	}
	return &MessageChunker{MaxSize: maxSize}
}

// ChunkerFromCapabilities creates a chunker sized for a channel's limit.
func ChunkerFromCapabilities(caps Capabilities) *MessageChunker {
	return NewMessageChunker(caps.MaxMessageLength)
}

// Chunk splits text into pieces of at most MaxSize characters. Returns nil
// for empty input and the text unchanged when it already fits.
func (c *MessageChunker) Chunk(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= c.MaxSize {
		return []string{text}
	}

	var chunks []string
	rest := text
	for len(rest) > c.MaxSize {
		cut := c.splitIndex(rest)
		if cut <= 0 {
			cut = c.MaxSize
		}
		piece := strings.TrimRightFunc(rest[:cut], unicode.IsSpace)
		if piece != "" {
			chunks = append(chunks, piece)
		}
		rest = strings.TrimLeftFunc(rest[cut:], unicode.IsSpace)
	}
	if rest = strings.TrimSpace(rest); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// splitIndex picks the break position inside the first MaxSize characters.
func (c *MessageChunker) splitIndex(text string) int {
	window := text[:c.MaxSize]
	open, fenceAt := openFence(window)

	// Paragraph break, then single newline.
	for _, sep := range []string{"\n\n", "\n"} {
		if idx := lastBreakBefore(window, sep, open, fenceAt); idx > 0 {
			return idx + 1
		}
	}

	// Sentence ending outside any open fence.
	for _, end := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, end); idx > 0 {
			if !open || idx < fenceAt {
				return idx + 1
			}
		}
	}

	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return idx
	}
	return c.MaxSize
}

// lastBreakBefore finds the last occurrence of sep, moved before fenceAt when
// the window ends inside an open code fence.
func lastBreakBefore(window, sep string, open bool, fenceAt int) int {
	idx := strings.LastIndex(window, sep)
	if idx <= 0 {
		return -1
	}
	if open && idx >= fenceAt {
		if fenceAt > 0 {
			return strings.LastIndex(window[:fenceAt], sep)
		}
		return -1
	}
	return idx
}

// openFence reports whether the window ends inside a ``` or ~~~ fence and
// where that fence starts.
func openFence(window string) (bool, int) {
	var open bool
	var fence string
	var start int
	pos := 0
	for _, line := range strings.Split(window, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case !open && (strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")):
			open = true
			fence = trimmed[:3]
			start = pos
		case open && strings.HasPrefix(trimmed, fence):
			open = false
		}
		pos += len(line) + 1
	}
	return open, start
}
