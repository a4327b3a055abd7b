package ingest

import (
	"strings"
	"unicode/utf8"
)

// ChunkerConfig controls sentence-aligned splitting. A zero Size disables it.
type ChunkerConfig struct {
	Size    int
	Overlap int
}

type Chunker struct {
	config ChunkerConfig
}

func NewChunker(config ChunkerConfig) Chunker {
	if config.Overlap < 0 || config.Overlap >= config.Size {
		config.Overlap = 0
	}
	return Chunker{config: config}
}

func (c Chunker) Enabled() bool {
	return c.config.Size > 0
}

// Split breaks text into chunks of at most Size bytes where sentence
// boundaries allow. A single sentence longer than Size becomes its own chunk.
// Consecutive chunks share up to Overlap bytes of trailing words.
func (c Chunker) Split(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}
	if !c.Enabled() || len(text) <= c.config.Size {
		return []string{text}
	}

	var chunks []string
	current := strings.Builder{}

	for _, sentence := range splitIntoSentences(text) {
		// If adding this sentence would exceed chunk size
		if current.Len() > 0 && current.Len()+1+len(sentence) > c.config.Size {
			chunk := current.String()
			chunks = append(chunks, chunk)

			current.Reset()
			if tail := overlapTail(chunk, c.config.Overlap); tail != "" {
				current.WriteString(tail)
			}
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// overlapTail returns the trailing whole words of chunk that fit in n bytes.
func overlapTail(chunk string, n int) string {
	if n <= 0 || len(chunk) <= n {
		return ""
	}
	start := len(chunk) - n
	for start < len(chunk) && !utf8.RuneStart(chunk[start]) {
		start++
	}
	tail := chunk[start:]
	if start > 0 && chunk[start-1] != ' ' {
		i := strings.IndexByte(tail, ' ')
		if i < 0 {
			return ""
		}
		tail = tail[i+1:]
	}
	return strings.TrimSpace(tail)
}

func splitIntoSentences(text string) []string {
	var sentences []string
	current := strings.Builder{}

	for i := 0; i < len(text); i++ {
		current.WriteByte(text[i])

		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
