// Package chunker splits documents into chunks bounded by a token
// budget under the cl100k BPE, for embedding and retrieval.
package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

var ErrUnsupportedKind = errors.New("unsupported file kind, only 'txt' and 'md' are chunked")

// ChunkText splits text into chunks of at most capacity tokens.
// Markdown respects structural boundaries before falling back to
// paragraphs and sentences; plain text goes paragraphs, sentences,
// words. Chunks come back trimmed and non-empty.
func ChunkText(text, kind string, capacity int) ([]string, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("chunk capacity must be at least 1, got %d", capacity)
	}

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}
	count := func(s string) int { return len(enc.Encode(s, nil, nil)) }

	switch kind {
	case "md":
		return pack(markdownBlocks(text), "\n\n", capacity, count, splitParagraphs), nil
	case "txt":
		return pack(paragraphs(text), "\n\n", capacity, count, splitSentences), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}

type counter func(string) int

// overflow breaks a unit that alone exceeds the capacity into finer
// units, or nil at the finest level.
type overflow func(string, int, counter) []string

// pack greedily joins units into chunks within the token budget,
// recursing through overflow for units that are too big on their own.
func pack(units []string, sep string, capacity int, count counter, over overflow) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, unit := range units {
		unit = strings.TrimSpace(unit)
		if unit == "" {
			continue
		}

		if count(unit) > capacity {
			flush()
			if over != nil {
				chunks = append(chunks, over(unit, capacity, count)...)
				continue
			}
			chunks = append(chunks, splitRunes(unit, capacity, count)...)
			continue
		}

		candidate := unit
		if current.Len() > 0 {
			candidate = current.String() + sep + unit
		}
		if count(candidate) > capacity {
			flush()
			current.WriteString(unit)
			continue
		}
		current.Reset()
		current.WriteString(candidate)
	}
	flush()

	return chunks
}

func splitParagraphs(text string, capacity int, count counter) []string {
	return pack(paragraphs(text), "\n\n", capacity, count, splitSentences)
}

func splitSentences(text string, capacity int, count counter) []string {
	return pack(sentences(text), " ", capacity, count, splitWords)
}

func splitWords(text string, capacity int, count counter) []string {
	return pack(strings.Fields(text), " ", capacity, count, nil)
}

// splitRunes is the last resort for a single run of text with no
// smaller structure: cut it rune-wise into budget-sized pieces.
func splitRunes(text string, capacity int, count counter) []string {
	var chunks []string
	runes := []rune(text)

	start := 0
	for start < len(runes) {
		end := start + 1
		for end < len(runes) && count(string(runes[start:end+1])) <= capacity {
			end++
		}
		chunks = append(chunks, string(runes[start:end]))
		start = end
	}
	return chunks
}

func paragraphs(text string) []string {
	return regexp.MustCompile(`\n[ \t]*\n`).Split(text, -1)
}

var sentenceRe = regexp.MustCompile(`[^.!?]*[.!?]+["')\]]*\s*|[^.!?]+$`)

func sentences(text string) []string {
	return sentenceRe.FindAllString(text, -1)
}

// markdownBlocks splits at structural boundaries: fenced code stays
// atomic, a heading starts a new block, list runs group together, and
// everything else breaks at blank lines.
func markdownBlocks(text string) []string {
	var (
		blocks  []string
		current []string
		inFence bool
		inList  bool
	)

	emit := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
		inList = false
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			if inFence {
				current = append(current, line)
				inFence = false
				emit()
				continue
			}
			emit()
			inFence = true
			current = append(current, line)
			continue
		}
		if inFence {
			current = append(current, line)
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "#"):
			emit()
			current = append(current, line)
			emit()
		case trimmed == "":
			emit()
		case isListItem(trimmed):
			if !inList {
				emit()
			}
			current = append(current, line)
			inList = true
		default:
			if inList {
				// continuation line of a list item
				current = append(current, line)
				continue
			}
			current = append(current, line)
		}
	}
	emit()

	return blocks
}

var listItemRe = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s`)

func isListItem(line string) bool {
	return listItemRe.MatchString(line)
}
