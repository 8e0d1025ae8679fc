package rag

import "strings"

// chunkSize and chunkOverlap are the splitter's target chunk length (in
// runes) and the overlap carried between adjacent chunks, per SPEC_FULL
// §4.5. separatorPriority is tried in order: a paragraph break splits first,
// falling back to a line break, sentence boundary, word boundary, and
// finally individual characters.
const (
	chunkSize    = 512
	chunkOverlap = 50
)

var separatorPriority = []string{"\n\n", "\n", ". ", " ", ""}

// splitText recursively splits text into chunks of at most chunkSize runes,
// each overlapping the previous by roughly chunkOverlap runes, trying
// separatorPriority in order and falling back to splitting the pieces left
// too large by an earlier separator.
func splitText(text string) []string {
	if text == "" {
		return nil
	}
	return splitWithSeparators(text, separatorPriority)
}

func splitWithSeparators(text string, separators []string) []string {
	if runeLen(text) <= chunkSize || len(separators) == 0 {
		return []string{text}
	}

	sep := separators[0]
	rest := separators[1:]

	var parts []string
	if sep == "" {
		parts = splitIntoRunes(text)
	} else {
		parts = strings.Split(text, sep)
	}

	merged := mergeSplits(parts, sep)

	var out []string
	for _, m := range merged {
		if runeLen(m) > chunkSize && len(rest) > 0 {
			out = append(out, splitWithSeparators(m, rest)...)
		} else {
			out = append(out, m)
		}
	}
	return out
}

func splitIntoRunes(text string) []string {
	runes := []rune(text)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}

// mergeSplits greedily accumulates parts joined by sep into chunks of at
// most chunkSize runes, carrying the trailing ~chunkOverlap runes of each
// finished chunk into the next one.
func mergeSplits(parts []string, sep string) []string {
	sepLen := runeLen(sep)
	var chunks []string
	var current []string
	total := 0

	for _, part := range parts {
		partLen := runeLen(part)
		addedSep := 0
		if len(current) > 0 {
			addedSep = sepLen
		}

		if total+partLen+addedSep > chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, sep))

			for total > chunkOverlap && len(current) > 1 {
				dropped := current[0]
				current = current[1:]
				total -= runeLen(dropped) + sepLen
			}
			if len(current) == 1 && runeLen(current[0]) > chunkOverlap {
				current = nil
				total = 0
			}
		}

		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, part)
		total += partLen
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, sep))
	}
	return chunks
}
