package patch

import (
	"fmt"
	"strings"
)

// Matcher selects the first line of a block to replace.
type Matcher func(line string) bool

// ReplaceBlock locates a block via the matcher, determines its extent by
// scanning forward to the first non-blank line that returns to the starting
// indentation level, and replaces the whole span with newLines.
//
// The matched line itself is part of the replaced span. Blank lines inside
// the block never terminate it. If no later line returns to the starting
// indentation the block extends to the end of the buffer.
func ReplaceBlock(lines []string, match Matcher, newLines []string) ([]string, error) {
	start := -1
	for i, line := range lines {
		if match(line) {
			start = i
			break
		}
	}
	if start == -1 {
		return nil, fmt.Errorf("no line matched the block matcher")
	}

	baseIndent := indentWidth(lines[start])
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if indentWidth(lines[i]) <= baseIndent {
			end = i
			break
		}
	}

	out := make([]string, 0, len(lines)-(end-start)+len(newLines))
	out = append(out, lines[:start]...)
	out = append(out, newLines...)
	out = append(out, lines[end:]...)
	return out, nil
}

// ReplaceBlockUntil is ReplaceBlock with an explicit end predicate instead
// of the indentation heuristic. The span runs from the matched line up to,
// but not including, the first later line for which end returns true.
func ReplaceBlockUntil(lines []string, match Matcher, end Matcher, newLines []string) ([]string, error) {
	start := -1
	for i, line := range lines {
		if match(line) {
			start = i
			break
		}
	}
	if start == -1 {
		return nil, fmt.Errorf("no line matched the block matcher")
	}

	stop := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if end(lines[i]) {
			stop = i
			break
		}
	}

	out := make([]string, 0, len(lines)-(stop-start)+len(newLines))
	out = append(out, lines[:start]...)
	out = append(out, newLines...)
	out = append(out, lines[stop:]...)
	return out, nil
}

// indentWidth counts leading whitespace with tabs expanded to four columns.
func indentWidth(line string) int {
	w := 0
	for _, r := range line {
		switch r {
		case ' ':
			w++
		case '\t':
			w += 4
		default:
			return w
		}
	}
	return w
}
