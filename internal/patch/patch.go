// Package patch applies ordered line-range replacements to a single text
// buffer. It is the lowest layer of the file-mutation stack and has no
// knowledge of files or transactions.
package patch

import (
	"fmt"
	"sort"
	"strings"
)

// Hunk is one line-range replacement. Start and End are 1-indexed and
// inclusive. Lines replaces the whole range; an empty Lines deletes it.
type Hunk struct {
	Start int
	End   int
	Lines []string
}

// Validate checks the hunk's internal consistency against a buffer length.
func (h Hunk) Validate(bufLen int) error {
	if h.Start < 1 || h.End < h.Start {
		return fmt.Errorf("invalid hunk range %d-%d", h.Start, h.End)
	}
	if h.End > bufLen {
		return fmt.Errorf("hunk %d-%d exceeds buffer of %d lines", h.Start, h.End, bufLen)
	}
	return nil
}

// SkippedHunk records a hunk that could not be applied and why.
type SkippedHunk struct {
	Hunk   Hunk
	Reason string
}

// Options controls Apply behavior.
type Options struct {
	// AllOrNothing aborts the whole call when any hunk is invalid,
	// instead of skipping it and applying the rest.
	AllOrNothing bool
}

// Apply applies the hunks to lines and returns the new buffer. Hunks are
// sorted by start line descending before applying, so an earlier edit never
// invalidates the line numbers of edits not yet applied. The input slice is
// not modified.
//
// Invalid (out-of-bounds or overlapping) hunks are reported in the returned
// SkippedHunk list; with Options.AllOrNothing they instead fail the call.
func Apply(lines []string, hunks []Hunk, opts Options) ([]string, []SkippedHunk, error) {
	if len(hunks) == 0 {
		out := make([]string, len(lines))
		copy(out, lines)
		return out, nil, nil
	}

	sorted := make([]Hunk, len(hunks))
	copy(sorted, hunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start > sorted[j].Start
	})

	var skipped []SkippedHunk
	valid := sorted[:0]
	prevStart := len(lines) + 1 // exclusive upper bound for the next hunk's End
	for _, h := range sorted {
		if err := h.Validate(len(lines)); err != nil {
			if opts.AllOrNothing {
				return nil, nil, err
			}
			skipped = append(skipped, SkippedHunk{Hunk: h, Reason: err.Error()})
			continue
		}
		if h.End >= prevStart {
			reason := fmt.Sprintf("hunk %d-%d overlaps a later hunk starting at %d", h.Start, h.End, prevStart)
			if opts.AllOrNothing {
				return nil, nil, fmt.Errorf("%s", reason)
			}
			skipped = append(skipped, SkippedHunk{Hunk: h, Reason: reason})
			continue
		}
		prevStart = h.Start
		valid = append(valid, h)
	}

	out := make([]string, len(lines))
	copy(out, lines)

	// Descending order: each splice leaves all lower line numbers intact.
	for _, h := range valid {
		tail := out[h.End:]
		out = append(out[:h.Start-1], append(append([]string{}, h.Lines...), tail...)...)
	}

	return out, skipped, nil
}

// Split breaks text into lines without a trailing phantom line for a final
// newline. Join is its inverse.
func Split(text string) []string {
	if text == "" {
		return nil
	}
	trimmed := strings.TrimSuffix(text, "\n")
	return strings.Split(trimmed, "\n")
}

// Join reassembles lines into file text with a trailing newline.
func Join(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
