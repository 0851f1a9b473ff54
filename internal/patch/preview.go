package patch

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Preview applies the hunks to a copy of lines and renders a unified-style
// diff of the change without touching the original buffer. The same hunk
// validation rules as Apply hold, in all-or-nothing mode.
func Preview(lines []string, hunks []Hunk) (string, error) {
	after, _, err := Apply(lines, hunks, Options{AllOrNothing: true})
	if err != nil {
		return "", err
	}
	return DiffText(Join(lines), Join(after)), nil
}

// DiffText renders a line-based +/- diff between two buffers. Equal runs
// longer than a few lines are elided.
func DiffText(before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, linesFromRunes := dmp.DiffLinesToRunes(before, after)
	diffs := dmp.DiffMainRunes(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, linesFromRunes)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}

		segLines := strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n")
		if d.Type == diffmatchpatch.DiffEqual && len(segLines) > 6 {
			// Keep three lines of context on either side of a change.
			for _, line := range segLines[:3] {
				sb.WriteString(" " + line + "\n")
			}
			sb.WriteString("...\n")
			for _, line := range segLines[len(segLines)-3:] {
				sb.WriteString(" " + line + "\n")
			}
			continue
		}
		for _, line := range segLines {
			sb.WriteString(prefix + line + "\n")
		}
	}
	return sb.String()
}
