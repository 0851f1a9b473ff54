// Package classify assigns a complexity tier to a request. Classification
// is a pure function over the request text, light hints, and a versioned
// cue table: no I/O, deterministic, unit-testable independent of the
// control loop.
package classify

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/harrison/foreman/internal/models"
)

// Hints carries light signals known outside the request text.
type Hints struct {
	FileCount int      // Known file-count estimate, 0 if unknown
	Paths     []string // Paths already associated with the request
}

var (
	explicitCountRe = regexp.MustCompile(`(\d+)[\s-]*(?:file|page|component|module|script)s?\b`)
	pathTokenRe     = regexp.MustCompile(`[A-Za-z0-9_][A-Za-z0-9_./-]*\.[A-Za-z0-9]{1,6}\b`)
)

var numberWords = map[string]int{
	"two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// Classify scores the request text against the table's three cue sets and
// maps the combined score to a tier with hysteresis: boundary cases default
// to the cheaper tier unless a strong explicit multi-file/full-application
// signal is present.
func Classify(text string, hints Hints, table *Table) models.Classification {
	lower := strings.ToLower(text)

	cxScore, cxSignals, cxStrong := scoreCues(lower, table.Complexity)
	crScore, crSignals, _ := scoreCues(lower, table.Creativity)
	stScore, stSignals, stStrong := scoreCues(lower, table.Structural)

	files := estimateFileCount(lower, hints, stStrong)

	w := table.Weights
	combined := w.Complexity*cxScore +
		w.Structural*(stScore+w.PerExtraFile*float64(files-1)) +
		w.Creativity*crScore

	strong := cxStrong || stStrong || files >= 3

	tier := tierFor(combined, strong, table.Thresholds)

	signals := append(append(cxSignals, crSignals...), stSignals...)

	return models.Classification{
		Tier:              tier,
		Confidence:        confidence(combined, table.Thresholds),
		Signals:           signals,
		FileCountEstimate: files,
		Creative:          crScore >= table.Thresholds.Creative,
	}
}

// tierFor maps the combined score to a tier. Inside the hysteresis band just
// above a threshold the cheaper tier wins unless a strong signal is present.
func tierFor(score float64, strong bool, th Thresholds) models.Tier {
	switch {
	case score >= th.Complex+th.Hysteresis:
		return models.TierComplex
	case score >= th.Complex:
		if strong {
			return models.TierComplex
		}
		return models.TierStandard
	case score >= th.Standard+th.Hysteresis:
		return models.TierStandard
	case score >= th.Standard:
		if strong {
			return models.TierStandard
		}
		return models.TierSimple
	default:
		return models.TierSimple
	}
}

// confidence is the normalized margin between the winning tier and the
// runner-up: the distance from the combined score to the nearest tier
// boundary, scaled by the hysteresis width and clamped to 0..1.
func confidence(score float64, th Thresholds) float64 {
	nearest := distance(score, th.Standard)
	if d := distance(score, th.Complex); d < nearest {
		nearest = d
	}
	if th.Hysteresis <= 0 {
		return 1
	}
	c := nearest / th.Hysteresis
	if c > 1 {
		return 1
	}
	return c
}

func distance(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// scoreCues sums the weights of cues found in text as whole-word matches.
func scoreCues(text string, cues []Cue) (score float64, matched []string, strong bool) {
	for _, c := range cues {
		if containsWord(text, strings.ToLower(c.Cue)) {
			score += c.Weight
			matched = append(matched, c.Cue)
			if c.Strong {
				strong = true
			}
		}
	}
	return score, matched, strong
}

// containsWord reports whether cue occurs in text with non-alphanumeric
// characters (or the text edges) on both sides. Boundary neighbors are
// decoded as runes, not bytes, so multibyte neighbors are judged whole.
func containsWord(text, cue string) bool {
	for from := 0; ; {
		i := strings.Index(text[from:], cue)
		if i < 0 {
			return false
		}
		i += from
		r, _ := utf8.DecodeLastRuneInString(text[:i])
		before := i == 0 || !isWordRune(r)
		r, _ = utf8.DecodeRuneInString(text[i+len(cue):])
		after := i+len(cue) >= len(text) || !isWordRune(r)
		if before && after {
			return true
		}
		from = i + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// estimateFileCount derives a rough deliverable count from explicit counts
// ("3-file", "three files"), path-looking tokens, hints, and strong
// structural markers.
func estimateFileCount(lower string, hints Hints, structuralStrong bool) int {
	est := 1

	if m := explicitCountRe.FindStringSubmatch(lower); m != nil {
		if n := parseInt(m[1]); n > est {
			est = n
		}
	}
	for word, n := range numberWords {
		if containsWord(lower, word+" files") || containsWord(lower, word+" file") ||
			containsWord(lower, word+" pages") || containsWord(lower, word+" components") {
			if n > est {
				est = n
			}
		}
	}

	paths := map[string]bool{}
	for _, tok := range pathTokenRe.FindAllString(lower, -1) {
		paths[tok] = true
	}
	if len(paths) > est {
		est = len(paths)
	}

	if hints.FileCount > est {
		est = hints.FileCount
	}
	if len(hints.Paths) > est {
		est = len(hints.Paths)
	}
	if structuralStrong && est < 3 {
		est = 3
	}
	return est
}

func parseInt(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
