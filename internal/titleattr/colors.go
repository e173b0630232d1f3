package titleattr

import (
	"regexp"
	"strings"
)

// DefaultColor is used for carpet and trim when a title names no colour.
const DefaultColor = "Black"

const rubberColor = "Rubber"

// palette is the set of recognised colours.
var palette = []string{
	"black", "grey", "blue", "red", "green", "silver", "yellow",
	"white", "beige", "tan", "brown", "orange", "purple", "pink",
}

var rubberKeywords = []string{"rubber", "rubstd", "rubhd", "5mm"}

var (
	colorAlt       = strings.Join(palette, "|")
	reExplicitTrim = regexp.MustCompile(`\b(` + colorAlt + `)\s+(?:trim|edge)\b`)
	reExplicitCarp = regexp.MustCompile(`\b(` + colorAlt + `)\s+carpet\b`)
	reBracket      = regexp.MustCompile(`\[(.*?)\]`)
	reWithTrim     = regexp.MustCompile(`\b(` + colorAlt + `)\s+with\s+(` + colorAlt + `)\s+trim\b`)
	reAnyColor     = regexp.MustCompile(`\b(` + colorAlt + `)\b`)
)

// Colors returns the carpet and trim colours named by a title, capitalised.
// Rubber mats always report carpet colour "Rubber". Explicit phrases such as
// "red trim" or "grey carpet" win over bracketed variations, which win over
// the first colour word in the title. A trim that was not named follows the
// carpet colour.
func Colors(title string) (carpet, trim string) {
	lower := strings.ToLower(strings.TrimSpace(title))
	carpet, trim = DefaultColor, DefaultColor
	explicitCarpet, explicitTrim := false, false

	rubber := containsAny(lower, rubberKeywords)
	if rubber {
		carpet = rubberColor
	}

	if m := reExplicitTrim.FindStringSubmatch(lower); m != nil {
		trim = capitalize(m[1])
		explicitTrim = true
	}
	if !rubber {
		if m := reExplicitCarp.FindStringSubmatch(lower); m != nil {
			carpet = capitalize(m[1])
			explicitCarpet = true
		}
	}

	if b := reBracket.FindStringSubmatch(lower); b != nil {
		if m := reWithTrim.FindStringSubmatch(b[1]); m != nil {
			if !rubber {
				carpet = capitalize(m[1])
				explicitCarpet = true
			}
			trim = capitalize(m[2])
			explicitTrim = true
		}
	}

	if !rubber && !explicitCarpet && carpet == DefaultColor {
		for _, c := range colorsInOrder(lower) {
			if c != trim {
				carpet = c
				break
			}
		}
	}

	if !explicitTrim && carpet != DefaultColor && carpet != rubberColor {
		trim = carpet
	}
	return carpet, trim
}

// colorsInOrder lists the distinct palette colours in order of first appearance.
func colorsInOrder(lower string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range reAnyColor.FindAllStringSubmatch(lower, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, capitalize(m[1]))
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
