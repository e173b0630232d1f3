package titleattr

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var makeAliases = map[string]string{
	"vw":            "volkswagen",
	"volkswagon":    "volkswagen",
	"merc":          "mercedes",
	"mercedes-benz": "mercedes",
	"mercedes benz": "mercedes",
	"landrover":     "land rover",
	"range rover":   "land rover",
	"alfa":          "alfa romeo",
	"alfa-romeo":    "alfa romeo",
	"chevy":         "chevrolet",
	"citreon":       "citroen",
}

var (
	reModelNoise   = regexp.MustCompile(`(?i)\b(car|auto|automobile|vehicle|floor|mats)\b`)
	reModelSpecial = regexp.MustCompile(`[^\w\s-]`)
	reSpaces       = regexp.MustCompile(`\s+`)

	reOpenEnded = regexp.MustCompile(`(\d{4})\s*(?:\+|-)\s*$`)
	reToPresent = regexp.MustCompile(`(\d{4})\s*(?:to|onwards)\s*present`)
	reToYear    = regexp.MustCompile(`(\d{4})\s+to\s+(\d{4})`)
	reDash      = regexp.MustCompile(`\s*[-–]\s*`)
	reYear      = regexp.MustCompile(`\d{4}`)
)

// NormalizeMake lower-cases a vehicle make and folds common aliases.
func NormalizeMake(s string) string {
	m := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := makeAliases[m]; ok {
		return alias
	}
	return m
}

// NormalizeModel lower-cases a model name and drops filler words and punctuation.
func NormalizeModel(model string) string {
	s := strings.ToLower(strings.TrimSpace(model))
	s = reModelNoise.ReplaceAllString(s, "")
	s = reModelSpecial.ReplaceAllString(s, "")
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

// ModelWords splits a normalized model into its words.
func ModelWords(model string) []string {
	return strings.Fields(NormalizeModel(model))
}

// NormalizeYearRange rewrites year expressions to "YYYY", "YYYY-YYYY" or
// "YYYY-present".
//
//	"2010+"           -> "2010-present"
//	"2010 to present" -> "2010-present"
//	"2010 - 2015"     -> "2010-2015"
func NormalizeYearRange(year string) string {
	s := strings.ToLower(strings.TrimSpace(year))
	if s == "" {
		return ""
	}
	s = reOpenEnded.ReplaceAllString(s, "$1-present")
	s = reToPresent.ReplaceAllString(s, "$1-present")
	s = reToYear.ReplaceAllString(s, "$1-$2")
	return reDash.ReplaceAllString(s, "-")
}

// YearBounds parses a year range into its first and last year; "present"
// counts as now's year.
func YearBounds(year string, now time.Time) (start, end int, ok bool) {
	s := strings.ReplaceAll(NormalizeYearRange(year), "present", strconv.Itoa(now.Year()))
	found := reYear.FindAllString(s, -1)
	if len(found) == 0 {
		return 0, 0, false
	}
	for i, y := range found {
		n, _ := strconv.Atoi(y)
		if i == 0 || n < start {
			start = n
		}
		if i == 0 || n > end {
			end = n
		}
	}
	return start, end, true
}

// YearsOverlap reports whether two year ranges share at least one year. An
// empty or unparseable side never overlaps.
func YearsOverlap(a, b string, now time.Time) bool {
	as, ae, ok := YearBounds(a, now)
	if !ok {
		return false
	}
	bs, be, ok := YearBounds(b, now)
	if !ok {
		return false
	}
	return as <= be && bs <= ae
}
