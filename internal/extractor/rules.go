package extractor

import (
	"regexp"
	"strings"
)

// ============================================================================
// SKU grammar
// ============================================================================
//
// Rules run against the trimmed, upper-cased SKU after prefix stripping.
// Order is significant: several rules can recognise the same string and the
// first one that returns a token wins. Rule numbers are stable and surface as
// the regex-case-N extraction method.
//
// RE2 has no lookahead, so "not followed by an alphanumeric" is written as
// (?:[^A-Z0-9]|$) after the capture group and only group 1 is used.

type rule struct {
	num   int
	name  string
	apply func(s string) (string, bool)
}

var (
	reVCode         = regexp.MustCompile(`^(V\d+)`)
	reLetterVAW     = regexp.MustCompile(`^[A-Z]-VAW\d+\s+\d+\s+([A-Z]\d+)`)
	reBNH           = regexp.MustCompile(`^([A-Z]\d+BNH)`)
	reHyphenHoles   = regexp.MustCompile(`^([A-Z0-9]+-[A-Z0-9]*(?:HOLES|NOHOLES))`)
	reHolesIsland   = regexp.MustCompile(`([A-Z0-9]+(?:HOLES|NOHOLES))`)
	reLetterDigits  = regexp.MustCompile(`^[A-Z]\d+$`)
	reZZ            = regexp.MustCompile(`^(ZZ\d+[A-Z]?)`)
	reXNumber       = regexp.MustCompile(`^(X\d+-\d+)`)
	reMS            = regexp.MustCompile(`^(MS-[A-Z0-9]+(?:-[A-Z0-9])?)`)
	reQ             = regexp.MustCompile(`^(Q\d+(?:-[A-Z0-9]+)?)`)
	reShortSuffix   = regexp.MustCompile(`^([A-Z0-9]+-[A-Z0-9])(?:[^A-Z0-9]|$)`)
	reSingleLetter  = regexp.MustCompile(`^([A-Z]\d+[A-Z]*)(?:\s+CVT)?`)
	reVAWLetter     = regexp.MustCompile(`^VAW-?([A-Z]\d+)`)
	reVAWDigits     = regexp.MustCompile(`^VAW\d+\b`)
	reLeadingDigits = regexp.MustCompile(`^(\d+)\b`)
	reIslandBounded = regexp.MustCompile(`\b([A-Z]\d+)\b`)
	reIsland        = regexp.MustCompile(`([A-Z]\d+)`)
	reBroadIsland   = regexp.MustCompile(`([A-Z]+\d+|\d+[A-Z]+)`)
)

// colorSuffixKeywords mark the part after " - " as a colour/trim description.
var colorSuffixKeywords = []string{"BLACK", "BLUE", "GREY", "RED", "GREEN", "YELLOW", "SILVER", "WHITE", "TRIM", "SOLID"}

var grammar = []rule{
	{1, "v-code", prefixGroup(reVCode)},
	{2, "letter-vaw-triplet", prefixGroup(reLetterVAW)},
	{3, "bnh-code", prefixGroup(reBNH)},
	{4, "hyphenated-holes", prefixGroup(reHyphenHoles)},
	{5, "holes-island", holesIsland},
	{6, "velour-trailing-code", trailingCode("VELOUR")},
	{7, "zz-code", prefixGroup(reZZ)},
	{8, "g-vaw-trailing-code", trailingCode("G-VAW")},
	{9, "x-number", prefixGroup(reXNumber)},
	{10, "ms-code", prefixGroup(reMS)},
	{11, "q-code", prefixGroup(reQ)},
	{12, "short-suffix", prefixGroup(reShortSuffix)},
	{13, "letter-digits", singleLetter},
	{14, "code-dash-colour", codeDashColour},
	{15, "vaw-letter-code", prefixGroup(reVAWLetter)},
	{16, "vaw-digits-trailing-code", vawDigitsTrailing},
	{17, "leading-digits", prefixGroup(reLeadingDigits)},
	{18, "letter-digit-island", lastIsland},
	{19, "broad-island", lastMatch(reBroadIsland)},
}

// Rules lists rule names in evaluation order; index i holds rule i+1.
func Rules() []string {
	names := make([]string, len(grammar))
	for i, r := range grammar {
		names[i] = r.name
	}
	return names
}

func prefixGroup(re *regexp.Regexp) func(string) (string, bool) {
	return func(s string) (string, bool) {
		m := re.FindStringSubmatch(s)
		if m == nil {
			return "", false
		}
		return m[1], true
	}
}

func lastMatch(re *regexp.Regexp) func(string) (string, bool) {
	return func(s string) (string, bool) {
		all := re.FindAllStringSubmatch(s, -1)
		if len(all) == 0 {
			return "", false
		}
		return all[len(all)-1][1], true
	}
}

func holesIsland(s string) (string, bool) {
	if !strings.Contains(s, "HOLES") {
		return "", false
	}
	return prefixGroup(reHolesIsland)(s)
}

// trailingCode accepts "<PREFIX>... <x> <y> <L123>" and returns the last part.
func trailingCode(prefix string) func(string) (string, bool) {
	return func(s string) (string, bool) {
		if !strings.HasPrefix(s, prefix) {
			return "", false
		}
		parts := strings.Fields(s)
		if len(parts) < 3 {
			return "", false
		}
		last := parts[len(parts)-1]
		if !reLetterDigits.MatchString(last) {
			return "", false
		}
		return last, true
	}
}

func vawDigitsTrailing(s string) (string, bool) {
	if !reVAWDigits.MatchString(s) || !strings.Contains(s, " ") {
		return "", false
	}
	parts := strings.Fields(s)
	if len(parts) < 2 {
		return "", false
	}
	last := parts[len(parts)-1]
	if !reLetterDigits.MatchString(last) {
		return "", false
	}
	return last, true
}

func singleLetter(s string) (string, bool) {
	m := reSingleLetter.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	base := m[1]
	if withSuffix, ok := shortSuffixOf(s, base); ok {
		return withSuffix, true
	}
	return base, true
}

// shortSuffixOf returns "<base>-<c>" when s starts with it and c is a single
// alphanumeric not followed by another one.
func shortSuffixOf(s, base string) (string, bool) {
	n := len(base)
	if !strings.HasPrefix(s, base+"-") || len(s) < n+2 || !isAlnum(s[n+1]) {
		return "", false
	}
	if len(s) > n+2 && isAlnum(s[n+2]) {
		return "", false
	}
	return s[:n+2], true
}

func codeDashColour(s string) (string, bool) {
	base, suffix, found := strings.Cut(s, " - ")
	if !found {
		return "", false
	}
	base = strings.TrimSpace(base)
	if !containsAny(suffix, colorSuffixKeywords) {
		return "", false
	}
	for _, re := range []*regexp.Regexp{reMS, reQ, reShortSuffix} {
		if m := re.FindStringSubmatch(base); m != nil {
			return m[1], true
		}
	}
	if token, ok := singleLetter(base); ok {
		return token, true
	}
	return strings.TrimSpace(strings.TrimSuffix(base, " CVT")), true
}

func lastIsland(s string) (string, bool) {
	if token, ok := lastMatch(reIslandBounded)(s); ok {
		return token, true
	}
	return lastMatch(reIsland)(s)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func isAlnum(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
