// Package titleattr derives vehicle and colour attributes from marketplace
// listing titles. Everything here is pure and never fails; an empty title
// yields an empty TitleAttributes.
package titleattr

import (
	"regexp"
	"strings"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// Carpet type codes used on run sheets.
const (
	CarpetVelour    = "CTVEL"
	CarpetRubberStd = "RUBSTD"
	CarpetRubberHD  = "RUBHD"
	CarpetStandard  = "CT65"
)

// DoubleStitch is the only embroidery style recognised in titles.
const DoubleStitch = "Double Stitch"

var (
	reBrackets = regexp.MustCompile(`\[.*?\]`)
	reNoise    = regexp.MustCompile(`(?i)\b(tailored|carpet|car mats|floor mats|set|4pcs|5pcs|pc|heavy duty|rubber|solid trim|uk made|custom|fully|black|grey|blue|red|beige|with|trim|edge|for|fits)\b`)
	reVehicle  = regexp.MustCompile(`(?i)([A-Za-z\s\-]+?)\s+(.*?)\s+(\d{4}\s*[-–to]+\s*\d{4}|\d{4}\s*[-–to]+\s*present|\d{4}\s*\+?|\d{4})`)
	reBootmat  = regexp.MustCompile(`(?i)\b(and|with)\s+bootmat\b`)
)

var embroideryKeywords = []string{"GREYDS", "BLACKDS", "REDS", "BLUEDS", "UPGRADED", "DOUBLE STITCH"}

// Analyze extracts make, model, year range, colours, carpet type, embroidery
// and the bootmat flag from a title.
func Analyze(title string) types.TitleAttributes {
	if strings.TrimSpace(title) == "" {
		return types.TitleAttributes{}
	}
	attrs := types.TitleAttributes{
		CarpetType:     CarpetType(title),
		Embroidery:     Embroidery(title),
		SpecialService: HasBootmat(title),
	}
	if mk, model, year, ok := vehicle(title); ok {
		attrs.Make = mk
		attrs.Model = model
		attrs.YearRange = year
	}
	attrs.Color, attrs.Trim = Colors(title)
	return attrs
}

// HasBootmat reports whether the listing bundles a boot mat, which restricts
// matching to MS- templates.
func HasBootmat(title string) bool {
	return reBootmat.MatchString(title)
}

// CarpetType maps a title to a carpet type code; CT65 is the default.
func CarpetType(title string) string {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "velour"):
		return CarpetVelour
	case strings.Contains(lower, "5mm"), strings.Contains(lower, "heavy duty rubber"):
		return CarpetRubberHD
	case strings.Contains(lower, "rubber"):
		return CarpetRubberStd
	default:
		return CarpetStandard
	}
}

// Embroidery returns DoubleStitch for upgraded listings and "" otherwise.
func Embroidery(title string) string {
	upper := strings.ToUpper(title)
	for _, kw := range embroideryKeywords {
		if strings.Contains(upper, kw) {
			return DoubleStitch
		}
	}
	return ""
}

func cleanTitle(title string) string {
	s := reBrackets.ReplaceAllString(title, " ")
	s = reNoise.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func vehicle(title string) (mk, model, year string, ok bool) {
	m := reVehicle.FindStringSubmatch(cleanTitle(title))
	if m == nil {
		return "", "", "", false
	}
	mk = NormalizeMake(m[1])
	model = NormalizeModel(m[2])
	if mk == "" || model == "" {
		return "", "", "", false
	}
	return mk, model, NormalizeYearRange(m[3]), true
}
