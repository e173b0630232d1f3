package extractor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

func TestExtract_KnownShapes(t *testing.T) {
	ex := New()

	tests := []struct {
		sku  string
		want string
	}{
		{"V94", "V94"},
		{"V94 Blue", "V94"},
		{"V214 - Black-Black with Grey Trim", "V214"},
		{"Q227 CVT", "Q227"},
		{"Q227 CVT - Black with Black Trim", "Q227"},
		{"Q7 OC-Black-Carpet-Black with Grey Trim", "Q7"},
		{"Q80", "Q80"},
		{"Q42 - Black-Black", "Q42"},
		{"ZZ164HOLES", "ZZ164HOLES"},
		{"ZZ164", "ZZ164"},
		{"ZZ126-4 - Black with Blue Trim - VAW", "ZZ126"},
		{"ZZ152", "ZZ152"},
		{"X24", "X24"},
		{"X66 - Rubber - Grey Trim", "X66"},
		{"X139", "X139"},
		{"X285 - Black with Red Trim", "X285"},
		{"MS-ABC123", "MS-ABC123"},
		{"MS-Q80", "MS-Q80"},
		{"MS-C2-E", "MS-C2-E"},
		{"VAW0307 001 X205", "X205"},
		{"G-VAW0198 003 X5", "X5"},
		{"G-VAW0213 001 C10", "C10"},
		{"G-VAW0623 003 B12", "B12"},
		{"CT65 Q80", "Q80"},
		{"CT65 ZZ164HOLES BLACK", "ZZ164HOLES"},
		{"CT65 Q213 BLACK", "Q213"},
		{"R-VAW0212", "R-VAW0212"},
		{"8435", "L2"},
		{"8435-grey", "L2"},
		{"D1 - Black-Black with Blue Trim", "D1"},
		{"L13 - Black with Grey Trim", "L13"},
		{"X100 - Black Upgraded Trim", "X100"},
		{"Q308 - Rubber-Red Trim", "Q308"},
		{"q80", "Q80"},
		{"  v94  ", "V94"},
	}

	for _, tt := range tests {
		t.Run(tt.sku, func(t *testing.T) {
			id, _ := ex.Extract(tt.sku, "")
			assert.Equal(t, tt.want, id.Token)
			assert.NotEqual(t, types.MethodUnresolved, id.Method)
		})
	}
}

func TestExtract_SpecialMapping(t *testing.T) {
	ex := New()

	id, diag := ex.Extract("8435", "")
	assert.Equal(t, "L2", id.Token)
	assert.Equal(t, types.MethodSpecialMapping, id.Method)
	assert.Equal(t, "leading-digits", diag.Rule)

	id, _ = ex.Extract("R-VAW0212", "")
	assert.Equal(t, "R-VAW0212", id.Token)
	assert.Equal(t, types.MethodSpecialMapping, id.Method)
}

func TestExtract_Methods(t *testing.T) {
	ex := New()

	id, _ := ex.Extract("X24", "")
	assert.Equal(t, types.MethodDirect, id.Method)
	assert.Equal(t, 13, id.Case)

	id, _ = ex.Extract("Q227 CVT", "")
	assert.Equal(t, types.MethodRegexCase, id.Method)
	assert.Equal(t, "regex-case-11", id.MethodName())

	id, diag := ex.Extract("CT65 Q80", "")
	assert.Equal(t, types.MethodPrefixStripped, id.Method)
	assert.Equal(t, "Q80", diag.Stripped)

	id, diag = ex.Extract("", "some title")
	assert.Equal(t, types.MethodUnresolved, id.Method)
	assert.Equal(t, "", id.Token)
	assert.Equal(t, "empty sku", diag.Note)

	id, _ = ex.Extract("   ", "")
	assert.Equal(t, types.MethodUnresolved, id.Method)
	assert.False(t, id.Resolved())
}

func TestExtract_UnresolvedKeepsOriginal(t *testing.T) {
	ex := New()

	id, diag := ex.Extract(" mystery mat ", "")
	assert.Equal(t, types.MethodUnresolved, id.Method)
	assert.Equal(t, "MYSTERY MAT", id.Token)
	assert.Equal(t, " mystery mat ", diag.Input)
}

// Each pair pins a string that two rules can recognise; the lower number wins.
func TestExtract_RuleOrdering(t *testing.T) {
	ex := New()

	tests := []struct {
		name     string
		sku      string
		want     string
		wantCase int
	}{
		{"v-code before letter-digits", "V94", "V94", 1},
		{"letter-vaw before g-vaw", "G-VAW0198 003 X5", "X5", 2},
		{"bnh before letter-digits", "C1BNH", "C1BNH", 3},
		{"hyphenated holes before q-code", "Q80-NOHOLES", "Q80-NOHOLES", 4},
		{"holes island before zz-code", "ZZ164HOLES", "ZZ164HOLES", 5},
		{"velour before island", "VELOUR 1 1 M4", "M4", 6},
		{"zz-code before short suffix", "ZZ126-4 - Black", "ZZ126", 7},
		{"x-number before letter-digits", "X180-12", "X180-12", 9},
		{"ms-code before island", "MS-Q80", "MS-Q80", 10},
		{"q-code before letter-digits", "Q43-CC", "Q43-CC", 11},
		{"short suffix before letter-digits", "C2-E BLACK", "C2-E", 12},
		{"letter-digits before code-dash-colour", "D1 - Black Trim", "D1", 13},
		{"code-dash-colour before broad island", "AB12C - Black", "AB12C", 14},
		{"vaw-letter before island", "VAW-W0692 X12", "W0692", 15},
		{"vaw-digits trailing before island", "VAW0324 004 F2", "F2", 16},
		{"leading digits before island", "12345 B7", "12345", 17},
		{"bounded island before broad island", "AB12 C3D", "C3", 18},
		{"broad island last", "1234ABC", "1234ABC", 19},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, _ := ex.Extract(tt.sku, "")
			assert.Equal(t, tt.want, id.Token)
			assert.Equal(t, tt.wantCase, id.Case)
		})
	}
}

func TestExtract_ForcedOverrideWins(t *testing.T) {
	tables, err := NewTables(TablesFile{
		Prefixes: []string{"CT65 "},
		Overrides: []types.ForcedMatchOverride{
			{Pattern: "Q80", Identifier: "Q80-FIX"},
			{Pattern: `re:V9\d`, Identifier: "V-LEGACY"},
		},
	})
	require.NoError(t, err)
	ex := New(WithLookup(tables))

	for _, sku := range []string{"Q80", "q80", " Q80 "} {
		id, _ := ex.Extract(sku, "")
		assert.Equal(t, "Q80-FIX", id.Token, sku)
		assert.Equal(t, types.MethodSpecialMapping, id.Method)
	}

	id, _ := ex.Extract("V94", "")
	assert.Equal(t, "V-LEGACY", id.Token)

	// regex overrides are anchored
	id, _ = ex.Extract("V940", "")
	assert.Equal(t, "V940", id.Token)
}

// Overrides are checked on the raw SKU before the prefix is stripped, then on
// the stripped remainder.
func TestExtract_WithPrefixes(t *testing.T) {
	e := New(WithPrefixes("set "))

	id, diag := e.Extract("SET Q227", "")
	assert.Equal(t, "Q227", id.Token)
	assert.Equal(t, types.MethodPrefixStripped, id.Method)
	assert.Equal(t, "Q227", diag.Stripped)

	_, diag = e.Extract("CT65 Q227", "")
	assert.Empty(t, diag.Stripped, "default prefixes are replaced")
}

func TestExtract_OverridePrecedenceAroundPrefix(t *testing.T) {
	both, err := NewTables(TablesFile{
		Prefixes: []string{"CT65 "},
		Overrides: []types.ForcedMatchOverride{
			{Pattern: "Q80", Identifier: "Q80-FIX"},
			{Pattern: "CT65 Q80", Identifier: "CT65-Q80"},
		},
	})
	require.NoError(t, err)
	id, _ := New(WithLookup(both)).Extract("CT65 Q80", "")
	assert.Equal(t, "CT65-Q80", id.Token)

	strippedOnly, err := NewTables(TablesFile{
		Prefixes:  []string{"CT65 "},
		Overrides: []types.ForcedMatchOverride{{Pattern: "Q80", Identifier: "Q80-FIX"}},
	})
	require.NoError(t, err)
	id, diag := New(WithLookup(strippedOnly)).Extract("CT65 Q80", "")
	assert.Equal(t, "Q80-FIX", id.Token)
	assert.Equal(t, types.MethodSpecialMapping, id.Method)
	assert.Equal(t, "matched after prefix strip", diag.Note)
}

func TestExtract_IdempotentOnCatalogCodes(t *testing.T) {
	codes := []string{
		"V94", "Q80", "Q43-CC", "ZZ164HOLES", "ZZ231D", "X180-1", "MS-C2-E", "MS-Q80",
		"C1BNH", "M6-HOLES", "C2-E", "L2", "W0692", "R-VAW0212", "X205", "B12",
	}

	for name, ex := range map[string]*Extractor{
		"grammar only":     New(),
		"with known codes": New(WithKnownCodes(codes)),
	} {
		t.Run(name, func(t *testing.T) {
			for _, code := range codes {
				first, _ := ex.Extract(code, "")
				second, _ := ex.Extract(first.Token, "")
				assert.Equal(t, first.Token, second.Token, code)
				assert.Equal(t, code, first.Token)
			}
		})
	}
}

func TestExtract_KnownCodeFastPath(t *testing.T) {
	ex := New(WithKnownCodes([]string{"zz126-4"}))

	id, diag := ex.Extract("ZZ126-4", "")
	assert.Equal(t, "ZZ126-4", id.Token)
	assert.Equal(t, types.MethodDirect, id.Method)
	assert.Equal(t, "known-code", diag.Rule)

	id, _ = New().Extract("ZZ126-4", "")
	assert.Equal(t, "ZZ126", id.Token)
}

func TestExtract_RemapBeatsKnownNumericCode(t *testing.T) {
	ex := New(WithKnownCodes([]string{"8435", "1234"}))

	id, _ := ex.Extract("8435", "")
	assert.Equal(t, "L2", id.Token)
	assert.Equal(t, types.MethodSpecialMapping, id.Method)

	id, diag := ex.Extract("1234", "")
	assert.Equal(t, "1234", id.Token, "numeric codes without a remap keep the fast path")
	assert.Equal(t, "known-code", diag.Rule)
}

func TestExtract_TitleFallback(t *testing.T) {
	id, _ := New().Extract("!!!", "Tailored mats X205 black")
	assert.Equal(t, types.MethodUnresolved, id.Method)

	id, diag := New(WithTitleFallback()).Extract("!!!", "Tailored mats X205 black")
	assert.Equal(t, "X205", id.Token)
	assert.Equal(t, "title-island", diag.Rule)
}

func TestExtract_PureFunction(t *testing.T) {
	ex := New()
	first, firstDiag := ex.Extract("Q227 CVT - Black with Black Trim", "title")
	for i := 0; i < 10; i++ {
		id, diag := ex.Extract("Q227 CVT - Black with Black Trim", "title")
		assert.Equal(t, first, id)
		assert.Equal(t, firstDiag, diag)
	}
}

func TestLoadTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	content := `
prefixes:
  - "CT65 "
  - "VEL "
overrides:
  - pattern: "OLD-123"
    identifier: "q80"
numeric_remap:
  "8435": "L2"
  "9001": "X9"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tables, err := LoadTables(path)
	require.NoError(t, err)

	got, ok := tables.Override("old-123")
	assert.True(t, ok)
	assert.Equal(t, "Q80", got)

	got, ok = tables.Remap("9001")
	assert.True(t, ok)
	assert.Equal(t, "X9", got)
	assert.Equal(t, []string{"CT65 ", "VEL "}, tables.Prefixes())

	ex := New(WithLookup(tables))
	id, _ := ex.Extract("VEL X24", "")
	assert.Equal(t, "X24", id.Token)
	assert.Equal(t, types.MethodPrefixStripped, id.Method)
}

func TestLoadTables_Errors(t *testing.T) {
	_, err := LoadTables(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = NewTables(TablesFile{Overrides: []types.ForcedMatchOverride{{Pattern: "X"}}})
	assert.ErrorIs(t, err, ErrInvalidOverride)

	_, err = NewTables(TablesFile{Overrides: []types.ForcedMatchOverride{{Pattern: "re:(", Identifier: "X"}}})
	assert.ErrorIs(t, err, ErrInvalidOverride)
}

func TestTables_WithOverrides(t *testing.T) {
	base := DefaultTables()
	merged, err := base.WithOverrides([]types.ForcedMatchOverride{
		{Pattern: "CUSTOM-1", Identifier: "X5"},
		{Pattern: "R-VAW0212", Identifier: "SHOULD-NOT-WIN"},
	})
	require.NoError(t, err)

	got, ok := merged.Override("custom-1")
	assert.True(t, ok)
	assert.Equal(t, "X5", got)

	got, _ = merged.Override("R-VAW0212")
	assert.Equal(t, "R-VAW0212", got)

	_, ok = base.Override("CUSTOM-1")
	assert.False(t, ok, "base tables must stay unchanged")
}

func TestRules(t *testing.T) {
	names := Rules()
	require.Len(t, names, 19)
	assert.Equal(t, "v-code", names[0])
	assert.Equal(t, "broad-island", names[18])
}
