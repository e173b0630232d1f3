package extractor

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// regexOverridePrefix marks an override pattern that is a regular expression
// instead of a literal SKU.
const regexOverridePrefix = "re:"

var (
	// ErrInvalidOverride is returned for an override entry without pattern or identifier.
	ErrInvalidOverride = errors.New("invalid forced override")
)

// Lookup is the narrow view the extractor has of its data tables.
type Lookup interface {
	// Override returns the forced identifier for a raw SKU.
	Override(sku string) (string, bool)
	// Remap returns the alternate identifier for a legacy numeric code.
	Remap(code string) (string, bool)
}

type patternOverride struct {
	re         *regexp.Regexp
	identifier string
}

// Tables holds forced overrides and the numeric remap table. A Tables value
// is immutable once built and safe for concurrent use.
type Tables struct {
	exact    map[string]string
	patterns []patternOverride
	remap    map[string]string
	prefixes []string
}

// TablesFile is the on-disk YAML layout of the extractor tables.
type TablesFile struct {
	Prefixes     []string                    `yaml:"prefixes"`
	Overrides    []types.ForcedMatchOverride `yaml:"overrides"`
	NumericRemap map[string]string           `yaml:"numeric_remap"`
}

// DefaultTablesFile mirrors configs/overrides.yaml and is used when no file is configured.
func DefaultTablesFile() TablesFile {
	return TablesFile{
		Prefixes:     []string{"CT65 "},
		Overrides:    []types.ForcedMatchOverride{{Pattern: "R-VAW0212", Identifier: "R-VAW0212"}},
		NumericRemap: map[string]string{"8435": "L2"},
	}
}

// NewTables compiles a TablesFile.
func NewTables(f TablesFile) (*Tables, error) {
	t := &Tables{
		exact: make(map[string]string),
		remap: make(map[string]string),
	}
	for _, p := range f.Prefixes {
		if p = strings.ToUpper(p); strings.TrimSpace(p) != "" {
			t.prefixes = append(t.prefixes, p)
		}
	}
	for k, v := range f.NumericRemap {
		t.remap[strings.TrimSpace(k)] = strings.ToUpper(strings.TrimSpace(v))
	}
	if err := t.addOverrides(f.Overrides); err != nil {
		return nil, err
	}
	return t, nil
}

// DefaultTables returns the compiled built-in tables.
func DefaultTables() *Tables {
	t, err := NewTables(DefaultTablesFile())
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTables reads a YAML tables file from disk.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read extractor tables: %w", err)
	}
	var f TablesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse extractor tables: %w", err)
	}
	return NewTables(f)
}

// WithOverrides returns a copy of t with extra overrides appended. Literal
// entries already present in t win over the new ones.
func (t *Tables) WithOverrides(extra []types.ForcedMatchOverride) (*Tables, error) {
	c := &Tables{
		exact:    make(map[string]string, len(t.exact)+len(extra)),
		patterns: append([]patternOverride(nil), t.patterns...),
		remap:    t.remap,
		prefixes: t.prefixes,
	}
	for k, v := range t.exact {
		c.exact[k] = v
	}
	if err := c.addOverrides(extra); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *Tables) addOverrides(list []types.ForcedMatchOverride) error {
	for _, o := range list {
		pattern := strings.TrimSpace(o.Pattern)
		id := strings.ToUpper(strings.TrimSpace(o.Identifier))
		if pattern == "" || id == "" {
			return fmt.Errorf("%w: %q -> %q", ErrInvalidOverride, o.Pattern, o.Identifier)
		}
		if expr, ok := strings.CutPrefix(pattern, regexOverridePrefix); ok {
			re, err := regexp.Compile(`(?i)^(?:` + expr + `)$`)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidOverride, err)
			}
			t.patterns = append(t.patterns, patternOverride{re: re, identifier: id})
			continue
		}
		key := normalizeKey(pattern)
		if _, exists := t.exact[key]; !exists {
			t.exact[key] = id
		}
	}
	return nil
}

// Override implements Lookup.
func (t *Tables) Override(sku string) (string, bool) {
	key := normalizeKey(sku)
	if key == "" {
		return "", false
	}
	if id, ok := t.exact[key]; ok {
		return id, true
	}
	for _, p := range t.patterns {
		if p.re.MatchString(key) {
			return p.identifier, true
		}
	}
	return "", false
}

// Remap implements Lookup.
func (t *Tables) Remap(code string) (string, bool) {
	id, ok := t.remap[strings.TrimSpace(code)]
	return id, ok
}

// Prefixes lists the non-informative prefixes stripped before the grammar runs.
func (t *Tables) Prefixes() []string {
	return t.prefixes
}

func normalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
