// ============================================================================
// Identifier Extractor - SKU 正規化
// ============================================================================
//
// Package: internal/extractor
// 文件: extractor.go
// 功能: 將賣家填寫的 SKU（雜訊很多）轉換成目錄可查詢的產品代碼
//
// 擷取順序（短路，第一個命中即返回）:
//   1. 強制覆寫（先比對原始 SKU，再比對移除前綴後的 SKU）
//   2. 已知代碼快速路徑（SKU 本身就是目錄代碼）
//   3. 移除已知前綴（例如 "CT65 "）
//   4. 規則表 rules.go（19 條，固定順序）
//   5. 數字對照表（例如 8435 -> L2），只用於純數字候選或無結果時
//   6. 無法辨識：保留去除空白並轉大寫的原始 SKU
//
// 純函式: 相同設定下 Extract(sku, title) 的結果只取決於輸入。
// Extractor 建立後不可變，可被多個 goroutine 共用。
//
// ============================================================================

package extractor

import (
	"strings"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// Extractor turns raw SKUs into canonical identifiers.
type Extractor struct {
	lookup        Lookup
	prefixes      []string
	known         map[string]struct{}
	titleFallback bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLookup sets the override/remap tables.
func WithLookup(l Lookup) Option {
	return func(e *Extractor) {
		e.lookup = l
		if p, ok := l.(interface{ Prefixes() []string }); ok {
			e.prefixes = p.Prefixes()
		}
	}
}

// WithPrefixes replaces the list of stripped prefixes.
func WithPrefixes(prefixes ...string) Option {
	return func(e *Extractor) {
		e.prefixes = e.prefixes[:0:0]
		for _, p := range prefixes {
			e.prefixes = append(e.prefixes, strings.ToUpper(p))
		}
	}
}

// WithKnownCodes enables the fast path for SKUs that already are catalog codes.
func WithKnownCodes(codes []string) Option {
	return func(e *Extractor) {
		e.known = make(map[string]struct{}, len(codes))
		for _, c := range codes {
			if c = normalizeKey(c); c != "" {
				e.known[c] = struct{}{}
			}
		}
	}
}

// WithTitleFallback lets an unresolved SKU borrow a code island from the title.
func WithTitleFallback() Option {
	return func(e *Extractor) {
		e.titleFallback = true
	}
}

// New builds an Extractor. Without WithLookup the built-in tables are used.
func New(opts ...Option) *Extractor {
	defaults := DefaultTables()
	e := &Extractor{
		lookup:   defaults,
		prefixes: defaults.Prefixes(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the canonical identifier for one line item. It never fails;
// unusable input comes back with MethodUnresolved.
func (e *Extractor) Extract(sku, title string) (types.CanonicalIdentifier, types.Diagnostics) {
	diag := types.Diagnostics{Input: sku}
	normalized := normalizeKey(sku)
	if normalized == "" {
		diag.Note = "empty sku"
		return types.CanonicalIdentifier{Method: types.MethodUnresolved}, diag
	}

	if id, ok := e.lookup.Override(normalized); ok {
		diag.Rule = "forced-override"
		return types.CanonicalIdentifier{Token: id, Method: types.MethodSpecialMapping}, diag
	}
	if e.knownCode(normalized) {
		diag.Rule = "known-code"
		return types.CanonicalIdentifier{Token: normalized, Method: types.MethodDirect}, diag
	}

	s, stripped := e.stripPrefix(normalized)
	if stripped {
		diag.Stripped = s
		if id, ok := e.lookup.Override(s); ok {
			diag.Rule = "forced-override"
			diag.Note = "matched after prefix strip"
			return types.CanonicalIdentifier{Token: id, Method: types.MethodSpecialMapping}, diag
		}
		if e.knownCode(s) {
			diag.Rule = "known-code"
			return types.CanonicalIdentifier{Token: s, Method: types.MethodPrefixStripped}, diag
		}
	}

	for _, r := range grammar {
		token, ok := r.apply(s)
		if !ok || token == "" {
			continue
		}
		diag.Rule = r.name
		id := types.CanonicalIdentifier{Token: token, Case: r.num}
		if isDigits(token) {
			if mapped, ok := e.lookup.Remap(token); ok {
				diag.Note = "numeric remap " + token
				id.Token = mapped
				id.Method = types.MethodSpecialMapping
				return id, diag
			}
		}
		id.Method = methodFor(token, normalized, stripped)
		return id, diag
	}

	if mapped, ok := e.lookup.Remap(s); ok {
		diag.Rule = "numeric-remap"
		return types.CanonicalIdentifier{Token: mapped, Method: types.MethodSpecialMapping}, diag
	}

	if e.titleFallback {
		if token, ok := lastIsland(normalizeKey(title)); ok {
			diag.Rule = "title-island"
			diag.Note = "identifier taken from title"
			return types.CanonicalIdentifier{Token: token, Method: types.MethodRegexCase, Case: 18}, diag
		}
	}

	diag.Note = "no rule matched"
	return types.CanonicalIdentifier{Token: normalized, Method: types.MethodUnresolved}, diag
}

func (e *Extractor) stripPrefix(s string) (string, bool) {
	for _, p := range e.prefixes {
		if strings.HasPrefix(s, p) {
			return strings.TrimSpace(s[len(p):]), true
		}
	}
	return s, false
}

// knownCode 數字 SKU 若有 remap 項目，remap 優先於目錄代碼
func (e *Extractor) knownCode(s string) bool {
	if !e.isKnown(s) {
		return false
	}
	if isDigits(s) {
		if _, ok := e.lookup.Remap(s); ok {
			return false
		}
	}
	return true
}

func (e *Extractor) isKnown(s string) bool {
	if e.known == nil {
		return false
	}
	_, ok := e.known[s]
	return ok
}

func methodFor(token, normalized string, stripped bool) types.ExtractionMethod {
	switch {
	case stripped:
		return types.MethodPrefixStripped
	case token == normalized:
		return types.MethodDirect
	default:
		return types.MethodRegexCase
	}
}
