// ============================================================================
// Catalog Snapshot - 目錄快照
// ============================================================================
//
// Package: internal/catalog
// 文件: snapshot.go
// 功能: 一次對帳作業使用的唯讀目錄快照
//
// 索引:
//   - byID:   正規化代碼（移除空白與連字號、轉大寫）-> 列索引
//   - byMake: 正規化品牌 -> 列索引（標題回退比對使用）
//
// 併發安全: 建立後不可變，可被多個 goroutine 同時讀取
//
// ============================================================================

package catalog

import (
	"strings"
	"unicode"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/titleattr"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// Snapshot is an immutable, indexed copy of the reference catalog.
type Snapshot struct {
	entries []types.CatalogEntry
	byID    map[string][]int
	byMake  map[string][]int
}

// NewSnapshot copies entries and builds the lookup indexes. Rows with an
// empty identifier are dropped.
func NewSnapshot(entries []types.CatalogEntry) *Snapshot {
	s := &Snapshot{
		entries: make([]types.CatalogEntry, 0, len(entries)),
		byID:    make(map[string][]int, len(entries)),
		byMake:  make(map[string][]int),
	}
	for _, e := range entries {
		key := NormalizeIdentifier(e.Identifier)
		if key == "" {
			continue
		}
		idx := len(s.entries)
		s.entries = append(s.entries, e)
		s.byID[key] = append(s.byID[key], idx)
		if mk := titleattr.NormalizeMake(e.Make); mk != "" {
			s.byMake[mk] = append(s.byMake[mk], idx)
		}
	}
	return s
}

// NormalizeIdentifier removes whitespace and hyphens and upper-cases the rest,
// so "MS-123 AB" and "ms123ab" compare equal.
func NormalizeIdentifier(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r == '-' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Entries returns a copy of all entries in load order.
func (s *Snapshot) Entries() []types.CatalogEntry {
	return append([]types.CatalogEntry(nil), s.entries...)
}

// Lookup returns the entries whose normalized identifier equals id's.
func (s *Snapshot) Lookup(id string) []*types.CatalogEntry {
	return s.pick(s.byID[NormalizeIdentifier(id)])
}

// ByMake returns the entries of a make, compared after NormalizeMake.
func (s *Snapshot) ByMake(mk string) []*types.CatalogEntry {
	return s.pick(s.byMake[titleattr.NormalizeMake(mk)])
}

func (s *Snapshot) pick(idx []int) []*types.CatalogEntry {
	if len(idx) == 0 {
		return nil
	}
	out := make([]*types.CatalogEntry, len(idx))
	for i, n := range idx {
		out[i] = &s.entries[n]
	}
	return out
}

// Codes lists every distinct identifier in its upper-cased catalog spelling.
// The extractor uses it for its known-code fast path.
func (s *Snapshot) Codes() []string {
	seen := make(map[string]struct{}, len(s.entries))
	codes := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		c := strings.ToUpper(strings.TrimSpace(e.Identifier))
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		codes = append(codes, c)
	}
	return codes
}

// ForcedOverrides turns the ForcedMatchSKU column into extractor overrides.
// The first row naming a SKU wins.
func (s *Snapshot) ForcedOverrides() []types.ForcedMatchOverride {
	var out []types.ForcedMatchOverride
	seen := make(map[string]struct{})
	for _, e := range s.entries {
		sku := strings.ToUpper(strings.TrimSpace(e.ForcedSKU))
		if sku == "" {
			continue
		}
		if _, ok := seen[sku]; ok {
			continue
		}
		seen[sku] = struct{}{}
		out = append(out, types.ForcedMatchOverride{Pattern: sku, Identifier: strings.TrimSpace(e.Identifier)})
	}
	return out
}
