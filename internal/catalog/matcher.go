package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/titleattr"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

var (
	// ErrAmbiguous means several catalog entries fit equally well. The line
	// item is left unmatched; it never fails the job.
	ErrAmbiguous = errors.New("ambiguous catalog match")

	// ErrNoMatch means no catalog entry fits the identifier or the title.
	ErrNoMatch = errors.New("no catalog match")
)

// Template prefixes that select the service kind of a catalog row.
const (
	bootmatPrefix = "MS-"
	bootOnly      = "BM-"
)

// Matcher resolves canonical identifiers and title attributes against a
// Snapshot. It is safe for concurrent use.
type Matcher struct {
	snap *Snapshot
	now  func() time.Time
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithClock sets the clock used to expand "present" in year ranges.
func WithClock(now func() time.Time) MatcherOption {
	return func(m *Matcher) {
		m.now = now
	}
}

// NewMatcher returns a Matcher over snap.
func NewMatcher(snap *Snapshot, opts ...MatcherOption) *Matcher {
	m := &Matcher{snap: snap, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match picks at most one catalog entry. Ties are never broken arbitrarily:
// when more than one entry survives, the result has no entry and
// Candidates reports how many were left.
func (m *Matcher) Match(id types.CanonicalIdentifier, attrs types.TitleAttributes) types.MatchResult {
	if id.Token != "" {
		candidates := serviceFilter(m.snap.Lookup(id.Token), attrs.SpecialService)
		switch len(candidates) {
		case 0:
		case 1:
			tier := types.TierExact
			if id.Method == types.MethodSpecialMapping {
				tier = types.TierForced
			}
			return types.MatchResult{Entry: candidates[0], Tier: tier, Candidates: 1}
		default:
			return m.narrow(candidates, attrs)
		}
	}
	return m.byTitle(attrs)
}

// serviceFilter keeps MS- templates for bootmat listings and drops BM- and
// MS- templates for everything else.
func serviceFilter(entries []*types.CatalogEntry, bootmat bool) []*types.CatalogEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if allowed(e, bootmat) {
			out = append(out, e)
		}
	}
	return out
}

func allowed(e *types.CatalogEntry, bootmat bool) bool {
	tpl := strings.ToUpper(strings.TrimSpace(e.Identifier))
	if bootmat {
		return strings.HasPrefix(tpl, bootmatPrefix)
	}
	return !strings.HasPrefix(tpl, bootOnly) && !strings.HasPrefix(tpl, bootmatPrefix)
}

func (m *Matcher) narrow(candidates []*types.CatalogEntry, attrs types.TitleAttributes) types.MatchResult {
	survivors := candidates
	if attrs.Make != "" {
		survivors = keep(survivors, func(e *types.CatalogEntry) bool {
			return titleattr.NormalizeMake(e.Make) == attrs.Make
		})
	}
	if words := titleattr.ModelWords(attrs.Model); len(words) > 0 {
		survivors = keep(survivors, func(e *types.CatalogEntry) bool {
			return overlap(words, titleattr.ModelWords(e.Model)) > 0
		})
	}
	if attrs.YearRange != "" {
		now := m.now()
		survivors = keep(survivors, func(e *types.CatalogEntry) bool {
			return e.Year == "" || titleattr.YearsOverlap(attrs.YearRange, e.Year, now)
		})
	}

	if len(survivors) == 1 {
		return types.MatchResult{Entry: survivors[0], Tier: types.TierNarrowed, Candidates: len(candidates)}
	}
	return types.MatchResult{
		Tier:       types.TierNone,
		Candidates: len(candidates),
		Reason:     fmt.Sprintf("%d catalog entries share the identifier, %d left after narrowing", len(candidates), len(survivors)),
	}
}

func (m *Matcher) byTitle(attrs types.TitleAttributes) types.MatchResult {
	words := titleattr.ModelWords(attrs.Model)
	if attrs.Make == "" || len(words) == 0 {
		return types.MatchResult{Tier: types.TierNone, Reason: "identifier not in catalog and title has no vehicle"}
	}

	var (
		best      *types.CatalogEntry
		bestScore int
		tied      int
	)
	for _, e := range m.snap.ByMake(attrs.Make) {
		if !allowed(e, attrs.SpecialService) {
			continue
		}
		score := overlap(words, titleattr.ModelWords(e.Model))
		switch {
		case score > bestScore:
			best, bestScore, tied = e, score, 1
		case score == bestScore && score > 0:
			tied++
		}
	}

	switch {
	case best == nil:
		return types.MatchResult{Tier: types.TierNone, Reason: "no catalog model shares a word with the title"}
	case tied > 1:
		return types.MatchResult{Tier: types.TierNone, Candidates: tied, Reason: fmt.Sprintf("%d catalog models tie on the title", tied)}
	}
	if attrs.YearRange != "" && best.Year != "" && !titleattr.YearsOverlap(attrs.YearRange, best.Year, m.now()) {
		return types.MatchResult{Tier: types.TierNone, Candidates: 1, Reason: "title years do not overlap catalog years"}
	}
	return types.MatchResult{Entry: best, Tier: types.TierTitle, Candidates: 1}
}

// Err classifies an unmatched result: ErrAmbiguous when candidates were
// left over, ErrNoMatch otherwise. A matched result returns nil.
func Err(res types.MatchResult) error {
	switch {
	case res.Entry != nil:
		return nil
	case res.Candidates > 1:
		return fmt.Errorf("%w: %s", ErrAmbiguous, res.Reason)
	default:
		return fmt.Errorf("%w: %s", ErrNoMatch, res.Reason)
	}
}

func keep(entries []*types.CatalogEntry, pred func(*types.CatalogEntry) bool) []*types.CatalogEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

func overlap(a, b []string) int {
	set := make(map[string]struct{}, len(b))
	for _, w := range b {
		set[w] = struct{}{}
	}
	n := 0
	seen := make(map[string]struct{}, len(a))
	for _, w := range a {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := set[w]; ok {
			n++
		}
	}
	return n
}
