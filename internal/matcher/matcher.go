// Package matcher resolves free-text ingredient names and units to a store's
// inventory rows.
package matcher

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/rules"
)

type Match struct {
	Item   domain.InventoryStockItem
	Method domain.MatchMethod
	Score  float64
	// ConversionFactor converts a quantity in the recipe unit into the item's unit.
	ConversionFactor decimal.Decimal
}

type unitPair struct{ from, to string }

type Matcher struct {
	names       map[string]string
	unitAliases map[string]string
	conversions map[unitPair]decimal.Decimal
	threshold   float64
}

func New(r *rules.Rules) *Matcher {
	if r == nil {
		r = rules.Default()
	}
	m := &Matcher{
		names:       rules.SynonymIndex(r.Ingredients),
		unitAliases: make(map[string]string, len(r.Units.Aliases)),
		conversions: make(map[unitPair]decimal.Decimal, len(r.Units.Conversions)),
		threshold:   r.Matching.FuzzyThreshold,
	}
	for alias, unit := range r.Units.Aliases {
		m.unitAliases[rules.Normalize(alias)] = rules.Normalize(unit)
	}
	for _, c := range r.Units.Conversions {
		from, to := m.NormalizeUnit(c.From), m.NormalizeUnit(c.To)
		m.conversions[unitPair{from, to}] = decimal.NewFromFloat(c.Factor)
	}
	return m
}

func (m *Matcher) NormalizeUnit(unit string) string {
	u := rules.Normalize(unit)
	if alias, ok := m.unitAliases[u]; ok {
		return alias
	}
	return u
}

// Factor returns the multiplier converting a quantity in from-units to to-units.
func (m *Matcher) Factor(from, to string) (decimal.Decimal, bool) {
	from, to = m.NormalizeUnit(from), m.NormalizeUnit(to)
	if from == to {
		return decimal.NewFromInt(1), true
	}
	f, ok := m.conversions[unitPair{from, to}]
	return f, ok
}

// CanonicalName maps a name through the ingredient synonym table.
func (m *Matcher) CanonicalName(name string) string {
	n := rules.Normalize(name)
	if canonical, ok := m.names[n]; ok {
		return rules.Normalize(canonical)
	}
	return n
}

// Match tries exact, synonym, unit-converted and fuzzy matching in that order
// over the active candidates.
func (m *Matcher) Match(storeID, name, unit string, candidates []domain.InventoryStockItem) (Match, error) {
	wantName := rules.Normalize(name)
	wantCanonical := m.CanonicalName(name)
	wantUnit := m.NormalizeUnit(unit)
	one := decimal.NewFromInt(1)

	active := make([]domain.InventoryStockItem, 0, len(candidates))
	for _, c := range candidates {
		if c.Active && (storeID == "" || c.StoreID == storeID) {
			active = append(active, c)
		}
	}

	for _, c := range active {
		if rules.Normalize(c.ItemName) == wantName && m.NormalizeUnit(c.Unit) == wantUnit {
			return Match{Item: c, Method: domain.MatchExact, Score: 1, ConversionFactor: one}, nil
		}
	}
	for _, c := range active {
		if m.CanonicalName(c.ItemName) == wantCanonical && m.NormalizeUnit(c.Unit) == wantUnit {
			return Match{Item: c, Method: domain.MatchSynonym, Score: 1, ConversionFactor: one}, nil
		}
	}
	for _, c := range active {
		if m.CanonicalName(c.ItemName) != wantCanonical {
			continue
		}
		if factor, ok := m.Factor(wantUnit, c.Unit); ok {
			return Match{Item: c, Method: domain.MatchUnitConversion, Score: 1, ConversionFactor: factor}, nil
		}
	}

	var best Match
	found := false
	for _, c := range active {
		factor, ok := m.Factor(wantUnit, c.Unit)
		if !ok {
			continue
		}
		score := Similarity(wantCanonical, m.CanonicalName(c.ItemName))
		if score >= m.threshold && (!found || score > best.Score) {
			best = Match{Item: c, Method: domain.MatchFuzzy, Score: score, ConversionFactor: factor}
			found = true
		}
	}
	if found {
		return best, nil
	}
	return Match{}, &domain.MatchNotFoundError{StoreID: storeID, Name: name, Unit: unit}
}

// Similarity is 1 - editDistance/maxLen over runes.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
