// Package categorize splits recipe ingredients into base, packaging and choice
// buckets. Group metadata on the ingredient always wins; keyword heuristics are
// a labelled fallback for ingredients that carry none.
package categorize

import (
	"strings"

	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/rules"
)

type Source string

const (
	SourceMetadata  Source = "metadata"
	SourceHeuristic Source = "heuristic"
)

// Strategy classifies a single ingredient.
type Strategy interface {
	Classify(ing domain.RecipeIngredient) (domain.IngredientGroup, Source)
}

type Categorized struct {
	Ingredient domain.RecipeIngredient
	Group      domain.IngredientGroup
	Source     Source
}

type Buckets struct {
	Base      []Categorized
	Packaging []Categorized
	Choice    []Categorized
}

// Mandatory returns base then packaging entries.
func (b Buckets) Mandatory() []Categorized {
	out := make([]Categorized, 0, len(b.Base)+len(b.Packaging))
	out = append(out, b.Base...)
	return append(out, b.Packaging...)
}

func (b Buckets) Len() int {
	return len(b.Base) + len(b.Packaging) + len(b.Choice)
}

type Categorizer struct {
	strategy Strategy
}

func New(strategy Strategy) *Categorizer {
	if strategy == nil {
		strategy = NewMetadataFirst(rules.Default(), nil)
	}
	return &Categorizer{strategy: strategy}
}

// Split places every ingredient in exactly one bucket, preserving recipe order.
func (c *Categorizer) Split(ingredients []domain.RecipeIngredient) Buckets {
	var b Buckets
	for _, ing := range ingredients {
		group, source := c.strategy.Classify(ing)
		entry := Categorized{Ingredient: ing, Group: group, Source: source}
		switch group.Kind {
		case domain.GroupPackaging:
			b.Packaging = append(b.Packaging, entry)
		case domain.GroupChoice:
			b.Choice = append(b.Choice, entry)
		default:
			entry.Group = domain.BaseGroup()
			b.Base = append(b.Base, entry)
		}
	}
	return b
}

// MetadataFirst trusts a recognised group name and otherwise asks Fallback.
type MetadataFirst struct {
	aliases  map[string]domain.GroupKind
	Fallback Strategy
}

func NewMetadataFirst(r *rules.Rules, fallback Strategy) *MetadataFirst {
	if r == nil {
		r = rules.Default()
	}
	if fallback == nil {
		fallback = NewKeywordHeuristic(r)
	}
	aliases := make(map[string]domain.GroupKind)
	for kind, names := range r.Groups {
		for _, n := range append([]string{kind}, names...) {
			aliases[rules.Squash(n)] = domain.GroupKind(kind)
		}
	}
	return &MetadataFirst{aliases: aliases, Fallback: fallback}
}

func (m *MetadataFirst) Classify(ing domain.RecipeIngredient) (domain.IngredientGroup, Source) {
	if kind, ok := m.GroupFromMetadata(ing.GroupName); ok {
		if kind == domain.GroupChoice {
			return domain.ChoiceGroup(ing.Optional), SourceMetadata
		}
		return domain.IngredientGroup{Kind: kind}, SourceMetadata
	}
	return m.Fallback.Classify(ing)
}

// GroupFromMetadata resolves a free-text group name; unknown names are not metadata.
func (m *MetadataFirst) GroupFromMetadata(groupName string) (domain.GroupKind, bool) {
	key := rules.Squash(groupName)
	if key == "" {
		return "", false
	}
	kind, ok := m.aliases[key]
	return kind, ok
}

// KeywordHeuristic guesses a group from the ingredient name.
type KeywordHeuristic struct {
	packaging []string
	choice    []string
}

func NewKeywordHeuristic(r *rules.Rules) *KeywordHeuristic {
	if r == nil {
		r = rules.Default()
	}
	norm := func(words []string) []string {
		out := make([]string, 0, len(words))
		for _, w := range words {
			if w = rules.Normalize(w); w != "" {
				out = append(out, w)
			}
		}
		return out
	}
	return &KeywordHeuristic{
		packaging: norm(r.Keywords["packaging"]),
		choice:    norm(r.Keywords["choice"]),
	}
}

func (k *KeywordHeuristic) Classify(ing domain.RecipeIngredient) (domain.IngredientGroup, Source) {
	name := rules.Normalize(ing.Name)
	if containsWord(name, k.packaging) {
		return domain.PackagingGroup(), SourceHeuristic
	}
	if ing.Optional || containsWord(name, k.choice) {
		return domain.ChoiceGroup(ing.Optional), SourceHeuristic
	}
	return domain.BaseGroup(), SourceHeuristic
}

func containsWord(name string, keywords []string) bool {
	padded := " " + name + " "
	for _, kw := range keywords {
		if strings.Contains(padded, " "+kw+" ") || strings.Contains(padded, " "+kw+"s ") {
			return true
		}
	}
	return false
}
