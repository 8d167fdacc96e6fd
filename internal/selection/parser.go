// Package selection decodes the display name of a composite product into its
// base product and the options the customer picked.
package selection

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/rules"
)

var (
	fromWrapper    = regexp.MustCompile(`(?i)^(.*?)\s*\(\s*from\s+(.+?)\s*\)\s*$`)
	withSplit      = regexp.MustCompile(`(?i)\s+with\s+`)
	clauseSplit    = regexp.MustCompile(`(?i)\s+and\s+|\s*[,&+/]\s*`)
	wrapperPartSep = regexp.MustCompile(`\s*\+\s*`)
)

type Parser struct {
	families  []rules.Family
	options   map[string]string
	spellings map[string][]string
	log       logrus.FieldLogger
}

func NewParser(r *rules.Rules, log logrus.FieldLogger) *Parser {
	if r == nil {
		r = rules.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Parser{
		families:  r.Families,
		options:   rules.SynonymIndex(r.Options),
		spellings: spellingPhrases(r.Options),
		log:       log.WithField("component", "selection"),
	}
}

// spellingPhrases lists, per canonical option, every spelling as a
// space-joined word sequence.
func spellingPhrases(table map[string][]string) map[string][]string {
	out := make(map[string][]string, len(table))
	for canonical, spellings := range table {
		seen := make(map[string]bool)
		for _, s := range append([]string{canonical}, spellings...) {
			phrase := words(s)
			if phrase == "" || seen[phrase] {
				continue
			}
			seen[phrase] = true
			out[canonical] = append(out[canonical], phrase)
		}
	}
	return out
}

// words normalizes s and keeps only letter/digit runs separated by a
// single space.
func words(s string) string {
	fields := strings.FieldsFunc(rules.Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// Parse never fails: unknown option tokens are dropped and reported.
func (p *Parser) Parse(displayName string) domain.ProductSelection {
	name := strings.TrimSpace(displayName)
	sel := domain.ProductSelection{VariantKind: domain.VariantStandard, SelectedOptions: []string{}}

	var wrapped []string
	if m := fromWrapper.FindStringSubmatch(name); m != nil {
		name = strings.TrimSpace(m[1])
		wrapped = wrapperPartSep.Split(strings.TrimSpace(m[2]), -1)
	}

	base, clause := name, ""
	if loc := withSplit.FindStringIndex(name); loc != nil {
		base = strings.TrimSpace(name[:loc[0]])
		clause = strings.TrimSpace(name[loc[1]:])
	} else if len(wrapped) > 1 {
		base = strings.TrimSpace(wrapped[0])
		clause = strings.Join(wrapped[1:], ", ")
	}
	if base == "" && len(wrapped) > 0 {
		base = strings.TrimSpace(wrapped[0])
	}
	sel.BaseName = base

	if family, ok := p.familyFor(base); ok {
		sel.IsComposite = true
		sel.VariantKind = domain.VariantKind(family.Kind)
	}

	seen := make(map[string]bool)
	for _, token := range tokenize(clause) {
		canonical, ok := p.CanonicalOption(token)
		if !ok {
			sel.DroppedTokens = append(sel.DroppedTokens, token)
			p.log.WithFields(logrus.Fields{
				"product": displayName,
				"token":   token,
			}).Warn("unknown selection token dropped")
			continue
		}
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		sel.SelectedOptions = append(sel.SelectedOptions, canonical)
	}
	if len(sel.SelectedOptions) > 0 {
		sel.IsComposite = true
	}
	return sel
}

// CanonicalOption maps a spelling to its canonical option name.
func (p *Parser) CanonicalOption(token string) (string, bool) {
	if canonical, ok := p.options[rules.Normalize(token)]; ok {
		return canonical, true
	}
	canonical, ok := p.options[rules.Squash(token)]
	return canonical, ok
}

// Selected reports whether a recipe ingredient corresponds to one of the
// customer's chosen options. Names that carry the option as whole words,
// such as "Tiramisu Sauce", count as well.
func (p *Parser) Selected(sel domain.ProductSelection, ingredientName string) bool {
	key := rules.Squash(ingredientName)
	if canonical, ok := p.CanonicalOption(ingredientName); ok {
		key = rules.Squash(canonical)
	}
	padded := " " + words(ingredientName) + " "
	for _, opt := range sel.SelectedOptions {
		if rules.Squash(opt) == key {
			return true
		}
		for _, phrase := range p.spellings[opt] {
			if strings.Contains(padded, " "+phrase+" ") {
				return true
			}
		}
	}
	return false
}

// Portion returns the portion rule for a parsed selection's variant.
func (p *Parser) Portion(kind domain.VariantKind) rules.Portion {
	for _, f := range p.families {
		if f.Kind == string(kind) {
			return f.Portion
		}
	}
	return rules.Portion{Mode: rules.PortionNominal}
}

func (p *Parser) familyFor(base string) (rules.Family, bool) {
	normalized := rules.Normalize(base)
	for _, f := range p.families {
		if strings.Contains(normalized, f.Pattern) {
			return f, true
		}
	}
	return rules.Family{}, false
}

func tokenize(clause string) []string {
	if strings.TrimSpace(clause) == "" {
		return nil
	}
	parts := clauseSplit.Split(clause, -1)
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			tokens = append(tokens, part)
		}
	}
	return tokens
}
