// Package rules holds the lookup tables shared by selection parsing,
// ingredient categorization and inventory matching. Tables ship embedded and
// can be replaced by a YAML file of the same shape.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRules []byte

type PortionMode string

const (
	PortionNominal PortionMode = "nominal"
	PortionFixed   PortionMode = "fixed"
	PortionFactor  PortionMode = "factor"
)

type Portion struct {
	Mode  PortionMode `yaml:"mode"`
	Value float64     `yaml:"value"`
}

// Apply returns the per-unit quantity of a selected choice ingredient.
func (p Portion) Apply(nominal decimal.Decimal) decimal.Decimal {
	switch p.Mode {
	case PortionFixed:
		return decimal.NewFromFloat(p.Value)
	case PortionFactor:
		return nominal.Mul(decimal.NewFromFloat(p.Value))
	default:
		return nominal
	}
}

type Family struct {
	Pattern string  `yaml:"pattern"`
	Kind    string  `yaml:"kind"`
	Portion Portion `yaml:"portion"`
}

type Conversion struct {
	From   string  `yaml:"from"`
	To     string  `yaml:"to"`
	Factor float64 `yaml:"factor"`
}

type Rules struct {
	Options     map[string][]string `yaml:"options"`
	Families    []Family            `yaml:"families"`
	Groups      map[string][]string `yaml:"groups"`
	Keywords    map[string][]string `yaml:"keywords"`
	Ingredients map[string][]string `yaml:"ingredients"`
	Units       struct {
		Aliases     map[string]string `yaml:"aliases"`
		Conversions []Conversion      `yaml:"conversions"`
	} `yaml:"units"`
	Matching struct {
		FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
	} `yaml:"matching"`
}

// Default returns the embedded rule set.
func Default() *Rules {
	r, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded rules are invalid: %v", err))
	}
	return r
}

// Load reads rules from path, or the embedded defaults when path is empty.
func Load(path string) (*Rules, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	for i, f := range r.Families {
		if strings.TrimSpace(f.Pattern) == "" || strings.TrimSpace(f.Kind) == "" {
			return nil, fmt.Errorf("family %d: pattern and kind are required", i)
		}
		switch f.Portion.Mode {
		case "":
			r.Families[i].Portion.Mode = PortionNominal
		case PortionNominal, PortionFixed, PortionFactor:
		default:
			return nil, fmt.Errorf("family %s: unknown portion mode %q", f.Kind, f.Portion.Mode)
		}
		r.Families[i].Pattern = Normalize(f.Pattern)
	}
	// Longest pattern first so "mini croffle overload" style names pick the most specific family.
	sort.SliceStable(r.Families, func(i, j int) bool {
		return len(r.Families[i].Pattern) > len(r.Families[j].Pattern)
	})
	if r.Matching.FuzzyThreshold <= 0 || r.Matching.FuzzyThreshold > 1 {
		r.Matching.FuzzyThreshold = 0.8
	}
	return &r, nil
}

// SynonymIndex maps every normalized spelling (including the canonical name
// itself) to its canonical name.
func SynonymIndex(table map[string][]string) map[string]string {
	index := make(map[string]string, len(table)*3)
	for canonical, spellings := range table {
		index[Normalize(canonical)] = canonical
		index[Squash(canonical)] = canonical
		for _, s := range spellings {
			index[Normalize(s)] = canonical
		}
	}
	return index
}
