package rules

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRulesOrderFamiliesBySpecificity(t *testing.T) {
	r := Default()

	require.NotEmpty(t, r.Families)
	for i := 1; i < len(r.Families); i++ {
		assert.GreaterOrEqual(t, len(r.Families[i-1].Pattern), len(r.Families[i].Pattern))
	}
	assert.InDelta(t, 0.8, r.Matching.FuzzyThreshold, 1e-9)
}

func TestPortionApply(t *testing.T) {
	nominal := decimal.NewFromInt(3)

	assert.True(t, Portion{Mode: PortionFixed, Value: 1}.Apply(nominal).Equal(decimal.NewFromInt(1)))
	assert.True(t, Portion{Mode: PortionFactor, Value: 0.5}.Apply(nominal).Equal(decimal.RequireFromString("1.5")))
	assert.True(t, Portion{Mode: PortionNominal}.Apply(nominal).Equal(nominal))
}

func TestParseRejectsUnknownPortionMode(t *testing.T) {
	_, err := Parse([]byte("families:\n  - pattern: x\n    kind: y\n    portion:\n      mode: double\n"))
	assert.Error(t, err)
}

func TestNormalizeFoldsAccentsAndSpacing(t *testing.T) {
	assert.Equal(t, "creme brulee", Normalize("  Crème   Brûlée "))
	assert.Equal(t, "chocoflakes", Squash("Choco-Flakes"))
}

func TestSynonymIndexIncludesCanonicalForms(t *testing.T) {
	index := SynonymIndex(map[string][]string{"ChocoFlakes": {"chocolate flakes"}})

	assert.Equal(t, "ChocoFlakes", index["chocolate flakes"])
	assert.Equal(t, "ChocoFlakes", index["chocoflakes"])
}
