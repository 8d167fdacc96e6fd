package xid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("sale")
	b := New("sale")

	assert.True(t, strings.HasPrefix(a, "sale-"))
	assert.NotEqual(t, a, b)
}
