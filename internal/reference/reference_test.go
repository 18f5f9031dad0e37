package reference

import (
	"regexp"
	"testing"

	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceFormat(t *testing.T) {
	g := New()
	pattern := regexp.MustCompile(`^TRF-[0-9A-F]{12}$`)

	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		ref := g.Reference(domain.RefPrefixTransfer)
		require.Regexp(t, pattern, ref)
		_, dup := seen[ref]
		require.False(t, dup, "reference collided: %s", ref)
		seen[ref] = struct{}{}
	}
}

func TestTokenFormat(t *testing.T) {
	g := New()
	pattern := regexp.MustCompile(`^[1-9][0-9]{7}$`)
	for i := 0; i < 1000; i++ {
		require.Regexp(t, pattern, g.Token())
	}
}

func TestSeededDeterminism(t *testing.T) {
	a := NewSeeded(42)
	b := NewSeeded(42)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Reference(domain.RefPrefixCashOut), b.Reference(domain.RefPrefixCashOut))
		assert.Equal(t, a.Token(), b.Token())
	}
}
