package uuid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewIDIsTimeOrderedV7(t *testing.T) {
	t.Parallel()

	gen := New()
	prev, err := gen.NewID()
	require.NoError(t, err)
	assert.EqualValues(t, 7, prev.Version())

	for range 32 {
		next, err := gen.NewID()
		require.NoError(t, err)
		assert.NotEqual(t, prev, next)
		// v7 ids sort by creation time.
		assert.Less(t, prev.String(), next.String())
		prev = next
	}
}
