package sources

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	t.Parallel()

	for _, slug := range []string{"boe", "dogc"} {
		builder, err := Lookup(slug)
		require.NoError(t, err)
		require.NotNil(t, builder)
	}

	_, err := Lookup("borme")
	require.ErrorIs(t, err, ErrUnknownSource)
}

func TestSlugs(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"boe", "dogc"}, Slugs())
}
