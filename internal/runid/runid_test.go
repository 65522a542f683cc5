package runid

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorProducesOrderedV7(t *testing.T) {
	t.Parallel()

	g := New()
	first, err := g.NewID()
	require.NoError(t, err)
	second, err := g.NewID()
	require.NoError(t, err)

	parsed, err := uuid.Parse(first)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), parsed.Version())
	require.NotEqual(t, first, second)
	require.Less(t, first, second)
}

func TestSequence(t *testing.T) {
	t.Parallel()

	s := &Sequence{IDs: []string{"run-a"}}
	id, err := s.NewID()
	require.NoError(t, err)
	require.Equal(t, "run-a", id)
	id, err = s.NewID()
	require.NoError(t, err)
	require.Equal(t, "id-2", id)
}
