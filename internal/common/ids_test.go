package common

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	a, err := NewULID()
	require.NoError(t, err)
	b := MustULID()

	require.Len(t, a, 26)
	require.NotEqual(t, a, b)
	_, err = ulid.Parse(a)
	require.NoError(t, err)
}
