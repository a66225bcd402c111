package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateCodec(t *testing.T) {
	codec := NewStateCodec([]byte("a-session-secret-that-is-long-enough"))

	state, err := codec.Encode("user-1")
	require.NoError(t, err)

	userID, err := codec.Decode(state)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	t.Run("each state is unique", func(t *testing.T) {
		other, err := codec.Encode("user-1")
		require.NoError(t, err)
		assert.NotEqual(t, state, other)
	})

	t.Run("tampered", func(t *testing.T) {
		b := []byte(state)
		mid := len(b) / 2
		if b[mid] == 'A' {
			b[mid] = 'B'
		} else {
			b[mid] = 'A'
		}
		_, err := codec.Decode(string(b))
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("signed with another key", func(t *testing.T) {
		_, err := NewStateCodec([]byte("another-secret-entirely-0123456789")).Decode(state)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := codec.Decode("")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("raw user id is not accepted", func(t *testing.T) {
		_, err := codec.Decode(`{"userId":"user-1"}`)
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}
