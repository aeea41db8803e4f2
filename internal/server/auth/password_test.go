package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher_HashAndCompare(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("secret")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$2a$"))
	require.NotContains(t, hash, "secret")

	ok, err := h.Compare(hash, "secret")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Compare(hash, "Secret")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBcryptHasher_Salted(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestBcryptHasher_CorruptHash(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	ok, err := h.Compare("not-a-bcrypt-hash", "secret")
	require.Error(t, err)
	require.False(t, ok)
}

func TestNewBcryptHasher_ClampsCost(t *testing.T) {
	require.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).cost)
	require.Equal(t, bcrypt.MaxCost, NewBcryptHasher(99).cost)
	require.Equal(t, 12, NewBcryptHasher(12).cost)
}

func TestBcryptHasher_LongPasswords(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	long := strings.Repeat("p", 80)

	hash, err := h.Hash(long)
	require.NoError(t, err)

	ok, err := h.Compare(hash, long)
	require.NoError(t, err)
	require.True(t, ok)

	// differs only past bcrypt's 72-byte window
	ok, err = h.Compare(hash, strings.Repeat("p", 79)+"q")
	require.NoError(t, err)
	require.False(t, ok)
}
