package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	for _, password := range []string{"validPass123", "x", "пароль-с-юникодом", strings.Repeat("a", 512)} {
		stored, err := HashPassword(password)
		require.NoError(t, err)
		assert.True(t, VerifyPassword(password, stored), "password %q should verify", password)
	}
}

func TestHashPassword_Format(t *testing.T) {
	stored, err := HashPassword("validPass123")
	require.NoError(t, err)

	parts := strings.Split(stored, "$")
	require.Len(t, parts, 2)
	// 16 byte salt and 32 byte digest, std base64 with padding.
	assert.Len(t, parts[0], 24)
	assert.Len(t, parts[1], 44)
}

func TestHashPassword_SaltedPerCall(t *testing.T) {
	first, err := HashPassword("validPass123")
	require.NoError(t, err)
	second, err := HashPassword("validPass123")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, VerifyPassword("validPass123", first))
	assert.True(t, VerifyPassword("validPass123", second))
}

func TestHashPassword_RejectsEmpty(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}

func TestVerifyPassword_WrongPassword(t *testing.T) {
	stored, err := HashPassword("validPass123")
	require.NoError(t, err)

	assert.False(t, VerifyPassword("validPass124", stored))
	assert.False(t, VerifyPassword("", stored))
}

func TestVerifyPassword_MalformedStored(t *testing.T) {
	stored, err := HashPassword("validPass123")
	require.NoError(t, err)
	parts := strings.Split(stored, "$")

	cases := map[string]string{
		"empty":           "",
		"no separator":    parts[0] + parts[1],
		"three parts":     stored + "$extra",
		"bad salt":        "!!!$" + parts[1],
		"bad digest":      parts[0] + "$!!!",
		"short digest":    parts[0] + "$" + parts[0],
		"empty salt":      "$" + parts[1],
		"bcrypt leftover": "$2a$12$abcdefghijklmnopqrstuv",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, VerifyPassword("validPass123", value))
			})
		})
	}
}
