package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidAccountNumber(t *testing.T) {
	assert.True(t, ValidAccountNumber("0000000000000000"))
	assert.True(t, ValidAccountNumber("1234567890123456"))

	for _, bad := range []string{"", "123", "00000000000000000", "000000000000000a", "0000 00000000000", "００００００００００００００００"} {
		assert.False(t, ValidAccountNumber(bad), bad)
	}
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("ROOT").Valid())
	assert.False(t, Role("").Valid())
}
