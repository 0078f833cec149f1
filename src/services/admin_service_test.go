package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminService_Authenticate(t *testing.T) {
	as, err := NewAdminService("admin", "correct-horse")
	require.NoError(t, err)
	assert.True(t, as.Enabled())

	assert.NoError(t, as.Authenticate("admin", "correct-horse"))
	assert.ErrorIs(t, as.Authenticate("admin", "wrong-pass"), ErrInvalidCredentials)
	assert.ErrorIs(t, as.Authenticate("root", "correct-horse"), ErrInvalidCredentials)
}

func TestAdminService_Disabled(t *testing.T) {
	as, err := NewAdminService("admin", "")
	require.NoError(t, err)
	assert.False(t, as.Enabled())
	assert.ErrorIs(t, as.Authenticate("admin", ""), ErrInvalidCredentials)
}

func TestAdminService_ShortPassword(t *testing.T) {
	_, err := NewAdminService("admin", "short")
	assert.Error(t, err)
}
