package password_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/pkg/password"
)

func TestHashAndCompare(t *testing.T) {
	hash, err := password.Hash("correct horse battery staple", password.WithCost(password.MinCost))
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	assert.NoError(t, password.Compare(hash, "correct horse battery staple"))
	assert.Error(t, password.Compare(hash, "wrong horse"))
}

func TestHashRejectsBadInput(t *testing.T) {
	_, err := password.Hash("")
	assert.Error(t, err)

	_, err = password.Hash(strings.Repeat("a", password.MaxPasswordLength+1))
	assert.Error(t, err)
}

func TestCompareRejectsEmptyArguments(t *testing.T) {
	assert.Error(t, password.Compare("", "secret"))
	assert.Error(t, password.Compare("$2a$04$abcdefghijklmnopqrstuv", ""))
}

func TestValidateStrength(t *testing.T) {
	assert.NoError(t, password.ValidateStrength("correct horse battery staple"))
	assert.Error(t, password.ValidateStrength("12345678"))
	assert.Error(t, password.ValidateStrength("password"))
}
