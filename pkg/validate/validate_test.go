package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/authapp/iamcore/pkg/validate"
)

func TestIsEmail(t *testing.T) {
	assert.True(t, validate.IsEmail("gigi@caea.ch"))
	assert.True(t, validate.IsEmail("first.last+tag@sub.example.com"))
	assert.False(t, validate.IsEmail("gigi@"))
	assert.False(t, validate.IsEmail("@caea.ch"))
	assert.False(t, validate.IsEmail("no-at-sign"))
	assert.False(t, validate.IsEmail(""))
}

func TestIsPrintableID(t *testing.T) {
	assert.True(t, validate.IsPrintableID("173628371928371"))
	assert.True(t, validate.IsPrintableID("user-aG8df"))
	assert.False(t, validate.IsPrintableID(""))
	assert.False(t, validate.IsPrintableID("line\nbreak"))
	assert.False(t, validate.IsPrintableID(string(make([]byte, 201))))
}

func TestNotEmpty(t *testing.T) {
	assert.True(t, validate.NotEmpty("x"))
	assert.False(t, validate.NotEmpty("   "))
	assert.False(t, validate.NotEmpty(""))
}
