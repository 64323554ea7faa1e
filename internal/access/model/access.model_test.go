package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromList(t *testing.T) {
	set := FromList([]string{PermRead, "bogus"})
	assert.Len(t, set, len(AllPerms))
	assert.True(t, set[PermRead])
	assert.False(t, set[PermWrite])
	_, ok := set["bogus"]
	assert.False(t, ok)
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid(PermChangePerm))
	assert.False(t, IsValid("admin"))
}
