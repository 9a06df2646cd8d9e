package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticToken(t *testing.T) {
	t.Parallel()

	tok := StaticToken("s3cret")
	assert.True(t, tok.Enabled())
	assert.True(t, tok.Valid("s3cret"))
	assert.False(t, tok.Valid("s3cre"))
	assert.False(t, tok.Valid(""))

	var open StaticToken
	assert.False(t, open.Enabled())
	assert.True(t, open.Valid("anything"))
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer   ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := BearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}
