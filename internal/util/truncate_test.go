package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{"short", "short body", 64, "short body"},
		{"exact", "12345678901234567890", 20, "12345678901234567890"},
		{"long", "1234567890abcdefghij", 10, "1234567890... [truncated, 20 bytes total]"},
		{"empty", "", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.input, tt.max))
		})
	}
}

func TestErrorBody(t *testing.T) {
	assert.Equal(t, "error=invalid_grant", ErrorBody([]byte("error=invalid_grant")))

	long := strings.Repeat("x", 1000)
	got := ErrorBody([]byte(long))
	assert.True(t, strings.HasPrefix(got, long[:DefaultErrorBodyLen]))
	assert.True(t, strings.HasSuffix(got, "[truncated, 1000 bytes total]"))
}
