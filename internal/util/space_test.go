package util

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
)

func TestPadRight(t *testing.T) {
	tests := []struct {
		name     string
		str      string
		width    int
		expected string
	}{
		{"Empty string", "", 5, "     "},
		{"Short string", "abc", 10, "abc       "},
		{"Exact width", "hello", 5, "hello"},
		{"String too long", "this is a very long string", 10, "this is..."},
		{"String slightly too long", "hello world", 10, "hello w..."},
		{"Chinese characters", "你好", 8, "你好    "},
		{"Mixed characters", "hello世界", 12, "hello世界   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PadRight(tt.str, tt.width))
		})
	}
}

func TestPadRightKeepsColumnsAligned(t *testing.T) {
	for _, name := range []string{"a.txt", "报告.pdf", strings.Repeat("long-name-", 5) + ".bin"} {
		assert.Equal(t, 24, runewidth.StringWidth(PadRight(name, 24)), name)
	}
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "-", ShortHash(""))
	assert.Equal(t, "abc", ShortHash("abc"))
	assert.Equal(t, "0123456789ab", ShortHash("0123456789abcdef0123"))
}
