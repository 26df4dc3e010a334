package chat

import (
	"strings"
	"testing"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"空文本用默认标题", "   ", "New Chat"},
		{"取首行", "hello there\nsecond line", "hello there"},
		{"首尾空白去掉", "  trimmed  ", "trimmed"},
		{"超长按字符截断", strings.Repeat("甲", 60), strings.Repeat("甲", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveTitle(tt.in); got != tt.want {
				t.Errorf("deriveTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
