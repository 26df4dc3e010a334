// Package extract 从上传文档中提取纯文本
// 供对话上下文拼接使用，所有结果统一截断
package extract

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxChars 单个文件提取文本的上限（字符数）
	MaxChars = 16000

	// TruncationMarker 超长截断时追加的固定标记
	TruncationMarker = "\n\n[truncated]"
)

// Truncate 将文本截断到 MaxChars 个字符，超出时追加固定标记
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxChars]) + TruncationMarker
}

// PlainText 读取纯文本/Markdown 内容
func PlainText(data []byte) (string, error) {
	// 非法 UTF-8 字节替换为 U+FFFD，避免污染后续 JSON 序列化
	s := strings.ToValidUTF8(string(data), string(utf8.RuneError))
	return Truncate(s), nil
}
