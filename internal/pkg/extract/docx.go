package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fumiama/go-docx"
)

// DOCXText 提取 .docx 文档正文的文本
func DOCXText(data []byte) (string, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse docx: %w", err)
	}

	var sb strings.Builder
	for _, item := range doc.Document.Body.Items {
		switch block := item.(type) {
		case *docx.Paragraph:
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(block.String())
		case *docx.Table:
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(block.String())
		}
	}

	return Truncate(sb.String()), nil
}
