// Package tokencount 基于分词的 token 用量估算
// 模型响应缺少 usage 信息时用它回填 tokens_used
package tokencount

import (
	"sync"

	"github.com/go-ego/gse"
)

// Estimator 分词估算器
type Estimator struct {
	mu  sync.Mutex
	seg gse.Segmenter
}

// New 创建估算器，加载内置词典
func New() (*Estimator, error) {
	e := &Estimator{}
	if err := e.seg.LoadDict(); err != nil {
		return nil, err
	}
	return e, nil
}

// Count 估算文本的 token 数量
// 分词结果数是一个粗略但对中英文都稳定的估计
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seg.Cut(text, true))
}
