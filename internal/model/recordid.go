package model

import (
	"pomelo/internal/pkg/id"
)

// RecordID 会话标识，区分临时 ID 与落库 ID
// 会话创建请求在途时前端先拿到临时 ID，落库后统一换成持久 ID
type RecordID struct {
	value   string
	durable bool
}

// NewProvisionalID 生成一个未落库的临时会话 ID
func NewProvisionalID() RecordID {
	return RecordID{value: id.New(), durable: false}
}

// DurableID 包装一个已落库的会话 ID
func DurableID(v string) RecordID {
	return RecordID{value: v, durable: true}
}

// IsDurable 是否已落库
func (r RecordID) IsDurable() bool { return r.durable }

// IsZero 是否为空标识
func (r RecordID) IsZero() bool { return r.value == "" }

// String 返回底层 ID 字符串
func (r RecordID) String() string { return r.value }

// Equal 比较两个标识是否指向同一记录
func (r RecordID) Equal(o RecordID) bool {
	return r.value == o.value && r.durable == o.durable
}
