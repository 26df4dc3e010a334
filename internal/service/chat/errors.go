package chat

import "errors"

// ErrorKind 发送错误分类
// 处理链路各环节产生的错误在管线边界统一收敛成 SendError
type ErrorKind string

const (
	ErrKindValidation   ErrorKind = "validation"
	ErrKindQuotaDenied  ErrorKind = "quota_denied"
	ErrKindQuotaCheck   ErrorKind = "quota_check"
	ErrKindConversation ErrorKind = "conversation"
	ErrKindTransport    ErrorKind = "transport"
	ErrKindProvider     ErrorKind = "provider"
)

// SendError 发送失败的统一错误形态
type SendError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *SendError) Unwrap() error { return e.Err }

func newSendError(kind ErrorKind, msg string, err error) *SendError {
	return &SendError{Kind: kind, Message: msg, Err: err}
}

// AsSendError 从错误链中提取 SendError
func AsSendError(err error) (*SendError, bool) {
	var se *SendError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
