package chat

// State 发送管线阶段，按序推进，任意阶段可进入 StateErrored
type State string

const (
	StateIdle                  State = "idle"
	StateQuotaCheck            State = "quota_check"
	StateResolvingConversation State = "resolving_conversation"
	StatePersistingUserMessage State = "persisting_user_message"
	StatePersistingAttachments State = "persisting_attachments"
	StateCreatingPlaceholder   State = "creating_placeholder"
	StateStreaming             State = "streaming"
	StateFinalized             State = "finalized"
	StateErrored               State = "errored"
)
