package models

// TypingSignal is the value stored under a (topic, actor) presence key.
type TypingSignal struct {
	ActorID   string `json:"actor_id"`
	IsTyping  bool   `json:"is_typing"`
	Timestamp int64  `json:"ts"` // Unix ms
}
