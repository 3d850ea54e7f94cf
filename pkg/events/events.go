// Package events defines the structure for chat events that are sent to Kafka.
package events

import "time"

// TurnEvent 描述一轮完成的对话：学生消息与对应的导师回复。
type TurnEvent struct {
	SessionID     string `json:"session_id"`
	UserID        string `json:"user_id"`
	LearningSetID string `json:"learning_set_id"`

	UserMessageID   string    `json:"user_message_id"`
	UserContent     string    `json:"user_content"`
	UserTimestamp   time.Time `json:"user_timestamp"`
	AIMessageID     string    `json:"ai_message_id"`
	AIContent       string    `json:"ai_content"`
	AITimestamp     time.Time `json:"ai_timestamp"`
	VocabularyWords []string  `json:"vocabulary_words,omitempty"`
	Corrections     int       `json:"corrections"`
	// AIFallback 为 true 表示回复是生成失败后的固定致歉。
	AIFallback bool      `json:"ai_fallback"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Key 用作 Kafka 消息键，保证同一会话的事件落在同一分区。
func (e TurnEvent) Key() string {
	return e.SessionID
}
