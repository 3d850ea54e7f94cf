package model

import "time"

// MessageDocument 是写入 Elasticsearch 的聊天消息文档。
type MessageDocument struct {
	MessageID     string    `json:"message_id"`
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	LearningSetID string    `json:"learning_set_id"`
	Sender        Sender    `json:"sender"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
}

// MessageSearchHit 是返回给前端的检索结果。
type MessageSearchHit struct {
	MessageDocument
	Score float64 `json:"score"`
}
