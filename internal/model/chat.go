package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Sender 标识消息的发送方。
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// AnalysisState 记录用户消息的分析进度。
// 用户消息先以 unanalyzed 写入，分析完成后原地更新为 analyzed；AI 消息始终为 none。
type AnalysisState string

const (
	AnalysisUnanalyzed AnalysisState = "unanalyzed"
	AnalysisAnalyzed   AnalysisState = "analyzed"
	AnalysisNone       AnalysisState = "none"
)

// ChatSession 对应 'chat_sessions' 表。EndTime 非空后会话进入终态，不再接受新消息。
type ChatSession struct {
	ID                  string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID              string     `gorm:"type:varchar(36);index;not null" json:"user_id"`
	LearningSetID       string     `gorm:"type:varchar(36);index;not null" json:"learning_set_id"`
	StartTime           time.Time  `gorm:"precision:6;index;not null" json:"start_time"`
	EndTime             *time.Time `gorm:"precision:6" json:"end_time"`
	TotalMessages       int        `gorm:"not null;default:0" json:"total_messages"`
	GrammarCorrections  int        `gorm:"not null;default:0" json:"grammar_corrections"`
	VocabularyPracticed []string   `gorm:"type:text;serializer:json" json:"vocabulary_practiced"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

func (s *ChatSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Ended 表示会话是否已结束。
func (s *ChatSession) Ended() bool {
	return s.EndTime != nil
}

// ChatMessage 对应 'chat_messages' 表。同一会话内 Timestamp 严格递增。
type ChatMessage struct {
	ID             string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID      string            `gorm:"type:varchar(36);index:idx_chat_messages_session_ts,priority:1;not null" json:"session_id"`
	Content        string            `gorm:"type:text;not null" json:"content"`
	Sender         Sender            `gorm:"type:varchar(8);not null" json:"sender"`
	Timestamp      time.Time         `gorm:"precision:6;index:idx_chat_messages_session_ts,priority:2;not null" json:"timestamp"`
	Corrections    []Correction      `gorm:"type:text;serializer:json" json:"corrections"`
	VocabularyUsed []VocabularyUsage `gorm:"type:text;serializer:json" json:"vocabulary_used"`
	AnalysisState  AnalysisState     `gorm:"type:varchar(16);not null" json:"analysis_state"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Correction 是一条语法纠正。
type Correction struct {
	Original    string `json:"original"`
	Corrected   string `json:"corrected"`
	Explanation string `json:"explanation"`
	GrammarRule string `json:"grammar_rule,omitempty"`
	Severity    string `json:"severity,omitempty"`
	LearningTip string `json:"learning_tip,omitempty"`
}

// VocabularyUsage 描述学生对一个目标词汇的使用情况。
type VocabularyUsage struct {
	Word                  string `json:"word"`
	UsedCorrectly         bool   `json:"used_correctly"`
	Context               string `json:"context"`
	DefinitionMatch       bool   `json:"definition_match"`
	ImprovementSuggestion string `json:"improvement_suggestion,omitempty"`
}
