package model

import "time"

// 下行帧的 type 取值。普通消息回显不带 type。
const (
	EnvelopeTypingIndicator   = "typing_indicator"
	EnvelopeStreamingResponse = "streaming_response"
	EnvelopeCompleteMessage   = "complete_message"
	EnvelopeError             = "error"
	EnvelopePong              = "pong"
)

// MessageEnvelope 是一条已持久化消息的广播形式。
// 未分析的用户消息和 AI 消息的 corrections / vocabulary_used 为 null。
type MessageEnvelope struct {
	Type           string            `json:"type,omitempty"`
	ID             string            `json:"id"`
	Content        string            `json:"content"`
	Sender         Sender            `json:"sender"`
	Timestamp      time.Time         `json:"timestamp"`
	Corrections    []Correction      `json:"corrections"`
	VocabularyUsed []VocabularyUsage `json:"vocabulary_used"`
}

// NewMessageEnvelope 由消息实体构造回显帧。
func NewMessageEnvelope(m *ChatMessage) MessageEnvelope {
	env := MessageEnvelope{
		ID:        m.ID,
		Content:   m.Content,
		Sender:    m.Sender,
		Timestamp: m.Timestamp,
	}
	if m.AnalysisState == AnalysisAnalyzed {
		env.Corrections = m.Corrections
		env.VocabularyUsed = m.VocabularyUsed
		if env.Corrections == nil {
			env.Corrections = []Correction{}
		}
		if env.VocabularyUsed == nil {
			env.VocabularyUsed = []VocabularyUsage{}
		}
	}
	return env
}

// Complete 返回标记为 complete_message 的副本，用于一轮回复的终止帧。
func (e MessageEnvelope) Complete() MessageEnvelope {
	e.Type = EnvelopeCompleteMessage
	return e
}

// TypingEnvelope 是 AI 输入状态指示。
type TypingEnvelope struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
	Sender   Sender `json:"sender"`
}

func TypingIndicator(typing bool) TypingEnvelope {
	return TypingEnvelope{Type: EnvelopeTypingIndicator, IsTyping: typing, Sender: SenderAI}
}

// ChunkEnvelope 是流式回复的一个片段，同一轮的所有片段共享 ID。
type ChunkEnvelope struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Chunk  string `json:"chunk"`
	Sender Sender `json:"sender"`
}

func StreamingChunk(responseID, chunk string) ChunkEnvelope {
	return ChunkEnvelope{Type: EnvelopeStreamingResponse, ID: responseID, Chunk: chunk, Sender: SenderAI}
}

// ErrorEnvelope 只发给触发错误的连接。
type ErrorEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func ErrorReply(message string) ErrorEnvelope {
	return ErrorEnvelope{Type: EnvelopeError, Message: message}
}

// ControlEnvelope 用于 pong 等控制帧。
type ControlEnvelope struct {
	Type string `json:"type"`
}

func Pong() ControlEnvelope {
	return ControlEnvelope{Type: EnvelopePong}
}
