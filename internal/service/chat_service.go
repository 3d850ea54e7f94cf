// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"lingua-chat-go/internal/model"
	"lingua-chat-go/internal/repository"
	"lingua-chat-go/internal/tutor"
	"lingua-chat-go/pkg/events"
	"lingua-chat-go/pkg/llm"
	"lingua-chat-go/pkg/log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrLearningSetMissing 表示会话引用的学习集已不存在，连接应以内部错误关闭。
var ErrLearningSetMissing = errors.New("learning set for session is missing")

// Broadcaster 把信封发给会话内的所有连接。
type Broadcaster interface {
	Broadcast(ctx context.Context, sessionID string, envelope interface{}) error
}

// TurnPublisher 发布一轮对话完成的事件。
type TurnPublisher interface {
	PublishTurn(ctx context.Context, evt events.TurnEvent) error
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// HandleTurn 处理一条学生消息：持久化、分析、流式回复。ctx 随连接关闭而取消，
	// 已开始的持久化不受其影响。
	HandleTurn(ctx context.Context, session *model.ChatSession, user *model.User, content string) error
}

type chatService struct {
	chatRepo        repository.ChatRepository
	learningSetRepo repository.LearningSetRepository
	engine          tutor.Engine
	broadcaster     Broadcaster
	publisher       TurnPublisher
	fallbackReply   string
}

// NewChatService 创建一个新的 ChatService 实例。publisher 可以为空。
func NewChatService(chatRepo repository.ChatRepository, learningSetRepo repository.LearningSetRepository, engine tutor.Engine,
	broadcaster Broadcaster, publisher TurnPublisher, fallbackReply string) ChatService {
	return &chatService{
		chatRepo:        chatRepo,
		learningSetRepo: learningSetRepo,
		engine:          engine,
		broadcaster:     broadcaster,
		publisher:       publisher,
		fallbackReply:   fallbackReply,
	}
}

func (s *chatService) broadcast(ctx context.Context, sessionID string, envelope interface{}) {
	if err := s.broadcaster.Broadcast(ctx, sessionID, envelope); err != nil {
		log.Errorf("[ChatService] 广播失败, session: %s, error: %v", sessionID, err)
	}
}

func (s *chatService) HandleTurn(ctx context.Context, session *model.ChatSession, user *model.User, content string) error {
	// 一旦开始写入，这一轮必须完整落库，即使客户端已断开
	persistCtx := context.WithoutCancel(ctx)

	// 1. 持久化用户消息（未分析）并回显
	userMsg := &model.ChatMessage{
		SessionID:     session.ID,
		Content:       content,
		Sender:        model.SenderUser,
		Timestamp:     time.Now().UTC(),
		AnalysisState: model.AnalysisUnanalyzed,
	}
	if err := s.chatRepo.InsertMessage(persistCtx, userMsg); err != nil {
		return fmt.Errorf("save user message: %w", err)
	}
	s.broadcast(persistCtx, session.ID, model.NewMessageEnvelope(userMsg))

	// 2. 加载学习集与历史
	set, err := s.learningSetRepo.FindByID(persistCtx, session.LearningSetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLearningSetMissing
		}
		return fmt.Errorf("load learning set: %w", err)
	}
	all, err := s.chatRepo.GetMessageHistory(persistCtx, session.ID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	history := make([]model.ChatMessage, 0, len(all))
	for _, m := range all {
		if m.ID != userMsg.ID {
			history = append(history, m)
		}
	}

	// 3. 分析用户消息，结果原地更新后重新回显
	analysis := s.engine.Analyze(ctx, content, set)
	switch analysis.Outcome {
	case tutor.Success, tutor.Degraded:
		a := analysis.Analysis
		if err := s.chatRepo.UpdateMessageAnalysis(persistCtx, userMsg.ID, a.Corrections, a.VocabularyUsed); err != nil {
			log.Errorf("[ChatService] 保存分析结果失败, message: %s, error: %v", userMsg.ID, err)
		} else {
			userMsg.Corrections = a.Corrections
			userMsg.VocabularyUsed = a.VocabularyUsed
			userMsg.AnalysisState = model.AnalysisAnalyzed
		}
	default:
		log.Warnw("message analysis failed", "session", session.ID, "message", userMsg.ID, "error", analysis.Err)
	}
	s.broadcast(persistCtx, session.ID, model.NewMessageEnvelope(userMsg))

	// 4. 流式生成回复，所有片段共享同一个回复 ID
	responseID := uuid.NewString()
	s.broadcast(persistCtx, session.ID, model.TypingIndicator(true))
	reply := s.engine.StreamReply(ctx, tutor.ReplyRequest{
		Message:     content,
		LearningSet: set,
		History:     history,
	}, llm.ChunkWriterFunc(func(chunk string) error {
		s.broadcast(persistCtx, session.ID, model.StreamingChunk(responseID, chunk))
		return nil
	}))
	s.broadcast(persistCtx, session.ID, model.TypingIndicator(false))

	aiContent := reply.Content
	fallback := reply.Outcome != tutor.Success
	if fallback {
		log.Warnw("reply generation failed, sending fallback", "session", session.ID, "response", responseID, "error", reply.Err)
		aiContent = s.fallbackReply
	}

	// 5. 持久化 AI 消息并发送终止帧
	aiMsg := &model.ChatMessage{
		ID:            responseID,
		SessionID:     session.ID,
		Content:       aiContent,
		Sender:        model.SenderAI,
		Timestamp:     time.Now().UTC(),
		AnalysisState: model.AnalysisNone,
	}
	if err := s.chatRepo.InsertMessage(persistCtx, aiMsg); err != nil {
		return fmt.Errorf("save ai message: %w", err)
	}
	s.broadcast(persistCtx, session.ID, model.NewMessageEnvelope(aiMsg).Complete())

	// 6. 计数：每轮消息数 +2，纠错数按本轮纠正条数累加
	corrections := len(userMsg.Corrections)
	if err := s.chatRepo.IncrementSessionCounters(persistCtx, session.ID, 2, corrections); err != nil {
		log.Errorf("[ChatService] 更新会话计数失败, session: %s, error: %v", session.ID, err)
	}

	s.publishTurn(persistCtx, session, user, userMsg, aiMsg, fallback)
	return nil
}

func (s *chatService) publishTurn(ctx context.Context, session *model.ChatSession, user *model.User, userMsg, aiMsg *model.ChatMessage, fallback bool) {
	if s.publisher == nil {
		return
	}
	words := make([]string, 0, len(userMsg.VocabularyUsed))
	for _, v := range userMsg.VocabularyUsed {
		words = append(words, v.Word)
	}
	evt := events.TurnEvent{
		SessionID:       session.ID,
		UserID:          user.ID,
		LearningSetID:   session.LearningSetID,
		UserMessageID:   userMsg.ID,
		UserContent:     userMsg.Content,
		UserTimestamp:   userMsg.Timestamp,
		AIMessageID:     aiMsg.ID,
		AIContent:       aiMsg.Content,
		AITimestamp:     aiMsg.Timestamp,
		VocabularyWords: words,
		Corrections:     len(userMsg.Corrections),
		AIFallback:      fallback,
		OccurredAt:      time.Now().UTC(),
	}
	if err := s.publisher.PublishTurn(ctx, evt); err != nil {
		log.Warnw("failed to publish turn event", "session", session.ID, "error", err)
	}
}
