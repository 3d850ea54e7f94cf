package service

import (
	"context"
	"errors"
	"fmt"
	"lingua-chat-go/internal/model"
	"lingua-chat-go/internal/repository"
	"lingua-chat-go/internal/tutor"
	"lingua-chat-go/pkg/log"
	"time"

	"gorm.io/gorm"
)

var (
	ErrSessionNotFound     = errors.New("chat session not found")
	ErrLearningSetNotFound = errors.New("learning set not found")
	ErrSessionAlreadyEnded = errors.New("chat session already ended")
	ErrTranscriptNotReady  = errors.New("transcript not available")
)

const (
	defaultMessagePage = 50
	defaultSessionPage = 20
	maxPageSize        = 100
)

// SessionRegistry 是会话生命周期对连接注册表的依赖。
type SessionRegistry interface {
	TerminateSession(ctx context.Context, sessionID string)
	SessionUsers(ctx context.Context, sessionID string) []string
}

// Transcript 是归档到对象存储的完整会话记录。
type Transcript struct {
	Session    model.ChatSession   `json:"session"`
	Messages   []model.ChatMessage `json:"messages"`
	ExportedAt time.Time           `json:"exported_at"`
}

// TranscriptArchive 保存并发布会话记录。
type TranscriptArchive interface {
	Save(ctx context.Context, t Transcript) error
	URL(ctx context.Context, userID, sessionID string) (string, error)
}

// SessionService 管理聊天会话的创建、查询与结束。
type SessionService interface {
	Create(ctx context.Context, userID, learningSetID string) (*model.ChatSession, error)
	Get(ctx context.Context, sessionID, userID string) (*model.ChatSession, error)
	ListMessages(ctx context.Context, sessionID, userID string, skip, limit int) ([]model.ChatMessage, error)
	End(ctx context.Context, sessionID, userID string) (*model.ChatSession, error)
	ListForUser(ctx context.Context, userID string, skip, limit int) ([]model.ChatSession, error)
	Starter(ctx context.Context, sessionID, userID string) (string, error)
	Analyze(ctx context.Context, sessionID, userID, text string) (tutor.AnalysisResult, error)
	Participants(ctx context.Context, sessionID, userID string) ([]string, error)
	TranscriptURL(ctx context.Context, sessionID, userID string) (string, error)
}

type sessionService struct {
	chatRepo        repository.ChatRepository
	learningSetRepo repository.LearningSetRepository
	registry        SessionRegistry
	engine          tutor.Engine
	archive         TranscriptArchive
}

// NewSessionService 创建会话服务。archive 为空时不归档会话记录。
func NewSessionService(chatRepo repository.ChatRepository, learningSetRepo repository.LearningSetRepository,
	registry SessionRegistry, engine tutor.Engine, archive TranscriptArchive) SessionService {
	return &sessionService{
		chatRepo:        chatRepo,
		learningSetRepo: learningSetRepo,
		registry:        registry,
		engine:          engine,
		archive:         archive,
	}
}

func (s *sessionService) Create(ctx context.Context, userID, learningSetID string) (*model.ChatSession, error) {
	exists, err := s.learningSetRepo.Exists(ctx, learningSetID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrLearningSetNotFound
	}

	session := &model.ChatSession{
		UserID:        userID,
		LearningSetID: learningSetID,
		StartTime:     time.Now().UTC(),
	}
	if err := s.chatRepo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Infow("chat session created", "session", session.ID, "user", userID, "learningSet", learningSetID)
	return session, nil
}

// Get 只返回属于该用户的会话，其他情况一律视为不存在。
func (s *sessionService) Get(ctx context.Context, sessionID, userID string) (*model.ChatSession, error) {
	session, err := s.chatRepo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func page(skip, limit, def int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = def
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return skip, limit
}

func (s *sessionService) ListMessages(ctx context.Context, sessionID, userID string, skip, limit int) ([]model.ChatMessage, error) {
	if _, err := s.Get(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	skip, limit = page(skip, limit, defaultMessagePage)
	return s.chatRepo.ListMessages(ctx, sessionID, skip, limit)
}

// End 结束会话并断开所有连接。并发调用时只有一个成功，其余返回 ErrSessionAlreadyEnded。
func (s *sessionService) End(ctx context.Context, sessionID, userID string) (*model.ChatSession, error) {
	session, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session.Ended() {
		return nil, ErrSessionAlreadyEnded
	}

	end := time.Now().UTC()
	ok, err := s.chatRepo.SetSessionEndTime(ctx, sessionID, end)
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	if !ok {
		return nil, ErrSessionAlreadyEnded
	}
	session.EndTime = &end

	s.registry.TerminateSession(ctx, sessionID)
	log.Infow("chat session ended", "session", sessionID, "user", userID)

	if s.archive != nil {
		go s.archiveTranscript(context.WithoutCancel(ctx), sessionID)
	}
	return session, nil
}

func (s *sessionService) archiveTranscript(ctx context.Context, sessionID string) {
	// 重新读取，拿到最终的计数
	session, err := s.chatRepo.GetSession(ctx, sessionID)
	if err != nil {
		log.Errorf("[SessionService] 归档时读取会话失败, session: %s, error: %v", sessionID, err)
		return
	}
	messages, err := s.chatRepo.GetMessageHistory(ctx, sessionID)
	if err != nil {
		log.Errorf("[SessionService] 归档时读取消息失败, session: %s, error: %v", sessionID, err)
		return
	}
	t := Transcript{Session: *session, Messages: messages, ExportedAt: time.Now().UTC()}
	if err := s.archive.Save(ctx, t); err != nil {
		log.Errorf("[SessionService] 归档会话记录失败, session: %s, error: %v", sessionID, err)
		return
	}
	log.Infof("[SessionService] 会话记录已归档, session: %s, messages: %d", sessionID, len(messages))
}

func (s *sessionService) ListForUser(ctx context.Context, userID string, skip, limit int) ([]model.ChatSession, error) {
	skip, limit = page(skip, limit, defaultSessionPage)
	return s.chatRepo.ListSessionsByUser(ctx, userID, skip, limit)
}

func (s *sessionService) learningSetFor(ctx context.Context, session *model.ChatSession) (*model.LearningSet, error) {
	set, err := s.learningSetRepo.FindByID(ctx, session.LearningSetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLearningSetNotFound
		}
		return nil, err
	}
	return set, nil
}

func (s *sessionService) Starter(ctx context.Context, sessionID, userID string) (string, error) {
	session, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return "", err
	}
	set, err := s.learningSetFor(ctx, session)
	if err != nil {
		return "", err
	}
	return s.engine.Starter(set), nil
}

// Analyze 按会话的学习集分析任意文本，不写入任何记录。
func (s *sessionService) Analyze(ctx context.Context, sessionID, userID, text string) (tutor.AnalysisResult, error) {
	session, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return tutor.AnalysisResult{}, err
	}
	set, err := s.learningSetFor(ctx, session)
	if err != nil {
		return tutor.AnalysisResult{}, err
	}
	return s.engine.Analyze(ctx, text, set), nil
}

func (s *sessionService) Participants(ctx context.Context, sessionID, userID string) ([]string, error) {
	if _, err := s.Get(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return s.registry.SessionUsers(ctx, sessionID), nil
}

// TranscriptURL 返回已结束会话记录的下载链接。会话未结束或尚未归档时返回 ErrTranscriptNotReady。
func (s *sessionService) TranscriptURL(ctx context.Context, sessionID, userID string) (string, error) {
	session, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return "", err
	}
	if !session.Ended() || s.archive == nil {
		return "", ErrTranscriptNotReady
	}
	return s.archive.URL(ctx, userID, sessionID)
}
