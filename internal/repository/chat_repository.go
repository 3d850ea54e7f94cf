package repository

import (
	"context"
	"errors"
	"lingua-chat-go/internal/model"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSessionEnded 表示会话已结束，不能再追加消息。
var ErrSessionEnded = errors.New("chat session has ended")

// ChatRepository 定义了聊天会话与消息的持久化操作。
type ChatRepository interface {
	CreateSession(ctx context.Context, session *model.ChatSession) error
	// GetSession 不存在时返回 gorm.ErrRecordNotFound。
	GetSession(ctx context.Context, sessionID string) (*model.ChatSession, error)
	// ListSessionsByUser 按开始时间倒序分页。
	ListSessionsByUser(ctx context.Context, userID string, offset, limit int) ([]model.ChatSession, error)
	// SetSessionEndTime 仅在会话尚未结束时写入结束时间，返回是否由本次调用结束。
	SetSessionEndTime(ctx context.Context, sessionID string, end time.Time) (bool, error)
	// IncrementSessionCounters 原子地累加消息数与语法纠正数。
	IncrementSessionCounters(ctx context.Context, sessionID string, messages, corrections int) error
	// MergeVocabularyPracticed 将新练习到的词汇去重并入会话汇总。
	MergeVocabularyPracticed(ctx context.Context, sessionID string, words []string) error

	// InsertMessage 追加一条消息。会话已结束时返回 ErrSessionEnded；
	// 时间戳不晚于会话最后一条消息时顺延 1 微秒。
	InsertMessage(ctx context.Context, msg *model.ChatMessage) error
	// UpdateMessageAnalysis 写入分析结果并将消息标记为 analyzed。
	UpdateMessageAnalysis(ctx context.Context, messageID string, corrections []model.Correction, vocabulary []model.VocabularyUsage) error
	// GetMessageHistory 按时间正序返回会话全部消息。
	GetMessageHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	// ListMessages 取最新的一页消息，并按时间正序返回。
	ListMessages(ctx context.Context, sessionID string, offset, limit int) ([]model.ChatMessage, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) CreateSession(ctx context.Context, session *model.ChatSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *chatRepository) GetSession(ctx context.Context, sessionID string) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *chatRepository) ListSessionsByUser(ctx context.Context, userID string, offset, limit int) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_time desc").
		Offset(offset).
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

func (r *chatRepository) SetSessionEndTime(ctx context.Context, sessionID string, end time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Where("id = ? AND end_time IS NULL", sessionID).
		Update("end_time", end)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *chatRepository) IncrementSessionCounters(ctx context.Context, sessionID string, messages, corrections int) error {
	return r.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"total_messages":      gorm.Expr("total_messages + ?", messages),
			"grammar_corrections": gorm.Expr("grammar_corrections + ?", corrections),
		}).Error
}

func (r *chatRepository) MergeVocabularyPracticed(ctx context.Context, sessionID string, words []string) error {
	if len(words) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.ChatSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "vocabulary_practiced").
			Where("id = ?", sessionID).
			First(&session).Error
		if err != nil {
			return err
		}

		merged := mergeWords(session.VocabularyPracticed, words)
		if len(merged) == len(session.VocabularyPracticed) {
			return nil
		}
		return tx.Model(&model.ChatSession{}).
			Where("id = ?", sessionID).
			Select("vocabulary_practiced").
			Updates(&model.ChatSession{VocabularyPracticed: merged}).Error
	})
}

// mergeWords 保持已有顺序，按小写去重追加。
func mergeWords(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, w := range existing {
		seen[normalizeWord(w)] = struct{}{}
		out = append(out, w)
	}
	for _, w := range incoming {
		key := normalizeWord(w)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, w)
	}
	return out
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}

func (r *chatRepository) InsertMessage(ctx context.Context, msg *model.ChatMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁住会话行，与结束会话的条件更新互斥
		var session model.ChatSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "end_time").
			Where("id = ?", msg.SessionID).
			First(&session).Error
		if err != nil {
			return err
		}
		if session.Ended() {
			return ErrSessionEnded
		}

		var last model.ChatMessage
		err = tx.Select("id", "timestamp").
			Where("session_id = ?", msg.SessionID).
			Order("timestamp desc").
			Limit(1).
			Find(&last).Error
		if err != nil {
			return err
		}
		// 列精度为微秒，先截断再比较，保证入库值与内存中一致
		msg.Timestamp = msg.Timestamp.Truncate(time.Microsecond)
		if last.ID != "" && !msg.Timestamp.After(last.Timestamp) {
			msg.Timestamp = last.Timestamp.Add(time.Microsecond)
		}

		return tx.Create(msg).Error
	})
}

func (r *chatRepository) UpdateMessageAnalysis(ctx context.Context, messageID string, corrections []model.Correction, vocabulary []model.VocabularyUsage) error {
	if corrections == nil {
		corrections = []model.Correction{}
	}
	if vocabulary == nil {
		vocabulary = []model.VocabularyUsage{}
	}
	return r.db.WithContext(ctx).
		Model(&model.ChatMessage{}).
		Where("id = ?", messageID).
		Select("corrections", "vocabulary_used", "analysis_state").
		Updates(&model.ChatMessage{
			Corrections:    corrections,
			VocabularyUsed: vocabulary,
			AnalysisState:  model.AnalysisAnalyzed,
		}).Error
}

func (r *chatRepository) GetMessageHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp asc").
		Find(&messages).Error
	return messages, err
}

func (r *chatRepository) ListMessages(ctx context.Context, sessionID string, offset, limit int) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp desc").
		Offset(offset).
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
