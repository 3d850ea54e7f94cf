package pipeline

import (
	"context"
	"errors"
	"lingua-chat-go/internal/model"
	"lingua-chat-go/internal/repository"
	"lingua-chat-go/pkg/events"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingIndexer struct {
	docs []model.MessageDocument
	err  error
}

func (i *recordingIndexer) IndexMessage(ctx context.Context, doc model.MessageDocument) error {
	if i.err != nil {
		return i.err
	}
	i.docs = append(i.docs, doc)
	return nil
}

func newSession(t *testing.T) (repository.ChatRepository, *model.ChatSession) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&model.ChatSession{}, &model.ChatMessage{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	repo := repository.NewChatRepository(db)
	session := &model.ChatSession{UserID: "user-1", LearningSetID: "set-1", StartTime: time.Now().UTC()}
	if err := repo.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return repo, session
}

func turnEvent(sessionID string) events.TurnEvent {
	now := time.Now().UTC()
	return events.TurnEvent{
		SessionID:       sessionID,
		UserID:          "user-1",
		LearningSetID:   "set-1",
		UserMessageID:   "m-user",
		UserContent:     "I saw an Elephant",
		UserTimestamp:   now,
		AIMessageID:     "m-ai",
		AIContent:       "Where did you see it?",
		AITimestamp:     now.Add(time.Second),
		VocabularyWords: []string{"Elephant"},
		OccurredAt:      now,
	}
}

func TestProcessMergesVocabularyAndIndexes(t *testing.T) {
	repo, session := newSession(t)
	indexer := &recordingIndexer{}
	p := NewProcessor(repo, indexer)

	evt := turnEvent(session.ID)
	if err := p.Process(context.Background(), evt); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	// 重放同一事件不会重复汇总
	if err := p.Process(context.Background(), evt); err != nil {
		t.Fatalf("second Process returned error: %v", err)
	}

	got, err := repo.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(got.VocabularyPracticed) != 1 {
		t.Errorf("expected one practiced word, got %v", got.VocabularyPracticed)
	}

	if len(indexer.docs) != 4 {
		t.Fatalf("expected 2 documents per event, got %d", len(indexer.docs))
	}
	user, ai := indexer.docs[0], indexer.docs[1]
	if user.MessageID != "m-user" || user.Sender != model.SenderUser || user.UserID != "user-1" {
		t.Errorf("unexpected user document %+v", user)
	}
	if ai.MessageID != "m-ai" || ai.Sender != model.SenderAI || ai.Content != "Where did you see it?" {
		t.Errorf("unexpected ai document %+v", ai)
	}
}

func TestProcessSkipsFallbackReply(t *testing.T) {
	repo, session := newSession(t)
	indexer := &recordingIndexer{}
	evt := turnEvent(session.ID)
	evt.AIFallback = true

	if err := NewProcessor(repo, indexer).Process(context.Background(), evt); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(indexer.docs) != 1 || indexer.docs[0].MessageID != "m-user" {
		t.Errorf("expected only the user message indexed, got %+v", indexer.docs)
	}
}

func TestProcessReturnsIndexError(t *testing.T) {
	repo, session := newSession(t)
	boom := errors.New("es down")

	err := NewProcessor(repo, &recordingIndexer{err: boom}).Process(context.Background(), turnEvent(session.ID))
	if !errors.Is(err, boom) {
		t.Fatalf("expected index error, got %v", err)
	}
}

func TestProcessWithoutIndexer(t *testing.T) {
	repo, session := newSession(t)
	if err := NewProcessor(repo, nil).Process(context.Background(), turnEvent(session.ID)); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
}

func TestProcessUnknownSession(t *testing.T) {
	repo, _ := newSession(t)
	if err := NewProcessor(repo, nil).Process(context.Background(), turnEvent("missing")); err == nil {
		t.Fatal("expected error for unknown session")
	}
}
