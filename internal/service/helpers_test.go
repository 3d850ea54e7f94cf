package service

import (
	"context"
	"encoding/json"
	"errors"
	"lingua-chat-go/internal/model"
	"lingua-chat-go/internal/repository"
	"lingua-chat-go/internal/tutor"
	"lingua-chat-go/pkg/events"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&model.User{},
		&model.LearningSet{},
		&model.VocabularyItem{},
		&model.GrammarTopic{},
		&model.ChatSession{},
		&model.ChatMessage{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func seedLearningSet(t *testing.T, repo repository.LearningSetRepository) *model.LearningSet {
	t.Helper()
	set := &model.LearningSet{
		Name:       "Animals",
		GradeLevel: "3rd grade",
		Subject:    "English",
		VocabularyItems: []model.VocabularyItem{
			{Word: "elephant", Definition: "a large animal"},
		},
	}
	if err := repo.Create(context.Background(), set); err != nil {
		t.Fatalf("seed learning set: %v", err)
	}
	return set
}

// fakeEngine 返回预设的分析与回复。
type fakeEngine struct {
	mu sync.Mutex

	analysis tutor.AnalysisResult
	chunks   []string
	replyErr error
	starter  string

	histories [][]model.ChatMessage
}

func (e *fakeEngine) Analyze(ctx context.Context, text string, set *model.LearningSet) tutor.AnalysisResult {
	return e.analysis
}

func (e *fakeEngine) StreamReply(ctx context.Context, req tutor.ReplyRequest, w tutor.ChunkWriter) tutor.ReplyResult {
	e.mu.Lock()
	e.histories = append(e.histories, req.History)
	e.mu.Unlock()

	var sb strings.Builder
	for _, c := range e.chunks {
		sb.WriteString(c)
		_ = w.WriteChunk(c)
	}
	if e.replyErr != nil {
		return tutor.ReplyResult{Outcome: tutor.Failed, Content: sb.String(), Err: e.replyErr}
	}
	return tutor.ReplyResult{Outcome: tutor.Success, Content: sb.String()}
}

func (e *fakeEngine) Starter(set *model.LearningSet) string { return e.starter + set.Subject }

func (e *fakeEngine) Health(ctx context.Context) tutor.HealthStatus {
	return tutor.HealthStatus{Status: "healthy"}
}

// recordingBroadcaster 按顺序记录广播的信封（已序列化为通用 map）。
type recordingBroadcaster struct {
	mu     sync.Mutex
	frames []map[string]interface{}
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, sessionID string, envelope interface{}) error {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}
	b.mu.Lock()
	b.frames = append(b.frames, frame)
	b.mu.Unlock()
	return nil
}

func (b *recordingBroadcaster) all() []map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]interface{}(nil), b.frames...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TurnEvent
	err    error
}

func (p *recordingPublisher) PublishTurn(ctx context.Context, evt events.TurnEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

type fakeRegistry struct {
	mu         sync.Mutex
	terminated []string
	users      []string
}

func (r *fakeRegistry) TerminateSession(ctx context.Context, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminated = append(r.terminated, sessionID)
}

func (r *fakeRegistry) SessionUsers(ctx context.Context, sessionID string) []string {
	return r.users
}

func (r *fakeRegistry) terminatedSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.terminated...)
}

// memoryStore 是内存中的对象存储。
type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (s *memoryStore) PutJSON(ctx context.Context, objectName string, v interface{}) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectName] = data
	return nil
}

func (s *memoryStore) Exists(ctx context.Context, objectName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[objectName]
	return ok, nil
}

func (s *memoryStore) PresignedURL(ctx context.Context, objectName string) (string, error) {
	return "https://objects.example/" + objectName + "?sig=1", nil
}

func (s *memoryStore) get(objectName string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[objectName]
	return data, ok
}

var errBoom = errors.New("boom")

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
