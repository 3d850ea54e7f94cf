package handler

import (
	"context"
	"encoding/json"
	"lingua-chat-go/internal/config"
	"lingua-chat-go/internal/middleware"
	"lingua-chat-go/internal/model"
	"lingua-chat-go/internal/realtime"
	"lingua-chat-go/internal/repository"
	"lingua-chat-go/internal/service"
	"lingua-chat-go/internal/tutor"
	"lingua-chat-go/pkg/token"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubEngine struct {
	chunks []string

	mu     sync.Mutex
	health tutor.HealthStatus
}

func (e *stubEngine) Analyze(ctx context.Context, text string, set *model.LearningSet) tutor.AnalysisResult {
	return tutor.AnalysisResult{Outcome: tutor.Success, Analysis: tutor.Analysis{
		VocabularyUsed: []model.VocabularyUsage{{Word: "elephant", UsedCorrectly: true}},
	}}
}

func (e *stubEngine) StreamReply(ctx context.Context, req tutor.ReplyRequest, w tutor.ChunkWriter) tutor.ReplyResult {
	var sb strings.Builder
	for _, c := range e.chunks {
		sb.WriteString(c)
		if err := w.WriteChunk(c); err != nil {
			return tutor.ReplyResult{Outcome: tutor.Failed, Content: sb.String(), Err: err}
		}
	}
	return tutor.ReplyResult{Outcome: tutor.Success, Content: sb.String()}
}

func (e *stubEngine) Starter(set *model.LearningSet) string { return "Tell me about " + set.Name }

func (e *stubEngine) Health(ctx context.Context) tutor.HealthStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health
}

func (e *stubEngine) setHealth(h tutor.HealthStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.health = h
}

// testApp 是装配完整路由的测试服务。
type testApp struct {
	server         *httptest.Server
	jwtManager     *token.JWTManager
	userRepo       repository.UserRepository
	chatRepo       repository.ChatRepository
	learningSetID  string
	registry       *realtime.Registry
	sessionService service.SessionService
	userService    service.UserService
	engine         *stubEngine
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&model.User{}, &model.LearningSet{}, &model.VocabularyItem{}, &model.GrammarTopic{},
		&model.ChatSession{}, &model.ChatMessage{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	app := &testApp{
		jwtManager: token.NewJWTManager("test-secret", 1, 1),
		userRepo:   repository.NewUserRepository(db),
		chatRepo:   repository.NewChatRepository(db),
		registry:   realtime.NewRegistry(realtime.LocalFanout()),
		engine:     &stubEngine{chunks: []string{"Nice ", "elephant!"}, health: tutor.HealthStatus{Status: "healthy", Model: "test"}},
	}
	setRepo := repository.NewLearningSetRepository(db)
	set := &model.LearningSet{Name: "Animals", Subject: "English", GradeLevel: "3rd grade",
		VocabularyItems: []model.VocabularyItem{{Word: "elephant"}}}
	if err := setRepo.Create(context.Background(), set); err != nil {
		t.Fatalf("seed learning set: %v", err)
	}
	app.learningSetID = set.ID

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	userService := service.NewUserService(app.userRepo, app.jwtManager, rdb)
	app.userService = userService
	app.sessionService = service.NewSessionService(app.chatRepo, setRepo, app.registry, app.engine, nil)
	chatService := service.NewChatService(app.chatRepo, setRepo, app.engine, app.registry, nil, "Sorry, try again.")
	chatHandler := NewChatHandler(chatService, app.sessionService, userService, app.jwtManager, app.registry,
		config.ChatConfig{WriteTimeoutSeconds: 2, MaxMessageBytes: 4096})
	sessionHandler := NewSessionHandler(app.sessionService, app.engine)

	r := gin.New()
	api := r.Group("/api/v1")
	api.POST("/users/register", NewUserHandler(userService).Register)
	api.POST("/users/login", NewUserHandler(userService).Login)
	api.POST("/auth/refreshToken", NewAuthHandler(userService).RefreshToken)
	api.GET("/chat/ws/:sessionId", chatHandler.Handle)
	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(app.jwtManager, userService))
	authed.GET("/users/me", NewUserHandler(userService).GetProfile)
	authed.POST("/users/logout", NewUserHandler(userService).Logout)
	authed.POST("/chat/sessions", sessionHandler.Create)
	authed.GET("/chat/sessions", sessionHandler.List)
	authed.GET("/chat/sessions/:id", sessionHandler.Get)
	authed.GET("/chat/sessions/:id/messages", sessionHandler.Messages)
	authed.PUT("/chat/sessions/:id/end", sessionHandler.End)
	authed.GET("/chat/sessions/:id/starter", sessionHandler.Starter)
	authed.GET("/chat/sessions/:id/transcript", sessionHandler.Transcript)
	authed.GET("/chat/search", NewSearchHandler(nil).SearchMessages)
	authed.GET("/chat/ai/health", sessionHandler.AIHealth)
	authed.GET("/chat/connections", middleware.RequireRoles(model.RoleTeacher), chatHandler.Connections)

	app.server = httptest.NewServer(r)
	t.Cleanup(app.server.Close)
	return app
}

func (a *testApp) createUser(t *testing.T, username, role string) (*model.User, string) {
	t.Helper()
	user := &model.User{Username: username, Email: username + "@example.com", Password: "x", Role: role, IsActive: true}
	if err := a.userRepo.Create(user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	tok, err := a.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return user, tok
}

func (a *testApp) createSession(t *testing.T, userID, learningSetID string) *model.ChatSession {
	t.Helper()
	session := &model.ChatSession{UserID: userID, LearningSetID: learningSetID, StartTime: time.Now().UTC()}
	if err := a.chatRepo.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func (a *testApp) dial(t *testing.T, sessionID, tok string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/api/v1/chat/ws/" + sessionID + "?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return frame
}

// readUntilClose 读取剩余帧直到连接关闭，返回关闭码。
func readUntilClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				return ce.Code
			}
			t.Fatalf("expected close frame, got %v", err)
		}
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}
