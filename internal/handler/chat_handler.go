package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"lingua-chat-go/internal/config"
	"lingua-chat-go/internal/model"
	"lingua-chat-go/internal/realtime"
	"lingua-chat-go/internal/repository"
	"lingua-chat-go/internal/service"
	"lingua-chat-go/pkg/log"
	"lingua-chat-go/pkg/token"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatHandler 负责聊天会话的 WebSocket 连接。
type ChatHandler struct {
	chatService    service.ChatService
	sessionService service.SessionService
	userService    service.UserService
	jwtManager     *token.JWTManager
	registry       *realtime.Registry
	cfg            config.ChatConfig
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(chatService service.ChatService, sessionService service.SessionService, userService service.UserService,
	jwtManager *token.JWTManager, registry *realtime.Registry, cfg config.ChatConfig) *ChatHandler {
	return &ChatHandler{
		chatService:    chatService,
		sessionService: sessionService,
		userService:    userService,
		jwtManager:     jwtManager,
		registry:       registry,
		cfg:            cfg,
	}
}

// closeError 表示需要以指定关闭码结束连接。
type closeError struct {
	code   int
	reason string
}

func (e *closeError) Error() string {
	return fmt.Sprintf("close %d: %s", e.code, e.reason)
}

// Handle 处理 /chat/ws/:sessionId 的升级请求。
// 先升级再认证，认证失败以 1008 关闭，不登记到注册表。
func (h *ChatHandler) Handle(c *gin.Context) {
	sessionID := c.Param("sessionId")
	tokenString := c.Query("token")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("Failed to upgrade connection for session %s: %v", sessionID, err)
		return
	}
	ch := realtime.NewWSChannel(context.Background(), conn, time.Duration(h.cfg.WriteTimeoutSeconds)*time.Second)

	user, session, err := h.authenticate(ch.Context(), sessionID, tokenString)
	if err != nil {
		log.Warnf("WebSocket rejected for session %s: %v", sessionID, err)
		_ = ch.Close(websocket.ClosePolicyViolation, "authentication failed")
		return
	}
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	h.registry.Register(ch.Context(), ch, session.ID, user.ID)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("WebSocket handler panic, session: %s, user: %s, panic: %v", session.ID, user.ID, r)
			_ = ch.Close(websocket.CloseInternalServerErr, "internal error")
		}
		h.registry.Unregister(context.Background(), ch, session.ID)
		_ = ch.Close(websocket.CloseNormalClosure, "")
		log.Infof("WebSocket closed, session: %s, user: %s", session.ID, user.Username)
	}()
	log.Infof("WebSocket connected, session: %s, user: %s", session.ID, user.Username)

	if cerr := h.serve(ch, session, user); cerr != nil {
		_ = ch.Close(cerr.code, cerr.reason)
	}
}

func (h *ChatHandler) authenticate(ctx context.Context, sessionID, tokenString string) (*model.User, *model.ChatSession, error) {
	if tokenString == "" {
		return nil, nil, errors.New("missing token")
	}
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid token: %w", err)
	}
	revoked, err := h.userService.IsTokenRevoked(ctx, tokenString)
	if err != nil {
		log.Warnf("WebSocket blacklist lookup failed for session %s: %v", sessionID, err)
	} else if revoked {
		return nil, nil, errors.New("token revoked")
	}
	user, err := h.userService.GetByID(claims.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, nil, service.ErrUserInactive
	}
	session, err := h.sessionService.Get(ctx, sessionID, user.ID)
	if err != nil {
		return nil, nil, err
	}
	if session.Ended() {
		return nil, nil, service.ErrSessionAlreadyEnded
	}
	return user, session, nil
}

// serve 顺序处理连接上的帧，一轮对话结束后才读取下一帧。
func (h *ChatHandler) serve(ch *realtime.WSChannel, session *model.ChatSession, user *model.User) *closeError {
	for {
		data, err := ch.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Warnf("WebSocket read error, session: %s, error: %v", session.ID, err)
			}
			return nil
		}
		if cerr := h.handleFrame(ch, session, user, data); cerr != nil {
			return cerr
		}
	}
}

func (h *ChatHandler) handleFrame(ch *realtime.WSChannel, session *model.ChatSession, user *model.User, data []byte) *closeError {
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || frame == nil {
		log.Warnf("Ignoring malformed frame, session: %s", session.ID)
		return nil
	}

	if raw, ok := frame["type"]; ok {
		var frameType string
		if json.Unmarshal(raw, &frameType) == nil && frameType == "ping" {
			h.reply(ch, model.Pong())
			return nil
		}
	}

	raw, ok := frame["content"]
	if !ok {
		h.reply(ch, model.ErrorReply("Message must contain 'content' field"))
		return nil
	}
	var content string
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' || json.Unmarshal(raw, &content) != nil {
		h.reply(ch, model.ErrorReply("Message content must be a string"))
		return nil
	}
	if strings.TrimSpace(content) == "" {
		h.reply(ch, model.ErrorReply("Message content must not be empty"))
		return nil
	}

	err := h.chatService.HandleTurn(ch.Context(), session, user, content)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrLearningSetMissing):
		log.Errorf("Learning set missing for session %s", session.ID)
		return &closeError{code: websocket.CloseInternalServerErr, reason: "learning set not found"}
	case errors.Is(err, repository.ErrSessionEnded):
		return &closeError{code: websocket.CloseNormalClosure, reason: "session ended"}
	default:
		log.Errorf("Chat turn failed, session: %s, user: %s, error: %v", session.ID, user.ID, err)
		return &closeError{code: websocket.CloseInternalServerErr, reason: "internal error"}
	}
}

// reply 只回给当前连接。
func (h *ChatHandler) reply(ch realtime.Channel, envelope interface{}) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Errorf("Failed to marshal reply: %v", err)
		return
	}
	if err := ch.Send(payload); err != nil {
		log.Warnf("Failed to send reply on channel %s: %v", ch.ID(), err)
	}
}

// Connections 返回注册表的连接统计，仅教师角色可用。
func (h *ChatHandler) Connections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"stats":           h.registry.Stats(),
			"active_sessions": h.registry.ActiveSessions(c.Request.Context()),
		},
	})
}
