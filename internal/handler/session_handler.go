package handler

import (
	"errors"
	"lingua-chat-go/internal/service"
	"lingua-chat-go/internal/tutor"
	"lingua-chat-go/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SessionHandler 负责聊天会话的 REST 接口。
type SessionHandler struct {
	sessionService service.SessionService
	engine         tutor.Engine
}

// NewSessionHandler 创建一个新的 SessionHandler 实例。
func NewSessionHandler(sessionService service.SessionService, engine tutor.Engine) *SessionHandler {
	return &SessionHandler{sessionService: sessionService, engine: engine}
}

// writeSessionError 将会话层错误映射为 HTTP 响应。
func writeSessionError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		fail(c, http.StatusNotFound, "Chat session not found")
	case errors.Is(err, service.ErrLearningSetNotFound):
		fail(c, http.StatusNotFound, "Learning set not found")
	case errors.Is(err, service.ErrSessionAlreadyEnded):
		fail(c, http.StatusBadRequest, "Chat session already ended")
	case errors.Is(err, service.ErrTranscriptNotReady):
		fail(c, http.StatusNotFound, "Transcript not available")
	default:
		log.Errorf("%s failed: %v", op, err)
		fail(c, http.StatusInternalServerError, "服务器内部错误")
	}
}

type createSessionRequest struct {
	LearningSetID string `json:"learning_set_id" binding:"required"`
}

// Create 创建新的聊天会话。
func (h *SessionHandler) Create(c *gin.Context) {
	user, exists := currentUser(c)
	if !exists {
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载：learning_set_id 不能为空")
		return
	}
	session, err := h.sessionService.Create(c.Request.Context(), user.ID, req.LearningSetID)
	if err != nil {
		writeSessionError(c, "CreateSession", err)
		return
	}
	success(c, "Chat session created", session)
}

// List 返回当前用户的会话，最近开始的在前。
func (h *SessionHandler) List(c *gin.Context) {
	user, exists := currentUser(c)
	if !exists {
		return
	}
	sessions, err := h.sessionService.ListForUser(c.Request.Context(), user.ID, queryInt(c, "skip"), queryInt(c, "limit"))
	if err != nil {
		writeSessionError(c, "ListSessions", err)
		return
	}
	success(c, "success", sessions)
}

func (h *SessionHandler) Get(c *gin.Context) {
	user, exists := currentUser(c)
	if !exists {
		return
	}
	session, err := h.sessionService.Get(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		writeSessionError(c, "GetSession", err)
		return
	}
	success(c, "success", session)
}

// Messages 分页返回会话消息，按时间正序。
func (h *SessionHandler) Messages(c *gin.Context) {
	user, exists := currentUser(c)
	if !exists {
		return
	}
	messages, err := h.sessionService.ListMessages(c.Request.Context(), c.Param("id"), user.ID, queryInt(c, "skip"), queryInt(c, "limit"))
	if err != nil {
		writeSessionError(c, "ListMessages", err)
		return
	}
	success(c, "success", messages)
}

// End 结束会话并断开其所有连接。
func (h *SessionHandler) End(c *gin.Context) {
	user, exists := currentUser(c)
	if !exists {
		return
	}
	session, err := h.sessionService.End(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		writeSessionError(c, "EndSession", err)
		return
	}
	log.Infof("Chat session %s ended by '%s'", session.ID, user.Username)
	success(c, "Chat session ended", session)
}

func (h *SessionHandler) Starter(c *gin.Context) {
	user, exists := currentUser(c)
	if !exists {
		return
	}
	starter, err := h.sessionService.Starter(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		writeSessionError(c, "ConversationStarter", err)
		return
	}
	success(c, "success", gin.H{"starter": starter})
}

type analyzeRequest struct {
	Text string `json:"text" binding:"required"`
}

// Analyze 对任意文本运行语法与词汇分析。
func (h *SessionHandler) Analyze(c *gin.Context) {
	user, exists := currentUser(c)
	if !exists {
		return
	}
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载：text 不能为空")
		return
	}
	result, err := h.sessionService.Analyze(c.Request.Context(), c.Param("id"), user.ID, req.Text)
	if err != nil {
		writeSessionError(c, "AnalyzeMessage", err)
		return
	}
	success(c, "success", gin.H{
		"outcome":  result.Outcome.String(),
		"analysis": result.Analysis,
	})
}

// Participants 返回会话当前在线的用户（诊断用）。
func (h *SessionHandler) Participants(c *gin.Context) {
	user, exists := currentUser(c)
	if !exists {
		return
	}
	users, err := h.sessionService.Participants(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		writeSessionError(c, "SessionParticipants", err)
		return
	}
	success(c, "success", gin.H{"session_id": c.Param("id"), "users": users})
}

// Transcript 返回已结束会话归档文件的临时下载地址。
func (h *SessionHandler) Transcript(c *gin.Context) {
	user, exists := currentUser(c)
	if !exists {
		return
	}
	url, err := h.sessionService.TranscriptURL(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		writeSessionError(c, "TranscriptURL", err)
		return
	}
	success(c, "success", gin.H{"url": url})
}

// AIHealth 检查对话模型是否可用。
func (h *SessionHandler) AIHealth(c *gin.Context) {
	status := h.engine.Health(c.Request.Context())
	if !status.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "unhealthy", "data": status})
		return
	}
	success(c, "healthy", status)
}
