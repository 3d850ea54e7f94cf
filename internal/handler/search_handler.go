package handler

import (
	"errors"
	"lingua-chat-go/internal/service"
	"lingua-chat-go/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SearchHandler 负责聊天历史检索。searchService 为 nil 表示未配置 Elasticsearch。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// SearchMessages 在当前用户的历史消息中做全文检索。
func (h *SearchHandler) SearchMessages(c *gin.Context) {
	user, exists := currentUser(c)
	if !exists {
		return
	}
	if h.searchService == nil {
		fail(c, http.StatusServiceUnavailable, "消息检索未启用")
		return
	}

	query := c.Query("q")
	hits, err := h.searchService.SearchMessages(c.Request.Context(), user.ID, query, queryInt(c, "size"))
	if err != nil {
		if errors.Is(err, service.ErrEmptyQuery) {
			fail(c, http.StatusBadRequest, "查询内容不能为空")
			return
		}
		log.Errorf("SearchMessages failed for user '%s', query: %q, error: %v", user.Username, query, err)
		fail(c, http.StatusInternalServerError, "检索失败")
		return
	}
	success(c, "success", hits)
}
