// Package service 提供了搜索相关的业务逻辑。
package service

import (
	"context"
	"errors"
	"lingua-chat-go/internal/model"
	"lingua-chat-go/pkg/log"
	"regexp"
	"strings"
)

// ErrEmptyQuery 表示规范化后没有可检索的词。
var ErrEmptyQuery = errors.New("search query is empty")

const (
	defaultSearchSize = 10
	maxSearchSize     = 50
)

// MessageSearcher 执行 Elasticsearch 查询，由 es.MessageIndex 实现。
type MessageSearcher interface {
	Search(ctx context.Context, query map[string]interface{}) ([]model.MessageSearchHit, error)
}

// SearchService 接口定义了搜索操作。
type SearchService interface {
	SearchMessages(ctx context.Context, userID, query string, size int) ([]model.MessageSearchHit, error)
}

type searchService struct {
	searcher MessageSearcher
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(searcher MessageSearcher) SearchService {
	return &searchService{searcher: searcher}
}

// SearchMessages 在用户自己的聊天记录中做全文检索。
func (s *searchService) SearchMessages(ctx context.Context, userID, query string, size int) ([]model.MessageSearchHit, error) {
	normalized := normalizeQuery(query)
	if normalized == "" {
		return nil, ErrEmptyQuery
	}
	if size <= 0 {
		size = defaultSearchSize
	}
	if size > maxSearchSize {
		size = maxSearchSize
	}
	log.Infof("[SearchService] 检索聊天记录, user: %s, query: '%s', size: %d", userID, normalized, size)

	hits, err := s.searcher.Search(ctx, buildMessageQuery(userID, normalized, size))
	if err != nil {
		log.Errorf("[SearchService] 检索失败: %v", err)
		return nil, err
	}
	log.Infof("[SearchService] 命中 %d 条", len(hits))
	return hits, nil
}

var (
	reKeep  = regexp.MustCompile(`[^\p{L}\p{N}\s']+`)
	reSpace = regexp.MustCompile(`\s+`)
)

// normalizeQuery 对用户查询进行轻量去噪：小写、去标点、归一空白。
func normalizeQuery(q string) string {
	kept := reKeep.ReplaceAllString(strings.ToLower(q), " ")
	return strings.TrimSpace(reSpace.ReplaceAllString(kept, " "))
}

// buildMessageQuery 构建检索语句：content 全文匹配，按用户过滤，短语命中加权，同分按时间倒序。
func buildMessageQuery(userID, query string, size int) map[string]interface{} {
	return map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"match": map[string]interface{}{
						"content": query,
					},
				},
				"filter": []map[string]interface{}{
					{"term": map[string]interface{}{"user_id": userID}},
				},
				"should": []map[string]interface{}{
					{
						"match_phrase": map[string]interface{}{
							"content": map[string]interface{}{
								"query": query,
								"boost": 3.0,
							},
						},
					},
				},
			},
		},
		"sort": []interface{}{
			"_score",
			map[string]interface{}{"timestamp": map[string]interface{}{"order": "desc"}},
		},
	}
}
