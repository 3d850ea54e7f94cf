// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"lingua-chat-go/internal/config"
	"lingua-chat-go/internal/model"
	"lingua-chat-go/pkg/log"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// messageMapping 是聊天消息索引的结构。
const messageMapping = `{
	"mappings": {
		"properties": {
			"message_id": { "type": "keyword" },
			"session_id": { "type": "keyword" },
			"user_id": { "type": "keyword" },
			"learning_set_id": { "type": "keyword" },
			"sender": { "type": "keyword" },
			"content": { "type": "text" },
			"timestamp": { "type": "date" }
		}
	}
}`

// InitES 初始化 Elasticsearch 客户端并确保消息索引存在。
func InitES(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	var addresses []string
	for _, a := range strings.Split(esCfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	cfg := elasticsearch.Config{
		Addresses: addresses,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	ESClient = client
	if err := createIndexIfNotExists(client, esCfg.IndexName); err != nil {
		return nil, err
	}
	return client, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(client *elasticsearch.Client, indexName string) error {
	res, err := client.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithBody(strings.NewReader(messageMapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// MessageIndex 读写聊天消息索引。
type MessageIndex struct {
	client *elasticsearch.Client
	index  string
}

func NewMessageIndex(client *elasticsearch.Client, index string) *MessageIndex {
	return &MessageIndex{client: client, index: index}
}

// IndexMessage 以消息 ID 为文档 ID 写入，重复写入会覆盖。
func (i *MessageIndex) IndexMessage(ctx context.Context, doc model.MessageDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: doc.MessageID,
		Body:       bytes.NewReader(docBytes),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引消息到 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("failed to index message %s: %s", doc.MessageID, res.Status())
	}
	return nil
}

// Search 执行查询并返回命中的消息。
func (i *MessageIndex) Search(ctx context.Context, query map[string]interface{}) ([]model.MessageSearchHit, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.index),
		i.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(body))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.MessageDocument `json:"_source"`
				Score  float64               `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]model.MessageSearchHit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, model.MessageSearchHit{MessageDocument: h.Source, Score: h.Score})
	}
	return hits, nil
}
