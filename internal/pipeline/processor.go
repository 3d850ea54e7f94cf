// Package pipeline 定义了对话事件的后台处理流程。
package pipeline

import (
	"context"
	"fmt"
	"lingua-chat-go/internal/model"
	"lingua-chat-go/internal/repository"
	"lingua-chat-go/pkg/events"
	"lingua-chat-go/pkg/log"
)

// MessageIndexer 将消息写入检索索引。
type MessageIndexer interface {
	IndexMessage(ctx context.Context, doc model.MessageDocument) error
}

// Processor 处理一轮对话完成后的事件：汇总练习词汇，并把两条消息写入检索索引。
type Processor struct {
	chatRepo repository.ChatRepository
	indexer  MessageIndexer
}

// NewProcessor 创建一个新的 Processor 实例。indexer 为 nil 时跳过索引步骤。
func NewProcessor(chatRepo repository.ChatRepository, indexer MessageIndexer) *Processor {
	return &Processor{chatRepo: chatRepo, indexer: indexer}
}

// Process 是事件处理的主函数。各步骤均为幂等操作，失败后可整体重试。
func (p *Processor) Process(ctx context.Context, evt events.TurnEvent) error {
	log.Infof("[Processor] 开始处理对话事件, session: %s, aiMessage: %s", evt.SessionID, evt.AIMessageID)

	// 1. 汇总本轮正确使用的词汇
	if len(evt.VocabularyWords) > 0 {
		if err := p.chatRepo.MergeVocabularyPracticed(ctx, evt.SessionID, evt.VocabularyWords); err != nil {
			log.Errorf("[Processor] 汇总练习词汇失败, session: %s, error: %v", evt.SessionID, err)
			return fmt.Errorf("merge vocabulary: %w", err)
		}
	}

	// 2. 写入检索索引
	if p.indexer == nil {
		return nil
	}
	docs := []model.MessageDocument{
		{
			MessageID:     evt.UserMessageID,
			SessionID:     evt.SessionID,
			UserID:        evt.UserID,
			LearningSetID: evt.LearningSetID,
			Sender:        model.SenderUser,
			Content:       evt.UserContent,
			Timestamp:     evt.UserTimestamp,
		},
	}
	// 致歉回复不进入检索
	if !evt.AIFallback {
		docs = append(docs, model.MessageDocument{
			MessageID:     evt.AIMessageID,
			SessionID:     evt.SessionID,
			UserID:        evt.UserID,
			LearningSetID: evt.LearningSetID,
			Sender:        model.SenderAI,
			Content:       evt.AIContent,
			Timestamp:     evt.AITimestamp,
		})
	}
	for _, doc := range docs {
		if err := p.indexer.IndexMessage(ctx, doc); err != nil {
			log.Errorf("[Processor] 写入检索索引失败, message: %s, error: %v", doc.MessageID, err)
			return fmt.Errorf("index message %s: %w", doc.MessageID, err)
		}
	}

	log.Infof("[Processor] 对话事件处理完成, session: %s, indexed: %d", evt.SessionID, len(docs))
	return nil
}
