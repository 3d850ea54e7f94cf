// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"lingua-chat-go/internal/config"
	"lingua-chat-go/pkg/events"
	"lingua-chat-go/pkg/log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是同一事件处理失败后放弃前的最大尝试次数。
const maxAttempts = 3

// EventProcessor defines the interface for any service that can process a turn event.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type EventProcessor interface {
	Process(ctx context.Context, evt events.TurnEvent) error
}

// Producer 发送对话事件。
type Producer struct {
	writer *kafka.Writer
}

func brokerList(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// PublishTurn 发送一轮对话事件，以会话 ID 作为消息键。
func (p *Producer) PublishTurn(ctx context.Context, evt events.TurnEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.Key()),
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动一个 Kafka 消费者来处理对话事件，直到 ctx 结束。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, rdb *redis.Client, processor EventProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}

		if handleMessage(ctx, rdb, processor, m.Value) {
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}
}

// handleMessage 处理一条消息并返回是否应提交 offset。
func handleMessage(ctx context.Context, rdb *redis.Client, processor EventProcessor, value []byte) bool {
	var evt events.TurnEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}

	attemptsKey := fmt.Sprintf("kafka:attempts:%s", evt.AIMessageID)
	if err := processor.Process(ctx, evt); err != nil {
		log.Errorf("处理对话事件失败: session=%s, message=%s, error: %v", evt.SessionID, evt.AIMessageID, err)
		// 使用 Redis 计数失败次数，达到阈值后提交 offset 终止重试
		attempts, incErr := rdb.Incr(ctx, attemptsKey).Result()
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
			return false
		}
		_ = rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
		if attempts >= maxAttempts {
			log.Errorf("对话事件多次失败(>=%d)，提交 offset 终止重试: message=%s", maxAttempts, evt.AIMessageID)
			return true
		}
		return false
	}

	_ = rdb.Del(ctx, attemptsKey).Err()
	return true
}
