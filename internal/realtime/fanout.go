package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"lingua-chat-go/pkg/log"
)

const (
	keyPrefix      = "chat:session:"
	membersSuffix  = ":members"
	channelPattern = keyPrefix + "*"
)

func presenceKey(sessionID, userID string) string {
	return fmt.Sprintf("chat:session:%s:user:%s", sessionID, userID)
}

func membersKey(sessionID string) string {
	return fmt.Sprintf("chat:session:%s:members", sessionID)
}

func sessionChannel(sessionID string) string {
	return keyPrefix + sessionID
}

// Fanout 是跨实例分发与在线状态镜像的策略。启动时选定一种实现。
type Fanout interface {
	// Distributed 表示是否具备跨实例分发能力。
	Distributed() bool
	Join(ctx context.Context, sessionID, userID string) error
	Leave(ctx context.Context, sessionID, userID string) error
	Publish(ctx context.Context, sessionID string, payload []byte) error
	// Terminate 清除会话的共享成员记录并通知其他实例关闭本地连接。
	Terminate(ctx context.Context, sessionID string) error
	Members(ctx context.Context, sessionID string) ([]string, error)
	Sessions(ctx context.Context) ([]string, error)
	// Subscribe 阻塞接收其他实例发布的帧，直到 ctx 结束。
	Subscribe(ctx context.Context, deliver func(sessionID string, payload []byte), terminate func(sessionID string)) error
}

// NewFanout 在 Redis 可用时返回分布式实现，否则退化为仅本地分发。
func NewFanout(ctx context.Context, rdb *redis.Client, instanceID string, presenceTTL time.Duration) Fanout {
	if rdb == nil {
		log.Warnf("[Fanout] 未配置 Redis，聊天广播仅在本实例内生效")
		return localFanout{}
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warnf("[Fanout] Redis 不可用，聊天广播仅在本实例内生效: %v", err)
		return localFanout{}
	}
	log.Infof("[Fanout] 启用 Redis 分布式广播, instance: %s", instanceID)
	return NewRedisFanout(rdb, instanceID, presenceTTL)
}

// localFanout 不做任何共享，单实例部署或 Redis 不可用时使用。
type localFanout struct{}

func (localFanout) Distributed() bool { return false }
func (localFanout) Join(context.Context, string, string) error { return nil }
func (localFanout) Leave(context.Context, string, string) error { return nil }
func (localFanout) Publish(context.Context, string, []byte) error { return nil }
func (localFanout) Terminate(context.Context, string) error { return nil }
func (localFanout) Members(context.Context, string) ([]string, error) { return nil, nil }
func (localFanout) Sessions(context.Context) ([]string, error) { return nil, nil }
func (localFanout) Subscribe(ctx context.Context, _ func(string, []byte), _ func(string)) error {
	<-ctx.Done()
	return nil
}

// LocalFanout 返回仅本地分发的实现。
func LocalFanout() Fanout { return localFanout{} }

// busFrame 是在 Redis 频道上传输的帧，Origin 用于丢弃本实例自己发布的消息。
type busFrame struct {
	Origin    string          `json:"origin"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Terminate bool            `json:"terminate,omitempty"`
}

type presenceRecord struct {
	UserID      string    `json:"user_id"`
	ConnectedAt time.Time `json:"connected_at"`
	Status      string    `json:"status"`
}

type redisFanout struct {
	rdb         *redis.Client
	instanceID  string
	presenceTTL time.Duration
}

// NewRedisFanout 直接构造基于 Redis 的实现，不做连通性检查。
func NewRedisFanout(rdb *redis.Client, instanceID string, presenceTTL time.Duration) Fanout {
	if presenceTTL <= 0 {
		presenceTTL = time.Hour
	}
	return &redisFanout{rdb: rdb, instanceID: instanceID, presenceTTL: presenceTTL}
}

func (f *redisFanout) Distributed() bool { return true }

func (f *redisFanout) Join(ctx context.Context, sessionID, userID string) error {
	record, err := json.Marshal(presenceRecord{UserID: userID, ConnectedAt: time.Now().UTC(), Status: "connected"})
	if err != nil {
		return err
	}
	_, err = f.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.SetEX(ctx, presenceKey(sessionID, userID), record, f.presenceTTL)
		p.SAdd(ctx, membersKey(sessionID), userID)
		p.Expire(ctx, membersKey(sessionID), f.presenceTTL)
		return nil
	})
	return err
}

func (f *redisFanout) Leave(ctx context.Context, sessionID, userID string) error {
	_, err := f.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, presenceKey(sessionID, userID))
		p.SRem(ctx, membersKey(sessionID), userID)
		return nil
	})
	return err
}

func (f *redisFanout) Publish(ctx context.Context, sessionID string, payload []byte) error {
	frame, err := json.Marshal(busFrame{Origin: f.instanceID, Payload: payload})
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, sessionChannel(sessionID), frame).Err()
}

func (f *redisFanout) Terminate(ctx context.Context, sessionID string) error {
	members, err := f.rdb.SMembers(ctx, membersKey(sessionID)).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(members)+1)
	keys = append(keys, membersKey(sessionID))
	for _, userID := range members {
		keys = append(keys, presenceKey(sessionID, userID))
	}
	if err := f.rdb.Del(ctx, keys...).Err(); err != nil {
		return err
	}

	frame, err := json.Marshal(busFrame{Origin: f.instanceID, Terminate: true})
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, sessionChannel(sessionID), frame).Err()
}

func (f *redisFanout) Members(ctx context.Context, sessionID string) ([]string, error) {
	return f.rdb.SMembers(ctx, membersKey(sessionID)).Result()
}

func (f *redisFanout) Sessions(ctx context.Context) ([]string, error) {
	var sessions []string
	iter := f.rdb.Scan(ctx, 0, keyPrefix+"*"+membersSuffix, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		sessionID := strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), membersSuffix)
		if sessionID != "" {
			sessions = append(sessions, sessionID)
		}
	}
	return sessions, iter.Err()
}

func (f *redisFanout) Subscribe(ctx context.Context, deliver func(sessionID string, payload []byte), terminate func(sessionID string)) error {
	pubsub := f.rdb.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	// 等待订阅确认，之后发布的消息都能收到
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("psubscribe %s: %w", channelPattern, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var frame busFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				log.Warnf("[Fanout] 忽略无法解析的广播帧, channel: %s, error: %v", msg.Channel, err)
				continue
			}
			if frame.Origin == f.instanceID {
				continue
			}
			sessionID := strings.TrimPrefix(msg.Channel, keyPrefix)
			if frame.Terminate {
				terminate(sessionID)
				continue
			}
			deliver(sessionID, frame.Payload)
		}
	}
}
