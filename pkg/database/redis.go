package database

import (
	"context"
	"fmt"
	"lingua-chat-go/pkg/log"
	"time"

	"github.com/go-redis/redis/v8"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接。
// Redis 只承载在线状态与跨实例广播，连接失败时返回错误但仍保留客户端，由调用方决定是否降级。
func InitRedis(addr, password string, db int) error {
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	log.Info("Redis client connected successfully")
	return nil
}
