// Package realtime 管理聊天会话的实时连接：本地连接登记、跨实例广播与在线状态。
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrChannelClosed 表示向已关闭的连接写入。
var ErrChannelClosed = errors.New("channel closed")

// Channel 是一条已建立的客户端连接。Send 与 Close 可被多个 goroutine 并发调用。
type Channel interface {
	ID() string
	Send(payload []byte) error
	Close(code int, reason string) error
}

// WSChannel 基于 gorilla/websocket 实现 Channel。
// 同一时刻只允许一个写入者；读取只由连接自己的循环调用 ReadFrame。
type WSChannel struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWSChannel 包装一个已升级的 websocket 连接。连接关闭时其 Context 被取消。
func NewWSChannel(parent context.Context, conn *websocket.Conn, writeTimeout time.Duration) *WSChannel {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)
	return &WSChannel{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (c *WSChannel) ID() string { return c.id }

// Context 在连接关闭后被取消，用于中断该连接上正在进行的调用。
func (c *WSChannel) Context() context.Context { return c.ctx }

// Send 写出一个文本帧，超过写超时视为连接失效。
func (c *WSChannel) Send(payload []byte) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadFrame 读取下一个数据帧。
func (c *WSChannel) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Close 发送关闭帧并断开底层连接，重复调用无副作用。
func (c *WSChannel) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()

		c.mu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.mu.Unlock()

		err = c.conn.Close()
	})
	return err
}
