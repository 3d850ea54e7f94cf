package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"lingua-chat-go/pkg/log"
)

type member struct {
	ch     Channel
	userID string
}

// sessionEntry 保存一个会话的本地连接。sendMu 保证对同一会话的广播按发出顺序送达每个连接。
type sessionEntry struct {
	sendMu  sync.Mutex
	members []member
}

// Registry 记录本实例上每个会话的在线连接，并通过 Fanout 与其他实例同步。
// 共享存储不可用只会降低能力（跨实例分发），不影响本地分发的正确性。
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	fanout   Fanout
}

// NewRegistry 创建一个新的连接注册表。
func NewRegistry(fanout Fanout) *Registry {
	if fanout == nil {
		fanout = localFanout{}
	}
	return &Registry{
		sessions: make(map[string]*sessionEntry),
		fanout:   fanout,
	}
}

// Distributed 表示广播是否会跨实例分发。
func (r *Registry) Distributed() bool {
	return r.fanout.Distributed()
}

// Register 将连接登记到会话下，重复登记同一连接无副作用。
func (r *Registry) Register(ctx context.Context, ch Channel, sessionID, userID string) {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		entry = &sessionEntry{}
		r.sessions[sessionID] = entry
	}
	for _, m := range entry.members {
		if m.ch == ch {
			r.mu.Unlock()
			return
		}
	}
	entry.members = append(entry.members, member{ch: ch, userID: userID})
	r.mu.Unlock()

	log.Infow("chat channel registered", "session", sessionID, "user", userID, "channel", ch.ID())
	if err := r.fanout.Join(ctx, sessionID, userID); err != nil {
		log.Warnw("failed to mirror presence", "session", sessionID, "user", userID, "error", err)
	}
}

// Unregister 移除连接。用户在该会话中没有其他本地连接时同时清除共享在线记录。
// 对未登记或已移除的连接调用无副作用。
func (r *Registry) Unregister(ctx context.Context, ch Channel, sessionID string) {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	idx := -1
	for i, m := range entry.members {
		if m.ch == ch {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return
	}
	userID := entry.members[idx].userID
	entry.members = append(entry.members[:idx:idx], entry.members[idx+1:]...)

	stillPresent := false
	for _, m := range entry.members {
		if m.userID == userID {
			stillPresent = true
			break
		}
	}
	if len(entry.members) == 0 {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	log.Infow("chat channel unregistered", "session", sessionID, "user", userID, "channel", ch.ID())
	if !stillPresent {
		if err := r.fanout.Leave(ctx, sessionID, userID); err != nil {
			log.Warnw("failed to clear presence", "session", sessionID, "user", userID, "error", err)
		}
	}
}

// Broadcast 将信封序列化一次后发给会话内所有本地连接，并发布到共享总线。
// 发送失败的连接在遍历结束后被注销并关闭，不影响其他接收者。
func (r *Registry) Broadcast(ctx context.Context, sessionID string, envelope interface{}) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	r.deliver(ctx, sessionID, payload, "")
	if err := r.fanout.Publish(ctx, sessionID, payload); err != nil {
		log.Warnw("failed to publish broadcast", "session", sessionID, "error", err)
	}
	return nil
}

// SendToUser 只发给该用户在本实例上的连接。
func (r *Registry) SendToUser(ctx context.Context, sessionID, userID string, envelope interface{}) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	r.deliver(ctx, sessionID, payload, userID)
	return nil
}

func (r *Registry) deliver(ctx context.Context, sessionID string, payload []byte, onlyUser string) {
	r.mu.RLock()
	entry, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	entry.sendMu.Lock()
	r.mu.RLock()
	targets := make([]member, 0, len(entry.members))
	for _, m := range entry.members {
		if onlyUser == "" || m.userID == onlyUser {
			targets = append(targets, m)
		}
	}
	r.mu.RUnlock()

	var failed []member
	for _, m := range targets {
		if err := m.ch.Send(payload); err != nil {
			log.Warnw("chat send failed, dropping channel", "session", sessionID, "user", m.userID, "channel", m.ch.ID(), "error", err)
			failed = append(failed, m)
		}
	}
	entry.sendMu.Unlock()

	for _, m := range failed {
		r.Unregister(ctx, m.ch, sessionID)
		_ = m.ch.Close(websocket.CloseGoingAway, "send failed")
	}
}

// SessionUsers 返回会话的在线用户（本地与共享记录的并集），仅用于诊断。
func (r *Registry) SessionUsers(ctx context.Context, sessionID string) []string {
	set := make(map[string]struct{})
	r.mu.RLock()
	if entry, ok := r.sessions[sessionID]; ok {
		for _, m := range entry.members {
			set[m.userID] = struct{}{}
		}
	}
	r.mu.RUnlock()

	remote, err := r.fanout.Members(ctx, sessionID)
	if err != nil {
		log.Warnw("failed to read shared members", "session", sessionID, "error", err)
	}
	for _, userID := range remote {
		set[userID] = struct{}{}
	}
	return sortedKeys(set)
}

// ActiveSessions 返回有在线连接的会话（本地与共享记录的并集），仅用于诊断。
func (r *Registry) ActiveSessions(ctx context.Context) []string {
	set := make(map[string]struct{})
	r.mu.RLock()
	for sessionID := range r.sessions {
		set[sessionID] = struct{}{}
	}
	r.mu.RUnlock()

	remote, err := r.fanout.Sessions(ctx)
	if err != nil {
		log.Warnw("failed to scan shared sessions", "error", err)
	}
	for _, sessionID := range remote {
		set[sessionID] = struct{}{}
	}
	return sortedKeys(set)
}

// TerminateSession 关闭会话的所有本地连接并清除本地与共享的成员记录。
func (r *Registry) TerminateSession(ctx context.Context, sessionID string) {
	closed := r.closeLocal(sessionID)
	log.Infow("chat session terminated", "session", sessionID, "closedChannels", closed)
	if err := r.fanout.Terminate(ctx, sessionID); err != nil {
		log.Warnw("failed to clear shared session state", "session", sessionID, "error", err)
	}
}

func (r *Registry) closeLocal(sessionID string) int {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if !ok {
		return 0
	}
	for _, m := range entry.members {
		_ = m.ch.Close(websocket.CloseNormalClosure, "session ended")
	}
	return len(entry.members)
}

// CloseAll 在实例停机时关闭本地所有连接。共享状态由各连接自身的注销流程清理，不通知其他实例。
func (r *Registry) CloseAll(code int, reason string) int {
	r.mu.RLock()
	var channels []Channel
	for _, entry := range r.sessions {
		for _, m := range entry.members {
			channels = append(channels, m.ch)
		}
	}
	r.mu.RUnlock()

	for _, ch := range channels {
		_ = ch.Close(code, reason)
	}
	return len(channels)
}

// Run 接收其他实例发布的广播并投递给本地连接，直到 ctx 结束。
func (r *Registry) Run(ctx context.Context) error {
	return r.fanout.Subscribe(ctx,
		func(sessionID string, payload []byte) {
			r.deliver(ctx, sessionID, payload, "")
		},
		func(sessionID string) {
			if n := r.closeLocal(sessionID); n > 0 {
				log.Infow("chat session terminated by peer", "session", sessionID, "closedChannels", n)
			}
		},
	)
}

// Stats 是注册表的诊断快照。
type Stats struct {
	TotalSessions    int                 `json:"total_sessions"`
	TotalConnections int                 `json:"total_connections"`
	RedisEnabled     bool                `json:"redis_enabled"`
	Sessions         map[string][]string `json:"sessions"`
}

// Stats 返回本地连接统计。
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalSessions: len(r.sessions),
		RedisEnabled:  r.fanout.Distributed(),
		Sessions:      make(map[string][]string, len(r.sessions)),
	}
	for sessionID, entry := range r.sessions {
		stats.TotalConnections += len(entry.members)
		users := make(map[string]struct{}, len(entry.members))
		for _, m := range entry.members {
			users[m.userID] = struct{}{}
		}
		stats.Sessions[sessionID] = sortedKeys(users)
	}
	return stats
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
