package internal

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// 系統設計問題：
//   如何把一則訊息送到「某個連接 key」對應的 socket，而不在意它是否還活著？
//
// 設計方案：
//   ✅ key → Sender 的映射（RWMutex 保護）
//   ✅ 廣播時在讀鎖內取快照，鎖外投遞（慢連接不拖住註冊/註銷）
//   ✅ 找不到 key 視為連接已關閉，直接跳過（at-most-once、best effort）

// Sender 可定址的 socket 把手
//
// Send 不可阻塞；回傳 false 代表訊息沒有被接收（連接已關閉或緩衝區滿）。
type Sender interface {
	Send(payload []byte) bool
}

// Connections 連接註冊表
type Connections struct {
	conns   map[string]Sender // connection key -> handle
	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *Metrics
}

// NewConnections 創建連接註冊表
func NewConnections(logger *slog.Logger, metrics *Metrics) *Connections {
	return &Connections{
		conns:   make(map[string]Sender),
		logger:  logger,
		metrics: metrics,
	}
}

// Register 註冊連接，key 已存在時直接覆蓋
func (c *Connections) Register(key string, handle Sender) {
	c.mu.Lock()
	c.conns[key] = handle
	c.mu.Unlock()
}

// Unregister 註銷連接，不存在時不做事
func (c *Connections) Unregister(key string) {
	c.mu.Lock()
	delete(c.conns, key)
	c.mu.Unlock()
}

// Count 獲取連接數
func (c *Connections) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

// SendTo 單播
func (c *Connections) SendTo(key string, payload any) bool {
	c.mu.RLock()
	handle, exists := c.conns[key]
	c.mu.RUnlock()

	if !exists {
		return false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("序列化訊息失敗", "error", err, "conn", key)
		return false
	}

	return c.deliver(handle, data)
}

// Broadcast 廣播到一組連接，跳過 except
//
// 回傳實際接收的連接數。任何一個收件者失敗都不影響其他人。
func (c *Connections) Broadcast(keys []string, payload any, except string) int {
	if len(keys) == 0 {
		return 0
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("序列化廣播訊息失敗", "error", err)
		return 0
	}

	c.mu.RLock()
	targets := make([]Sender, 0, len(keys))
	for _, key := range keys {
		if key == except {
			continue
		}
		if handle, exists := c.conns[key]; exists {
			targets = append(targets, handle)
		}
	}
	c.mu.RUnlock()

	delivered := 0
	for _, handle := range targets {
		if c.deliver(handle, data) {
			delivered++
		}
	}
	return delivered
}

func (c *Connections) deliver(handle Sender, data []byte) bool {
	if handle.Send(data) {
		c.metrics.frameDelivered()
		return true
	}
	c.metrics.frameDropped()
	return false
}
