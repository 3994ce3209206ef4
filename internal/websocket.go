package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// 系統設計問題：
//   讀者與寫手各自從一條升級路徑進來，如何管理連接的生命週期並即時推送看板內容？
//
// 核心挑戰：
//   1. 生命週期：開啟時登記、關閉時從所有註冊表解除，一個都不能漏
//   2. 順序：同一條連接的訊息依序處理，第 N 則處理完（含廣播與回覆）才讀第 N+1 則
//   3. 心跳：檢測死連接（54s Ping / 60s 讀取期限）
//   4. 慢讀者：推送不能卡住寫手
//
// 設計方案：
//   ✅ 每條連接一個 readPump（依序分派）+ 一個 writePump（唯一寫入者）
//   ✅ 緩衝 channel 送出；滿了就丟（best effort，at-most-once）
//   ✅ send channel 永不關閉，用 done 通知 writePump 結束，避免 send on closed channel
//   ✅ 連接 key 由亂數產生，不用遠端位址（同一 NAT 後的兩條連接會撞 key）

// CloseBoardNotFound 讀者要求的看板不存在（升級之後才發現時使用的關閉碼）
const CloseBoardNotFound = 4404

// Hub WebSocket 連接中心
type Hub struct {
	manager    *Manager
	conns      *Connections
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *Metrics
	upgrader   websocket.Upgrader
	cfg        WebSocketConfig
	newKey     IDGenerator

	live      map[*Connection]struct{}
	rateLimit RateLimitConfig
	stopped   bool
	mu        sync.Mutex
	wg        sync.WaitGroup
}

// Connection WebSocket 連接
type Connection struct {
	session  *Session
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	hub      *Hub
	limiter  *rate.Limiter
	doneOnce sync.Once
}

// HubOption Hub 選項
type HubOption func(*Hub)

// WithConnKeyGenerator 替換連接 key 產生器
func WithConnKeyGenerator(gen IDGenerator) HubOption {
	return func(hub *Hub) {
		hub.newKey = gen
	}
}

// WithRateLimit 設定初始入站速率限制
func WithRateLimit(cfg RateLimitConfig) HubOption {
	return func(hub *Hub) {
		hub.rateLimit = cfg
	}
}

// NewHub 創建 WebSocket Hub
func NewHub(dispatcher *Dispatcher, cfg WebSocketConfig, logger *slog.Logger, opts ...HubOption) *Hub {
	hub := &Hub{
		manager:    dispatcher.manager,
		conns:      dispatcher.conns,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    dispatcher.metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 沒有身分驗證，任何持有 ID 的來源都可以連
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		cfg:    cfg,
		newKey: GenerateID,
		live:   make(map[*Connection]struct{}),
	}
	for _, opt := range opts {
		opt(hub)
	}
	return hub
}

// ServeReader 讀者升級路徑，id 是看板 ID
func (hub *Hub) ServeReader(w http.ResponseWriter, r *http.Request) {
	boardID := r.URL.Query().Get("id")
	if boardID == "" {
		hub.metrics.connectionRejected()
		http.Error(w, "Missing ID", http.StatusBadRequest)
		return
	}

	// 看板不存在就不升級，也不建立 session
	if !hub.manager.BoardExists(boardID) {
		hub.metrics.connectionRejected()
		http.Error(w, "Board not found", http.StatusNotFound)
		return
	}

	hub.serve(w, r, RoleReader, boardID)
}

// ServeWriter 寫手升級路徑，id 是寫手 ID
func (hub *Hub) ServeWriter(w http.ResponseWriter, r *http.Request) {
	writerID := r.URL.Query().Get("id")
	if writerID == "" {
		hub.metrics.connectionRejected()
		http.Error(w, "Missing ID", http.StatusBadRequest)
		return
	}

	hub.serve(w, r, RoleWriter, writerID)
}

func (hub *Hub) serve(w http.ResponseWriter, r *http.Request, role Role, identity string) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader 已經寫了錯誤回應
		hub.logger.Error("升級 WebSocket 失敗", "error", err, "role", role)
		return
	}

	c := &Connection{
		session: NewSession(hub.newKey(), role, identity),
		conn:    conn,
		send:    make(chan []byte, hub.cfg.SendBuffer),
		done:    make(chan struct{}),
		hub:     hub,
	}

	if err := hub.register(c); err != nil {
		hub.metrics.connectionRejected()
		code := websocket.CloseGoingAway
		if errors.Is(err, ErrBoardNotFound) {
			code = CloseBoardNotFound
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()

	hub.logger.Info("WebSocket 連接建立",
		"conn", c.session.Key,
		"role", role,
		"identity", identity)
}

var errHubStopped = errors.New("服務正在關閉")

// register 註冊連接
func (hub *Hub) register(c *Connection) error {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return errHubStopped
	}

	// 讀者的看板在升級前已檢查過，Open 會再檢查一次
	if err := hub.dispatcher.Open(c.session, c); err != nil {
		return err
	}

	c.limiter = newLimiter(hub.rateLimit)
	hub.live[c] = struct{}{}
	hub.wg.Add(1)
	hub.metrics.connectionOpened()
	return nil
}

// unregister 取消註冊連接
func (hub *Hub) unregister(c *Connection) {
	hub.dispatcher.Close(c.session)
	c.doneOnce.Do(func() {
		close(c.done)
	})

	hub.mu.Lock()
	if _, exists := hub.live[c]; exists {
		delete(hub.live, c)
		hub.metrics.connectionClosed()
		hub.wg.Done()
	}
	hub.mu.Unlock()

	hub.logger.Info("WebSocket 連接關閉",
		"conn", c.session.Key,
		"role", c.session.Role,
		"identity", c.session.Identity)
}

// SetRateLimit 調整所有連接（含之後的新連接）的入站速率限制
func (hub *Hub) SetRateLimit(cfg RateLimitConfig) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	hub.rateLimit = cfg
	limit, burst := limiterParams(cfg)
	for c := range hub.live {
		c.limiter.SetLimit(limit)
		c.limiter.SetBurst(burst)
	}
}

// ConnectionCount 獲取存活連接數
func (hub *Hub) ConnectionCount() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.live)
}

// Stop 停止 WebSocket Hub，關閉所有連接並等待清理完成
func (hub *Hub) Stop() {
	hub.mu.Lock()
	hub.stopped = true
	conns := make([]*Connection, 0, len(hub.live))
	for c := range hub.live {
		conns = append(conns, c)
	}
	hub.mu.Unlock()

	for _, c := range conns {
		// WriteControl 與 Close 可以和其他方法並發呼叫
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		c.conn.Close()
	}

	hub.wg.Wait()
	hub.logger.Info("WebSocket Hub 已停止")
}

// Send 實作 Sender：非阻塞放入送出佇列
func (c *Connection) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		c.hub.logger.Warn("連接緩衝區滿，丟棄訊息",
			"conn", c.session.Key,
			"role", c.session.Role)
		return false
	}
}

// readPump 讀取客戶端訊息
//
// 只有這個 goroutine 會讀寫 session，也只有它會觸發 unregister。
// 60 秒內沒有任何訊框（含 Pong）就視為死連接。
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageBytes)
	if err := c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.logger.Warn("WebSocket 讀取錯誤",
					"error", err,
					"conn", c.session.Key)
			}
			return
		}

		// 文字與二進位訊框都當 UTF-8 JSON 處理
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		c.handleMessage(message)
	}
}

// writePump 寫入訊息到客戶端，是這條連接唯一的資料寫入者
func (c *Connection) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的訊息
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					c.hub.logger.Error("發送訊息失敗", "error", err, "conn", c.session.Key)
					return
				}
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleMessage 處理單則訊息
//
// 分派器裡的 panic 只影響這一則訊息，連接保持可用。
func (c *Connection) handleMessage(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.hub.metrics.frameIgnored()
			c.hub.logger.Error("處理訊息時發生 panic",
				"error", r,
				"conn", c.session.Key)
		}
	}()

	c.hub.metrics.frameReceived()

	if !c.limiter.Allow() {
		c.hub.metrics.frameIgnored()
		c.hub.logger.Debug("超過速率限制，忽略訊息", "conn", c.session.Key)
		return
	}

	reply, err := c.hub.dispatcher.Dispatch(c.session, message)
	if err != nil {
		c.hub.metrics.frameIgnored()
		c.hub.logger.Debug("忽略客戶端訊息",
			"reason", err,
			"conn", c.session.Key,
			"role", c.session.Role)
		return
	}

	data, err := json.Marshal(reply)
	if err != nil {
		c.hub.logger.Error("序列化回應失敗", "error", err)
		return
	}
	if c.Send(data) {
		c.hub.metrics.frameDelivered()
	} else {
		c.hub.metrics.frameDropped()
	}
}

func newLimiter(cfg RateLimitConfig) *rate.Limiter {
	limit, burst := limiterParams(cfg)
	return rate.NewLimiter(limit, burst)
}

func limiterParams(cfg RateLimitConfig) (rate.Limit, int) {
	if cfg.PerSecond <= 0 {
		return rate.Inf, 0
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(math.Ceil(cfg.PerSecond))
	}
	return rate.Limit(cfg.PerSecond), burst
}
