package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrWriterNotFound 寫手不存在
	ErrWriterNotFound = errors.New("寫手不存在")
	// ErrBoardNotFound 看板不存在
	ErrBoardNotFound = errors.New("看板不存在")
	// ErrNotOwner 不是看板擁有者
	ErrNotOwner = errors.New("不是看板擁有者")
	// ErrEmptyBoardName 看板名稱為空
	ErrEmptyBoardName = errors.New("看板名稱不能為空")
)

// writerEntry 寫手狀態
//
// 寫手可以同時開多個分頁，所以有多個連接 key。
// 條目建立後不刪除：重新連線的寫手要能拿回自己的看板。
type writerEntry struct {
	connections map[string]struct{}
	boards      []string // 建立順序
}

// Manager 寫手與看板註冊表
//
// 兩張表共用一把鎖：建立看板（寫看板表 + 追加寫手清單）與訂閱轉移
// （從舊看板移除 + 加入新看板）都必須是單一臨界區。
// 看板與寫手條目在行程存活期間不會被刪除。
type Manager struct {
	boards  map[string]*Board       // boardID -> Board
	writers map[string]*writerEntry // writerID -> entry
	mu      sync.RWMutex
	newID   IDGenerator
	logger  *slog.Logger
}

// ManagerOption 管理器選項
type ManagerOption func(*Manager)

// WithIDGenerator 替換看板 ID 產生器
func WithIDGenerator(gen IDGenerator) ManagerOption {
	return func(m *Manager) {
		m.newID = gen
	}
}

// NewManager 創建管理器
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		boards:  make(map[string]*Board),
		writers: make(map[string]*writerEntry),
		newID:   GenerateID,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AttachWriterConn 把連接掛到寫手底下，寫手不存在時建立
func (m *Manager) AttachWriterConn(writerID, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.writerLocked(writerID)
	w.connections[key] = struct{}{}
}

// DetachWriterConn 移除寫手的連接，寫手條目與看板保留
func (m *Manager) DetachWriterConn(writerID, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, exists := m.writers[writerID]; exists {
		delete(w.connections, key)
	}
}

// HasWriter 寫手條目是否存在
func (m *Manager) HasWriter(writerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.writers[writerID]
	return exists
}

// WriterConnections 獲取寫手目前的連接 key
func (m *Manager) WriterConnections(writerID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, exists := m.writers[writerID]
	if !exists {
		return nil
	}
	return setKeys(w.connections)
}

// CreateBoard 創建看板
//
// 回傳新看板與寫手目前所有連接 key（含呼叫者，由呼叫端決定排除誰）。
func (m *Manager) CreateBoard(writerID, name string) (BoardSummary, []string, error) {
	if name == "" {
		return BoardSummary{}, nil, ErrEmptyBoardName
	}

	m.mu.Lock()
	w, exists := m.writers[writerID]
	if !exists {
		m.mu.Unlock()
		return BoardSummary{}, nil, fmt.Errorf("%w: %s", ErrWriterNotFound, writerID)
	}

	board := newBoard(m.newID(), name, writerID)
	m.boards[board.ID] = board
	w.boards = append(w.boards, board.ID)
	siblings := setKeys(w.connections)
	m.mu.Unlock()

	m.logger.Info("看板已創建",
		"board_id", board.ID,
		"board_name", name,
		"writer_id", writerID)

	return board.summary(), siblings, nil
}

// ListBoards 列出寫手擁有的看板（建立順序）
func (m *Manager) ListBoards(writerID string) ([]BoardSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, exists := m.writers[writerID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrWriterNotFound, writerID)
	}

	result := make([]BoardSummary, 0, len(w.boards))
	for _, boardID := range w.boards {
		if board, ok := m.boards[boardID]; ok {
			result = append(result, board.summary())
		}
	}
	return result, nil
}

// Subscribe 把連接的訂閱轉移到 boardID
//
// previous 是連接目前訂閱的看板（沒有則為空字串）。目標看板不存在時
// 不動任何訂閱，所以同一個 key 永遠不會同時出現在兩個看板的讀者集合。
func (m *Manager) Subscribe(key, previous, boardID string) (BoardSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	board, exists := m.boards[boardID]
	if !exists {
		return BoardSnapshot{}, fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	}

	if previous != "" {
		if old, ok := m.boards[previous]; ok {
			delete(old.readers, key)
		}
	}
	board.readers[key] = struct{}{}

	return board.snapshot(), nil
}

// Unsubscribe 取消訂閱，看板或訂閱不存在時不做事
func (m *Manager) Unsubscribe(key, boardID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if board, exists := m.boards[boardID]; exists {
		delete(board.readers, key)
	}
}

// WriteBoard 更新看板內容
//
// 先驗證擁有者再修改，非擁有者的寫入不會留下任何痕跡。
// 回傳需要推送的讀者 key。
func (m *Manager) WriteBoard(writerID, boardID, content string) ([]string, error) {
	m.mu.Lock()
	board, exists := m.boards[boardID]
	if !exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	}
	if board.Owner != writerID {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: board %s", ErrNotOwner, boardID)
	}

	board.Content = content
	board.UpdatedAt = time.Now()
	readers := board.readerKeys()
	m.mu.Unlock()

	m.logger.Debug("看板內容已更新",
		"board_id", boardID,
		"writer_id", writerID,
		"bytes", len(content),
		"readers", len(readers))

	return readers, nil
}

// BoardExists 看板是否存在
func (m *Manager) BoardExists(boardID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.boards[boardID]
	return exists
}

// GetBoard 獲取看板快照
func (m *Manager) GetBoard(boardID string) (BoardSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	board, exists := m.boards[boardID]
	if !exists {
		return BoardSnapshot{}, fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	}
	return board.snapshot(), nil
}

// Readers 獲取看板的讀者 key
func (m *Manager) Readers(boardID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	board, exists := m.boards[boardID]
	if !exists {
		return nil
	}
	return board.readerKeys()
}

// IsSubscribed 連接是否訂閱了看板
func (m *Manager) IsSubscribed(boardID, key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	board, exists := m.boards[boardID]
	return exists && board.hasReader(key)
}

// Counts 註冊表數量統計
type Counts struct {
	Boards            int `json:"total_boards"`
	Writers           int `json:"total_writers"`
	WriterConnections int `json:"writer_connections"`
	Subscriptions     int `json:"subscriptions"`
}

// Counts 獲取數量統計
func (m *Manager) Counts() Counts {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := Counts{
		Boards:  len(m.boards),
		Writers: len(m.writers),
	}
	for _, w := range m.writers {
		c.WriterConnections += len(w.connections)
	}
	for _, b := range m.boards {
		c.Subscriptions += len(b.readers)
	}
	return c
}

// writerLocked 取得或建立寫手條目（需持有寫鎖）
func (m *Manager) writerLocked(writerID string) *writerEntry {
	w, exists := m.writers[writerID]
	if !exists {
		w = &writerEntry{connections: make(map[string]struct{})}
		m.writers[writerID] = w
		m.logger.Debug("寫手條目已建立", "writer_id", writerID)
	}
	return w
}

func setKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	return keys
}
