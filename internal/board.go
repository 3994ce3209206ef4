package internal

import (
	"time"
)

// 系統設計問題：
//   一個看板同時只有一位寫手，卻可能有很多讀者，如何追蹤「誰正在看」？
//
// 設計方案：
//   ✅ 看板本身只存名稱、內容、擁有者與讀者 key 集合
//   ✅ 並發控制交給 Manager 的鎖（訂閱轉移需要同時改兩個看板，一把鎖最簡單）
//   ✅ 名稱與擁有者建立後不可變；內容只有擁有者能改

// Board 看板
//
// 所有欄位都由 Manager.mu 保護，不可在 Manager 之外直接修改。
type Board struct {
	ID        string
	Name      string
	Content   string
	Owner     string // 建立者的寫手 ID
	CreatedAt time.Time
	UpdatedAt time.Time

	readers map[string]struct{} // 訂閱中的連接 key
}

// BoardSummary 看板清單項目（指令 1 回應）
type BoardSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BoardSnapshot 看板在某一時刻的唯讀副本
type BoardSnapshot struct {
	ID        string    `json:"board_id"`
	Name      string    `json:"board_name"`
	Content   string    `json:"content"`
	Owner     string    `json:"owner"`
	Readers   int       `json:"readers"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// newBoard 創建看板，初始內容等於名稱
func newBoard(id, name, owner string) *Board {
	now := time.Now()
	return &Board{
		ID:        id,
		Name:      name,
		Content:   name,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
		readers:   make(map[string]struct{}),
	}
}

func (b *Board) summary() BoardSummary {
	return BoardSummary{ID: b.ID, Name: b.Name}
}

func (b *Board) snapshot() BoardSnapshot {
	return BoardSnapshot{
		ID:        b.ID,
		Name:      b.Name,
		Content:   b.Content,
		Owner:     b.Owner,
		Readers:   len(b.readers),
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func (b *Board) readerKeys() []string {
	keys := make([]string, 0, len(b.readers))
	for key := range b.readers {
		keys = append(keys, key)
	}
	return keys
}

func (b *Board) hasReader(key string) bool {
	_, ok := b.readers[key]
	return ok
}
