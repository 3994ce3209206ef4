package internal

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// idBytes 識別碼的熵長度（位元組）
const idBytes = 16

// IDGenerator 產生不透明識別碼
//
// 寫手 ID、看板 ID、連接 key 共用同一個產生器。
// 只靠機率保證唯一，不做碰撞檢查。
type IDGenerator func() string

// GenerateID 從安全亂數源讀取 16 bytes，回傳 32 字元十六進位字串
func GenerateID() string {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		// 沒有安全亂數就無法產生不可猜測的 ID，不能退回時間戳
		panic(fmt.Sprintf("讀取安全亂數失敗: %v", err))
	}
	return hex.EncodeToString(b)
}
