// Package textboard 提供一個即時文字看板轉播服務。
//
// 寫手建立看板並推送內容，讀者訂閱看板並即時收到更新。
// 所有狀態都在記憶體中，行程結束即消失。
//
// # 角色
//
// 每條 WebSocket 連接在升級時就決定角色：
//   - 寫手：/ws/w?id=<寫手 ID>，可列出、建立、預覽、更新自己的看板
//   - 讀者：/ws/r?id=<看板 ID>，只能讀取並訂閱指定的看板
//
// 寫手 ID 不需要註冊，第一次連線就建立；同一個寫手可以開多個分頁，
// 在任一分頁建立看板，其他分頁會收到通知。
//
// # 協議
//
// 訊框是 UTF-8 JSON 物件，以 cmd 欄位區分：
//
//	1  列出看板    → {"cmd":1,"boards":[{"id":...,"name":...}]}
//	2  建立看板    → {"cmd":2,"board_id":...,"board_name":...,"update_ui":true}
//	3  讀取並訂閱  → {"cmd":3,"content":...,"board_name":...}
//	4  更新內容    → {"cmd":4}，讀者收到 {"cmd":3,"content":...}
//
// 任何驗證失敗（格式錯誤、角色不符、不是擁有者、看板不存在）都靜默忽略，
// 不回覆也不斷線。
//
// # 並發設計
//
//   - 看板與寫手共用一把讀寫鎖，訂閱轉移是單一臨界區
//   - 連接註冊表獨立一把鎖，廣播在鎖外投遞
//   - 每條連接一個讀取 goroutine（依序處理）與一個寫入 goroutine（唯一寫入者）
//   - 慢連接的緩衝區滿了就丟訊息，不會拖住寫手
//
// # 使用範例
//
// 啟動服務器：
//
//	go run ./cmd/server -config textboard.yaml
//
// 寫手連線並建立看板：
//
//	ws://localhost:8080/ws/w?id=4f1c...
//	→ {"cmd":2,"board_name":"比賽直播"}
//
// 讀者訂閱：
//
//	ws://localhost:8080/ws/r?id=<board_id>
//	→ {"cmd":3}
//
// # 監控
//
//   - GET /health  健康檢查
//   - GET /stats   註冊表數量與計數器（JSON）
//   - GET /metrics Prometheus 文字格式
package textboard
