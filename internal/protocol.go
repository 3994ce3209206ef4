package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// 系統設計問題：
//   客戶端送來的是 {"cmd": <number>, ...} 的無型別 JSON，如何在邊界就轉成型別安全的指令？
//
// 設計方案：
//   ✅ 一個指令一個型別（tagged variant），在解碼時決定
//   ✅ Command 介面是封閉的（未匯出方法），新增指令必須同時修改 Dispatcher
//   ✅ 解碼失敗回傳 sentinel error，由呼叫端決定靜默忽略

// Cmd 指令代碼
type Cmd int

const (
	CmdListBoards  Cmd = 1 // 列出擁有的看板
	CmdCreateBoard Cmd = 2 // 建立看板；同時也是「新看板」推送
	CmdReadBoard   Cmd = 3 // 訂閱/讀取看板；同時也是內容推送
	CmdWriteBoard  Cmd = 4 // 更新看板內容
)

// Commands 所有已知指令
var Commands = []Cmd{CmdListBoards, CmdCreateBoard, CmdReadBoard, CmdWriteBoard}

var (
	// ErrMalformed 訊息無法解析或 cmd 不是有限數字
	ErrMalformed = errors.New("訊息格式錯誤")
	// ErrUnknownCommand cmd 是數字但不是已知指令
	ErrUnknownCommand = errors.New("未知的指令")
)

// Command 已解碼的客戶端指令
type Command interface {
	Code() Cmd
	command()
}

// ListBoards 指令 1
type ListBoards struct{}

// CreateBoard 指令 2
type CreateBoard struct {
	BoardName string
}

// ReadBoard 指令 3；讀者的 BoardID 會被忽略（使用連接的 identity）
type ReadBoard struct {
	BoardID string
}

// WriteBoard 指令 4
type WriteBoard struct {
	BoardID    string
	Content    string
	HasContent bool // content 欄位是否存在（空字串是合法內容）
}

func (ListBoards) Code() Cmd  { return CmdListBoards }
func (CreateBoard) Code() Cmd { return CmdCreateBoard }
func (ReadBoard) Code() Cmd   { return CmdReadBoard }
func (WriteBoard) Code() Cmd  { return CmdWriteBoard }

func (ListBoards) command()  {}
func (CreateBoard) command() {}
func (ReadBoard) command()   {}
func (WriteBoard) command()  {}

// envelope 入站訊息的原始形狀
//
// 以 map 解碼而非 struct：encoding/json 對 struct 欄位名稱不分大小寫，
// {"CMD":1} 必須視為缺少 cmd。
type envelope map[string]json.RawMessage

// str 讀取字串欄位；不存在或為 null 時回傳 nil
func (e envelope) str(key string) (*string, error) {
	raw, ok := e[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return &s, nil
}

// DecodeCommand 解碼入站訊息
func DecodeCommand(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// 所有已知欄位先檢查型別，與指令無關
	boardName, err := env.str("board_name")
	if err != nil {
		return nil, err
	}
	boardID, err := env.str("board_id")
	if err != nil {
		return nil, err
	}
	content, err := env.str("content")
	if err != nil {
		return nil, err
	}

	code, err := parseCmd(env["cmd"])
	if err != nil {
		return nil, err
	}

	switch code {
	case CmdListBoards:
		return ListBoards{}, nil
	case CmdCreateBoard:
		return CreateBoard{BoardName: deref(boardName)}, nil
	case CmdReadBoard:
		return ReadBoard{BoardID: deref(boardID)}, nil
	case CmdWriteBoard:
		return WriteBoard{
			BoardID:    deref(boardID),
			Content:    deref(content),
			HasContent: content != nil,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, code)
	}
}

// parseCmd 解析 cmd 欄位
//
// 接受 JSON 數字或數字字串（舊版網頁客戶端會送 "3"）。
func parseCmd(raw json.RawMessage) (Cmd, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: 缺少 cmd", ErrMalformed)
	}

	var value float64
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: cmd %q 不是數字", ErrMalformed, s)
		}
		value = f
	} else if err := json.Unmarshal(raw, &value); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: cmd 不是有限數字", ErrMalformed)
	}
	if value != math.Trunc(value) || value < float64(CmdListBoards) || value > float64(CmdWriteBoard) {
		return 0, fmt.Errorf("%w: %v", ErrUnknownCommand, value)
	}
	return Cmd(value), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// 回應（同步回覆給送出指令的連接）

// ListBoardsResponse 指令 1 回應
type ListBoardsResponse struct {
	Cmd    Cmd            `json:"cmd"`
	Boards []BoardSummary `json:"boards"`
}

// CreateBoardResponse 指令 2 回應
type CreateBoardResponse struct {
	Cmd       Cmd    `json:"cmd"`
	BoardID   string `json:"board_id"`
	BoardName string `json:"board_name"`
	UpdateUI  bool   `json:"update_ui"`
}

// ReadBoardResponse 指令 3 回應
type ReadBoardResponse struct {
	Cmd       Cmd    `json:"cmd"`
	Content   string `json:"content"`
	BoardName string `json:"board_name"`
}

// WriteBoardResponse 指令 4 回應
type WriteBoardResponse struct {
	Cmd Cmd `json:"cmd"`
}

// 推送（經由廣播，不在請求/回應週期內）

// BoardCreatedPush 寫手其他分頁收到的新看板通知
type BoardCreatedPush struct {
	Cmd       Cmd    `json:"cmd"`
	BoardID   string `json:"board_id"`
	BoardName string `json:"board_name"`
}

// ContentPush 讀者收到的內容更新
type ContentPush struct {
	Cmd     Cmd    `json:"cmd"`
	Content string `json:"content"`
}
