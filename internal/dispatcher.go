package internal

import (
	"errors"
	"fmt"
	"log/slog"
)

// 系統設計問題：
//   每則入站訊息要依角色與擁有權驗證，再修改註冊表、觸發廣播、回覆發送者。
//   驗證失敗要怎麼處理？
//
// 設計方案：
//   ✅ 所有驗證失敗都是靜默忽略：不回覆、不斷線（客戶端假設沒有錯誤訊框）
//   ✅ 內部仍回傳具體原因（errors.Is(err, ErrIgnored) + 細分 sentinel），供日誌與測試使用
//   ✅ 先改註冊表、後廣播；廣播在 Manager 鎖外進行

var (
	// ErrIgnored 訊息被忽略（不回覆客戶端）
	ErrIgnored = errors.New("訊息已忽略")
	// ErrWrongRole 角色不允許此指令
	ErrWrongRole = errors.New("角色不允許此指令")
	// ErrMissingField 缺少必要欄位
	ErrMissingField = errors.New("缺少必要欄位")
)

// Dispatcher 協議分派器
type Dispatcher struct {
	manager *Manager
	conns   *Connections
	logger  *slog.Logger
	metrics *Metrics
}

// NewDispatcher 創建分派器
func NewDispatcher(manager *Manager, conns *Connections, logger *slog.Logger, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		manager: manager,
		conns:   conns,
		logger:  logger,
		metrics: metrics,
	}
}

// Dispatch 處理一則入站訊息
//
// reply 為 nil 時不回覆；此時 err 一定包著 ErrIgnored。
func (d *Dispatcher) Dispatch(sess *Session, data []byte) (any, error) {
	cmd, err := DecodeCommand(data)
	if err != nil {
		return nil, ignored(err)
	}

	switch c := cmd.(type) {
	case ListBoards:
		return d.listBoards(sess)
	case CreateBoard:
		return d.createBoard(sess, c)
	case ReadBoard:
		return d.readBoard(sess, c)
	case WriteBoard:
		return d.writeBoard(sess, c)
	default:
		return nil, ignored(fmt.Errorf("%w: 未處理的指令類型 %T", ErrUnknownCommand, cmd))
	}
}

// listBoards 指令 1：列出寫手擁有的看板
func (d *Dispatcher) listBoards(sess *Session) (any, error) {
	if sess.Role != RoleWriter {
		return nil, ignored(ErrWrongRole)
	}

	boards, err := d.manager.ListBoards(sess.Identity)
	if err != nil {
		return nil, ignored(err)
	}

	return ListBoardsResponse{Cmd: CmdListBoards, Boards: boards}, nil
}

// createBoard 指令 2：建立看板並通知寫手的其他分頁
func (d *Dispatcher) createBoard(sess *Session, c CreateBoard) (any, error) {
	if sess.Role != RoleWriter {
		return nil, ignored(ErrWrongRole)
	}
	if c.BoardName == "" {
		return nil, ignored(fmt.Errorf("%w: board_name", ErrMissingField))
	}

	board, siblings, err := d.manager.CreateBoard(sess.Identity, c.BoardName)
	if err != nil {
		return nil, ignored(err)
	}
	d.metrics.boardCreated()

	d.conns.Broadcast(siblings, BoardCreatedPush{
		Cmd:       CmdCreateBoard,
		BoardID:   board.ID,
		BoardName: board.Name,
	}, sess.Key)

	return CreateBoardResponse{
		Cmd:       CmdCreateBoard,
		BoardID:   board.ID,
		BoardName: board.Name,
		UpdateUI:  true,
	}, nil
}

// readBoard 指令 3：轉移訂閱並回傳目前內容
//
// 讀者固定讀自己連接時指定的看板；寫手必須明確帶 board_id（預覽自己的看板）。
func (d *Dispatcher) readBoard(sess *Session, c ReadBoard) (any, error) {
	var boardID string
	switch sess.Role {
	case RoleWriter:
		if c.BoardID == "" {
			return nil, ignored(fmt.Errorf("%w: board_id", ErrMissingField))
		}
		boardID = c.BoardID
	case RoleReader:
		boardID = sess.Identity
	default:
		return nil, ignored(ErrWrongRole)
	}

	previous, _ := sess.Subscribed()
	board, err := d.manager.Subscribe(sess.Key, previous, boardID)
	if err != nil {
		return nil, ignored(err)
	}
	sess.subscribed = boardID

	return ReadBoardResponse{
		Cmd:       CmdReadBoard,
		Content:   board.Content,
		BoardName: board.Name,
	}, nil
}

// writeBoard 指令 4：擁有者更新內容並推送給所有讀者
//
// 不排除發送者：寫手只有在另外訂閱了自己的看板時才會在讀者集合裡。
func (d *Dispatcher) writeBoard(sess *Session, c WriteBoard) (any, error) {
	if sess.Role != RoleWriter {
		return nil, ignored(ErrWrongRole)
	}
	if c.BoardID == "" {
		return nil, ignored(fmt.Errorf("%w: board_id", ErrMissingField))
	}
	if !c.HasContent {
		return nil, ignored(fmt.Errorf("%w: content", ErrMissingField))
	}

	readers, err := d.manager.WriteBoard(sess.Identity, c.BoardID, c.Content)
	if err != nil {
		return nil, ignored(err)
	}
	d.metrics.boardWritten()

	d.conns.Broadcast(readers, ContentPush{Cmd: CmdReadBoard, Content: c.Content}, "")

	return WriteBoardResponse{Cmd: CmdWriteBoard}, nil
}

func ignored(err error) error {
	return fmt.Errorf("%w: %w", ErrIgnored, err)
}
