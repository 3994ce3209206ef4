package internal

import (
	"errors"
	"fmt"
)

// Role 連接角色
type Role int

const (
	RoleReader Role = iota // 讀者：identity 是看板 ID
	RoleWriter             // 寫手：identity 是寫手 ID
)

func (r Role) String() string {
	switch r {
	case RoleReader:
		return "reader"
	case RoleWriter:
		return "writer"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Session 單一連接的暫存狀態
//
// 只由該連接的讀取 goroutine 存取，不需要鎖。
type Session struct {
	Key      string // 連接 key，建立後不變
	Role     Role
	Identity string

	subscribed string // 目前訂閱的看板 ID
}

// NewSession 創建 session
func NewSession(key string, role Role, identity string) *Session {
	return &Session{
		Key:      key,
		Role:     role,
		Identity: identity,
	}
}

// Subscribed 目前訂閱的看板
func (s *Session) Subscribed() (string, bool) {
	return s.subscribed, s.subscribed != ""
}

// ErrMissingIdentity 連接缺少 id
var ErrMissingIdentity = errors.New("缺少 ID")

// Open 連接建立
//
// 讀者：看板必須存在，只登記到連接註冊表，送出指令 3 之前不會收到推送。
// 寫手：寫手條目不存在時建立，連接登記到註冊表與寫手的連接集合。
func (d *Dispatcher) Open(sess *Session, handle Sender) error {
	if sess.Identity == "" {
		return ErrMissingIdentity
	}

	switch sess.Role {
	case RoleReader:
		if !d.manager.BoardExists(sess.Identity) {
			return fmt.Errorf("%w: %s", ErrBoardNotFound, sess.Identity)
		}
		d.conns.Register(sess.Key, handle)
	case RoleWriter:
		// 先登記 handle，廣播拿到 key 時一定找得到連接
		d.conns.Register(sess.Key, handle)
		d.manager.AttachWriterConn(sess.Identity, sess.Key)
	default:
		return fmt.Errorf("未知的角色: %s", sess.Role)
	}

	d.logger.Debug("連接已開啟",
		"conn", sess.Key,
		"role", sess.Role,
		"identity", sess.Identity)
	return nil
}

// Close 連接關閉，從所有註冊表解除
//
// 寫手條目與其看板不刪除，重新連線後仍可使用。
func (d *Dispatcher) Close(sess *Session) {
	if boardID, ok := sess.Subscribed(); ok {
		d.manager.Unsubscribe(sess.Key, boardID)
		sess.subscribed = ""
	}

	if sess.Role == RoleWriter {
		d.manager.DetachWriterConn(sess.Identity, sess.Key)
	}

	d.conns.Unregister(sess.Key)

	d.logger.Debug("連接已關閉",
		"conn", sess.Key,
		"role", sess.Role,
		"identity", sess.Identity)
}
