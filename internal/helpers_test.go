package internal_test

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/koopa0/system-design/textboard/internal"
	"github.com/stretchr/testify/require"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

// sequentialIDs 可預測的 ID 產生器，prefix-1、prefix-2 ...
func sequentialIDs(prefix string) internal.IDGenerator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

// recorder 記錄收到訊框的 Sender
type recorder struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (r *recorder) Send(payload []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.frames = append(r.frames, payload)
	return true
}

func (r *recorder) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// messages 解碼所有收到的訊框
func (r *recorder) messages(t *testing.T) []map[string]any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]map[string]any, 0, len(r.frames))
	for _, frame := range r.frames {
		var msg map[string]any
		require.NoError(t, json.Unmarshal(frame, &msg))
		result = append(result, msg)
	}
	return result
}

// fixture 組好 Manager、Connections、Dispatcher 的測試環境
type fixture struct {
	manager    *internal.Manager
	conns      *internal.Connections
	dispatcher *internal.Dispatcher
	metrics    *internal.Metrics
}

func newFixture() *fixture {
	logger := testLogger()
	metrics := internal.NewMetrics()
	manager := internal.NewManager(logger, internal.WithIDGenerator(sequentialIDs("board")))
	conns := internal.NewConnections(logger, metrics)
	return &fixture{
		manager:    manager,
		conns:      conns,
		dispatcher: internal.NewDispatcher(manager, conns, logger, metrics),
		metrics:    metrics,
	}
}

// open 開啟一條模擬連接
func (f *fixture) open(t *testing.T, key string, role internal.Role, identity string) (*internal.Session, *recorder) {
	t.Helper()
	sess := internal.NewSession(key, role, identity)
	rec := &recorder{}
	require.NoError(t, f.dispatcher.Open(sess, rec))
	return sess, rec
}

// send 送出一則 JSON 訊息並回傳回覆（序列化後再解碼，與線上格式一致）
func (f *fixture) send(t *testing.T, sess *internal.Session, msg string) (map[string]any, error) {
	t.Helper()
	reply, err := f.dispatcher.Dispatch(sess, []byte(msg))
	if err != nil {
		require.Nil(t, reply)
		return nil, err
	}

	raw, err := json.Marshal(reply)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return decoded, nil
}

// createBoard 以寫手身分建立看板，回傳看板 ID
func (f *fixture) createBoard(t *testing.T, sess *internal.Session, name string) string {
	t.Helper()
	reply, err := f.send(t, sess, fmt.Sprintf(`{"cmd":2,"board_name":%q}`, name))
	require.NoError(t, err)
	id, ok := reply["board_id"].(string)
	require.True(t, ok)
	return id
}
