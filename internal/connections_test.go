package internal_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/koopa0/system-design/textboard/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConnections_RegisterUnregister 測試註冊與註銷
func TestConnections_RegisterUnregister(t *testing.T) {
	conns := internal.NewConnections(testLogger(), nil)

	a, b := &recorder{}, &recorder{}
	conns.Register("a", a)
	conns.Register("b", b)
	assert.Equal(t, 2, conns.Count())

	// 覆蓋同一個 key
	replacement := &recorder{}
	conns.Register("a", replacement)
	assert.Equal(t, 2, conns.Count())
	assert.True(t, conns.SendTo("a", map[string]int{"cmd": 1}))
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, replacement.count())

	conns.Unregister("a")
	conns.Unregister("a") // 不存在時不做事
	conns.Unregister("missing")
	assert.Equal(t, 1, conns.Count())
	assert.False(t, conns.SendTo("a", map[string]int{"cmd": 1}))
}

// TestConnections_Broadcast 測試廣播
func TestConnections_Broadcast(t *testing.T) {
	tests := []struct {
		name      string
		keys      []string
		except    string
		delivered int
		validate  func(t *testing.T, recs map[string]*recorder)
	}{
		{
			name:      "deliver to all",
			keys:      []string{"a", "b", "c"},
			delivered: 3,
			validate: func(t *testing.T, recs map[string]*recorder) {
				for _, key := range []string{"a", "b", "c"} {
					assert.Equal(t, 1, recs[key].count(), key)
				}
				assert.Equal(t, 0, recs["closed"].count(), "不在名單內")
			},
		},
		{
			name:      "skip except",
			keys:      []string{"a", "b", "c"},
			except:    "b",
			delivered: 2,
			validate: func(t *testing.T, recs map[string]*recorder) {
				assert.Equal(t, 0, recs["b"].count())
				assert.Equal(t, 1, recs["a"].count())
			},
		},
		{
			name:      "skip unknown keys",
			keys:      []string{"a", "gone", "c"},
			delivered: 2,
		},
		{
			name:      "closed recipient does not stop others",
			keys:      []string{"closed", "a", "b"},
			delivered: 2,
			validate: func(t *testing.T, recs map[string]*recorder) {
				assert.Equal(t, 0, recs["closed"].count())
				assert.Equal(t, 1, recs["b"].count())
			},
		},
		{
			name:      "empty key list",
			keys:      nil,
			delivered: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := internal.NewMetrics()
			conns := internal.NewConnections(testLogger(), metrics)

			recs := map[string]*recorder{
				"a":      {},
				"b":      {},
				"c":      {},
				"closed": {},
			}
			recs["closed"].close()
			for key, rec := range recs {
				conns.Register(key, rec)
			}

			delivered := conns.Broadcast(tt.keys, internal.ContentPush{Cmd: internal.CmdReadBoard, Content: "x"}, tt.except)
			assert.Equal(t, tt.delivered, delivered)
			assert.Equal(t, int64(tt.delivered), metrics.Snapshot()["frames_delivered"])

			if tt.validate != nil {
				tt.validate(t, recs)
			}
		})
	}
}

// TestConnections_BroadcastPayload 測試廣播的訊框內容
func TestConnections_BroadcastPayload(t *testing.T) {
	conns := internal.NewConnections(testLogger(), nil)
	rec := &recorder{}
	conns.Register("a", rec)

	conns.Broadcast([]string{"a"}, internal.ContentPush{Cmd: internal.CmdReadBoard, Content: "你好"}, "")

	msgs := rec.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, float64(3), msgs[0]["cmd"])
	assert.Equal(t, "你好", msgs[0]["content"])
	assert.Len(t, msgs[0], 2)
}

// TestConnections_ConcurrentAccess 測試註冊、註銷與廣播併發執行
func TestConnections_ConcurrentAccess(t *testing.T) {
	conns := internal.NewConnections(testLogger(), internal.NewMetrics())

	const numGoroutines = 20
	keys := make([]string, numGoroutines)
	for i := range keys {
		keys[i] = fmt.Sprintf("conn-%d", i)
	}

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(2)
		go func(key string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				conns.Register(key, &recorder{})
				conns.Unregister(key)
			}
		}(keys[i])
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				conns.Broadcast(keys, internal.WriteBoardResponse{Cmd: internal.CmdWriteBoard}, "")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, conns.Count())
}
