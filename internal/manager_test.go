package internal_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/koopa0/system-design/textboard/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewManager 測試創建管理器
func TestNewManager(t *testing.T) {
	manager := internal.NewManager(testLogger())
	require.NotNil(t, manager)

	// 驗證初始狀態
	assert.Equal(t, internal.Counts{}, manager.Counts())
}

// TestManager_WriterConnections 測試寫手連接的掛載與移除
func TestManager_WriterConnections(t *testing.T) {
	manager := internal.NewManager(testLogger())

	assert.False(t, manager.HasWriter("w1"))

	manager.AttachWriterConn("w1", "tab-1")
	manager.AttachWriterConn("w1", "tab-2")
	assert.True(t, manager.HasWriter("w1"))
	assert.ElementsMatch(t, []string{"tab-1", "tab-2"}, manager.WriterConnections("w1"))

	manager.DetachWriterConn("w1", "tab-1")
	assert.ElementsMatch(t, []string{"tab-2"}, manager.WriterConnections("w1"))

	// 最後一條連接關閉後寫手條目仍保留
	manager.DetachWriterConn("w1", "tab-2")
	assert.True(t, manager.HasWriter("w1"))
	assert.Empty(t, manager.WriterConnections("w1"))

	// 不存在的寫手
	manager.DetachWriterConn("ghost", "tab")
	assert.Nil(t, manager.WriterConnections("ghost"))
}

// TestManager_CreateBoard 測試創建看板
func TestManager_CreateBoard(t *testing.T) {
	tests := []struct {
		name      string
		writerID  string
		boardName string
		wantErr   error
		validate  func(t *testing.T, m *internal.Manager, board internal.BoardSummary, siblings []string)
	}{
		{
			name:      "create board successfully",
			writerID:  "w1",
			boardName: "Game 1",
			validate: func(t *testing.T, m *internal.Manager, board internal.BoardSummary, siblings []string) {
				assert.Equal(t, "board-1", board.ID)
				assert.Equal(t, "Game 1", board.Name)
				assert.ElementsMatch(t, []string{"tab-1", "tab-2"}, siblings)

				snap, err := m.GetBoard(board.ID)
				require.NoError(t, err)
				assert.Equal(t, "Game 1", snap.Content, "初始內容等於名稱")
				assert.Equal(t, "w1", snap.Owner)
			},
		},
		{
			name:      "empty board name",
			writerID:  "w1",
			boardName: "",
			wantErr:   internal.ErrEmptyBoardName,
		},
		{
			name:      "unknown writer",
			writerID:  "ghost",
			boardName: "x",
			wantErr:   internal.ErrWriterNotFound,
			validate: func(t *testing.T, m *internal.Manager, _ internal.BoardSummary, _ []string) {
				assert.Equal(t, 0, m.Counts().Boards)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := internal.NewManager(testLogger(), internal.WithIDGenerator(sequentialIDs("board")))
			manager.AttachWriterConn("w1", "tab-1")
			manager.AttachWriterConn("w1", "tab-2")

			board, siblings, err := manager.CreateBoard(tt.writerID, tt.boardName)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			if tt.validate != nil {
				tt.validate(t, manager, board, siblings)
			}
		})
	}
}

// TestManager_ListBoards 測試列出看板的順序與隔離
func TestManager_ListBoards(t *testing.T) {
	manager := internal.NewManager(testLogger(), internal.WithIDGenerator(sequentialIDs("board")))
	manager.AttachWriterConn("w1", "k1")
	manager.AttachWriterConn("w2", "k2")

	boards, err := manager.ListBoards("w1")
	require.NoError(t, err)
	assert.Empty(t, boards)
	assert.NotNil(t, boards, "空清單要序列化成 []")

	for _, name := range []string{"A", "B", "C"} {
		_, _, err := manager.CreateBoard("w1", name)
		require.NoError(t, err)
	}
	_, _, err = manager.CreateBoard("w2", "other")
	require.NoError(t, err)

	boards, err = manager.ListBoards("w1")
	require.NoError(t, err)
	assert.Equal(t, []internal.BoardSummary{
		{ID: "board-1", Name: "A"},
		{ID: "board-2", Name: "B"},
		{ID: "board-3", Name: "C"},
	}, boards)

	boards, err = manager.ListBoards("w2")
	require.NoError(t, err)
	assert.Equal(t, []internal.BoardSummary{{ID: "board-4", Name: "other"}}, boards)

	_, err = manager.ListBoards("ghost")
	assert.ErrorIs(t, err, internal.ErrWriterNotFound)
}

// TestManager_Subscribe 測試訂閱與轉移
func TestManager_Subscribe(t *testing.T) {
	manager := internal.NewManager(testLogger(), internal.WithIDGenerator(sequentialIDs("board")))
	manager.AttachWriterConn("w1", "k1")
	first, _, err := manager.CreateBoard("w1", "first")
	require.NoError(t, err)
	second, _, err := manager.CreateBoard("w1", "second")
	require.NoError(t, err)

	// 首次訂閱
	snap, err := manager.Subscribe("r1", "", first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", snap.Content)
	assert.Equal(t, 1, snap.Readers)
	assert.True(t, manager.IsSubscribed(first.ID, "r1"))

	// 轉移訂閱
	_, err = manager.Subscribe("r1", first.ID, second.ID)
	require.NoError(t, err)
	assert.False(t, manager.IsSubscribed(first.ID, "r1"))
	assert.True(t, manager.IsSubscribed(second.ID, "r1"))

	// 目標不存在時舊訂閱保持不變
	_, err = manager.Subscribe("r1", second.ID, "missing")
	assert.ErrorIs(t, err, internal.ErrBoardNotFound)
	assert.True(t, manager.IsSubscribed(second.ID, "r1"))

	// 重複訂閱同一個看板
	_, err = manager.Subscribe("r1", second.ID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, manager.Readers(second.ID))

	manager.Unsubscribe("r1", second.ID)
	assert.Empty(t, manager.Readers(second.ID))
	manager.Unsubscribe("r1", "missing")
	assert.Nil(t, manager.Readers("missing"))
}

// TestManager_WriteBoard 測試更新內容
func TestManager_WriteBoard(t *testing.T) {
	tests := []struct {
		name     string
		writerID string
		boardID  string
		wantErr  error
		validate func(t *testing.T, m *internal.Manager, readers []string)
	}{
		{
			name:     "owner writes",
			writerID: "owner",
			boardID:  "board-1",
			validate: func(t *testing.T, m *internal.Manager, readers []string) {
				assert.ElementsMatch(t, []string{"r1", "r2"}, readers)
				snap, err := m.GetBoard("board-1")
				require.NoError(t, err)
				assert.Equal(t, "new content", snap.Content)
				assert.False(t, snap.UpdatedAt.Before(snap.CreatedAt))
			},
		},
		{
			name:     "non owner rejected without mutation",
			writerID: "intruder",
			boardID:  "board-1",
			wantErr:  internal.ErrNotOwner,
			validate: func(t *testing.T, m *internal.Manager, _ []string) {
				snap, err := m.GetBoard("board-1")
				require.NoError(t, err)
				assert.Equal(t, "Live", snap.Content)
			},
		},
		{
			name:     "unknown board",
			writerID: "owner",
			boardID:  "missing",
			wantErr:  internal.ErrBoardNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := internal.NewManager(testLogger(), internal.WithIDGenerator(sequentialIDs("board")))
			manager.AttachWriterConn("owner", "k-owner")
			manager.AttachWriterConn("intruder", "k-intruder")
			board, _, err := manager.CreateBoard("owner", "Live")
			require.NoError(t, err)
			_, err = manager.Subscribe("r1", "", board.ID)
			require.NoError(t, err)
			_, err = manager.Subscribe("r2", "", board.ID)
			require.NoError(t, err)

			readers, err := manager.WriteBoard(tt.writerID, tt.boardID, "new content")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, readers)
			} else {
				require.NoError(t, err)
			}

			if tt.validate != nil {
				tt.validate(t, manager, readers)
			}
		})
	}
}

// TestManager_Counts 測試數量統計
func TestManager_Counts(t *testing.T) {
	manager := internal.NewManager(testLogger())
	manager.AttachWriterConn("w1", "a")
	manager.AttachWriterConn("w1", "b")
	manager.AttachWriterConn("w2", "c")

	board, _, err := manager.CreateBoard("w1", "x")
	require.NoError(t, err)
	_, err = manager.Subscribe("r1", "", board.ID)
	require.NoError(t, err)

	assert.Equal(t, internal.Counts{
		Boards:            1,
		Writers:           2,
		WriterConnections: 3,
		Subscriptions:     1,
	}, manager.Counts())
}

// TestManager_ConcurrentOperations 測試併發操作
func TestManager_ConcurrentOperations(t *testing.T) {
	manager := internal.NewManager(testLogger())

	const numWriters = 10
	const boardsPerWriter = 20

	var wg sync.WaitGroup
	for i := 0; i < numWriters; i++ {
		writerID := fmt.Sprintf("writer-%d", i)
		manager.AttachWriterConn(writerID, writerID+"-tab")

		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < boardsPerWriter; j++ {
				board, _, err := manager.CreateBoard(writerID, fmt.Sprintf("board %d", j))
				if !assert.NoError(t, err) {
					return
				}
				key := fmt.Sprintf("%s-reader-%d", writerID, j)
				_, err = manager.Subscribe(key, "", board.ID)
				assert.NoError(t, err)
				_, err = manager.WriteBoard(writerID, board.ID, "update")
				assert.NoError(t, err)
			}
		}()
	}

	// 同時讀取統計
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = manager.Counts()
		}
	}()

	wg.Wait()

	counts := manager.Counts()
	assert.Equal(t, numWriters*boardsPerWriter, counts.Boards)
	assert.Equal(t, numWriters*boardsPerWriter, counts.Subscriptions)
	for i := 0; i < numWriters; i++ {
		boards, err := manager.ListBoards(fmt.Sprintf("writer-%d", i))
		require.NoError(t, err)
		assert.Len(t, boards, boardsPerWriter)
	}
}
