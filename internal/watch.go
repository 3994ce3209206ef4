package internal

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig 監看配置檔，檔案變更時重新載入並呼叫 onChange
//
// 監看的是所在目錄：編輯器常用 rename 做原子存檔，直接監看檔案會在第一次存檔後失效。
// 重新載入失敗（YAML 錯誤、驗證失敗）時保留舊配置，不呼叫 onChange。
// 阻塞直到 ctx 取消。
func WatchConfig(ctx context.Context, path string, logger *slog.Logger, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	logger.Info("開始監看配置檔", "path", target)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := LoadConfig(target)
			if err != nil {
				logger.Error("重新載入配置失敗，沿用舊配置", "path", target, "error", err)
				continue
			}

			logger.Info("配置已重新載入", "path", target)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("配置監看錯誤", "error", err)
		}
	}
}
