package internal

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/common/expfmt"

	"github.com/koopa0/system-design/textboard/pkg/logger"
)

// Handler HTTP 請求處理器
type Handler struct {
	manager   *Manager
	conns     *Connections
	hub       *Hub
	metrics   *Metrics
	staticDir string
	newID     IDGenerator
	logger    *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(hub *Hub, staticDir string, logger *slog.Logger) *Handler {
	return &Handler{
		manager:   hub.manager,
		conns:     hub.conns,
		hub:       hub,
		metrics:   hub.metrics,
		staticDir: staticDir,
		newID:     GenerateID,
		logger:    logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// WebSocket 升級路徑
	mux.HandleFunc("GET /ws/r", wrap(h.hub.ServeReader))
	mux.HandleFunc("GET /ws/w", wrap(h.hub.ServeWriter))

	// 寫手 / 讀者頁面
	mux.HandleFunc("GET /{$}", wrap(h.root))
	mux.HandleFunc("GET /w/", wrap(h.page("writer.html")))
	mux.HandleFunc("GET /r/", wrap(h.page("reader.html")))

	// 健康檢查與監控
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))
	mux.HandleFunc("GET /metrics", wrap(h.metricsText))

	mux.HandleFunc("/", wrap(h.notFound))

	return mux
}

// root 導向寫手頁面，fragment 帶一個新的寫手 ID
func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Location", "/w/#"+h.newID())
	w.WriteHeader(http.StatusFound)
	_, _ = w.Write([]byte("Redirecting..."))
}

// page 回傳靜態頁面
func (h *Handler) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(h.staticDir, name))
	}
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Not found", http.StatusNotFound)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// statsResponse /stats 回應
type statsResponse struct {
	Counts
	Connections int              `json:"connections"`
	Counters    map[string]int64 `json:"counters"`
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, statsResponse{
		Counts:      h.manager.Counts(),
		Connections: h.conns.Count(),
		Counters:    h.metrics.Snapshot(),
	}, http.StatusOK)
}

// metricsText Prometheus 文字格式
func (h *Handler) metricsText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err := h.metrics.WriteText(w, h.manager, h.conns); err != nil {
		h.logger.ErrorContext(r.Context(), "輸出指標失敗", "error", err)
	}
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// loggerMiddleware 日誌中間件，附加請求 ID
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := logger.WithRequestID(r.Context(), requestID)

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r.WithContext(ctx))

		h.logger.InfoContext(ctx, "HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.ErrorContext(r.Context(), "處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
//
// 必須保留 Hijack，否則 WebSocket 無法升級。
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("底層 ResponseWriter 不支援 Hijack")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
