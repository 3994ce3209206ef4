package internal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/koopa0/system-design/textboard/pkg/logger"
)

// 預設值
const (
	DefaultListenAddr      = "0.0.0.0"
	DefaultListenPort      = 8080
	DefaultStaticDir       = "./www"
	DefaultSendBuffer      = 256
	DefaultMaxMessageBytes = 1 << 20
	DefaultPongWait        = 60 * time.Second
	DefaultPingPeriod      = 54 * time.Second
	DefaultWriteWait       = 10 * time.Second
)

// 環境變數
const (
	EnvConfigPath = "TEXTBOARD_CONFIG"
	EnvListenAddr = "LISTEN_ADDR"
	EnvListenPort = "LISTEN_PORT"
	EnvLogLevel   = "LOG_LEVEL"
)

// Config 整個應用的配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig HTTP 服務設定
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ListenPort   int           `yaml:"listen_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	StaticDir    string        `yaml:"static_dir"` // reader.html / writer.html 所在目錄
}

// WebSocketConfig 連接層設定
type WebSocketConfig struct {
	SendBuffer      int           `yaml:"send_buffer"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	PingPeriod      time.Duration `yaml:"ping_period"`
	PongWait        time.Duration `yaml:"pong_wait"`
	WriteWait       time.Duration `yaml:"write_wait"`
}

// RateLimitConfig 單一連接的入站訊息速率限制，PerSecond 為 0 表示不限制
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// LogConfig 日誌設定
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig 預設配置
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:   DefaultListenAddr,
			ListenPort:   DefaultListenPort,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			StaticDir:    DefaultStaticDir,
		},
		WebSocket: WebSocketConfig{
			SendBuffer:      DefaultSendBuffer,
			MaxMessageBytes: DefaultMaxMessageBytes,
			PingPeriod:      DefaultPingPeriod,
			PongWait:        DefaultPongWait,
			WriteWait:       DefaultWriteWait,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig 載入配置
//
// 優先順序：預設值 < YAML 檔（path 非空時）< 環境變數。
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("讀取配置檔失敗: %w", err)
		}
		if err := decodeYAML(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeYAML(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv 環境變數覆蓋
//
// LISTEN_PORT 不是合法埠號時保留原值（預設 8080）。
func (c *Config) applyEnv() {
	if addr, ok := os.LookupEnv(EnvListenAddr); ok && strings.TrimSpace(addr) != "" {
		c.Server.ListenAddr = strings.TrimSpace(addr)
	}
	if raw, ok := os.LookupEnv(EnvListenPort); ok {
		if port, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && validPort(port) {
			c.Server.ListenPort = port
		}
	}
	if level, ok := os.LookupEnv(EnvLogLevel); ok && logger.ValidLevel(level) {
		c.Log.Level = level
	}
}

// Validate 驗證配置
func (c Config) Validate() error {
	var errs []error

	if !validPort(c.Server.ListenPort) {
		errs = append(errs, fmt.Errorf("server.listen_port 必須在 1-65535 之間: %d", c.Server.ListenPort))
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("websocket.send_buffer 必須大於 0"))
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("websocket.max_message_bytes 必須大於 0"))
	}
	if c.WebSocket.PongWait <= 0 || c.WebSocket.WriteWait <= 0 {
		errs = append(errs, fmt.Errorf("websocket.pong_wait 與 websocket.write_wait 必須大於 0"))
	}
	if c.WebSocket.PingPeriod <= 0 || c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		errs = append(errs, fmt.Errorf("websocket.ping_period 必須大於 0 且小於 pong_wait"))
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit 不能為負數"))
	}
	if !logger.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level 無效: %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format 必須是 text 或 json: %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Addr 監聽位址
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.ListenAddr, strconv.Itoa(c.ListenPort))
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}
