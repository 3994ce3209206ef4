package internal

import (
	"io"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// metricPrefix 所有指標名稱的前綴
const metricPrefix = "textboard_"

// Metrics 執行期計數器
//
// 所有方法都允許 nil receiver，測試可以不帶 Metrics。
type Metrics struct {
	connectionsOpened   atomic.Int64
	connectionsClosed   atomic.Int64
	connectionsRejected atomic.Int64
	framesReceived      atomic.Int64
	framesIgnored       atomic.Int64
	framesDelivered     atomic.Int64
	framesDropped       atomic.Int64
	boardsCreated       atomic.Int64
	boardWrites         atomic.Int64
}

// NewMetrics 創建計數器
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.connectionsOpened.Add(1)
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.connectionsClosed.Add(1)
	}
}

func (m *Metrics) connectionRejected() {
	if m != nil {
		m.connectionsRejected.Add(1)
	}
}

func (m *Metrics) frameReceived() {
	if m != nil {
		m.framesReceived.Add(1)
	}
}

func (m *Metrics) frameIgnored() {
	if m != nil {
		m.framesIgnored.Add(1)
	}
}

func (m *Metrics) frameDelivered() {
	if m != nil {
		m.framesDelivered.Add(1)
	}
}

func (m *Metrics) frameDropped() {
	if m != nil {
		m.framesDropped.Add(1)
	}
}

func (m *Metrics) boardCreated() {
	if m != nil {
		m.boardsCreated.Add(1)
	}
}

func (m *Metrics) boardWritten() {
	if m != nil {
		m.boardWrites.Add(1)
	}
}

// Snapshot 計數器快照（/stats 使用）
func (m *Metrics) Snapshot() map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return map[string]int64{
		"connections_opened":   m.connectionsOpened.Load(),
		"connections_closed":   m.connectionsClosed.Load(),
		"connections_rejected": m.connectionsRejected.Load(),
		"frames_received":      m.framesReceived.Load(),
		"frames_ignored":       m.framesIgnored.Load(),
		"frames_delivered":     m.framesDelivered.Load(),
		"frames_dropped":       m.framesDropped.Load(),
		"boards_created":       m.boardsCreated.Load(),
		"board_writes":         m.boardWrites.Load(),
	}
}

// Gather 組出 Prometheus metric families
//
// 計數器來自 Metrics，量表（看板數、寫手數、連接數）在抓取當下向註冊表查詢。
func (m *Metrics) Gather(manager *Manager, conns *Connections) []*dto.MetricFamily {
	counts := manager.Counts()

	families := []*dto.MetricFamily{
		gauge("boards", "Boards created since process start.", float64(counts.Boards)),
		gauge("writers", "Writer identities seen since process start.", float64(counts.Writers)),
		gauge("writer_connections", "Open writer connections.", float64(counts.WriterConnections)),
		gauge("subscriptions", "Connections subscribed to a board.", float64(counts.Subscriptions)),
		gauge("connections", "Open connections in the registry.", float64(conns.Count())),
	}

	snap := m.Snapshot()
	for _, c := range []struct{ name, help string }{
		{"connections_opened", "Connections accepted."},
		{"connections_closed", "Connections closed."},
		{"connections_rejected", "Upgrade requests rejected before a session was created."},
		{"frames_received", "Inbound frames."},
		{"frames_ignored", "Inbound frames ignored by the protocol."},
		{"frames_delivered", "Outbound frames accepted by a connection."},
		{"frames_dropped", "Outbound frames dropped (closed or full connection)."},
		{"boards_created", "Successful create-board commands."},
		{"board_writes", "Successful write-board commands."},
	} {
		families = append(families, counter(c.name+"_total", c.help, float64(snap[c.name])))
	}

	return families
}

// WriteText 以 Prometheus 文字格式輸出
func (m *Metrics) WriteText(w io.Writer, manager *Manager, conns *Connections) error {
	for _, mf := range m.Gather(manager, conns) {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func gauge(name, help string, value float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(metricPrefix + name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(value)}}},
	}
}

func counter(name, help string, value float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(metricPrefix + name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(value)}}},
	}
}
