package telemetry

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures an MQTTSink.
type MQTTConfig struct {
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string
	Topic    string // published as Topic, retained=false, QoS 0
}

// MQTTSink publishes each frame as a small JSON payload to a broker,
// for external latency dashboards. It never blocks Observe on network
// I/O: publishes are fire-and-forget, and failures only increment a
// counter rather than propagating, since telemetry loss must never
// affect frame pacing.
type MQTTSink struct {
	cfg    MQTTConfig
	client mqtt.Client
	log    *slog.Logger

	connected int32 // atomic bool
	errors    uint64
}

type mqttPayload struct {
	FrameID     uint64  `json:"frame_id"`
	LatencyMs   float64 `json:"latency_ms"`
	FrameTimeMs float64 `json:"frame_time_ms"`
}

// NewMQTTSink creates a sink and begins connecting in the background.
// It never returns an error itself; connection failures are logged and
// retried by the client's auto-reconnect policy, and Observe is a
// no-op until the first successful connect.
func NewMQTTSink(cfg MQTTConfig, log *slog.Logger) *MQTTSink {
	if log == nil {
		log = slog.Default()
	}
	s := &MQTTSink{cfg: cfg, log: log}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		atomic.StoreInt32(&s.connected, 1)
		s.log.Info("mqtt telemetry sink connected", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		atomic.StoreInt32(&s.connected, 0)
		s.log.Warn("mqtt telemetry sink lost connection", "error", err)
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			s.log.Warn("mqtt telemetry sink initial connect failed", "error", token.Error())
		}
	}()

	return s
}

// Observe implements Sink.
func (s *MQTTSink) Observe(f Frame) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return
	}
	payload, err := json.Marshal(mqttPayload{
		FrameID:     f.FrameID,
		LatencyMs:   float64(f.Latency) / 1e6,
		FrameTimeMs: float64(f.FrameTime) / 1e6,
	})
	if err != nil {
		atomic.AddUint64(&s.errors, 1)
		return
	}
	token := s.client.Publish(s.cfg.Topic, 0, false, payload)
	go func() {
		if token.WaitTimeout(2*time.Second) && token.Error() != nil {
			atomic.AddUint64(&s.errors, 1)
			s.log.Debug("mqtt telemetry publish failed", "error", token.Error())
		}
	}()
}

// Close disconnects the underlying MQTT client with a short grace
// period for in-flight publishes.
func (s *MQTTSink) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
