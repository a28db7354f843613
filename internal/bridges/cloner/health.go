package cloner

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/badgelink/internal/infrastructure/mqtt"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the part of the MQTT client the reporter needs.
type HealthPublisher interface {
	PublishRetained(topic string, payload []byte) error
	IsConnected() bool
}

// HealthReporter publishes the bridge's health on a fixed interval.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	status    func() Status
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter returns a reporter that calls status for each message.
// A zero interval uses 30s.
func NewHealthReporter(publisher HealthPublisher, version string, interval time.Duration, status func() Status, logger Logger) *HealthReporter {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &HealthReporter{
		version:   version,
		startTime: time.Now(),
		interval:  interval,
		publisher: publisher,
		status:    status,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start publishes immediately, then every interval until Stop or ctx ends.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends the loop and publishes a final "stopping" message.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		if err := h.publish(HealthStopping); err != nil {
			h.logger.Debug("final health publish failed", "error", err)
		}
	})
}

// PublishNow publishes the current health outside the interval.
func (h *HealthReporter) PublishNow() error {
	return h.publish("")
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	if err := h.PublishNow(); err != nil {
		h.logger.Warn("health publish failed", "error", err)
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Warn("health publish failed", "error", err)
			}
		}
	}
}

// publish sends a health message. An empty override derives the status
// from the cloner connection.
func (h *HealthReporter) publish(override HealthStatus) error {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return mqtt.ErrNotConnected
	}

	msg := h.message(override)
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.PublishRetained(mqtt.Topics{}.Health(BridgeID), payload)
}

func (h *HealthReporter) message(override HealthStatus) HealthMessage {
	st := h.status()
	status := override
	if status == "" {
		status = HealthDegraded
		if st.Connected {
			status = HealthHealthy
		}
	}
	return HealthMessage{
		Bridge:    BridgeID,
		Version:   h.version,
		Status:    status,
		Connected: st.Connected,
		Device:    st.Device,
		Notifying: st.Notifying,
		CodeCount: st.CodeCount,
		Uptime:    int64(time.Since(h.startTime).Seconds()),
		Timestamp: time.Now().UTC(),
	}
}
