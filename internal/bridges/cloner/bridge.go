package cloner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/badgelink/internal/audit"
	"github.com/nerrad567/badgelink/internal/badge"
	"github.com/nerrad567/badgelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/badgelink/internal/peripheral"
)

const (
	// connectTimeout covers the device scan plus GATT resolution.
	connectTimeout = 30 * time.Second

	// commandTimeout bounds every other MQTT command.
	commandTimeout = 5 * time.Second

	// recordTimeout bounds the registry write for one notification and
	// the command log insert for one command.
	recordTimeout = 5 * time.Second

	// commandTopicParts is len(["badgelink","command","cloner","{command}"]).
	commandTopicParts = 4
)

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the part of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	QoS() byte
}

// CodeRegistry is the part of *badge.Registry the bridge uses.
type CodeRegistry interface {
	Add(ctx context.Context, code badge.Code) (bool, error)
	List(ctx context.Context) []badge.Code
	Count(ctx context.Context) int
	Clear(ctx context.Context) error
}

// MetricsWriter records badge and command metrics. *influxdb.Client satisfies it.
type MetricsWriter interface {
	WriteBadgeScan(code, source string, isNew bool)
	WriteCommand(command, status string)
}

// CommandLog stores command history. *audit.SQLiteRepository satisfies it.
type CommandLog interface {
	Create(ctx context.Context, entry *audit.Entry) error
}

// Options configures a Bridge.
type Options struct {
	// Platform connects to the cloner. Required.
	Platform peripheral.Platform

	// Filter selects the cloner.
	Filter peripheral.Filter

	// Registry stores seen codes. Required.
	Registry CodeRegistry

	// MQTT enables the command/state bridge. Optional.
	MQTT MQTTClient

	// Metrics records scans and command outcomes. Optional.
	Metrics MetricsWriter

	// CommandLog keeps a history of commands. Optional.
	CommandLog CommandLog

	Logger         Logger
	Version        string
	HealthInterval time.Duration
}

// Bridge wires the cloner session to the registry and the control surfaces.
//
// All methods are safe for concurrent use.
type Bridge struct {
	platform peripheral.Platform
	filter   peripheral.Filter
	registry CodeRegistry
	mqtt     MQTTClient
	metrics  MetricsWriter
	history  CommandLog
	health   *HealthReporter
	logger   Logger

	// connectMu serialises Connect and Disconnect.
	connectMu sync.Mutex

	sessionMu sync.RWMutex
	session   *peripheral.Session

	listenersMu sync.RWMutex
	listeners   []func(BadgeEvent)

	ctx       context.Context
	ctxCancel context.CancelFunc
	stopOnce  sync.Once
}

// NewBridge validates opts and returns an idle bridge. Call Start to begin
// MQTT handling and Connect to reach the cloner.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Platform == nil {
		return nil, errors.New("platform is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		platform:  opts.Platform,
		filter:    opts.Filter,
		registry:  opts.Registry,
		mqtt:      opts.MQTT,
		metrics:   opts.Metrics,
		history:   opts.CommandLog,
		logger:    logger,
		ctx:       ctx,
		ctxCancel: cancel,
	}

	if opts.MQTT != nil {
		b.health = NewHealthReporter(opts.MQTT, opts.Version, opts.HealthInterval, func() Status {
			return b.Status(context.Background())
		}, logger)
	}

	return b, nil
}

// Start subscribes to MQTT commands and starts health reporting.
// Without an MQTT client it does nothing.
func (b *Bridge) Start(ctx context.Context) error {
	if b.mqtt == nil {
		return nil
	}

	if err := b.mqtt.Subscribe(mqtt.Topics{}.AllCommands(BridgeID), b.mqtt.QoS(), b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to cloner commands: %w", err)
	}
	b.health.Start(ctx)

	b.logger.Info("cloner bridge started", "commands", mqtt.Topics{}.AllCommands(BridgeID))
	return nil
}

// Stop cancels in-flight commands, unsubscribes from MQTT commands, stops
// health reporting and closes the session. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		if b.mqtt != nil && b.mqtt.IsConnected() {
			if err := b.mqtt.Unsubscribe(mqtt.Topics{}.AllCommands(BridgeID)); err != nil {
				b.logger.Warn("unsubscribing from cloner commands", "error", err)
			}
		}
		if err := b.Disconnect(); err != nil {
			b.logger.Warn("closing cloner session", "error", err)
		}
		if b.health != nil {
			b.health.Stop()
		}
		b.logger.Info("cloner bridge stopped")
	})
}

// OnBadge registers fn for every badge event. fn must not block.
func (b *Bridge) OnBadge(fn func(BadgeEvent)) {
	b.listenersMu.Lock()
	b.listeners = append(b.listeners, fn)
	b.listenersMu.Unlock()
}

func (b *Bridge) currentSession() *peripheral.Session {
	b.sessionMu.RLock()
	defer b.sessionMu.RUnlock()
	return b.session
}

// Connect discovers and connects to the cloner. A live session is reused.
func (b *Bridge) Connect(ctx context.Context) error {
	b.connectMu.Lock()
	defer b.connectMu.Unlock()

	if b.currentSession().Connected() {
		return nil
	}

	session, err := peripheral.Connect(ctx, b.platform, peripheral.Options{
		Filter:  b.filter,
		Logger:  b.logger,
		Handler: b.handleNotification,
	})
	if err != nil {
		return b.finish(CommandConnect, "", err)
	}

	b.sessionMu.Lock()
	b.session = session
	b.sessionMu.Unlock()

	b.publishHealth()
	return b.finish(CommandConnect, "", nil)
}

// Disconnect closes the session. Without a session it does nothing.
func (b *Bridge) Disconnect() error {
	b.connectMu.Lock()
	defer b.connectMu.Unlock()

	b.sessionMu.Lock()
	session := b.session
	b.session = nil
	b.sessionMu.Unlock()

	if session == nil {
		return nil
	}
	err := session.Close()
	b.publishHealth()
	return b.finish(CommandDisconnect, "", err)
}

// WriteBadge programs code onto a blank badge.
func (b *Bridge) WriteBadge(ctx context.Context, code badge.Code) error {
	if code == "" {
		return b.finish(CommandWrite, code, badge.ErrEmptyCode)
	}
	return b.finish(CommandWrite, code, b.currentSession().WriteBadge(ctx, code))
}

// ReadBadge reads the last scanned code and records it.
func (b *Bridge) ReadBadge(ctx context.Context) (BadgeEvent, error) {
	code, err := b.currentSession().ReadBadge(ctx)
	if err != nil {
		return BadgeEvent{}, b.finish(CommandRead, "", err)
	}
	ev := b.record(ctx, code, SourceRead)
	return ev, b.finish(CommandRead, code, nil)
}

// Scan asks the cloner to scan. The code arrives as a notification.
func (b *Bridge) Scan(ctx context.Context) error {
	return b.finish(CommandScan, "", b.currentSession().SendScanCommand(ctx))
}

// PowerOff asks the cloner to power down.
func (b *Bridge) PowerOff(ctx context.Context) error {
	return b.finish(CommandPowerOff, "", b.currentSession().SendPowerOff(ctx))
}

// AddCode records a code entered by hand.
func (b *Bridge) AddCode(ctx context.Context, code badge.Code) (BadgeEvent, error) {
	if code == "" {
		return BadgeEvent{}, badge.ErrEmptyCode
	}
	added, err := b.registry.Add(ctx, code)
	if err != nil {
		b.logger.Warn("adding badge code", "code", code, "error", err)
		return BadgeEvent{}, err
	}
	ev := BadgeEvent{Code: code, Source: SourceManual, New: added, Timestamp: time.Now().UTC()}
	b.announce(ev)
	return ev, nil
}

// Codes returns every stored code in insertion order.
func (b *Bridge) Codes(ctx context.Context) []badge.Code {
	return b.registry.List(ctx)
}

// ClearCodes empties the registry.
func (b *Bridge) ClearCodes(ctx context.Context) error {
	err := b.registry.Clear(ctx)
	if err == nil {
		b.logger.Info("badge registry cleared")
	}
	return b.finish(CommandClear, "", err)
}

// Status reports the cloner connection and registry size.
func (b *Bridge) Status(ctx context.Context) Status {
	session := b.currentSession()
	return Status{
		Connected: session.Connected(),
		Device:    session.DeviceName(),
		Notifying: session.Notifying(),
		CodeCount: b.registry.Count(ctx),
	}
}

// finish logs, meters and records the outcome of one command and
// returns err.
func (b *Bridge) finish(command string, code badge.Code, err error) error {
	entry := &audit.Entry{
		Command: command,
		Status:  audit.StatusAccepted,
		Code:    code.String(),
	}
	if err != nil {
		entry.Status = audit.StatusFailed
		entry.ErrorKind = errorKind(err)
		entry.Message = err.Error()
		if peripheral.KindOf(err).Fatal() {
			b.logger.Error("cloner command failed", "command", command, "kind", entry.ErrorKind, "error", err)
		} else {
			b.logger.Warn("cloner command failed", "command", command, "kind", entry.ErrorKind, "error", err)
		}
	} else {
		b.logger.Debug("cloner command accepted", "command", command)
	}

	if b.metrics != nil {
		b.metrics.WriteCommand(command, entry.Status)
	}
	if b.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if logErr := b.history.Create(ctx, entry); logErr != nil {
			b.logger.Warn("recording command history", "command", command, "error", logErr)
		}
	}
	return err
}

func (b *Bridge) handleNotification(code badge.Code) {
	ctx, cancel := context.WithTimeout(b.ctx, recordTimeout)
	defer cancel()
	b.record(ctx, code, SourceNotify)
}

// record adds code to the registry and announces it. A storage failure is
// logged and the event still reaches listeners, marked not new.
func (b *Bridge) record(ctx context.Context, code badge.Code, source Source) BadgeEvent {
	added, err := b.registry.Add(ctx, code)
	if err != nil {
		b.logger.Warn("storing badge code", "code", code, "source", source, "error", err)
	}
	ev := BadgeEvent{Code: code, Source: source, New: added, Timestamp: time.Now().UTC()}
	b.announce(ev)
	return ev
}

func (b *Bridge) announce(ev BadgeEvent) {
	b.logger.Info("badge code", "code", ev.Code, "source", ev.Source, "new", ev.New)

	if b.metrics != nil {
		b.metrics.WriteBadgeScan(ev.Code.String(), string(ev.Source), ev.New)
	}

	b.publishBadge(ev)

	b.listenersMu.RLock()
	listeners := append([]func(BadgeEvent){}, b.listeners...)
	b.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (b *Bridge) publishBadge(ev BadgeEvent) {
	if b.mqtt == nil || !b.mqtt.IsConnected() {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("encoding badge event", "error", err)
		return
	}

	topics := mqtt.Topics{}
	if err := b.mqtt.PublishRetained(topics.State(BridgeID, "last_scanned"), payload); err != nil {
		b.logger.Warn("publishing last scanned badge", "error", err)
	}
	if ev.New {
		if err := b.mqtt.Publish(topics.Event("badge_added"), payload, b.mqtt.QoS(), false); err != nil {
			b.logger.Warn("publishing badge_added event", "error", err)
		}
	}
}

func (b *Bridge) publishHealth() {
	if b.health == nil {
		return
	}
	if err := b.health.PublishNow(); err != nil {
		b.logger.Debug("health publish skipped", "error", err)
	}
}

// handleCommand serves badgelink/command/cloner/{command}.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts {
		return fmt.Errorf("unexpected command topic %q", topic)
	}
	command := parts[commandTopicParts-1]

	var msg CommandMessage
	if len(strings.TrimSpace(string(payload))) > 0 {
		if err := json.Unmarshal(payload, &msg); err != nil {
			b.publishAck(NewAckMessage(msg, command, invalidPayload(err)))
			return nil
		}
	}

	b.logger.Info("received command", "command", command, "command_id", msg.ID)
	b.publishAck(b.execute(command, msg))
	return nil
}

func (b *Bridge) execute(command string, msg CommandMessage) AckMessage {
	timeout := commandTimeout
	if command == CommandConnect {
		timeout = connectTimeout
	}
	ctx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()

	switch command {
	case CommandConnect:
		return NewAckMessage(msg, command, b.Connect(ctx))
	case CommandDisconnect:
		return NewAckMessage(msg, command, b.Disconnect())
	case CommandWrite:
		if msg.Code == "" {
			return NewAckMessage(msg, command, invalidPayload(badge.ErrEmptyCode))
		}
		ack := NewAckMessage(msg, command, b.WriteBadge(ctx, badge.Code(msg.Code)))
		ack.Code = msg.Code
		return ack
	case CommandRead:
		ev, err := b.ReadBadge(ctx)
		ack := NewAckMessage(msg, command, err)
		if err == nil {
			ack.Code = ev.Code.String()
			ack.Added = &ev.New
		}
		return ack
	case CommandScan:
		return NewAckMessage(msg, command, b.Scan(ctx))
	case CommandPowerOff:
		return NewAckMessage(msg, command, b.PowerOff(ctx))
	case CommandClear:
		return NewAckMessage(msg, command, b.ClearCodes(ctx))
	default:
		return NewAckMessage(msg, command, invalidCommand(command))
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("encoding ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(mqtt.Topics{}.Ack(BridgeID, ack.Command), payload, b.mqtt.QoS(), false); err != nil {
		b.logger.Warn("publishing ack", "command", ack.Command, "error", err)
	}
}
