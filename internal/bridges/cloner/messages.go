package cloner

import (
	"errors"
	"time"

	"github.com/nerrad567/badgelink/internal/badge"
	"github.com/nerrad567/badgelink/internal/peripheral"
)

// BridgeID names this bridge in MQTT topics and health messages.
const BridgeID = "cloner"

// Commands accepted over MQTT.
const (
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
	CommandWrite      = "write"
	CommandRead       = "read"
	CommandScan       = "scan"
	CommandPowerOff   = "power_off"
	CommandClear      = "clear"
)

// Source says where a badge code came from.
type Source string

// Badge sources.
const (
	SourceNotify Source = "notify"
	SourceRead   Source = "read"
	SourceManual Source = "manual"
)

// BadgeEvent is one code seen by the bridge.
type BadgeEvent struct {
	Code      badge.Code `json:"code"`
	Source    Source     `json:"source"`
	New       bool       `json:"new"`
	Timestamp time.Time  `json:"timestamp"`
}

// CommandMessage is the optional JSON body of an MQTT command.
// The command name comes from the topic.
type CommandMessage struct {
	ID   string `json:"id,omitempty"`
	Code string `json:"code,omitempty"`
}

// AckStatus is the outcome of a command.
type AckStatus string

// Ack statuses.
const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// AckMessage answers a command on badgelink/ack/cloner/{command}.
type AckMessage struct {
	CommandID string    `json:"command_id,omitempty"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Code      string    `json:"code,omitempty"`
	Added     *bool     `json:"added,omitempty"`
	Error     *AckError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AckError describes a failed command. Kind is one of the
// peripheral.ErrorKind names, or invalid_command / invalid_payload.
type AckError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Ack error kinds that do not come from the peripheral layer.
const (
	ErrKindInvalidCommand = "invalid_command"
	ErrKindInvalidPayload = "invalid_payload"
)

// NewAckMessage builds an ack for command. A nil err is accepted.
func NewAckMessage(msg CommandMessage, command string, err error) AckMessage {
	ack := AckMessage{
		CommandID: msg.ID,
		Command:   command,
		Status:    AckAccepted,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = &AckError{Kind: errorKind(err), Message: err.Error()}
	}
	return ack
}

// HealthStatus is the bridge's overall state.
type HealthStatus string

// Health statuses.
const (
	HealthHealthy  HealthStatus = "healthy"  // cloner connected
	HealthDegraded HealthStatus = "degraded" // running, no cloner
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on badgelink/health/cloner.
type HealthMessage struct {
	Bridge    string       `json:"bridge"`
	Version   string       `json:"version"`
	Status    HealthStatus `json:"status"`
	Connected bool         `json:"connected"`
	Device    string       `json:"device,omitempty"`
	Notifying bool         `json:"notifying"`
	CodeCount int          `json:"code_count"`
	Uptime    int64        `json:"uptime_seconds"`
	Timestamp time.Time    `json:"timestamp"`
}

// Status is a point-in-time view of the bridge.
type Status struct {
	Connected bool   `json:"connected"`
	Device    string `json:"device,omitempty"`
	Notifying bool   `json:"notifying"`
	CodeCount int    `json:"code_count"`
}

func errorKind(err error) string {
	var cmdErr *commandError
	if errors.As(err, &cmdErr) {
		return cmdErr.kind
	}
	return peripheral.KindOf(err).String()
}
