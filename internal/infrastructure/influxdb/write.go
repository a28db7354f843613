package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementBadgeScans     = "badge_scans"
	MeasurementClonerCommands = "cloner_commands"
)

// WriteBadgeScan records one decoded badge code.
//
// Parameters:
//   - code: The badge code, stored as a field
//   - source: Where it came from ("notify", "read" or "manual"), a tag
//   - isNew: Whether the registry accepted it as a new entry, a tag
//
// The write is non-blocking and batched. It is a no-op on a nil or closed
// client.
func (c *Client) WriteBadgeScan(code, source string, isNew bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(badgeScanPoint(code, source, isNew, time.Now()))
}

// WriteCommand records the outcome of one cloner command.
func (c *Client) WriteCommand(command, status string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(commandPoint(command, status, time.Now()))
}

func badgeScanPoint(code, source string, isNew bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementBadgeScans,
		map[string]string{
			"source": source,
			"new":    strconv.FormatBool(isNew),
		},
		map[string]any{
			"code": code,
		},
		ts,
	)
}

func commandPoint(command, status string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementClonerCommands,
		map[string]string{
			"command": command,
			"status":  status,
		},
		map[string]any{
			"count": 1,
		},
		ts,
	)
}
