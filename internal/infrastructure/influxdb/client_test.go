package influxdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/badgelink/internal/infrastructure/config"
)

func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "badgelink-dev-token",
		Org:           "badgelink",
		Bucket:        "badges",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func lineProtocol(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Second))
}

func TestBadgeScanPoint(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	tests := []struct {
		name   string
		code   string
		source string
		isNew  bool
		want   string
	}{
		{
			name:   "new notification",
			code:   "9F00",
			source: "notify",
			isNew:  true,
			want:   `badge_scans,new=true,source=notify code="9F00" 1700000000`,
		},
		{
			name:   "repeat manual read",
			code:   "A1B2",
			source: "read",
			isNew:  false,
			want:   `badge_scans,new=false,source=read code="A1B2" 1700000000`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lineProtocol(badgeScanPoint(tt.code, tt.source, tt.isNew, ts))
			if got != tt.want {
				t.Errorf("line = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandPoint(t *testing.T) {
	got := lineProtocol(commandPoint("scan", "failed", time.Unix(1700000000, 0)))
	want := `cloner_commands,command=scan,status=failed count=1i 1700000000`
	if got != want {
		t.Errorf("line = %q, want %q", got, want)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := Connect(cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestNilClientIsNoop(t *testing.T) {
	var c *Client
	c.WriteBadgeScan("A1B2", "manual", true)
	c.WriteCommand("scan", "accepted")
	c.Flush()

	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// TestConnect_Live needs an InfluxDB at testConfig().URL; set RUN_INTEGRATION=1.
func TestConnect_Live(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION=1 to run against a live InfluxDB")
	}

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var writeErr error
	client.SetOnError(func(err error) { writeErr = err })

	client.WriteBadgeScan("9F00", "notify", true)
	client.WriteCommand("scan", "accepted")
	client.Flush()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if writeErr != nil {
		t.Errorf("async write error = %v", writeErr)
	}
}
