package peripheral

import (
	"context"
	"errors"
	"testing"

	"tinygo.org/x/bluetooth"
)

func TestParseServiceID(t *testing.T) {
	tests := []struct {
		in      string
		want    bluetooth.UUID
		wantErr bool
	}{
		{in: "0x00FF", want: bluetooth.New16BitUUID(0x00FF)},
		{in: "00ff", want: bluetooth.New16BitUUID(0x00FF)},
		{in: "0X180D", want: bluetooth.New16BitUUID(0x180D)},
		{in: "6e400001-b5a3-f393-e0a9-e50e24dcca9e", want: mustParseUUID(t, "6e400001-b5a3-f393-e0a9-e50e24dcca9e")},
		{in: "", wantErr: true},
		{in: "0xZZ", wantErr: true},
		{in: "not-a-uuid-at-all", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseServiceID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseServiceID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseServiceID(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestEndpointID_String(t *testing.T) {
	if EndpointScan.String() != "scan" || EndpointID(9).String() != "unknown" {
		t.Errorf("unexpected names: %s, %s", EndpointScan, EndpointID(9))
	}
}

func mustParseUUID(t *testing.T, s string) bluetooth.UUID {
	t.Helper()
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

var _ Endpoint = (*bluetoothEndpoint)(nil)

func TestBluetoothEndpoint_CancelledContext(t *testing.T) {
	ep := &bluetoothEndpoint{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := ep.Write(ctx, []byte(ScanPayload)); !errors.Is(err, context.Canceled) {
		t.Errorf("Write() error = %v, want context.Canceled", err)
	}
	if _, err := ep.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Read() error = %v, want context.Canceled", err)
	}
}
