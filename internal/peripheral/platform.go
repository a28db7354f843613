package peripheral

import "context"

// EndpointID is the 16-bit characteristic id of a cloner endpoint.
type EndpointID uint16

// Fixed endpoint ids.
const (
	EndpointWrite    EndpointID = 0x0001
	EndpointRead     EndpointID = 0x0002
	EndpointScan     EndpointID = 0x0003
	EndpointPowerOff EndpointID = 0x0004
)

// Command payloads. The cloner does not parse them; any write to the
// endpoint triggers the action.
const (
	ScanPayload     = "writetoRFID_"
	PowerOffPayload = "turnoffnow_"
)

// String returns a short endpoint name for logs.
func (id EndpointID) String() string {
	switch id {
	case EndpointWrite:
		return "write"
	case EndpointRead:
		return "read"
	case EndpointScan:
		return "scan"
	case EndpointPowerOff:
		return "power_off"
	default:
		return "unknown"
	}
}

// Filter selects which advertising device to connect to.
type Filter struct {
	// Address pins one device. Takes precedence over NamePrefix.
	Address string

	// NamePrefix matches the advertised local name.
	NamePrefix string

	// ServiceID is the GATT service holding the endpoints, as "0x00FF" or a
	// 128-bit UUID string. Devices advertising it match when neither
	// Address nor NamePrefix is set.
	ServiceID string
}

// Platform discovers and connects to a device.
//
// Connect returns an error wrapping ErrDiscovery when no device matched.
type Platform interface {
	Connect(ctx context.Context, filter Filter) (Connection, error)
}

// Connection is an open link to one device.
type Connection interface {
	// Name is the device's advertised name or address, for display.
	Name() string

	// ResolveService finds the service with the given id.
	ResolveService(ctx context.Context, id string) (Service, error)

	// OnDisconnect registers fn to run once when the link drops.
	OnDisconnect(fn func())

	// Disconnect closes the link.
	Disconnect() error
}

// Service resolves endpoints within one GATT service.
type Service interface {
	ResolveEndpoint(ctx context.Context, id EndpointID) (Endpoint, error)
}

// Endpoint is one characteristic.
type Endpoint interface {
	Write(ctx context.Context, payload []byte) error
	Read(ctx context.Context) ([]byte, error)

	// Subscribe registers fn for change notifications. fn runs on a
	// platform goroutine.
	Subscribe(fn func(payload []byte)) error

	SupportsNotify() bool
}
