package peripheral

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

const (
	defaultScanTimeout = 10 * time.Second
	defaultReadSize    = 512
)

// BluetoothPlatform implements Platform on the host's BLE adapter.
type BluetoothPlatform struct {
	adapter     *bluetooth.Adapter
	scanTimeout time.Duration
	logger      Logger

	enableOnce sync.Once
	enableErr  error

	mu    sync.Mutex
	conns map[string]*bluetoothConnection
}

// NewBluetoothPlatform returns a platform on the default adapter.
// A zero scanTimeout uses 10s.
func NewBluetoothPlatform(scanTimeout time.Duration) *BluetoothPlatform {
	if scanTimeout <= 0 {
		scanTimeout = defaultScanTimeout
	}
	return &BluetoothPlatform{
		adapter:     bluetooth.DefaultAdapter,
		scanTimeout: scanTimeout,
		logger:      noopLogger{},
		conns:       make(map[string]*bluetoothConnection),
	}
}

// SetLogger sets the logger for scan and link events.
func (p *BluetoothPlatform) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

func (p *BluetoothPlatform) enable() error {
	p.enableOnce.Do(func() {
		if err := p.adapter.Enable(); err != nil {
			p.enableErr = fmt.Errorf("enabling bluetooth adapter: %w", err)
			return
		}
		p.adapter.SetConnectHandler(p.handleConnect)
	})
	return p.enableErr
}

func (p *BluetoothPlatform) handleConnect(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	key := device.Address.String()
	p.mu.Lock()
	conn, ok := p.conns[key]
	delete(p.conns, key)
	p.mu.Unlock()
	if ok {
		conn.dropped()
	}
}

// Connect scans until a device matches filter or the scan timeout expires,
// then connects to it.
func (p *BluetoothPlatform) Connect(ctx context.Context, filter Filter) (Connection, error) {
	if err := p.enable(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}

	serviceUUID, err := ParseServiceID(filter.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}

	result, err := p.scan(ctx, filter, serviceUUID)
	if err != nil {
		return nil, err
	}

	name := result.LocalName()
	if name == "" {
		name = result.Address.String()
	}
	p.logger.Info("connecting to cloner", "name", name, "address", result.Address.String(), "rssi", result.RSSI)

	device, err := p.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", name, err)
	}

	conn := &bluetoothConnection{device: device, name: name}
	p.mu.Lock()
	p.conns[result.Address.String()] = conn
	p.mu.Unlock()
	return conn, nil
}

func (p *BluetoothPlatform) scan(ctx context.Context, filter Filter, serviceUUID bluetooth.UUID) (bluetooth.ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.scanTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = p.adapter.StopScan()
		case <-stopped:
		}
	}()

	var (
		found   bluetooth.ScanResult
		matched bool
	)
	err := p.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
		if matched || !matches(filter, serviceUUID, r) {
			return
		}
		found, matched = r, true
		_ = a.StopScan()
	})
	close(stopped)

	if err != nil {
		return bluetooth.ScanResult{}, fmt.Errorf("%w: scan: %w", ErrDiscovery, err)
	}
	if !matched {
		return bluetooth.ScanResult{}, fmt.Errorf("%w: no matching device within %s", ErrDiscovery, p.scanTimeout)
	}
	return found, nil
}

func matches(filter Filter, serviceUUID bluetooth.UUID, r bluetooth.ScanResult) bool {
	switch {
	case filter.Address != "":
		return strings.EqualFold(r.Address.String(), filter.Address)
	case filter.NamePrefix != "":
		return strings.HasPrefix(r.LocalName(), filter.NamePrefix)
	default:
		return r.HasServiceUUID(serviceUUID)
	}
}

// ParseServiceID parses a 16-bit short id ("0x00FF", "00ff") or a full
// 128-bit UUID string.
func ParseServiceID(id string) (bluetooth.UUID, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(id), "0x"), "0X")
	if len(s) <= 4 {
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("invalid service id %q: %w", id, err)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	}
	u, err := bluetooth.ParseUUID(id)
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("invalid service id %q: %w", id, err)
	}
	return u, nil
}

type bluetoothConnection struct {
	device bluetooth.Device
	name   string

	mu           sync.Mutex
	onDisconnect []func()
}

func (c *bluetoothConnection) Name() string { return c.name }

func (c *bluetoothConnection) ResolveService(ctx context.Context, id string) (Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	uuid, err := ParseServiceID(id)
	if err != nil {
		return nil, err
	}
	services, err := c.device.DiscoverServices([]bluetooth.UUID{uuid})
	if err != nil {
		return nil, fmt.Errorf("discovering service %s: %w", uuid, err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("service %s not found", uuid)
	}
	return &bluetoothService{service: services[0]}, nil
}

func (c *bluetoothConnection) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

func (c *bluetoothConnection) dropped() {
	c.mu.Lock()
	fns := c.onDisconnect
	c.onDisconnect = nil
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *bluetoothConnection) Disconnect() error {
	return c.device.Disconnect()
}

type bluetoothService struct {
	service bluetooth.DeviceService
}

func (s *bluetoothService) ResolveEndpoint(ctx context.Context, id EndpointID) (Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	uuid := bluetooth.New16BitUUID(uint16(id))
	chars, err := s.service.DiscoverCharacteristics([]bluetooth.UUID{uuid})
	if err != nil {
		return nil, fmt.Errorf("discovering characteristic %s: %w", uuid, err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("characteristic %s not found", uuid)
	}
	return &bluetoothEndpoint{char: chars[0]}, nil
}

type bluetoothEndpoint struct {
	char bluetooth.DeviceCharacteristic
}

func (e *bluetoothEndpoint) Write(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Write with response only exists on darwin and windows.
	_, err := e.char.WriteWithoutResponse(payload)
	return err
}

func (e *bluetoothEndpoint) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := defaultReadSize
	if mtu, err := e.char.GetMTU(); err == nil && mtu > 0 {
		size = int(mtu)
	}
	buf := make([]byte, size)
	n, err := e.char.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

func (e *bluetoothEndpoint) Subscribe(fn func(payload []byte)) error {
	return e.char.EnableNotifications(func(buf []byte) {
		// The stack may reuse buf after the callback returns.
		fn(append([]byte(nil), buf...))
	})
}

// SupportsNotify reports true: the stack does not expose characteristic
// properties portably, so the subscribe attempt itself is the probe.
func (e *bluetoothEndpoint) SupportsNotify() bool { return true }
