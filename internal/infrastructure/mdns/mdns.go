package mdns

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// DNS-SD service identity.
const (
	ServiceType = "_badgelink._tcp"
	Domain      = "local."

	// APIPath is advertised in the path TXT record.
	APIPath = "/api/v1"

	defaultBrowseTimeout = 3 * time.Second
)

// ErrInvalidPort is returned when the advertised port is out of range.
var ErrInvalidPort = errors.New("mdns: invalid port")

// Logger is the logging interface used by the advertiser.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Advertiser publishes one service instance until Close.
type Advertiser struct {
	instance string
	port     int
	txt      []string
	logger   Logger

	mu     sync.Mutex
	server *zeroconf.Server
}

// Instance is one badgelink service found by Browse.
type Instance struct {
	Name    string
	Host    string
	Port    int
	Addrs   []string
	Version string
	Path    string
}

// NewAdvertiser prepares an advertisement for the API on port.
func NewAdvertiser(instance string, port int, version string) (*Advertiser, error) {
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if instance == "" {
		instance = "badgelink"
	}
	return &Advertiser{
		instance: instance,
		port:     port,
		txt:      buildTXT(version),
		logger:   noopLogger{},
	}, nil
}

// SetLogger sets the logger.
func (a *Advertiser) SetLogger(logger Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// Start registers the service. Calling Start twice is a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return nil
	}

	server, err := zeroconf.Register(a.instance, ServiceType, Domain, a.port, a.txt, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	a.server = server
	a.logger.Info("mdns advertising", "instance", a.instance, "service", ServiceType, "port", a.port)
	return nil
}

// Close withdraws the advertisement.
func (a *Advertiser) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.logger.Info("mdns advertisement withdrawn", "instance", a.instance)
}

// TXT returns the TXT records the advertiser publishes.
func (a *Advertiser) TXT() []string {
	return slices.Clone(a.txt)
}

// Browse lists badgelink instances answering within timeout (default 3s)
// or until ctx ends.
func Browse(ctx context.Context, timeout time.Duration) ([]Instance, error) {
	if timeout <= 0 {
		timeout = defaultBrowseTimeout
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []Instance, 1)
	go func() {
		var found []Instance
		for entry := range entries {
			found = append(found, entryToInstance(entry))
		}
		done <- found
	}()

	if err := resolver.Browse(browseCtx, ServiceType, Domain, entries); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-browseCtx.Done()
	return <-done, nil
}

func buildTXT(version string) []string {
	if version == "" {
		version = "dev"
	}
	return []string{"version=" + version, "path=" + APIPath}
}

func parseTXT(records []string) map[string]string {
	m := make(map[string]string, len(records))
	for _, rec := range records {
		if k, v, ok := strings.Cut(rec, "="); ok {
			m[k] = v
		}
	}
	return m
}

func entryToInstance(entry *zeroconf.ServiceEntry) Instance {
	txt := parseTXT(entry.Text)
	inst := Instance{
		Name:    entry.Instance,
		Host:    entry.HostName,
		Port:    entry.Port,
		Version: txt["version"],
		Path:    txt["path"],
	}
	for _, ip := range entry.AddrIPv4 {
		inst.Addrs = append(inst.Addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		inst.Addrs = append(inst.Addrs, ip.String())
	}
	return inst
}
