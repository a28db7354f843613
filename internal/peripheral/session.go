package peripheral

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/badgelink/internal/badge"
)

// Logger defines the logging interface used by the session.
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

// Options configures Connect.
type Options struct {
	Filter Filter

	// Logger receives notification and lifecycle events. Nil discards them.
	Logger Logger

	// Handler, when set, is subscribed before notifications are enabled so
	// no code sent during Connect is missed.
	Handler Handler
}

// Handler receives each decoded badge code from the read endpoint.
type Handler func(code badge.Code)

// Session is an open connection to the cloner with all four endpoints resolved.
//
// A nil *Session behaves as disconnected. All methods are safe for
// concurrent use.
type Session struct {
	conn   Connection
	logger Logger

	mu        sync.RWMutex
	connected bool
	endpoints map[EndpointID]Endpoint
	notifying bool

	subMu   sync.RWMutex
	subs    map[uint64]Handler
	nextSub uint64
}

// Connect discovers the cloner, connects and resolves the service and all
// four endpoints. On any failure the link is closed and no session is returned.
//
// Connect then requests notifications on the read endpoint. A failed
// notification request is logged and does not fail Connect.
func Connect(ctx context.Context, platform Platform, opts Options) (*Session, error) {
	if platform == nil {
		return nil, fmt.Errorf("%w: no platform", ErrConnection)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	conn, err := platform.Connect(ctx, opts.Filter)
	if err != nil {
		if errors.Is(err, ErrDiscovery) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	endpoints, err := resolveEndpoints(ctx, conn, opts.Filter.ServiceID)
	if err != nil {
		if dErr := conn.Disconnect(); dErr != nil {
			logger.Warn("disconnect after failed resolution", "error", dErr)
		}
		return nil, err
	}

	s := &Session{
		conn:      conn,
		logger:    logger,
		connected: true,
		endpoints: endpoints,
		subs:      make(map[uint64]Handler),
	}
	if opts.Handler != nil {
		s.nextSub++
		s.subs[s.nextSub] = opts.Handler
	}
	conn.OnDisconnect(func() {
		if s.markDisconnected() {
			logger.Warn("cloner link lost", "device", conn.Name())
		}
	})

	s.startNotifications()

	logger.Info("cloner connected", "device", conn.Name(), "notifying", s.Notifying())
	return s, nil
}

func resolveEndpoints(ctx context.Context, conn Connection, serviceID string) (map[EndpointID]Endpoint, error) {
	svc, err := conn.ResolveService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving service %s: %w", ErrConnection, serviceID, err)
	}

	endpoints := make(map[EndpointID]Endpoint, 4)
	for _, id := range []EndpointID{EndpointWrite, EndpointRead, EndpointScan, EndpointPowerOff} {
		ep, err := svc.ResolveEndpoint(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: resolving %s endpoint 0x%04x: %w", ErrConnection, id, uint16(id), err)
		}
		endpoints[id] = ep
	}
	return endpoints, nil
}

func (s *Session) startNotifications() {
	ep := s.endpoints[EndpointRead]
	if !ep.SupportsNotify() {
		s.logger.Info("read endpoint does not support notifications")
		return
	}
	if err := ep.Subscribe(s.handleNotification); err != nil {
		s.logger.Warn("subscribing to badge notifications failed",
			"error", fmt.Errorf("%w: %w", ErrTransfer, err))
		return
	}
	s.mu.Lock()
	s.notifying = true
	s.mu.Unlock()
}

func (s *Session) handleNotification(payload []byte) {
	if len(payload) == 0 {
		s.logger.Debug("ignoring empty badge notification")
		return
	}
	code, err := badge.Decode(payload)
	if err != nil {
		s.logger.Warn("dropping badge notification", "error", err, "bytes", len(payload))
		return
	}

	s.subMu.RLock()
	handlers := make([]Handler, 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.subMu.RUnlock()

	s.logger.Debug("badge notification", "code", code, "subscribers", len(handlers))

	for _, h := range handlers {
		s.deliver(h, code)
	}
}

// deliver runs h and recovers a panic.
func (s *Session) deliver(h Handler, code badge.Code) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in badge handler", "code", code, "panic", r)
		}
	}()
	h(code)
}

// WriteBadge writes code to the write endpoint to program a blank badge.
func (s *Session) WriteBadge(ctx context.Context, code badge.Code) error {
	return s.write(ctx, EndpointWrite, code.Encode())
}

// ReadBadge reads the last scanned code from the read endpoint.
// An empty payload means nothing has been scanned and fails with ErrTransfer.
func (s *Session) ReadBadge(ctx context.Context) (badge.Code, error) {
	ep, err := s.endpoint(EndpointRead)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: read: %w", ErrTransfer, err)
	}

	payload, err := ep.Read(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: read: %w", ErrTransfer, err)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: read: empty payload", ErrTransfer)
	}
	code, err := badge.Decode(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %w", ErrTransfer, ErrDecode, err)
	}
	return code, nil
}

// SendScanCommand tells the cloner to scan a badge. The result arrives as
// a notification, not as a return value.
func (s *Session) SendScanCommand(ctx context.Context) error {
	return s.write(ctx, EndpointScan, []byte(ScanPayload))
}

// SendPowerOff tells the cloner to power down. The link drops shortly after.
func (s *Session) SendPowerOff(ctx context.Context) error {
	return s.write(ctx, EndpointPowerOff, []byte(PowerOffPayload))
}

func (s *Session) write(ctx context.Context, id EndpointID, payload []byte) error {
	ep, err := s.endpoint(id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransfer, id, err)
	}
	if err := ep.Write(ctx, payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransfer, id, err)
	}
	return nil
}

func (s *Session) endpoint(id EndpointID) (Endpoint, error) {
	if s == nil {
		return nil, ErrNotConnected
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return nil, ErrNotConnected
	}
	return s.endpoints[id], nil
}

// Subscribe registers handler for every decoded notification.
// Handlers run on the platform's notification goroutine and must not block.
func (s *Session) Subscribe(handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("peripheral: nil handler")
	}
	if !s.Connected() {
		return nil, ErrNotConnected
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = handler
	return &Subscription{session: s, id: id}, nil
}

// Connected reports whether the session still holds its endpoints.
func (s *Session) Connected() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Notifying reports whether the notification subscription is active.
func (s *Session) Notifying() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected && s.notifying
}

// DeviceName returns the connected device's name, or "" when disconnected.
func (s *Session) DeviceName() string {
	if !s.Connected() {
		return ""
	}
	return s.conn.Name()
}

// Close disconnects and drops every endpoint and subscriber.
// Closing a closed session is a no-op.
func (s *Session) Close() error {
	if !s.markDisconnected() {
		return nil
	}
	if err := s.conn.Disconnect(); err != nil {
		return fmt.Errorf("%w: disconnect: %w", ErrConnection, err)
	}
	s.logger.Info("cloner disconnected", "device", s.conn.Name())
	return nil
}

// markDisconnected moves the session to the disconnected state and reports
// whether it was connected before.
func (s *Session) markDisconnected() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	was := s.connected
	s.connected = false
	s.notifying = false
	s.endpoints = nil
	s.mu.Unlock()

	s.subMu.Lock()
	clear(s.subs)
	s.subMu.Unlock()

	if was {
		s.logger.Debug("session marked disconnected")
	}
	return was
}

// Subscription is a live notification handler registration.
type Subscription struct {
	session *Session
	id      uint64
	once    sync.Once
}

// Cancel stops delivery to the handler. Safe to call more than once.
// The device-side notification subscription stays active.
func (sub *Subscription) Cancel() {
	if sub == nil {
		return
	}
	sub.once.Do(func() {
		sub.session.subMu.Lock()
		delete(sub.session.subs, sub.id)
		sub.session.subMu.Unlock()
	})
}
