package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/badgelink/internal/audit"
	"github.com/nerrad567/badgelink/internal/badge"
	"github.com/nerrad567/badgelink/internal/bridges/cloner"
	"github.com/nerrad567/badgelink/internal/infrastructure/config"
	"github.com/nerrad567/badgelink/internal/infrastructure/logging"
	"github.com/nerrad567/badgelink/internal/peripheral"
)

// fakeCloner is an in-memory Cloner.
type fakeCloner struct {
	mu        sync.Mutex
	connected bool
	codes     []badge.Code
	written   []badge.Code
	commands  []string
	listeners []func(cloner.BadgeEvent)

	connectErr error
	opErr      error
	readCode   badge.Code
}

func (f *fakeCloner) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeCloner) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeCloner) WriteBadge(_ context.Context, code badge.Code) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opErr != nil {
		return f.opErr
	}
	f.written = append(f.written, code)
	return nil
}

func (f *fakeCloner) ReadBadge(ctx context.Context) (cloner.BadgeEvent, error) {
	f.mu.Lock()
	err := f.opErr
	code := f.readCode
	f.mu.Unlock()
	if err != nil {
		return cloner.BadgeEvent{}, err
	}
	added := f.add(code)
	return cloner.BadgeEvent{Code: code, Source: cloner.SourceRead, New: added}, nil
}

func (f *fakeCloner) Scan(context.Context) error     { return f.command("scan") }
func (f *fakeCloner) PowerOff(context.Context) error { return f.command("power_off") }

func (f *fakeCloner) command(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opErr != nil {
		return f.opErr
	}
	f.commands = append(f.commands, name)
	return nil
}

func (f *fakeCloner) AddCode(_ context.Context, code badge.Code) (cloner.BadgeEvent, error) {
	added := f.add(code)
	return cloner.BadgeEvent{Code: code, Source: cloner.SourceManual, New: added}, nil
}

func (f *fakeCloner) add(code badge.Code) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c == code {
			return false
		}
	}
	f.codes = append(f.codes, code)
	return true
}

func (f *fakeCloner) Codes(context.Context) []badge.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]badge.Code{}, f.codes...)
}

func (f *fakeCloner) ClearCodes(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = nil
	return nil
}

func (f *fakeCloner) Status(context.Context) cloner.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloner.Status{Connected: f.connected, CodeCount: len(f.codes)}
}

func (f *fakeCloner) OnBadge(fn func(cloner.BadgeEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *fakeCloner) emit(ev cloner.BadgeEvent) {
	f.mu.Lock()
	listeners := append([]func(cloner.BadgeEvent){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// fakeHistory is an in-memory audit.Repository.
type fakeHistory struct {
	last audit.Filter
	err  error
}

func (f *fakeHistory) Create(context.Context, *audit.Entry) error { return nil }

func (f *fakeHistory) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.last = filter
	if f.err != nil {
		return nil, f.err
	}
	return &audit.ListResult{
		Entries: []audit.Entry{{ID: "cmd-1", Command: "scan", Status: audit.StatusAccepted}},
		Total:   1,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func testDeps(fc *fakeCloner) Deps {
	cfg := config.Default()
	cfg.API.RateLimit.Enabled = false
	return Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  logging.Discard(),
		Cloner:  fc,
		Version: "test",
	}
}

func newTestServer(t *testing.T, deps Deps) (*Server, http.Handler) {
	t.Helper()
	s, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return s, s.Handler(ctx)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding body %q: %v", rec.Body.String(), err)
	}
}

func TestNew_Validation(t *testing.T) {
	deps := testDeps(&fakeCloner{})
	deps.Logger = nil
	if _, err := New(deps); err == nil {
		t.Error("New() without logger should fail")
	}

	deps = testDeps(&fakeCloner{})
	deps.Cloner = nil
	if _, err := New(deps); err == nil {
		t.Error("New() without cloner should fail")
	}
}

func TestHandleHealth(t *testing.T) {
	_, h := newTestServer(t, testDeps(&fakeCloner{codes: []badge.Code{"A1B2"}}))

	rec := do(t, h, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Status  string        `json:"status"`
		Version string        `json:"version"`
		Cloner  cloner.Status `json:"cloner"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "ok" || body.Version != "test" {
		t.Errorf("body = %+v", body)
	}
	if body.Cloner.CodeCount != 1 {
		t.Errorf("cloner.code_count = %d, want 1", body.Cloner.CodeCount)
	}
}

func TestRequestID(t *testing.T) {
	_, h := newTestServer(t, testDeps(&fakeCloner{}))

	rec := do(t, h, http.MethodGet, "/api/v1/health", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want propagated abc-123", got)
	}
}

func TestDeviceEndpoints_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		connectErr error
		opErr      error
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "connect discovery failure",
			connectErr: fmt.Errorf("%w: no device", peripheral.ErrDiscovery),
			method:     http.MethodPost,
			path:       "/api/v1/device/connect",
			wantStatus: http.StatusBadGateway,
			wantCode:   "discovery_error",
		},
		{
			name:       "connect connection failure",
			connectErr: fmt.Errorf("%w: gatt", peripheral.ErrConnection),
			method:     http.MethodPost,
			path:       "/api/v1/device/connect",
			wantStatus: http.StatusBadGateway,
			wantCode:   "connection_error",
		},
		{
			name:       "write without connection",
			opErr:      peripheral.ErrNotConnected,
			method:     http.MethodPost,
			path:       "/api/v1/device/badge",
			body:       `{"code":"A1B2"}`,
			wantStatus: http.StatusConflict,
			wantCode:   ErrCodeNotConnected,
		},
		{
			name:       "write empty code",
			method:     http.MethodPost,
			path:       "/api/v1/device/badge",
			body:       `{"code":""}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeBadRequest,
		},
		{
			name:       "write invalid json",
			method:     http.MethodPost,
			path:       "/api/v1/device/badge",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeBadRequest,
		},
		{
			name:       "read transfer failure",
			opErr:      fmt.Errorf("%w: gatt read", peripheral.ErrTransfer),
			method:     http.MethodGet,
			path:       "/api/v1/device/badge",
			wantStatus: http.StatusBadGateway,
			wantCode:   "transfer_error",
		},
		{
			name:       "scan storage failure",
			opErr:      fmt.Errorf("%w: disk", badge.ErrStorage),
			method:     http.MethodPost,
			path:       "/api/v1/device/scan",
			wantStatus: http.StatusInternalServerError,
			wantCode:   "storage_error",
		},
		{
			name:       "power off unknown failure",
			opErr:      fmt.Errorf("boom"),
			method:     http.MethodPost,
			path:       "/api/v1/device/power-off",
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeCloner{connectErr: tt.connectErr, opErr: tt.opErr}
			_, h := newTestServer(t, testDeps(fc))

			rec := do(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var apiErr Error
			decodeBody(t, rec, &apiErr)
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
			if apiErr.Status != tt.wantStatus {
				t.Errorf("body status = %d, want %d", apiErr.Status, tt.wantStatus)
			}
			if len(fc.written) != 0 {
				t.Errorf("written = %v, want nothing", fc.written)
			}
		})
	}
}

func TestDeviceEndpoints_Success(t *testing.T) {
	fc := &fakeCloner{readCode: "9F00"}
	_, h := newTestServer(t, testDeps(fc))

	if rec := do(t, h, http.MethodPost, "/api/v1/device/connect", ""); rec.Code != http.StatusOK {
		t.Fatalf("connect status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/device/badge", `{"code":"A1B2"}`); rec.Code != http.StatusAccepted {
		t.Errorf("write status = %d, want 202", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/device/scan", ""); rec.Code != http.StatusAccepted {
		t.Errorf("scan status = %d, want 202", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/device/power-off", ""); rec.Code != http.StatusAccepted {
		t.Errorf("power-off status = %d, want 202", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/device/badge", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("read status = %d, want 200", rec.Code)
	}
	var ev cloner.BadgeEvent
	decodeBody(t, rec, &ev)
	if ev.Code != "9F00" || !ev.New || ev.Source != cloner.SourceRead {
		t.Errorf("read event = %+v", ev)
	}

	if len(fc.written) != 1 || fc.written[0] != "A1B2" {
		t.Errorf("written = %v, want [A1B2]", fc.written)
	}
	if got := strings.Join(fc.commands, ","); got != "scan,power_off" {
		t.Errorf("commands = %q, want scan,power_off", got)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/device/disconnect", "")
	var st cloner.Status
	decodeBody(t, rec, &st)
	if st.Connected {
		t.Error("status after disconnect reports connected")
	}
}

func TestCodesEndpoints(t *testing.T) {
	fc := &fakeCloner{}
	_, h := newTestServer(t, testDeps(fc))

	rec := do(t, h, http.MethodGet, "/api/v1/codes", "")
	if got := strings.TrimSpace(rec.Body.String()); got != `{"codes":[],"count":0}` {
		t.Errorf("empty list body = %s", got)
	}

	steps := []struct {
		code       string
		wantStatus int
		wantAdded  bool
	}{
		{"A1B2", http.StatusCreated, true},
		{"C3D4", http.StatusCreated, true},
		{"A1B2", http.StatusOK, false},
	}
	for _, step := range steps {
		rec := do(t, h, http.MethodPost, "/api/v1/codes", `{"code":"`+step.code+`"}`)
		if rec.Code != step.wantStatus {
			t.Errorf("add %s status = %d, want %d", step.code, rec.Code, step.wantStatus)
		}
		var body struct {
			Added bool `json:"added"`
		}
		decodeBody(t, rec, &body)
		if body.Added != step.wantAdded {
			t.Errorf("add %s added = %v, want %v", step.code, body.Added, step.wantAdded)
		}
	}

	rec = do(t, h, http.MethodGet, "/api/v1/codes", "")
	var list struct {
		Codes []string `json:"codes"`
		Count int      `json:"count"`
	}
	decodeBody(t, rec, &list)
	if strings.Join(list.Codes, ",") != "A1B2,C3D4" || list.Count != 2 {
		t.Errorf("list = %+v, want [A1B2 C3D4]", list)
	}

	rec = do(t, h, http.MethodDelete, "/api/v1/codes", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("clear status = %d, want 204", rec.Code)
	}
	if n := len(fc.Codes(context.Background())); n != 0 {
		t.Errorf("codes after clear = %d, want 0", n)
	}
}

func TestRateLimit(t *testing.T) {
	deps := testDeps(&fakeCloner{})
	deps.Config.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	_, h := newTestServer(t, deps)

	for i := range 2 {
		if rec := do(t, h, http.MethodGet, "/api/v1/health", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}

	rec := do(t, h, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	var apiErr Error
	decodeBody(t, rec, &apiErr)
	if apiErr.Code != ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeRateLimited)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)
	if other.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", other.Code)
	}
}

func TestCORS(t *testing.T) {
	deps := testDeps(&fakeCloner{})
	deps.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
	_, h := newTestServer(t, deps)

	tests := []struct {
		origin string
		want   string
	}{
		{"http://panel.local", "http://panel.local"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/codes", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("%s: preflight status = %d, want 204", tt.origin, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("%s: allow-origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", s.hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading websocket message: %v", err)
	}
	return msg
}

func TestWebSocket_BadgeScannedFromQuery(t *testing.T) {
	fc := &fakeCloner{}
	s, h := newTestServer(t, testDeps(fc))
	ts := httptest.NewServer(h)
	defer ts.Close()

	conn := dialWS(t, ts, "?channels="+ChannelBadgeScanned)
	waitForClients(t, s, 1)

	fc.emit(cloner.BadgeEvent{Code: "9F00", Source: cloner.SourceNotify, New: true})

	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelBadgeScanned {
		t.Fatalf("message = %+v, want badge.scanned event", msg)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok || payload["code"] != "9F00" {
		t.Errorf("payload = %#v, want code 9F00", msg.Payload)
	}
}

func TestWebSocket_SubscribeMessage(t *testing.T) {
	fc := &fakeCloner{}
	s, h := newTestServer(t, testDeps(fc))
	ts := httptest.NewServer(h)
	defer ts.Close()

	conn := dialWS(t, ts, "")
	waitForClients(t, s, 1)

	// Not subscribed yet: this event must not arrive.
	s.hub.Broadcast(ChannelDeviceStatus, cloner.Status{Connected: false})

	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelDeviceStatus}},
	})
	if err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	resp := readWS(t, conn)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("response = %+v, want subscribe response", resp)
	}

	s.hub.Broadcast(ChannelDeviceStatus, cloner.Status{Connected: true})
	msg := readWS(t, conn)
	if msg.EventType != ChannelDeviceStatus {
		t.Fatalf("event = %+v, want device.status", msg)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["connected"] != true {
		t.Errorf("payload = %#v, want connected=true", msg.Payload)
	}
}

func TestWebSocket_PingAndUnknown(t *testing.T) {
	s, h := newTestServer(t, testDeps(&fakeCloner{}))
	ts := httptest.NewServer(h)
	defer ts.Close()

	conn := dialWS(t, ts, "")
	waitForClients(t, s, 1)

	tests := []struct {
		msgType string
		want    string
	}{
		{WSTypePing, WSTypePong},
		{"bogus", WSTypeError},
	}
	for _, tt := range tests {
		if err := conn.WriteJSON(WSMessage{Type: tt.msgType, ID: tt.msgType}); err != nil {
			t.Fatalf("write %s: %v", tt.msgType, err)
		}
		if got := readWS(t, conn); got.Type != tt.want || got.ID != tt.msgType {
			t.Errorf("%s: reply = %+v, want type %s", tt.msgType, got, tt.want)
		}
	}

	conn.Close()
	waitForClients(t, s, 0)
}

func TestHandleListCommands(t *testing.T) {
	tests := []struct {
		name       string
		history    *fakeHistory
		query      string
		wantStatus int
		wantFilter audit.Filter
	}{
		{
			name:       "disabled",
			query:      "",
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "filters passed through",
			history:    &fakeHistory{},
			query:      "?command=write&status=failed&limit=10&offset=5",
			wantStatus: http.StatusOK,
			wantFilter: audit.Filter{Command: "write", Status: "failed", Limit: 10, Offset: 5},
		},
		{
			name:       "bad limit",
			history:    &fakeHistory{},
			query:      "?limit=ten",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "negative offset",
			history:    &fakeHistory{},
			query:      "?offset=-1",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "repository failure",
			history:    &fakeHistory{err: fmt.Errorf("disk")},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps(&fakeCloner{})
			if tt.history != nil {
				deps.History = tt.history
			}
			_, h := newTestServer(t, deps)

			rec := do(t, h, http.MethodGet, "/api/v1/commands"+tt.query, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if tt.history.last != tt.wantFilter {
				t.Errorf("filter = %+v, want %+v", tt.history.last, tt.wantFilter)
			}
			var res audit.ListResult
			decodeBody(t, rec, &res)
			if res.Total != 1 || res.Entries[0].ID != "cmd-1" {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestStart_ConfiguredTimeouts(t *testing.T) {
	deps := testDeps(&fakeCloner{})
	deps.Config.Host = "127.0.0.1"
	deps.Config.Port = 18091
	deps.Config.Timeouts = config.APITimeoutConfig{Read: 7, Write: 9, Idle: 11}

	s, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Close() //nolint:errcheck // Test cleanup

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"read", s.server.ReadTimeout, 7 * time.Second},
		{"read header", s.server.ReadHeaderTimeout, 7 * time.Second},
		{"write", s.server.WriteTimeout, 9 * time.Second},
		{"idle", s.server.IdleTimeout, 11 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("timeout = %v, want %v", tt.got, tt.want)
			}
		})
	}
}
