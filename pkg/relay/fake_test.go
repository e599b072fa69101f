// ABOUTME: In-memory transport and helpers shared by relay tests
// ABOUTME: Records every frame sent so tests can assert routing
package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/Sendspin/micrelay/pkg/protocol"
)

type fakeTransport struct {
	mu       sync.Mutex
	binary   [][]byte
	text     [][]byte
	pings    int
	closed   bool
	sendErr  error
	pingErr  error
	closeErr error
}

func (f *fakeTransport) SendBinary(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrTransportClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.binary = append(f.binary, data)
	return nil
}

func (f *fakeTransport) SendText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrTransportClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.text = append(f.text, data)
	return nil
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrTransportClosed
	}
	f.pings++
	return f.pingErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeTransport) RemoteAddr() string {
	return "127.0.0.1:1"
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) binaryFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.binary...)
}

func (f *fakeTransport) textFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.text))
	for i, t := range f.text {
		out[i] = string(t)
	}
	return out
}

// messages returns the decoded JSON text frames with the given type
func (f *fakeTransport) messages(t *testing.T, msgType string) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, frame := range f.textFrames() {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(frame), &m); err != nil {
			continue
		}
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

// lastStatus returns the most recent status broadcast received
func (f *fakeTransport) lastStatus(t *testing.T) protocol.Status {
	t.Helper()
	var status protocol.Status
	found := false
	for _, frame := range f.textFrames() {
		var s protocol.Status
		if err := json.Unmarshal([]byte(frame), &s); err == nil && s.Type == protocol.TypeStatus {
			status = s
			found = true
		}
	}
	if !found {
		t.Fatal("no status received")
	}
	return status
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.binary = nil
	f.text = nil
	f.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRelay(config RelayConfig) *Relay {
	config.Logger = testLogger()
	return NewRelay(NewRegistry(), config)
}

// join connects a peer with the given user agent
func join(r *Relay, userAgent string) (*Conn, *fakeTransport) {
	ft := &fakeTransport{}
	c := NewConn(ft, "127.0.0.1:1", userAgent)
	r.Connect(c)
	return c, ft
}

// joinAs connects a peer and identifies it with a hello
func joinAs(r *Relay, client string) (*Conn, *fakeTransport) {
	c, ft := join(r, "")
	r.HandleMessage(c, false, []byte(`{"type":"hello","client":"`+client+`"}`))
	ft.reset()
	return c, ft
}
