// ABOUTME: Transport abstraction over a peer connection
// ABOUTME: WebSocket implementation with a buffered, single-writer send queue
package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrTransportClosed is returned when sending on a closed transport
	ErrTransportClosed = errors.New("transport closed")

	// ErrSendBufferFull is returned when a slow peer's queue is full; the
	// frame is dropped and the peer stays connected
	ErrSendBufferFull = errors.New("send buffer full")
)

// Transport carries frames to one peer. Sends never block.
type Transport interface {
	SendBinary(data []byte) error
	SendText(data []byte) error
	Ping() error
	Close() error
	RemoteAddr() string
}

type outbound struct {
	messageType int
	data        []byte
}

// wsTransport queues writes for a single writer goroutine, since gorilla
// connections allow one concurrent writer
type wsTransport struct {
	conn         *websocket.Conn
	sendChan     chan outbound
	done         chan struct{}
	writeTimeout time.Duration

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *wsTransport {
	return &wsTransport{
		conn:         conn,
		sendChan:     make(chan outbound, bufferSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

func (t *wsTransport) SendBinary(data []byte) error {
	return t.enqueue(websocket.BinaryMessage, data)
}

func (t *wsTransport) SendText(data []byte) error {
	return t.enqueue(websocket.TextMessage, data)
}

func (t *wsTransport) enqueue(messageType int, data []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrTransportClosed
	}

	select {
	case t.sendChan <- outbound{messageType: messageType, data: data}:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// Ping writes a ping control frame directly; gorilla allows WriteControl
// concurrently with the writer goroutine
func (t *wsTransport) Ping() error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrTransportClosed
	}
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.done)
		t.mu.Unlock()

		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}

// writeLoop drains the send queue until the transport closes or a write fails
func (t *wsTransport) writeLoop() {
	for {
		select {
		case msg := <-t.sendChan:
			t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := t.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				t.Close()
				return
			}
		case <-t.done:
			return
		}
	}
}
