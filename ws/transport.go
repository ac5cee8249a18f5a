package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendQueueSize = 256
	writeWait     = 10 * time.Second
	closeWait     = time.Second
)

var errTransportClosed = errors.New("ws: transport is closed")

// wsTransport adapts one gorilla connection to the core's Transport
// interface. All writes go through a single pump goroutine because
// gorilla connections allow only one concurrent writer.
type wsTransport struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func newTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{
		conn:   conn,
		sendCh: make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
	go t.writePump()
	return t
}

func (t *wsTransport) writePump() {
	for {
		select {
		case data := <-t.sendCh:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *wsTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	select {
	case t.sendCh <- data:
		return nil
	case <-t.done:
		return errTransportClosed
	}
}

// Close sends a close frame and tears the connection down. Safe to call
// more than once.
func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	message := websocket.FormatCloseMessage(code, reason)
	t.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeWait))
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
