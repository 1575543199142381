package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"blockfall/server/internal/protocol"
)

// ErrConnClosed is returned by writes after Close.
var ErrConnClosed = errors.New("transport: connection closed")

const (
	writeTimeout = 10 * time.Second
	readLimit    = protocol.MaxPayloadSize + 1024
)

// Conn wraps a websocket connection with packet framing and a write lock, so
// the send worker and control-plane writers never interleave frames.
type Conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// NewConn adopts an upgraded or dialed websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(readLimit)
	return &Conn{ws: ws}
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// WritePacket marshals and sends one packet as a binary frame.
func (c *Conn) WritePacket(pkt protocol.Packet) error {
	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// ReadPacket blocks until the next binary frame and decodes it. Only the
// reader goroutine may call it.
func (c *Conn) ReadPacket() (protocol.Packet, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return protocol.Packet{}, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		pkt, err := protocol.Unmarshal(data)
		if err != nil {
			return protocol.Packet{}, err
		}
		return pkt, nil
	}
}

// Close sends a close frame when possible and tears the connection down.
// Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	c.ws.WriteMessage(websocket.CloseMessage, message)
	return c.ws.Close()
}
