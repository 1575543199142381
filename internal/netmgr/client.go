package netmgr

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"blockfall/server/internal/config"
	"blockfall/server/internal/protocol"
	"blockfall/server/internal/transport"
)

// serverPeerID is the client's local id for its single upstream connection.
const serverPeerID uint32 = 0

// Connect dials the configured server asynchronously. Returns false when a
// connection attempt is already in flight or established; the outcome of an
// accepted attempt arrives through OnConnected or OnConnectionFailed.
func (m *Manager) Connect(playerName string) bool {
	if m.mode != config.ModeClient && m.mode != config.ModeHost {
		return false
	}
	if err := m.Initialize(); err != nil {
		return false
	}

	m.mu.Lock()
	if _, exists := m.conns[serverPeerID]; exists {
		m.mu.Unlock()
		return false
	}
	m.conns[serverPeerID] = &PlayerConnection{
		ID:           serverPeerID,
		Name:         playerName,
		State:        StateConnecting,
		LastActivity: time.Now(),
		limiter:      rate.NewLimiter(rate.Limit(m.cfg.Network.InboundPerSec), m.cfg.Network.InboundPerSec),
	}
	m.dialDone = make(chan struct{})
	m.mu.Unlock()

	go m.dial(playerName)
	return true
}

func (m *Manager) dial(playerName string) {
	defer close(m.dialDone)

	url := fmt.Sprintf("ws://%s:%d/ws", m.cfg.Network.ServerAddress, m.cfg.Network.ServerPort)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.Dial(url, nil)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		reason := fmt.Sprintf("dial %s: %v", url, err)
		m.log.Printf("[net] %s", reason)
		m.mu.Lock()
		delete(m.conns, serverPeerID)
		m.mu.Unlock()
		if m.cbs.OnConnectionFailed != nil {
			m.cbs.OnConnectionFailed(reason)
		}
		return
	}

	conn := transport.NewConn(ws)
	worker := transport.NewWorker(serverPeerID, conn, m.incoming, m.stats, m.log, func(peer uint32, err error) {
		m.markError(peer)
	})

	m.mu.Lock()
	pc := m.conns[serverPeerID]
	if pc == nil {
		m.mu.Unlock()
		conn.Close()
		return
	}
	pc.conn = conn
	pc.worker = worker
	pc.Address = ws.RemoteAddr().String()
	pc.LastActivity = time.Now()
	m.mu.Unlock()

	worker.Start()

	hs, err := protocol.NewHandshakePacket(playerName, uuid.NewString())
	if err != nil {
		m.log.Printf("[net] failed to build handshake: %v", err)
		m.removePeer(serverPeerID, "handshake build failure")
		return
	}
	m.stamp(&hs)
	if err := conn.WritePacket(hs); err != nil {
		reason := fmt.Sprintf("handshake write: %v", err)
		m.removePeer(serverPeerID, reason)
		if m.cbs.OnConnectionFailed != nil {
			m.cbs.OnConnectionFailed(reason)
		}
	}
}

// handleHandshakeAck finishes a client connect: adopt the server-assigned
// player id and promote the upstream link to connected.
func (m *Manager) handleHandshakeAck(env protocol.Envelope) {
	var ack protocol.HandshakeAckPayload
	if err := protocol.DecodePayload(env.Packet.Data, &ack); err != nil {
		m.log.Printf("[net] malformed handshake ack: %v", err)
		return
	}

	m.mu.Lock()
	pc, ok := m.conns[env.PeerID]
	var joined PlayerConnection
	if ok {
		pc.State = StateConnected
		pc.Authenticated = true
		pc.LastActivity = time.Now()
		m.localID = ack.PlayerID
		joined = *pc
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.log.Printf("[net] connected as player %d (%s), motd: %s", ack.PlayerID, ack.Name, ack.MOTD)
	if m.cbs.OnConnected != nil {
		m.cbs.OnConnected(joined)
	}
}
