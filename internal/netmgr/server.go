package netmgr

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"blockfall/server/internal/config"
	"blockfall/server/internal/protocol"
	"blockfall/server/internal/transport"
)

// StartServer binds the listen address and begins accepting websocket
// connections on /ws. Admission checks run before the peer gets a read
// worker: banned addresses and a full server are refused at the door.
func (m *Manager) StartServer() error {
	if m.mode != config.ModeServer && m.mode != config.ModeHost {
		return fmt.Errorf("netmgr: StartServer called in %s mode", m.mode)
	}
	if err := m.Initialize(); err != nil {
		return err
	}
	m.registerWS()

	addr := fmt.Sprintf(":%d", m.cfg.Network.ServerPort)
	m.httpServer = &http.Server{Addr: addr, Handler: m.mux}
	go func() {
		if err := m.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Printf("[net] http server stopped: %v", err)
		}
	}()
	m.log.Printf("[net] listening on %s", addr)
	return nil
}

// registerWS mounts the websocket accept handler on the manager's mux.
func (m *Manager) registerWS() {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	m.mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if m.IsPlayerBanned(r.RemoteAddr) {
			http.Error(w, "banned", http.StatusForbidden)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.log.Printf("[net] upgrade failed for %s: %v", r.RemoteAddr, err)
			return
		}
		conn := transport.NewConn(ws)

		if len(m.ConnectedPlayerIDs()) >= m.cfg.Network.MaxPlayers {
			message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "server full")
			ws.WriteMessage(websocket.CloseMessage, message)
			conn.Close()
			return
		}

		m.adoptPeer(conn, r.RemoteAddr)
	})
}

// adoptPeer registers a fresh connection in the connecting state and starts
// its read worker. The peer stays unauthenticated until its handshake
// arrives through ProcessEvents.
func (m *Manager) adoptPeer(conn *transport.Conn, addr string) *PlayerConnection {
	id := m.nextPeerID.Add(1)
	pc := &PlayerConnection{
		ID:           id,
		Address:      addr,
		State:        StateConnecting,
		LastActivity: time.Now(),
		conn:         conn,
		limiter:      rate.NewLimiter(rate.Limit(m.cfg.Network.InboundPerSec), m.cfg.Network.InboundPerSec),
	}
	pc.worker = transport.NewWorker(id, conn, m.incoming, m.stats, m.log, func(peer uint32, err error) {
		m.markError(peer)
	})

	m.mu.Lock()
	m.conns[id] = pc
	m.mu.Unlock()

	pc.worker.Start()
	m.log.Printf("[net] peer %d connecting from %s", id, addr)
	return pc
}

// handleHandshake authenticates a connecting peer: record the name, promote
// the state, answer with the assigned id, and surface the join to the game
// layer.
func (m *Manager) handleHandshake(env protocol.Envelope) {
	var hs protocol.HandshakePayload
	if err := protocol.DecodePayload(env.Packet.Data, &hs); err != nil {
		m.log.Printf("[net] malformed handshake from peer %d: %v", env.PeerID, err)
		m.removePeer(env.PeerID, "malformed handshake")
		return
	}

	m.mu.Lock()
	pc, ok := m.conns[env.PeerID]
	var joined PlayerConnection
	if ok {
		pc.Name = hs.Name
		pc.Authenticated = true
		pc.State = StateConnected
		pc.LastActivity = time.Now()
		joined = *pc
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	ack, err := protocol.NewHandshakeAckPacket(env.PeerID, hs.Token, hs.Name, m.cfg.Server.MOTD)
	if err != nil {
		m.log.Printf("[net] failed to build handshake ack for peer %d: %v", env.PeerID, err)
		return
	}
	m.SendPacket(env.PeerID, ack)
	m.log.Printf("[net] peer %d authenticated as %q", env.PeerID, hs.Name)

	if m.cbs.OnConnected != nil {
		m.cbs.OnConnected(joined)
	}
}
