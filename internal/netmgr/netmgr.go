// Package netmgr owns connection lifecycle: admission, handshakes, packet
// queues, keep-alives, and the fan-out of outbound packets. Simulation code
// talks to it through SendPacket, BroadcastPacket, and ProcessEvents; it
// never touches sockets directly.
package netmgr

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"blockfall/server/internal/config"
	"blockfall/server/internal/protocol"
	"blockfall/server/internal/queue"
	"blockfall/server/internal/telemetry"
	"blockfall/server/internal/transport"
)

// ConnState tracks where a peer is in its lifecycle.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// PlayerConnection is the manager's record of one peer.
type PlayerConnection struct {
	ID            uint32
	Name          string
	Address       string
	State         ConnState
	LastActivity  time.Time
	Ping          time.Duration
	Authenticated bool

	conn    *transport.Conn
	worker  *transport.Worker
	limiter *rate.Limiter

	// closeReason is set when a reasoned disconnect is queued; Update uses
	// it instead of the generic purge reason once the frame has flushed.
	closeReason string
}

// BanStore is the slice of the ban list the manager needs at admission time.
type BanStore interface {
	Ban(addr, name, reason string) error
	IsBanned(addr string) (bool, string, error)
}

// Callbacks let the game layer react to connection events. All callbacks
// fire from the goroutine that calls ProcessEvents or Update, never from a
// transport goroutine.
type Callbacks struct {
	OnConnected        func(pc PlayerConnection)
	OnDisconnected     func(playerID uint32, reason string)
	OnConnectionFailed func(reason string)
	OnPacket           func(env protocol.Envelope)
}

// Manager coordinates every live connection for one process, in server,
// client, or host mode.
type Manager struct {
	cfg   config.Config
	mode  config.Mode
	bans  BanStore
	cbs   Callbacks
	log   telemetry.Logger
	stats *telemetry.NetworkMetrics

	incoming *queue.PacketQueue
	outgoing *queue.PacketQueue

	mu          sync.Mutex
	conns       map[uint32]*PlayerConnection
	localID     uint32
	initialized bool

	nextPeerID   atomic.Uint32
	nextPacketID atomic.Uint32

	seqMu sync.Mutex
	seqs  map[protocol.Type]uint32

	httpServer *http.Server
	mux        *http.ServeMux

	sendDone   chan struct{}
	dialDone   chan struct{}
	shutdownMu sync.Mutex
	shutdown   bool
}

// New constructs a manager for the configured mode. Initialize must be
// called before any other method.
func New(cfg config.Config, bans BanStore, metrics *telemetry.NetworkMetrics, logger telemetry.Logger, cbs Callbacks) *Manager {
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	if metrics == nil {
		metrics = telemetry.NewNetworkMetrics()
	}
	return &Manager{
		cfg:   cfg,
		mode:  cfg.Mode(),
		bans:  bans,
		cbs:   cbs,
		log:   logger,
		stats: metrics,
		conns: make(map[uint32]*PlayerConnection),
		seqs:  make(map[protocol.Type]uint32),
		mux:   http.NewServeMux(),
	}
}

// Initialize allocates the packet queues and starts the send worker. It is
// idempotent.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	capacity := m.cfg.Network.QueueCapacity
	m.incoming = queue.New(capacity, m.stats)
	m.outgoing = queue.New(capacity, m.stats)
	m.sendDone = make(chan struct{})
	go m.sendLoop()
	m.initialized = true
	return nil
}

// Mode reports the configured session mode.
func (m *Manager) Mode() config.Mode {
	return m.mode
}

// LocalID reports this process's player id. Zero until a client handshake
// completes; always zero in server mode, where packets originate from the
// server itself.
func (m *Manager) LocalID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localID
}

// RegisterHTTP attaches an extra handler to the manager's HTTP mux, which
// serves the websocket endpoint alongside metrics and health.
func (m *Manager) RegisterHTTP(pattern string, handler http.Handler) {
	m.mux.Handle(pattern, handler)
}

// stamp assigns the envelope a packet id, a per-type sequence, and the local
// sender id just before it enters the outgoing queue.
func (m *Manager) stamp(pkt *protocol.Packet) {
	pkt.ID = m.nextPacketID.Add(1)
	pkt.SenderID = m.LocalID()
	m.seqMu.Lock()
	m.seqs[pkt.Type]++
	pkt.Sequence = m.seqs[pkt.Type]
	m.seqMu.Unlock()
}

// SendPacket queues one packet for one peer. Returns false when the peer is
// not connected or the outgoing queue is full; the caller decides whether
// that matters for the packet in hand.
func (m *Manager) SendPacket(playerID uint32, pkt protocol.Packet) bool {
	m.mu.Lock()
	pc, ok := m.conns[playerID]
	connected := ok && pc.State == StateConnected
	m.mu.Unlock()
	if !connected {
		return false
	}
	m.stamp(&pkt)
	if !m.outgoing.Push(protocol.Envelope{PeerID: playerID, Packet: pkt}) {
		m.stats.RecordDrop()
		return false
	}
	return true
}

// BroadcastPacket queues one packet for every connected peer and returns the
// number of peers it reached. Peers still handshaking are skipped.
func (m *Manager) BroadcastPacket(pkt protocol.Packet) int {
	sent := 0
	for _, id := range m.ConnectedPlayerIDs() {
		p := pkt
		if m.SendPacket(id, p) {
			sent++
		}
	}
	return sent
}

// ConnectedPlayerIDs lists peers that have completed the handshake.
func (m *Manager) ConnectedPlayerIDs() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint32, 0, len(m.conns))
	for id, pc := range m.conns {
		if pc.State == StateConnected {
			ids = append(ids, id)
		}
	}
	return ids
}

// GetConnectedPlayers returns a snapshot of every authenticated connection.
func (m *Manager) GetConnectedPlayers() []PlayerConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	players := make([]PlayerConnection, 0, len(m.conns))
	for _, pc := range m.conns {
		if pc.State == StateConnected {
			players = append(players, *pc)
		}
	}
	return players
}

// GetPlayerConnection returns a copy of one connection's record.
func (m *Manager) GetPlayerConnection(playerID uint32) (PlayerConnection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.conns[playerID]
	if !ok {
		return PlayerConnection{}, false
	}
	return *pc, true
}

// KickPlayer queues a reasoned disconnect behind the peer's pending reliable
// packets and marks the connection disconnecting. The send loop closes the
// socket once the disconnect frame has flushed, so earlier packets such as
// the handshake ack still reach the peer in order; Update completes the
// removal. Peers without a live socket are removed immediately.
func (m *Manager) KickPlayer(playerID uint32, reason string) bool {
	m.mu.Lock()
	pc, ok := m.conns[playerID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	flushable := pc.State == StateConnected && pc.conn != nil
	if flushable {
		pc.State = StateDisconnecting
		pc.closeReason = reason
	}
	m.mu.Unlock()

	if !flushable {
		m.removePeer(playerID, reason)
		return true
	}

	pkt, err := protocol.NewDisconnectPacket(reason)
	if err != nil {
		m.removePeer(playerID, reason)
		return true
	}
	m.stamp(&pkt)
	if !m.outgoing.Push(protocol.Envelope{PeerID: playerID, Packet: pkt}) {
		// No room to deliver the reason in order; tear down directly.
		m.removePeer(playerID, reason)
	}
	return true
}

// BanPlayer records the peer's address in the ban store and kicks them.
func (m *Manager) BanPlayer(playerID uint32, reason string) error {
	m.mu.Lock()
	pc, ok := m.conns[playerID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("netmgr: player %d not connected", playerID)
	}
	if m.bans == nil {
		return fmt.Errorf("netmgr: no ban store configured")
	}
	host := hostOnly(pc.Address)
	if err := m.bans.Ban(host, pc.Name, reason); err != nil {
		return err
	}
	m.KickPlayer(playerID, "banned: "+reason)
	return nil
}

// IsPlayerBanned checks the ban store for an address.
func (m *Manager) IsPlayerBanned(addr string) bool {
	if m.bans == nil {
		return false
	}
	banned, _, err := m.bans.IsBanned(hostOnly(addr))
	if err != nil {
		m.log.Printf("[net] ban lookup for %s failed: %v", addr, err)
		return false
	}
	return banned
}

// removePeer tears one connection down: close the socket, wait for its read
// worker, drop the record, and notify the game layer.
func (m *Manager) removePeer(playerID uint32, reason string) {
	m.mu.Lock()
	pc, ok := m.conns[playerID]
	if ok {
		delete(m.conns, playerID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if pc.conn != nil {
		pc.conn.Close()
	}
	if pc.worker != nil {
		pc.worker.Wait()
	}
	m.log.Printf("[net] peer %d (%s) removed: %s", playerID, pc.Name, reason)
	if m.cbs.OnDisconnected != nil && pc.Authenticated {
		m.cbs.OnDisconnected(playerID, reason)
	}
}

// Disconnect closes every connection and stops the manager. Idempotent; the
// queues are closed so blocked workers wake up, and the send loop is joined
// before return.
func (m *Manager) Disconnect() {
	m.shutdownMu.Lock()
	if m.shutdown {
		m.shutdownMu.Unlock()
		return
	}
	m.shutdown = true
	m.shutdownMu.Unlock()

	// Queue a reasoned disconnect behind each peer's pending reliable
	// packets, then give the send loop a bounded window to flush so the
	// notice is not overtaken or lost.
	if m.outgoing != nil {
		for _, id := range m.ConnectedPlayerIDs() {
			if pkt, err := protocol.NewDisconnectPacket("shutting down"); err == nil {
				m.SendPacket(id, pkt)
			}
		}
		deadline := time.Now().Add(time.Second)
		for m.outgoing.Len() > 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
	}

	m.mu.Lock()
	ids := make([]uint32, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.removePeer(id, "shutdown")
	}

	if m.outgoing != nil {
		m.outgoing.Close()
	}
	if m.incoming != nil {
		m.incoming.Close()
	}
	if m.sendDone != nil {
		<-m.sendDone
	}

	m.mu.Lock()
	dialDone := m.dialDone
	m.mu.Unlock()
	if dialDone != nil {
		<-dialDone
	}

	if m.httpServer != nil {
		m.httpServer.Close()
	}
}

// sendLoop is the only goroutine that writes queued packets to sockets, so
// simulation ticks never block on peer I/O.
func (m *Manager) sendLoop() {
	defer close(m.sendDone)
	for {
		env, ok := m.outgoing.PopWait()
		if !ok {
			return
		}
		m.mu.Lock()
		pc := m.conns[env.PeerID]
		m.mu.Unlock()
		if pc == nil || pc.conn == nil {
			m.stats.RecordLoss()
			continue
		}
		if err := pc.conn.WritePacket(env.Packet); err != nil {
			m.stats.RecordLoss()
			if env.Packet.Reliable {
				m.log.Printf("[net] write to peer %d failed: %v", env.PeerID, err)
				m.markError(env.PeerID)
			}
			continue
		}
		m.stats.RecordSend(env.Packet.WireSize())
		if env.Packet.Type == protocol.TypeDisconnect {
			m.finishClose(env.PeerID)
		}
	}
}

// finishClose shuts the socket of a disconnecting peer once its disconnect
// frame has flushed. The record stays until Update removes it, keeping the
// disconnect callback on the game goroutine.
func (m *Manager) finishClose(playerID uint32) {
	m.mu.Lock()
	pc, ok := m.conns[playerID]
	if !ok || pc.State != StateDisconnecting {
		m.mu.Unlock()
		return
	}
	pc.State = StateError
	conn := pc.conn
	m.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// markError flags a peer for removal on the next Update pass, keeping
// disconnect callbacks on the game goroutine.
func (m *Manager) markError(playerID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pc, ok := m.conns[playerID]; ok {
		pc.State = StateError
	}
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
