// Package gameclient runs the player side of a session: connection
// lifecycle, client-side prediction, and the authoritative mirror of remote
// players driven purely by server snapshots.
package gameclient

import (
	"sync"
	"time"

	"blockfall/server/internal/config"
	"blockfall/server/internal/movement"
	"blockfall/server/internal/netmgr"
	"blockfall/server/internal/protocol"
	"blockfall/server/internal/statesync"
	"blockfall/server/internal/telemetry"
	"blockfall/server/internal/world"
)

const (
	tickRate     = 20
	pingInterval = 30 * time.Second
)

// RemotePlayer is the client's shadow of another player. Shadows are created
// and destroyed only by server snapshots, never locally.
type RemotePlayer struct {
	ID         uint32
	Name       string
	Pos        protocol.Vec3
	Rot        protocol.Vec3
	Vel        protocol.Vec3
	Health     float32
	LastUpdate int64
}

// Callbacks surface session events to the embedding UI or bot.
type Callbacks struct {
	OnJoined       func(playerID uint32)
	OnChat         func(from, message string)
	OnDisconnected func(reason string)
	OnConnectFail  func(reason string)
}

// Client drives one player session. Public methods are safe for concurrent
// use; the update loop owns prediction and snapshot application.
type Client struct {
	cfg  config.Config
	mgr  *netmgr.Manager
	cbs  Callbacks
	log  telemetry.Logger
	name string

	netMetrics  *telemetry.NetworkMetrics
	syncMetrics *telemetry.SyncMetrics

	mu        sync.Mutex
	recv      *statesync.Receiver
	world     *world.World
	remote    map[uint32]*RemotePlayer
	connected bool
	localID   uint32
	handlers  map[protocol.Type]func(protocol.Envelope)

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a client from configuration.
func New(cfg config.Config, cbs Callbacks, logger telemetry.Logger) *Client {
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	c := &Client{
		cfg:         cfg,
		cbs:         cbs,
		log:         logger,
		netMetrics:  telemetry.NewNetworkMetrics(),
		syncMetrics: telemetry.NewSyncMetrics(),
		world:       world.New(world.Config{}),
		remote:      make(map[uint32]*RemotePlayer),
		stop:        make(chan struct{}),
	}
	c.recv = statesync.NewReceiver(statesync.DefaultReceiverConfig(), 0, c.syncMetrics, logger)
	c.mgr = netmgr.New(cfg, nil, c.netMetrics, logger, netmgr.Callbacks{
		OnConnected:        c.onConnected,
		OnDisconnected:     c.onDisconnected,
		OnConnectionFailed: c.onConnectFailed,
		OnPacket:           c.onPacket,
	})
	c.handlers = map[protocol.Type]func(protocol.Envelope){
		protocol.TypeSnapshot: c.handleSnapshot,
		protocol.TypeChat:     c.handleChat,
	}
	return c
}

// Connect starts the session: dial, handshake, and the update loop. The
// connected flag is set optimistically and rolled back if the dial or the
// handshake fails.
func (c *Client) Connect(playerName string) bool {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return false
	}
	c.connected = true
	c.name = playerName
	c.mu.Unlock()

	if !c.mgr.Connect(playerName) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return false
	}

	c.wg.Add(1)
	go c.run()
	return true
}

// Disconnect sends a logout when possible and stops the update loop.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() {
		c.mgr.SendPacket(0, protocol.NewLogoutPacket())
		close(c.stop)
		c.wg.Wait()
		c.mgr.Disconnect()
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	})
}

// Connected reports whether the session is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// PlayerID reports the server-assigned id, zero before the handshake ack.
func (c *Client) PlayerID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}

func (c *Client) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()
	lastPing := time.Now()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mgr.ProcessEvents()
			c.mgr.Update(now)
			if now.Sub(lastPing) >= pingInterval {
				c.mgr.SendPing(0)
				lastPing = now
			}
		}
	}
}

func (c *Client) onConnected(pc netmgr.PlayerConnection) {
	c.mu.Lock()
	c.localID = c.mgr.LocalID()
	c.recv.SetLocalID(c.localID)
	id := c.localID
	c.mu.Unlock()

	c.log.Printf("[client] joined as player %d", id)
	if c.cbs.OnJoined != nil {
		c.cbs.OnJoined(id)
	}
}

func (c *Client) onDisconnected(playerID uint32, reason string) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	if c.cbs.OnDisconnected != nil {
		c.cbs.OnDisconnected(reason)
	}
}

func (c *Client) onConnectFailed(reason string) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	if c.cbs.OnConnectFail != nil {
		c.cbs.OnConnectFail(reason)
	}
}

// onPacket dispatches through the handler table. Unknown types are logged
// at debug level and dropped; an old server cannot crash a newer client.
func (c *Client) onPacket(env protocol.Envelope) {
	handler, ok := c.handlers[env.Packet.Type]
	if !ok {
		c.log.Printf("[client] dropping unhandled %s", env.Packet.Type)
		return
	}
	handler(env)
}

func (c *Client) handleSnapshot(env protocol.Envelope) {
	c.mu.Lock()
	first := c.recv.LastApplied() == 0
	snap, err := c.recv.ReceiveSnapshot(env.Packet.Data)
	if err == nil && first {
		// Seed prediction from the authoritative spawn state so the first
		// inputs replay from where the server placed us.
		if ps, ok := snap.Players[c.localID]; ok {
			c.recv.SeedLocalState(ps.MovementState())
		}
	}
	c.mu.Unlock()
	if err != nil {
		if err == statesync.ErrStaleSnapshot || err == statesync.ErrMissingBaseline {
			return
		}
		c.log.Printf("[client] snapshot rejected: %v", err)
		return
	}

	c.applySnapshot(snap)

	if ack, err := protocol.NewSnapshotAckPacket(snap.Sequence); err == nil {
		c.mgr.SendPacket(0, ack)
	}
}

// applySnapshot mirrors the authoritative state: world data, then remote
// player shadows created, updated, and destroyed to match the server.
func (c *Client) applySnapshot(snap statesync.Snapshot) {
	if len(snap.WorldData) > 0 {
		if err := c.world.Load(snap.WorldData); err != nil {
			c.log.Printf("[client] world data rejected: %v", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[uint32]bool, len(snap.Players))
	for id, ps := range snap.Players {
		if id == c.localID {
			continue
		}
		seen[id] = true
		shadow, ok := c.remote[id]
		if !ok {
			shadow = &RemotePlayer{ID: id}
			c.remote[id] = shadow
		}
		shadow.Name = ps.Name
		shadow.Pos = ps.Pos
		shadow.Rot = ps.Rot
		shadow.Vel = ps.Vel
		shadow.Health = ps.Health
		shadow.LastUpdate = ps.LastUpdate
	}
	for id := range c.remote {
		if !seen[id] {
			delete(c.remote, id)
		}
	}
}

func (c *Client) handleChat(env protocol.Envelope) {
	var chat protocol.ChatPayload
	if err := protocol.DecodePayload(env.Packet.Data, &chat); err != nil {
		return
	}
	if c.cbs.OnChat != nil {
		c.cbs.OnChat(chat.From, chat.Message)
	}
}

// SendInput predicts one movement step locally and ships the raw input to
// the server. Returns the sequence assigned to the input.
func (c *Client) SendInput(in movement.Input) uint32 {
	c.mu.Lock()
	payload := c.recv.Predict(in)
	c.mu.Unlock()

	pkt, err := protocol.NewPlayerInputPacket(payload)
	if err != nil {
		return payload.Sequence
	}
	c.mgr.SendPacket(0, pkt)
	return payload.Sequence
}

// SendChat ships a chat line to the server for rebroadcast.
func (c *Client) SendChat(message string) bool {
	pkt, err := protocol.NewChatPacket(c.name, message)
	if err != nil {
		return false
	}
	return c.mgr.SendPacket(0, pkt)
}

// PredictedState returns the locally predicted movement state.
func (c *Client) PredictedState() movement.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recv.PredictedStateNow()
}

// RemotePlayers returns a copy of the current shadow set.
func (c *Client) RemotePlayers() []RemotePlayer {
	c.mu.Lock()
	defer c.mu.Unlock()
	players := make([]RemotePlayer, 0, len(c.remote))
	for _, p := range c.remote {
		players = append(players, *p)
	}
	return players
}

// LastSnapshot reports the sequence of the newest applied snapshot.
func (c *Client) LastSnapshot() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recv.LastApplied()
}

// World exposes the mirrored world data.
func (c *Client) World() *world.World {
	return c.world
}

// Ping reports the last measured round-trip time to the server.
func (c *Client) Ping() time.Duration {
	if pc, ok := c.mgr.GetPlayerConnection(0); ok {
		return pc.Ping
	}
	return 0
}
