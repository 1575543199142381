// Package gameserver ties the pieces together on the authoritative side:
// the network manager, the snapshot sync, the world, and the player records
// the two tick loops advance.
package gameserver

import (
	"context"
	"sync"
	"time"

	"blockfall/server/internal/config"
	"blockfall/server/internal/movement"
	"blockfall/server/internal/netmgr"
	"blockfall/server/internal/protocol"
	"blockfall/server/internal/statesync"
	"blockfall/server/internal/telemetry"
	"blockfall/server/internal/world"
	"blockfall/server/logging"
	lognet "blockfall/server/logging/network"
)

const (
	tickRate     = 20
	pingInterval = 30 * time.Second
	spawnY       = 65
	maxHealth    = 20
)

type playerRecord struct {
	id     uint32
	name   string
	state  movement.State
	health float32
	// lastInputSeq is echoed in snapshots so the client can reconcile.
	lastInputSeq uint32
}

// Server runs the authoritative session: admission through netmgr, world and
// input simulation on the world tick, snapshot fan-out through statesync.
type Server struct {
	cfg   config.Config
	world *world.World
	mgr   *netmgr.Manager
	sync  *statesync.Sync

	netMetrics  *telemetry.NetworkMetrics
	syncMetrics *telemetry.SyncMetrics
	pub         logging.Publisher
	log         telemetry.Logger

	mu          sync.Mutex
	players     map[uint32]*playerRecord
	tick        uint64
	startedAt   time.Time
	peakPlayers int

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires a server from configuration. The ban store may be nil, which
// disables ban enforcement.
func New(cfg config.Config, bans netmgr.BanStore, pub logging.Publisher, logger telemetry.Logger) *Server {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}

	s := &Server{
		cfg:         cfg,
		world:       world.New(world.Config{Seed: time.Now().UnixNano()}),
		netMetrics:  telemetry.NewNetworkMetrics(),
		syncMetrics: telemetry.NewSyncMetrics(),
		pub:         pub,
		log:         logger,
		players:     make(map[uint32]*playerRecord),
		stop:        make(chan struct{}),
	}
	s.sync = statesync.NewSync(statesync.Config{
		SnapshotInterval: cfg.SnapshotInterval(),
		Compression:      cfg.Sync.Compression,
		DeltaCompression: cfg.Sync.DeltaCompression,
		JournalCapacity:  cfg.Sync.JournalCapacity,
	}, s.syncMetrics, logger)
	s.mgr = netmgr.New(cfg, bans, s.netMetrics, logger, netmgr.Callbacks{
		OnConnected:    s.onConnected,
		OnDisconnected: s.onDisconnected,
		OnPacket:       s.onPacket,
	})
	return s
}

// Start begins listening and launches the network and world loops.
func (s *Server) Start() error {
	s.registerHTTP()
	if err := s.mgr.StartServer(); err != nil {
		return err
	}
	s.startedAt = time.Now()

	s.wg.Add(2)
	go s.runNetwork()
	go s.runWorld()
	s.log.Printf("[server] %s up on port %d", s.cfg.Server.Name, s.cfg.Network.ServerPort)
	return nil
}

// Stop halts the loops and disconnects every peer. Idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.mgr.Disconnect()
		s.log.Printf("[server] stopped")
	})
}

// runNetwork drives connection upkeep at the tick rate: inbound dispatch,
// dead-peer purging, and the periodic keep-alive.
func (s *Server) runNetwork() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()
	lastPing := time.Now()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mgr.ProcessEvents()
			s.mgr.Update(now)
			if now.Sub(lastPing) >= pingInterval {
				for _, id := range s.mgr.ConnectedPlayerIDs() {
					s.mgr.SendPing(id)
				}
				lastPing = now
			}
		}
	}
}

// runWorld advances the simulation and emits snapshots on the configured
// cadence.
func (s *Server) runWorld() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			if dt <= 0 {
				dt = time.Second / tickRate
			}
			last = now
			s.step(now, dt)
		}
	}
}

func (s *Server) step(now time.Time, dt time.Duration) {
	s.mu.Lock()
	s.tick++
	tick := s.tick
	s.mu.Unlock()

	s.world.Update(dt)
	s.applyInputs()

	if !s.sync.ShouldCreateSnapshot(now) {
		return
	}
	snap, err := s.createSnapshot(tick)
	if err != nil {
		s.log.Printf("[server] snapshot %d failed: %v", tick, err)
		return
	}
	s.sync.BroadcastSnapshot(s.mgr, snap)
}

// applyInputs replays each player's buffered inputs through the shared
// movement rules. The resulting state is what the next snapshot carries.
func (s *Server) applyInputs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.players {
		inputs := s.sync.DrainInputs(id)
		for _, in := range inputs {
			rec.state = movement.Step(rec.state, in)
			rec.lastInputSeq = in.Sequence
		}
	}
}

func (s *Server) createSnapshot(tick uint64) (statesync.Snapshot, error) {
	worldData, err := s.world.Serialize()
	if err != nil {
		return statesync.Snapshot{}, err
	}

	s.mu.Lock()
	players := make([]statesync.PlayerState, 0, len(s.players))
	for _, rec := range s.players {
		ps := statesync.PlayerState{
			ID:       rec.id,
			Name:     rec.name,
			Health:   rec.health,
			InputSeq: rec.lastInputSeq,
		}
		ps.ApplyMovement(rec.state, time.Now().UnixMilli())
		players = append(players, ps)
	}
	s.mu.Unlock()

	return s.sync.CreateSnapshot(tick, worldData, players, nil)
}

func (s *Server) onConnected(pc netmgr.PlayerConnection) {
	rec := &playerRecord{
		id:     pc.ID,
		name:   pc.Name,
		state:  movement.State{Pos: protocol.Vec3{Y: spawnY}},
		health: maxHealth,
	}

	s.mu.Lock()
	s.players[pc.ID] = rec
	if len(s.players) > s.peakPlayers {
		s.peakPlayers = len(s.players)
	}
	tick := s.tick
	s.mu.Unlock()

	lognet.PeerConnected(context.Background(), s.pub, tick, pc.ID, lognet.PeerPayload{
		Name:    pc.Name,
		Address: pc.Address,
	})

	if welcome, err := protocol.NewChatPacket(s.cfg.Server.Name, pc.Name+" joined the game"); err == nil {
		s.mgr.BroadcastPacket(welcome)
	}

	// A joining peer has no baseline, so it gets a fresh full snapshot
	// immediately instead of waiting for the next cadence tick.
	snap, err := s.createSnapshot(tick)
	if err != nil {
		s.log.Printf("[server] cold-start snapshot for %d failed: %v", pc.ID, err)
		return
	}
	s.sync.SendSnapshotToPlayer(s.mgr, pc.ID, snap)
}

func (s *Server) onDisconnected(playerID uint32, reason string) {
	s.mu.Lock()
	rec := s.players[playerID]
	delete(s.players, playerID)
	tick := s.tick
	s.mu.Unlock()

	s.sync.DropPlayer(playerID)

	name := ""
	if rec != nil {
		name = rec.name
	}
	lognet.PeerDisconnected(context.Background(), s.pub, tick, playerID, lognet.PeerPayload{
		Name:   name,
		Reason: reason,
	})
	if rec != nil {
		if bye, err := protocol.NewChatPacket(s.cfg.Server.Name, name+" left the game"); err == nil {
			s.mgr.BroadcastPacket(bye)
		}
	}
}

func (s *Server) onPacket(env protocol.Envelope) {
	switch env.Packet.Type {
	case protocol.TypePlayerInput:
		var input protocol.PlayerInputPayload
		if err := protocol.DecodePayload(env.Packet.Data, &input); err != nil {
			s.log.Printf("[server] bad input from %d: %v", env.PeerID, err)
			return
		}
		s.sync.ProcessPlayerInput(env.PeerID, input)
	case protocol.TypeSnapshotAck:
		var ack protocol.SnapshotAckPayload
		if err := protocol.DecodePayload(env.Packet.Data, &ack); err != nil {
			return
		}
		s.sync.RecordAck(env.PeerID, ack.Sequence)
	case protocol.TypePlayerRotation:
		rot, ok := protocol.UnmarshalVec3(env.Packet.Data)
		if !ok {
			return
		}
		s.mu.Lock()
		if rec, ok := s.players[env.PeerID]; ok {
			rec.state.Yaw = rot.Y
			rec.state.Pitch = rot.X
		}
		s.mu.Unlock()
	case protocol.TypeChat:
		s.relayChat(env)
	default:
		s.log.Printf("[server] unhandled %s from %d", env.Packet.Type, env.PeerID)
	}
}

// relayChat rebroadcasts a chat line under the sender's registered name, so
// a client cannot speak as someone else.
func (s *Server) relayChat(env protocol.Envelope) {
	var chat protocol.ChatPayload
	if err := protocol.DecodePayload(env.Packet.Data, &chat); err != nil {
		return
	}
	s.mu.Lock()
	rec := s.players[env.PeerID]
	s.mu.Unlock()
	if rec == nil {
		return
	}
	if out, err := protocol.NewChatPacket(rec.name, chat.Message); err == nil {
		s.mgr.BroadcastPacket(out)
	}
}

// Status is a point-in-time operational summary for the console and the
// status endpoint.
type Status struct {
	Name        string        `json:"name"`
	Uptime      time.Duration `json:"uptime"`
	Tick        uint64        `json:"tick"`
	Players     int           `json:"players"`
	PeakPlayers int           `json:"peakPlayers"`
	Sequence    uint64        `json:"sequence"`
	WorldTime   uint64        `json:"worldTime"`
}

func (s *Server) Status() Status {
	s.mu.Lock()
	players := len(s.players)
	peak := s.peakPlayers
	tick := s.tick
	s.mu.Unlock()
	return Status{
		Name:        s.cfg.Server.Name,
		Uptime:      time.Since(s.startedAt).Truncate(time.Second),
		Tick:        tick,
		Players:     players,
		PeakPlayers: peak,
		Sequence:    s.sync.Sequence(),
		WorldTime:   s.world.Time(),
	}
}

// Manager exposes the network manager for the console commands.
func (s *Server) Manager() *netmgr.Manager {
	return s.mgr
}

// World exposes the authoritative world.
func (s *Server) World() *world.World {
	return s.world
}
