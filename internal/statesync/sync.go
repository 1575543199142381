package statesync

import (
	"fmt"
	"sync"
	"time"

	"blockfall/server/internal/movement"
	"blockfall/server/internal/protocol"
	"blockfall/server/internal/telemetry"
)

// Sender is the slice of the network manager the sync layer needs for
// outbound snapshots.
type Sender interface {
	SendPacket(playerID uint32, pkt protocol.Packet) bool
	ConnectedPlayerIDs() []uint32
}

// Config tunes snapshot cadence, journal retention, and the optional
// compression stages. Both stages degrade gracefully: disabled flags mean
// full, uncompressed payloads.
type Config struct {
	SnapshotInterval time.Duration
	Compression      bool
	DeltaCompression bool
	JournalCapacity  int
}

// DefaultConfig matches the 20 Hz server tick with a snapshot every other
// tick and a few seconds of delta baselines.
func DefaultConfig() Config {
	return Config{
		SnapshotInterval: 100 * time.Millisecond,
		Compression:      true,
		DeltaCompression: true,
		JournalCapacity:  64,
	}
}

// Sync owns the server half of the snapshot lifecycle: sequence assignment,
// per-peer delta baselines, and buffered player inputs for the next tick.
type Sync struct {
	mu           sync.Mutex
	cfg          Config
	sequence     uint64
	lastSnapshot time.Time
	journal      *Journal
	acks         map[uint32]uint64
	inputs       map[uint32][]movement.Input

	metrics *telemetry.SyncMetrics
	logger  telemetry.Logger
}

// NewSync constructs the server-side sync state.
func NewSync(cfg Config, metrics *telemetry.SyncMetrics, logger telemetry.Logger) *Sync {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultConfig().SnapshotInterval
	}
	if cfg.JournalCapacity <= 0 {
		cfg.JournalCapacity = DefaultConfig().JournalCapacity
	}
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	return &Sync{
		cfg:     cfg,
		journal: NewJournal(cfg.JournalCapacity),
		acks:    make(map[uint32]uint64),
		inputs:  make(map[uint32][]movement.Input),
		metrics: metrics,
		logger:  logger,
	}
}

// ShouldCreateSnapshot gates snapshot creation on the configured interval so
// the cadence stays independent of the tick rate.
func (s *Sync) ShouldCreateSnapshot(now time.Time) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSnapshot.IsZero() || now.Sub(s.lastSnapshot) >= s.cfg.SnapshotInterval
}

// CreateSnapshot assembles the next snapshot, assigns its sequence, and
// records its encoding in the journal for future delta baselines.
func (s *Sync) CreateSnapshot(tick uint64, worldData []byte, players []PlayerState, entities []EntityState) (Snapshot, error) {
	if s == nil {
		return Snapshot{}, fmt.Errorf("statesync: nil sync")
	}
	s.mu.Lock()
	s.sequence++
	snap := Snapshot{
		Sequence:  s.sequence,
		Tick:      tick,
		Timestamp: time.Now().UnixMilli(),
		WorldData: worldData,
		Players:   make(map[uint32]PlayerState, len(players)),
		Entities:  make(map[uint32]EntityState, len(entities)),
	}
	for _, p := range players {
		snap.Players[p.ID] = p
	}
	for _, e := range entities {
		snap.Entities[e.ID] = e
	}
	s.lastSnapshot = time.Now()
	s.mu.Unlock()

	raw, err := encodeSnapshot(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("statesync: encode snapshot %d: %w", snap.Sequence, err)
	}
	s.journal.Record(snap.Sequence, raw)
	s.metrics.RecordCreated()
	return snap, nil
}

// EncodeFor serializes the snapshot for one peer, diffing against the peer's
// last acknowledged snapshot when delta compression is on. A peer whose
// baseline has been evicted from the journal gets a full payload flagged as
// a resync.
func (s *Sync) EncodeFor(playerID uint32, snap Snapshot) ([]byte, error) {
	raw, ok := s.journal.Lookup(snap.Sequence)
	if !ok {
		var err error
		raw, err = encodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
	}

	wire := wireSnapshot{Sequence: snap.Sequence}
	payload := raw

	if s.cfg.DeltaCompression {
		s.mu.Lock()
		ack := s.acks[playerID]
		s.mu.Unlock()
		if ack > 0 && ack < snap.Sequence {
			if base, ok := s.journal.Lookup(ack); ok {
				payload = deltaEncode(raw, base)
				wire.Flags |= flagDelta
				wire.BaseSequence = ack
			} else {
				wire.Flags |= flagResync
				s.metrics.RecordResync()
				s.logger.Printf("[sync] baseline %d evicted for player %d, forcing full snapshot", ack, playerID)
			}
		}
	}

	if s.cfg.Compression {
		payload = compress(payload)
		wire.Flags |= flagCompressed
	}
	wire.Payload = payload

	encoded, err := protocol.EncodePayload(wire)
	if err != nil {
		return nil, fmt.Errorf("statesync: encode wire snapshot %d: %w", snap.Sequence, err)
	}
	s.metrics.RecordEncoded(len(raw), len(encoded), wire.Flags&flagDelta != 0)
	return encoded, nil
}

// SendSnapshotToPlayer encodes and transmits one snapshot to one peer.
func (s *Sync) SendSnapshotToPlayer(sender Sender, playerID uint32, snap Snapshot) bool {
	data, err := s.EncodeFor(playerID, snap)
	if err != nil {
		s.logger.Printf("[sync] failed to encode snapshot %d for player %d: %v", snap.Sequence, playerID, err)
		return false
	}
	return sender.SendPacket(playerID, protocol.NewSnapshotPacket(data))
}

// BroadcastSnapshot fans the snapshot out to every connected peer, each with
// its own delta baseline. Returns the number of peers reached.
func (s *Sync) BroadcastSnapshot(sender Sender, snap Snapshot) int {
	sent := 0
	for _, id := range sender.ConnectedPlayerIDs() {
		if s.SendSnapshotToPlayer(sender, id, snap) {
			sent++
		}
	}
	return sent
}

// RecordAck stores the latest snapshot sequence a peer reports applied.
// Acks only move forward; a stale ack is ignored.
func (s *Sync) RecordAck(playerID uint32, sequence uint64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sequence > s.acks[playerID] {
		s.acks[playerID] = sequence
	}
}

// ProcessPlayerInput buffers one raw input for the next simulation step. The
// server is authoritative: it replays inputs through the shared movement
// rules and never trusts client-reported positions.
func (s *Sync) ProcessPlayerInput(playerID uint32, payload protocol.PlayerInputPayload) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs[playerID] = append(s.inputs[playerID], movement.InputFromPayload(payload))
}

// DrainInputs returns and clears the buffered inputs for a player.
func (s *Sync) DrainInputs(playerID uint32) []movement.Input {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inputs := s.inputs[playerID]
	if len(inputs) == 0 {
		return nil
	}
	delete(s.inputs, playerID)
	return inputs
}

// DropPlayer discards ack and input state for a departed peer.
func (s *Sync) DropPlayer(playerID uint32) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.acks, playerID)
	delete(s.inputs, playerID)
}

// Sequence reports the most recently assigned snapshot sequence.
func (s *Sync) Sequence() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// JournalWindow exposes the retained baseline window for diagnostics.
func (s *Sync) JournalWindow() (int, uint64, uint64) {
	return s.journal.Window()
}
