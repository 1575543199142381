package statesync

import (
	"time"

	"blockfall/server/internal/movement"
	"blockfall/server/internal/protocol"
	"blockfall/server/internal/telemetry"
)

// PredictedState is one entry of the client's rolling prediction history:
// the movement state after applying Input locally.
type PredictedState struct {
	State       movement.State
	Input       movement.Input
	PredictedAt int64
}

// ReceiverConfig tunes the client half of the sync layer.
type ReceiverConfig struct {
	// Tolerance is the per-axis position divergence, in blocks, beyond
	// which reconciliation snaps to server state and replays inputs.
	Tolerance float32
	// HistoryLimit bounds the prediction history so a silent server cannot
	// grow it without bound.
	HistoryLimit int
	// BaselineCapacity bounds the applied-snapshot journal used to resolve
	// delta payloads.
	BaselineCapacity int
}

// DefaultReceiverConfig mirrors the server's journal depth.
func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{
		Tolerance:        0.01,
		HistoryLimit:     256,
		BaselineCapacity: 64,
	}
}

// Receiver owns the client half of the snapshot lifecycle: stale rejection,
// delta resolution, the authoritative mirror of remote state, and
// reconciliation of the locally predicted player. It is not safe for
// concurrent use; the client drives it from its update loop.
type Receiver struct {
	cfg       ReceiverConfig
	localID   uint32
	applied   uint64
	players   map[uint32]PlayerState
	entities  map[uint32]EntityState
	baselines *Journal

	predicted movement.State
	history   []PredictedState
	inputSeq  uint32

	metrics *telemetry.SyncMetrics
	logger  telemetry.Logger
}

// NewReceiver constructs the client-side sync state for the given local
// player id.
func NewReceiver(cfg ReceiverConfig, localID uint32, metrics *telemetry.SyncMetrics, logger telemetry.Logger) *Receiver {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultReceiverConfig().Tolerance
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultReceiverConfig().HistoryLimit
	}
	if cfg.BaselineCapacity <= 0 {
		cfg.BaselineCapacity = DefaultReceiverConfig().BaselineCapacity
	}
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	return &Receiver{
		cfg:       cfg,
		localID:   localID,
		players:   make(map[uint32]PlayerState),
		entities:  make(map[uint32]EntityState),
		baselines: NewJournal(cfg.BaselineCapacity),
		metrics:   metrics,
		logger:    logger,
	}
}

// SetLocalID rebinds the receiver to the id assigned at handshake.
func (r *Receiver) SetLocalID(id uint32) {
	r.localID = id
}

// SeedLocalState initializes the predicted state, typically from the first
// full snapshot after connecting.
func (r *Receiver) SeedLocalState(state movement.State) {
	r.predicted = state
	r.history = r.history[:0]
}

// ReceiveSnapshot decodes wire bytes, rejects stale sequences, applies the
// snapshot to the authoritative mirror, and reconciles local prediction.
// Stale and undecodable snapshots are dropped, counted, and reported via the
// returned error; neither is fatal to the session.
func (r *Receiver) ReceiveSnapshot(data []byte) (Snapshot, error) {
	var wire wireSnapshot
	if err := protocol.DecodePayload(data, &wire); err != nil {
		return Snapshot{}, err
	}

	payload := wire.Payload
	if wire.Flags&flagCompressed != 0 {
		var err error
		if payload, err = decompress(payload); err != nil {
			return Snapshot{}, err
		}
	}
	if wire.Flags&flagDelta != 0 {
		base, ok := r.baselines.Lookup(wire.BaseSequence)
		if !ok {
			r.metrics.RecordStale()
			return Snapshot{}, ErrMissingBaseline
		}
		payload = deltaApply(payload, base)
	}

	snap, err := decodeSnapshot(payload)
	if err != nil {
		return Snapshot{}, err
	}

	resync := wire.Flags&flagResync != 0
	if snap.Sequence <= r.applied && !resync {
		r.metrics.RecordStale()
		return Snapshot{}, ErrStaleSnapshot
	}

	r.applySnapshot(snap, payload)
	return snap, nil
}

func (r *Receiver) applySnapshot(snap Snapshot, raw []byte) {
	for id, p := range snap.Players {
		r.players[id] = p
	}
	for id, e := range snap.Entities {
		r.entities[id] = e
	}
	r.baselines.Record(snap.Sequence, raw)
	r.applied = snap.Sequence
	r.metrics.RecordApplied(time.Duration(time.Now().UnixMilli()-snap.Timestamp) * time.Millisecond)

	if local, ok := snap.Players[r.localID]; ok {
		r.Reconcile(local)
	}
}

// Predict advances the local predicted state by one input and appends it to
// the history buffer. Returns the wire payload to send to the server.
func (r *Receiver) Predict(in movement.Input) protocol.PlayerInputPayload {
	r.inputSeq++
	in.Sequence = r.inputSeq
	r.predicted = movement.Step(r.predicted, in)
	r.history = append(r.history, PredictedState{
		State:       r.predicted,
		Input:       in,
		PredictedAt: time.Now().UnixMilli(),
	})
	if len(r.history) > r.cfg.HistoryLimit {
		r.history = r.history[len(r.history)-r.cfg.HistoryLimit:]
	}
	return protocol.PlayerInputPayload{
		Sequence: in.Sequence,
		MoveX:    in.MoveX,
		MoveY:    in.MoveY,
		MoveZ:    in.MoveZ,
		Yaw:      in.Yaw,
		Pitch:    in.Pitch,
		DeltaMS:  in.DeltaMS,
	}
}

// Reconcile compares the server's authoritative state for the acknowledged
// input against the prediction made at that input. Within tolerance the
// prediction stands and history up to the ack is pruned. Beyond tolerance
// the local state snaps to the server state and the remaining buffered
// inputs are replayed, which keeps correction invisible when the shared
// movement rules agree and bounded when they do not.
func (r *Receiver) Reconcile(server PlayerState) {
	acked := server.InputSeq
	serverState := server.MovementState()

	var atAck *PredictedState
	cut := 0
	for i := range r.history {
		if r.history[i].Input.Sequence <= acked {
			cut = i + 1
			if r.history[i].Input.Sequence == acked {
				atAck = &r.history[i]
			}
		}
	}
	remaining := r.history[cut:]

	if atAck != nil && !movement.Diverged(atAck.State, serverState, r.cfg.Tolerance) {
		r.history = append(r.history[:0], remaining...)
		return
	}

	r.metrics.RecordReconcileSnap()
	replayInputs := make([]movement.Input, len(remaining))
	for i, p := range remaining {
		replayInputs[i] = p.Input
	}
	state := movement.Replay(serverState, replayInputs)

	rebuilt := make([]PredictedState, len(remaining))
	running := serverState
	for i, p := range remaining {
		running = movement.Step(running, p.Input)
		rebuilt[i] = PredictedState{State: running, Input: p.Input, PredictedAt: p.PredictedAt}
	}
	r.history = rebuilt
	r.predicted = state
}

// PredictedStateNow returns the current locally predicted movement state.
func (r *Receiver) PredictedStateNow() movement.State {
	return r.predicted
}

// Player returns the authoritative mirror for a player id.
func (r *Receiver) Player(id uint32) (PlayerState, bool) {
	p, ok := r.players[id]
	return p, ok
}

// Entity returns the authoritative mirror for an entity id.
func (r *Receiver) Entity(id uint32) (EntityState, bool) {
	e, ok := r.entities[id]
	return e, ok
}

// Players copies the authoritative player mirror.
func (r *Receiver) Players() map[uint32]PlayerState {
	out := make(map[uint32]PlayerState, len(r.players))
	for id, p := range r.players {
		out[id] = p
	}
	return out
}

// LastApplied reports the sequence of the most recently applied snapshot.
func (r *Receiver) LastApplied() uint64 {
	return r.applied
}

// PendingInputs reports the prediction history length, for diagnostics.
func (r *Receiver) PendingInputs() int {
	return len(r.history)
}
