package statesync

import (
	"testing"
	"time"

	"blockfall/server/internal/protocol"
	"blockfall/server/internal/telemetry"
)

type fakeSender struct {
	connected []uint32
	sent      map[uint32][]protocol.Packet
	failFor   map[uint32]bool
}

func newFakeSender(ids ...uint32) *fakeSender {
	return &fakeSender{connected: ids, sent: make(map[uint32][]protocol.Packet)}
}

func (f *fakeSender) SendPacket(playerID uint32, pkt protocol.Packet) bool {
	if f.failFor[playerID] {
		return false
	}
	f.sent[playerID] = append(f.sent[playerID], pkt)
	return true
}

func (f *fakeSender) ConnectedPlayerIDs() []uint32 { return f.connected }

func newTestSync(cfg Config) *Sync {
	return NewSync(cfg, telemetry.NewSyncMetrics(), nil)
}

func TestSnapshotSequenceIncreases(t *testing.T) {
	s := newTestSync(Config{})
	var last uint64
	for i := 0; i < 5; i++ {
		snap, err := s.CreateSnapshot(uint64(i), nil, nil, nil)
		if err != nil {
			t.Fatalf("create snapshot: %v", err)
		}
		if snap.Sequence <= last {
			t.Fatalf("sequence did not increase: %d after %d", snap.Sequence, last)
		}
		last = snap.Sequence
	}
}

func TestShouldCreateSnapshotGatesOnInterval(t *testing.T) {
	s := newTestSync(Config{SnapshotInterval: 100 * time.Millisecond})
	now := time.Now()
	if !s.ShouldCreateSnapshot(now) {
		t.Fatal("first snapshot should always be due")
	}
	if _, err := s.CreateSnapshot(1, nil, nil, nil); err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	if s.ShouldCreateSnapshot(time.Now().Add(10 * time.Millisecond)) {
		t.Fatal("snapshot due again before interval elapsed")
	}
	if !s.ShouldCreateSnapshot(time.Now().Add(200 * time.Millisecond)) {
		t.Fatal("snapshot not due after interval elapsed")
	}
}

func TestBroadcastFanOut(t *testing.T) {
	s := newTestSync(Config{})
	sender := newFakeSender(1, 2, 3)
	snap, err := s.CreateSnapshot(1, nil, []PlayerState{{ID: 1}, {ID: 2}, {ID: 3}}, nil)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	if sent := s.BroadcastSnapshot(sender, snap); sent != 3 {
		t.Fatalf("expected 3 sends, got %d", sent)
	}
	for _, id := range []uint32{1, 2, 3} {
		pkts := sender.sent[id]
		if len(pkts) != 1 {
			t.Fatalf("player %d received %d packets", id, len(pkts))
		}
		if pkts[0].Type != protocol.TypeSnapshot {
			t.Fatalf("player %d received %v", id, pkts[0].Type)
		}
	}
}

func TestEncodeForUsesPerPlayerBaselines(t *testing.T) {
	s := newTestSync(Config{DeltaCompression: true})
	first, err := s.CreateSnapshot(1, []byte("world-a"), []PlayerState{{ID: 1}}, nil)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	second, err := s.CreateSnapshot(2, []byte("world-b"), []PlayerState{{ID: 1}}, nil)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}

	// Player 1 acked the first snapshot, player 2 acked nothing.
	s.RecordAck(1, first.Sequence)

	forAcked, err := s.EncodeFor(1, second)
	if err != nil {
		t.Fatalf("encode for acked player: %v", err)
	}
	forFresh, err := s.EncodeFor(2, second)
	if err != nil {
		t.Fatalf("encode for fresh player: %v", err)
	}

	var ackedWire, freshWire wireSnapshot
	if err := protocol.DecodePayload(forAcked, &ackedWire); err != nil {
		t.Fatalf("decode acked wire: %v", err)
	}
	if err := protocol.DecodePayload(forFresh, &freshWire); err != nil {
		t.Fatalf("decode fresh wire: %v", err)
	}
	if ackedWire.Flags&flagDelta == 0 || ackedWire.BaseSequence != first.Sequence {
		t.Fatalf("expected delta against %d, got %+v", first.Sequence, ackedWire)
	}
	if freshWire.Flags&flagDelta != 0 {
		t.Fatalf("fresh player should receive a full snapshot, got %+v", freshWire)
	}
}

func TestEncodeForEvictedBaselineForcesResync(t *testing.T) {
	s := newTestSync(Config{DeltaCompression: true, JournalCapacity: 2})
	first, err := s.CreateSnapshot(1, nil, nil, nil)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	s.RecordAck(1, first.Sequence)
	var last Snapshot
	for tick := uint64(2); tick <= 4; tick++ {
		if last, err = s.CreateSnapshot(tick, nil, nil, nil); err != nil {
			t.Fatalf("create snapshot: %v", err)
		}
	}

	data, err := s.EncodeFor(1, last)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var wire wireSnapshot
	if err := protocol.DecodePayload(data, &wire); err != nil {
		t.Fatalf("decode wire: %v", err)
	}
	if wire.Flags&flagDelta != 0 {
		t.Fatal("evicted baseline must not produce a delta")
	}
	if wire.Flags&flagResync == 0 {
		t.Fatal("expected resync flag when baseline evicted")
	}
}

func TestRecordAckOnlyMovesForward(t *testing.T) {
	s := newTestSync(Config{})
	s.RecordAck(1, 10)
	s.RecordAck(1, 5)
	s.mu.Lock()
	ack := s.acks[1]
	s.mu.Unlock()
	if ack != 10 {
		t.Fatalf("ack regressed to %d", ack)
	}
}

func TestInputBuffering(t *testing.T) {
	s := newTestSync(Config{})
	s.ProcessPlayerInput(7, protocol.PlayerInputPayload{Sequence: 1, MoveX: 1, DeltaMS: 50})
	s.ProcessPlayerInput(7, protocol.PlayerInputPayload{Sequence: 2, MoveZ: 1, DeltaMS: 50})
	inputs := s.DrainInputs(7)
	if len(inputs) != 2 || inputs[0].Sequence != 1 || inputs[1].Sequence != 2 {
		t.Fatalf("unexpected drained inputs: %+v", inputs)
	}
	if again := s.DrainInputs(7); again != nil {
		t.Fatalf("drain should clear the buffer, got %+v", again)
	}
}
