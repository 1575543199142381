package gameserver

import (
	"bytes"
	"strings"
	"testing"

	"blockfall/server/internal/config"
	"blockfall/server/internal/netmgr"
	"blockfall/server/internal/protocol"
	"blockfall/server/internal/telemetry"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Name = "unit"
	return New(cfg, nil, nil, telemetry.LoggerFunc(t.Logf))
}

func join(s *Server, id uint32, name string) {
	s.onConnected(netmgr.PlayerConnection{ID: id, Name: name, Address: "127.0.0.1:9"})
}

func TestJoinAndLeaveTracksRecords(t *testing.T) {
	srv := newTestServer(t)
	join(srv, 1, "alice")
	join(srv, 2, "bob")

	srv.mu.Lock()
	alice := srv.players[1]
	count := len(srv.players)
	peak := srv.peakPlayers
	srv.mu.Unlock()

	if count != 2 || peak != 2 {
		t.Fatalf("players=%d peak=%d, want 2/2", count, peak)
	}
	if alice == nil || alice.state.Pos.Y != spawnY {
		t.Fatalf("alice spawn = %+v, want Y=%d", alice, spawnY)
	}
	if alice.health != maxHealth {
		t.Fatalf("spawn health = %v, want %v", alice.health, maxHealth)
	}

	srv.onDisconnected(1, "timeout")

	st := srv.Status()
	if st.Players != 1 {
		t.Fatalf("players after leave = %d, want 1", st.Players)
	}
	if st.PeakPlayers != 2 {
		t.Fatalf("peak after leave = %d, want 2", st.PeakPlayers)
	}
	if st.Name != "unit" {
		t.Fatalf("status name = %q", st.Name)
	}
	// Each join forced a cold-start snapshot.
	if st.Sequence != 2 {
		t.Fatalf("sequence = %d, want 2", st.Sequence)
	}
}

func TestInputMovesPlayerIntoSnapshot(t *testing.T) {
	srv := newTestServer(t)
	join(srv, 5, "carol")

	pkt, err := protocol.NewPlayerInputPacket(protocol.PlayerInputPayload{
		Sequence: 3,
		MoveX:    1,
		DeltaMS:  500,
	})
	if err != nil {
		t.Fatalf("NewPlayerInputPacket: %v", err)
	}
	srv.onPacket(protocol.Envelope{PeerID: 5, Packet: pkt})
	srv.applyInputs()

	srv.mu.Lock()
	rec := srv.players[5]
	srv.mu.Unlock()
	if rec.lastInputSeq != 3 {
		t.Fatalf("lastInputSeq = %d, want 3", rec.lastInputSeq)
	}
	if rec.state.Pos.X <= 0 {
		t.Fatalf("player did not move, pos %+v", rec.state.Pos)
	}

	snap, err := srv.createSnapshot(10)
	if err != nil {
		t.Fatalf("createSnapshot: %v", err)
	}
	ps, ok := snap.Players[5]
	if !ok {
		t.Fatal("snapshot missing player 5")
	}
	if ps.Pos.X != rec.state.Pos.X {
		t.Fatalf("snapshot pos %v, record pos %v", ps.Pos.X, rec.state.Pos.X)
	}
	if ps.InputSeq != 3 {
		t.Fatalf("snapshot InputSeq = %d, want 3", ps.InputSeq)
	}
	if len(snap.WorldData) == 0 {
		t.Fatal("snapshot carries no world data")
	}
	if snap.Tick != 10 {
		t.Fatalf("snapshot tick = %d, want 10", snap.Tick)
	}
}

func TestRotationUpdatesLook(t *testing.T) {
	srv := newTestServer(t)
	join(srv, 8, "dave")

	pkt := protocol.NewPlayerRotationPacket(protocol.Vec3{X: 10, Y: 90})
	srv.onPacket(protocol.Envelope{PeerID: 8, Packet: pkt})

	srv.mu.Lock()
	rec := srv.players[8]
	srv.mu.Unlock()
	if rec.state.Yaw != 90 || rec.state.Pitch != 10 {
		t.Fatalf("yaw=%v pitch=%v, want 90/10", rec.state.Yaw, rec.state.Pitch)
	}
}

func TestUnknownPeerInputIgnored(t *testing.T) {
	srv := newTestServer(t)

	pkt, err := protocol.NewPlayerInputPacket(protocol.PlayerInputPayload{Sequence: 1, MoveX: 1, DeltaMS: 50})
	if err != nil {
		t.Fatalf("NewPlayerInputPacket: %v", err)
	}
	srv.onPacket(protocol.Envelope{PeerID: 99, Packet: pkt})
	srv.applyInputs()

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.players) != 0 {
		t.Fatalf("phantom player created: %d records", len(srv.players))
	}
}

func TestConsoleCommands(t *testing.T) {
	srv := newTestServer(t)
	join(srv, 1, "alice")

	var out bytes.Buffer
	in := strings.NewReader("status\nkick\nkick nobody\nsay hello\nbogus\nstop\n")
	srv.RunConsole(in, &out)

	text := out.String()
	for _, want := range []string{
		"unit: 1 players",
		"usage: kick <name>",
		"no player named nobody",
		"unknown command \"bogus\"",
		"stopping",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("console output missing %q:\n%s", want, text)
		}
	}

	// Stop must be idempotent after the console already invoked it.
	srv.Stop()
}
