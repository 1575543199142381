package netmgr

import (
	"net"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"blockfall/server/internal/config"
	"blockfall/server/internal/protocol"
	"blockfall/server/internal/telemetry"
)

type fakeBans struct {
	banned map[string]string
}

func (f *fakeBans) Ban(addr, name, reason string) error {
	if f.banned == nil {
		f.banned = make(map[string]string)
	}
	f.banned[addr] = name
	return nil
}

func (f *fakeBans) IsBanned(addr string) (bool, string, error) {
	name, ok := f.banned[addr]
	return ok, name, nil
}

func startTestServer(t *testing.T, bans BanStore, cbs Callbacks) (*Manager, string, int) {
	t.Helper()
	cfg := config.Default()
	cfg.Network.Mode = string(config.ModeServer)

	m := New(cfg, bans, telemetry.NewNetworkMetrics(), nil, cbs)
	if err := m.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	m.registerWS()

	srv := httptest.NewServer(m.mux)
	t.Cleanup(srv.Close)
	t.Cleanup(m.Disconnect)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return m, host, port
}

func newTestClient(t *testing.T, host string, port int, cbs Callbacks) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.Network.Mode = string(config.ModeClient)
	cfg.Network.ServerAddress = host
	cfg.Network.ServerPort = port

	m := New(cfg, nil, telemetry.NewNetworkMetrics(), nil, cbs)
	t.Cleanup(m.Disconnect)
	return m
}

func dialRaw(t *testing.T, host string, port int) *websocket.Conn {
	t.Helper()
	url := "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("raw dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	return ws
}

// pump runs both event loops until the condition holds or the deadline hits.
func pump(t *testing.T, cond func() bool, managers ...*Manager) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, m := range managers {
			m.ProcessEvents()
		}
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestHandshakeAssignsPlayerID(t *testing.T) {
	var joined []PlayerConnection
	server, host, port := startTestServer(t, nil, Callbacks{
		OnConnected: func(pc PlayerConnection) { joined = append(joined, pc) },
	})

	clientConnected := false
	client := newTestClient(t, host, port, Callbacks{
		OnConnected: func(PlayerConnection) { clientConnected = true },
	})

	if !client.Connect("alice") {
		t.Fatal("connect refused")
	}
	if client.Connect("alice") {
		t.Fatal("second connect while in flight should be refused")
	}

	pump(t, func() bool { return clientConnected && len(joined) == 1 }, server, client)

	if joined[0].Name != "alice" || !joined[0].Authenticated {
		t.Fatalf("server side join record: %+v", joined[0])
	}
	if client.LocalID() != joined[0].ID {
		t.Fatalf("client id %d, server assigned %d", client.LocalID(), joined[0].ID)
	}
	players := server.GetConnectedPlayers()
	if len(players) != 1 || players[0].Name != "alice" {
		t.Fatalf("connected players: %+v", players)
	}
}

func TestBroadcastSkipsUnauthenticatedPeers(t *testing.T) {
	server, host, port := startTestServer(t, nil, Callbacks{})

	var clients []*Manager
	connected := 0
	for i := 0; i < 3; i++ {
		c := newTestClient(t, host, port, Callbacks{
			OnConnected: func(PlayerConnection) { connected++ },
		})
		c.Connect("player")
		clients = append(clients, c)
	}
	// A fourth peer upgrades but never sends a handshake.
	silentWS := dialRaw(t, host, port)
	defer silentWS.Close()

	all := append([]*Manager{server}, clients...)
	pump(t, func() bool { return connected == 3 }, all...)

	chat, err := protocol.NewChatPacket("server", "hello")
	if err != nil {
		t.Fatalf("build chat: %v", err)
	}
	if got := server.BroadcastPacket(chat); got != 3 {
		t.Fatalf("broadcast reached %d peers, want 3", got)
	}
}

func TestBannedAddressRefusedAtDoor(t *testing.T) {
	bans := &fakeBans{banned: map[string]string{"127.0.0.1": "griefer"}}
	_, host, port := startTestServer(t, bans, Callbacks{})

	failed := make(chan string, 1)
	client := newTestClient(t, host, port, Callbacks{
		OnConnectionFailed: func(reason string) { failed <- reason },
	})
	if !client.Connect("griefer") {
		t.Fatal("connect refused locally")
	}

	select {
	case <-failed:
	case <-time.After(3 * time.Second):
		t.Fatal("banned client never saw a connection failure")
	}
}

func TestKickDeliversReason(t *testing.T) {
	var joinedID uint32
	server, host, port := startTestServer(t, nil, Callbacks{
		OnConnected: func(pc PlayerConnection) { joinedID = pc.ID },
	})

	gone := ""
	client := newTestClient(t, host, port, Callbacks{
		OnDisconnected: func(_ uint32, reason string) { gone = reason },
	})
	client.Connect("alice")
	pump(t, func() bool { return joinedID != 0 }, server, client)

	if !server.KickPlayer(joinedID, "testing") {
		t.Fatal("kick refused")
	}
	pump(t, func() bool { return gone != "" }, server, client)
	if gone != "testing" {
		t.Fatalf("disconnect reason %q", gone)
	}
	if len(server.GetConnectedPlayers()) != 0 {
		t.Fatal("kicked player still listed")
	}
}

// TestKickFlushesPendingBeforeClose kicks a peer while its handshake ack is
// still in the outgoing queue and asserts the wire order: ack first, then the
// reason-bearing disconnect, then the socket closes.
func TestKickFlushesPendingBeforeClose(t *testing.T) {
	var server *Manager
	server, host, port := startTestServer(t, nil, Callbacks{
		OnConnected: func(pc PlayerConnection) {
			// The ack was queued just before this fired, so the kick's
			// disconnect must line up behind it.
			server.KickPlayer(pc.ID, "room closed")
		},
	})

	ws := dialRaw(t, host, port)
	defer ws.Close()

	hs, err := protocol.NewHandshakePacket("mallory", "tok")
	if err != nil {
		t.Fatalf("build handshake: %v", err)
	}
	data, err := hs.Marshal()
	if err != nil {
		t.Fatalf("marshal handshake: %v", err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	stop := make(chan struct{})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for {
			select {
			case <-stop:
				return
			default:
				server.ProcessEvents()
				time.Sleep(2 * time.Millisecond)
			}
		}
	}()
	defer func() {
		close(stop)
		<-pumpDone
	}()

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var order []protocol.Type
	reason := ""
	for len(order) < 2 {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read frame %d: %v", len(order), err)
		}
		pkt, err := protocol.Unmarshal(frame)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		order = append(order, pkt.Type)
		if pkt.Type == protocol.TypeDisconnect {
			var d protocol.DisconnectPayload
			if err := protocol.DecodePayload(pkt.Data, &d); err != nil {
				t.Fatalf("decode disconnect: %v", err)
			}
			reason = d.Reason
		}
	}
	if order[0] != protocol.TypeHandshakeAck || order[1] != protocol.TypeDisconnect {
		t.Fatalf("frame order %v, want handshake ack then disconnect", order)
	}
	if reason != "room closed" {
		t.Fatalf("disconnect reason %q, want %q", reason, "room closed")
	}
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("socket still open after disconnect frame")
	}
}

func TestDisconnectJoinsInFlightDial(t *testing.T) {
	// Reserve a port with nothing listening so the dial fails in flight.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	client := newTestClient(t, "127.0.0.1", port, Callbacks{})
	if !client.Connect("alice") {
		t.Fatal("connect refused")
	}

	done := make(chan struct{})
	go func() {
		client.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("disconnect did not join the in-flight dial")
	}
	if _, ok := client.GetPlayerConnection(serverPeerID); ok {
		t.Fatal("connection record survived disconnect")
	}
}

func TestBanPlayerPersistsAndKicks(t *testing.T) {
	bans := &fakeBans{}
	var joinedID uint32
	server, host, port := startTestServer(t, bans, Callbacks{
		OnConnected: func(pc PlayerConnection) { joinedID = pc.ID },
	})
	client := newTestClient(t, host, port, Callbacks{})
	client.Connect("griefer")
	pump(t, func() bool { return joinedID != 0 }, server, client)

	if err := server.BanPlayer(joinedID, "tnt spam"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if banned, name, _ := bans.IsBanned("127.0.0.1"); !banned || name != "griefer" {
		t.Fatalf("ban not recorded: banned=%v name=%q", banned, name)
	}
	if len(server.GetConnectedPlayers()) != 0 {
		t.Fatal("banned player still listed")
	}
}

func TestUpdatePurgesSilentPeers(t *testing.T) {
	var joinedID uint32
	leftID := uint32(0)
	server, host, port := startTestServer(t, nil, Callbacks{
		OnConnected:    func(pc PlayerConnection) { joinedID = pc.ID },
		OnDisconnected: func(id uint32, _ string) { leftID = id },
	})
	client := newTestClient(t, host, port, Callbacks{})
	client.Connect("alice")
	pump(t, func() bool { return joinedID != 0 }, server, client)

	server.Update(time.Now().Add(server.cfg.Timeout() + time.Second))
	if leftID != joinedID {
		t.Fatalf("timed-out peer not purged: left=%d joined=%d", leftID, joinedID)
	}
}

func TestPingPongMeasuresRTT(t *testing.T) {
	var joinedID uint32
	server, host, port := startTestServer(t, nil, Callbacks{
		OnConnected: func(pc PlayerConnection) { joinedID = pc.ID },
	})
	client := newTestClient(t, host, port, Callbacks{})
	client.Connect("alice")
	pump(t, func() bool { return joinedID != 0 }, server, client)

	if !server.SendPing(joinedID) {
		t.Fatal("ping refused")
	}
	pump(t, func() bool {
		pc, ok := server.GetPlayerConnection(joinedID)
		return ok && pc.Ping > 0
	}, server, client)
}
