package netmgr

import (
	"time"

	"blockfall/server/internal/protocol"
)

// maxEventsPerTick bounds how many inbound packets one ProcessEvents call
// will dispatch, so a flood cannot stall the tick that called it.
const maxEventsPerTick = 256

// ProcessEvents drains the incoming queue and dispatches packets: the
// manager consumes session control (handshake, keep-alive, logout) and hands
// everything else to the OnPacket callback. Returns the number of packets
// dispatched. Call it from the network tick; callbacks fire on the caller's
// goroutine.
func (m *Manager) ProcessEvents() int {
	processed := 0
	for processed < maxEventsPerTick {
		env, ok := m.incoming.Pop()
		if !ok {
			break
		}
		processed++

		m.mu.Lock()
		pc := m.conns[env.PeerID]
		if pc != nil {
			pc.LastActivity = time.Now()
		}
		m.mu.Unlock()
		if pc == nil {
			continue
		}
		if !pc.limiter.Allow() {
			m.stats.RecordDrop()
			continue
		}

		switch env.Packet.Type {
		case protocol.TypeHandshake:
			m.handleHandshake(env)
		case protocol.TypeHandshakeAck:
			m.handleHandshakeAck(env)
		case protocol.TypePing:
			m.handlePing(env)
		case protocol.TypePong:
			m.handlePong(env)
		case protocol.TypeLogout:
			m.removePeer(env.PeerID, "logout")
		case protocol.TypeDisconnect:
			m.handleDisconnect(env)
		default:
			if m.cbs.OnPacket != nil {
				m.cbs.OnPacket(env)
			}
		}
	}
	return processed
}

func (m *Manager) handlePing(env protocol.Envelope) {
	var ping protocol.PingPayload
	if err := protocol.DecodePayload(env.Packet.Data, &ping); err != nil {
		return
	}
	pong, err := protocol.NewPongPacket(ping.SentAt, time.Now().UnixMilli())
	if err != nil {
		return
	}
	m.SendPacket(env.PeerID, pong)
}

func (m *Manager) handlePong(env protocol.Envelope) {
	var pong protocol.PongPayload
	if err := protocol.DecodePayload(env.Packet.Data, &pong); err != nil {
		return
	}
	rtt := time.Duration(time.Now().UnixNano() - pong.SentAt)
	if rtt <= 0 {
		rtt = time.Nanosecond
	}
	m.mu.Lock()
	if pc, ok := m.conns[env.PeerID]; ok {
		pc.Ping = rtt
	}
	m.mu.Unlock()
	m.stats.RecordLatency(rtt)
}

func (m *Manager) handleDisconnect(env protocol.Envelope) {
	var d protocol.DisconnectPayload
	reason := "disconnected by peer"
	if err := protocol.DecodePayload(env.Packet.Data, &d); err == nil && d.Reason != "" {
		reason = d.Reason
	}
	m.removePeer(env.PeerID, reason)
}

// Update purges dead connections: peers marked by a transport error, and
// peers silent beyond the configured timeout. Call it from the network tick.
func (m *Manager) Update(now time.Time) {
	timeout := m.cfg.Timeout()

	m.mu.Lock()
	type victim struct {
		id     uint32
		reason string
	}
	var victims []victim
	for id, pc := range m.conns {
		switch {
		case pc.State == StateError:
			victims = append(victims, victim{id, reasonOr(pc, "transport error")})
		case now.Sub(pc.LastActivity) > timeout:
			victims = append(victims, victim{id, reasonOr(pc, "timeout")})
		}
	}
	m.mu.Unlock()

	for _, v := range victims {
		m.removePeer(v.id, v.reason)
	}
}

func reasonOr(pc *PlayerConnection, fallback string) string {
	if pc.closeReason != "" {
		return pc.closeReason
	}
	return fallback
}

// SendPing emits a keep-alive probe to one peer. The answering pong updates
// the stored round-trip time. SentAt is origin-local nanoseconds; the peer
// only echoes it.
func (m *Manager) SendPing(playerID uint32) bool {
	ping, err := protocol.NewPingPacket(time.Now().UnixNano())
	if err != nil {
		return false
	}
	return m.SendPacket(playerID, ping)
}
