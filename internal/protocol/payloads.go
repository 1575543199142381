package protocol

import (
	"github.com/shamaton/msgpack/v2"
)

// HandshakePayload opens a session. Token is a client-generated UUID echoed
// back in the ack so reconnect attempts can be told apart in logs.
type HandshakePayload struct {
	Name  string `msgpack:"name"`
	Token string `msgpack:"token"`
}

// HandshakeAckPayload confirms admission and carries the assigned player id.
type HandshakeAckPayload struct {
	PlayerID uint32 `msgpack:"playerId"`
	Token    string `msgpack:"token"`
	Name     string `msgpack:"name"`
	MOTD     string `msgpack:"motd,omitempty"`
}

// ChatPayload is raw UTF-8 chat text plus the resolved sender name.
type ChatPayload struct {
	From    string `msgpack:"from,omitempty"`
	Message string `msgpack:"message"`
}

// DisconnectPayload carries the human-readable reason for a kick, ban, or
// orderly shutdown.
type DisconnectPayload struct {
	Reason string `msgpack:"reason"`
}

// PingPayload and PongPayload implement the 30s keep-alive. RTT is measured
// by the side that originated the ping.
type PingPayload struct {
	SentAt int64 `msgpack:"sentAt"`
}

type PongPayload struct {
	SentAt     int64 `msgpack:"sentAt"`
	ServerTime int64 `msgpack:"serverTime"`
}

// PlayerInputPayload is the client's raw input for one prediction step. The
// server replays these against the shared movement rules; it never trusts
// client-reported positions.
type PlayerInputPayload struct {
	Sequence uint32  `msgpack:"seq"`
	MoveX    float32 `msgpack:"mx"`
	MoveY    float32 `msgpack:"my"`
	MoveZ    float32 `msgpack:"mz"`
	Yaw      float32 `msgpack:"yaw"`
	Pitch    float32 `msgpack:"pitch"`
	DeltaMS  uint32  `msgpack:"dt"`
}

// SnapshotAckPayload tells the server which snapshot sequence the client has
// applied, selecting the delta baseline for subsequent snapshots.
type SnapshotAckPayload struct {
	Sequence uint64 `msgpack:"seq"`
}

// EncodePayload serializes a typed payload for the packet data field.
func EncodePayload(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// DecodePayload deserializes packet data into the given payload struct.
func DecodePayload(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// NewHandshakePacket builds the reliable session-open packet.
func NewHandshakePacket(name, token string) (Packet, error) {
	data, err := EncodePayload(HandshakePayload{Name: name, Token: token})
	if err != nil {
		return Packet{}, err
	}
	return New(TypeHandshake, data, true), nil
}

// NewHandshakeAckPacket builds the admission confirmation.
func NewHandshakeAckPacket(playerID uint32, token, name, motd string) (Packet, error) {
	data, err := EncodePayload(HandshakeAckPayload{PlayerID: playerID, Token: token, Name: name, MOTD: motd})
	if err != nil {
		return Packet{}, err
	}
	return New(TypeHandshakeAck, data, true), nil
}

// NewChatPacket builds a reliable chat broadcast.
func NewChatPacket(from, message string) (Packet, error) {
	data, err := EncodePayload(ChatPayload{From: from, Message: message})
	if err != nil {
		return Packet{}, err
	}
	return New(TypeChat, data, true), nil
}

// NewDisconnectPacket builds the reason-bearing close notification.
func NewDisconnectPacket(reason string) (Packet, error) {
	data, err := EncodePayload(DisconnectPayload{Reason: reason})
	if err != nil {
		return Packet{}, err
	}
	return New(TypeDisconnect, data, true), nil
}

// NewPingPacket builds an unreliable keep-alive probe.
func NewPingPacket(sentAt int64) (Packet, error) {
	data, err := EncodePayload(PingPayload{SentAt: sentAt})
	if err != nil {
		return Packet{}, err
	}
	return New(TypePing, data, false), nil
}

// NewPongPacket answers a ping, echoing the origin timestamp.
func NewPongPacket(sentAt, serverTime int64) (Packet, error) {
	data, err := EncodePayload(PongPayload{SentAt: sentAt, ServerTime: serverTime})
	if err != nil {
		return Packet{}, err
	}
	return New(TypePong, data, false), nil
}

// NewPlayerPositionPacket builds an unreliable movement update. The payload
// is the bare 12-byte vector; loss is tolerated because a fresher position
// supersedes it.
func NewPlayerPositionPacket(pos Vec3) Packet {
	return New(TypePlayerPosition, MarshalVec3(pos), false)
}

// NewPlayerRotationPacket builds an unreliable look-direction update.
func NewPlayerRotationPacket(rot Vec3) Packet {
	return New(TypePlayerRotation, MarshalVec3(rot), false)
}

// NewPlayerInputPacket builds the reliable per-step input command.
func NewPlayerInputPacket(input PlayerInputPayload) (Packet, error) {
	data, err := EncodePayload(input)
	if err != nil {
		return Packet{}, err
	}
	return New(TypePlayerInput, data, true), nil
}

// NewSnapshotPacket wraps pre-encoded snapshot bytes. Snapshots are
// unreliable; a lost one is superseded by the next cadence tick.
func NewSnapshotPacket(data []byte) Packet {
	return New(TypeSnapshot, data, false)
}

// NewSnapshotAckPacket reports the latest applied snapshot sequence.
func NewSnapshotAckPacket(sequence uint64) (Packet, error) {
	data, err := EncodePayload(SnapshotAckPayload{Sequence: sequence})
	if err != nil {
		return Packet{}, err
	}
	return New(TypeSnapshotAck, data, false), nil
}

// NewLogoutPacket builds the orderly session-close notification.
func NewLogoutPacket() Packet {
	return New(TypeLogout, nil, true)
}
