package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Type identifies the kind of payload a packet carries. Values at or above
// TypeCustomBase are reserved for game-specific extensions and are forwarded
// untouched by the dispatch layer.
type Type uint16

const (
	TypeInvalid Type = iota
	TypeHandshake
	TypeHandshakeAck
	TypeLogin
	TypeLogout
	TypePing
	TypePong
	TypePlayerPosition
	TypePlayerRotation
	TypePlayerInput
	TypePlayerAnimation
	TypePlayerDamage
	TypePlayerDeath
	TypeChunkData
	TypeBlockUpdate
	TypeEntitySpawn
	TypeEntityUpdate
	TypeEntityDespawn
	TypeWorldTime
	TypeChat
	TypeSnapshot
	TypeSnapshotAck
	TypeDisconnect

	TypeCustomBase Type = 1000
)

var typeNames = map[Type]string{
	TypeHandshake:       "handshake",
	TypeHandshakeAck:    "handshake_ack",
	TypeLogin:           "login",
	TypeLogout:          "logout",
	TypePing:            "ping",
	TypePong:            "pong",
	TypePlayerPosition:  "player_position",
	TypePlayerRotation:  "player_rotation",
	TypePlayerInput:     "player_input",
	TypePlayerAnimation: "player_animation",
	TypePlayerDamage:    "player_damage",
	TypePlayerDeath:     "player_death",
	TypeChunkData:       "chunk_data",
	TypeBlockUpdate:     "block_update",
	TypeEntitySpawn:     "entity_spawn",
	TypeEntityUpdate:    "entity_update",
	TypeEntityDespawn:   "entity_despawn",
	TypeWorldTime:       "world_time",
	TypeChat:            "chat",
	TypeSnapshot:        "snapshot",
	TypeSnapshotAck:     "snapshot_ack",
	TypeDisconnect:      "disconnect",
}

// String returns the wire name for the packet type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	if t >= TypeCustomBase {
		return fmt.Sprintf("custom_%d", uint16(t))
	}
	return fmt.Sprintf("type_%d", uint16(t))
}

// headerSize is the fixed prefix before the payload bytes:
// id:u32 type:u16 timestamp:u64 sender:u32 seq:u32 reliable:u8 len:u32.
const headerSize = 4 + 2 + 8 + 4 + 4 + 1 + 4

// MaxPayloadSize bounds a single packet payload. Chunk data is split by the
// producer before it reaches this layer.
const MaxPayloadSize = 1 << 20

var (
	ErrShortPacket    = errors.New("protocol: packet shorter than header")
	ErrPayloadLength  = errors.New("protocol: payload length mismatch")
	ErrPayloadTooMuch = errors.New("protocol: payload exceeds maximum size")
)

// Packet is the unit of wire data exchanged between peers. ID and Sequence
// are stamped by the sending manager when the packet is enqueued; a packet is
// consumed exactly once at the receiver and then discarded.
type Packet struct {
	ID        uint32
	Type      Type
	Timestamp int64 // milliseconds since epoch, sender clock
	SenderID  uint32
	Sequence  uint32
	Reliable  bool
	Data      []byte
}

// Envelope pairs a packet with the peer it is bound for or arrived from.
type Envelope struct {
	PeerID uint32
	Packet Packet
}

// New constructs a packet of the given type with the sender clock already
// applied. ID, SenderID, and Sequence stay zero until enqueue.
func New(t Type, data []byte, reliable bool) Packet {
	return Packet{
		Type:      t,
		Timestamp: time.Now().UnixMilli(),
		Reliable:  reliable,
		Data:      data,
	}
}

// WireSize reports the encoded size of the packet in bytes.
func (p Packet) WireSize() int {
	return headerSize + len(p.Data)
}

// Marshal encodes the packet header and payload into a fresh buffer.
func (p Packet) Marshal() ([]byte, error) {
	if len(p.Data) > MaxPayloadSize {
		return nil, ErrPayloadTooMuch
	}
	buf := make([]byte, headerSize+len(p.Data))
	binary.LittleEndian.PutUint32(buf[0:], p.ID)
	binary.LittleEndian.PutUint16(buf[4:], uint16(p.Type))
	binary.LittleEndian.PutUint64(buf[6:], uint64(p.Timestamp))
	binary.LittleEndian.PutUint32(buf[14:], p.SenderID)
	binary.LittleEndian.PutUint32(buf[18:], p.Sequence)
	if p.Reliable {
		buf[22] = 1
	}
	binary.LittleEndian.PutUint32(buf[23:], uint32(len(p.Data)))
	copy(buf[headerSize:], p.Data)
	return buf, nil
}

// Unmarshal decodes a packet from wire bytes. The payload is copied so the
// caller may reuse the input buffer.
func Unmarshal(buf []byte) (Packet, error) {
	if len(buf) < headerSize {
		return Packet{}, ErrShortPacket
	}
	length := binary.LittleEndian.Uint32(buf[23:])
	if length > MaxPayloadSize {
		return Packet{}, ErrPayloadTooMuch
	}
	if len(buf) != headerSize+int(length) {
		return Packet{}, ErrPayloadLength
	}
	p := Packet{
		ID:        binary.LittleEndian.Uint32(buf[0:]),
		Type:      Type(binary.LittleEndian.Uint16(buf[4:])),
		Timestamp: int64(binary.LittleEndian.Uint64(buf[6:])),
		SenderID:  binary.LittleEndian.Uint32(buf[14:]),
		Sequence:  binary.LittleEndian.Uint32(buf[18:]),
		Reliable:  buf[22] == 1,
	}
	if length > 0 {
		p.Data = make([]byte, length)
		copy(p.Data, buf[headerSize:])
	}
	return p, nil
}
