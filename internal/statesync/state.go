// Package statesync builds, serializes, and applies world-state snapshots,
// and reconciles client-side prediction against authoritative server state.
package statesync

import (
	"blockfall/server/internal/movement"
	"blockfall/server/internal/protocol"
)

// PlayerState is the per-player slice of a snapshot. InputSeq is the last
// input sequence the server consumed for this player; the client uses it to
// prune its prediction history.
type PlayerState struct {
	ID         uint32        `msgpack:"id"`
	Name       string        `msgpack:"name,omitempty"`
	Pos        protocol.Vec3 `msgpack:"pos"`
	Rot        protocol.Vec3 `msgpack:"rot"`
	Vel        protocol.Vec3 `msgpack:"vel"`
	Health     float32       `msgpack:"health"`
	InputSeq   uint32        `msgpack:"inputSeq"`
	InputState []byte        `msgpack:"inputState,omitempty"`
	LastUpdate int64         `msgpack:"lastUpdate"`
}

// EntityState is the per-entity slice of a snapshot.
type EntityState struct {
	ID         uint32        `msgpack:"id"`
	Type       uint16        `msgpack:"type"`
	Pos        protocol.Vec3 `msgpack:"pos"`
	Vel        protocol.Vec3 `msgpack:"vel"`
	LastUpdate int64         `msgpack:"lastUpdate"`
}

// Snapshot is a sequence-numbered serialization of world, player, and entity
// state. Immutable once encoded; superseded by the next snapshot.
type Snapshot struct {
	Sequence  uint64                 `msgpack:"seq"`
	Tick      uint64                 `msgpack:"tick"`
	Timestamp int64                  `msgpack:"ts"`
	WorldData []byte                 `msgpack:"world,omitempty"`
	Players   map[uint32]PlayerState `msgpack:"players,omitempty"`
	Entities  map[uint32]EntityState `msgpack:"entities,omitempty"`
}

// MovementState projects the fields the shared movement rules operate on.
func (p PlayerState) MovementState() movement.State {
	return movement.State{
		Pos:   p.Pos,
		Vel:   p.Vel,
		Yaw:   p.Rot.Y,
		Pitch: p.Rot.X,
	}
}

// ApplyMovement writes a movement step result back into the player state.
func (p *PlayerState) ApplyMovement(state movement.State, now int64) {
	p.Pos = state.Pos
	p.Vel = state.Vel
	p.Rot.Y = state.Yaw
	p.Rot.X = state.Pitch
	p.LastUpdate = now
}
