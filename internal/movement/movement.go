// Package movement holds the pure movement rules applied to player state.
// The server steps it to validate inputs and the client steps it to predict
// ahead of acknowledgement; both sides must produce identical results for
// identical inputs, so everything here is float32 arithmetic with no I/O,
// no randomness, and no wall-clock reads.
package movement

import (
	"math"

	"blockfall/server/internal/protocol"
)

const (
	// WalkSpeed is blocks per second on the horizontal plane.
	WalkSpeed float32 = 4.3
	// VerticalSpeed is blocks per second for fly/swim movement.
	VerticalSpeed float32 = 3.0

	// World bounds mirror the authoritative world dimensions.
	WorldMinX float32 = -512
	WorldMaxX float32 = 512
	WorldMinY float32 = 0
	WorldMaxY float32 = 256
	WorldMinZ float32 = -512
	WorldMaxZ float32 = 512
)

// State is the mutable subset of player state the movement rules touch.
type State struct {
	Pos   protocol.Vec3
	Vel   protocol.Vec3
	Yaw   float32
	Pitch float32
}

// Input is one step of player intent. DeltaMS carries the step duration so
// replay on the server reproduces the client's exact timing.
type Input struct {
	Sequence uint32
	MoveX    float32
	MoveY    float32
	MoveZ    float32
	Yaw      float32
	Pitch    float32
	DeltaMS  uint32
}

// InputFromPayload converts the wire form into the simulation form.
func InputFromPayload(p protocol.PlayerInputPayload) Input {
	return Input{
		Sequence: p.Sequence,
		MoveX:    p.MoveX,
		MoveY:    p.MoveY,
		MoveZ:    p.MoveZ,
		Yaw:      p.Yaw,
		Pitch:    p.Pitch,
		DeltaMS:  p.DeltaMS,
	}
}

// Step advances state by one input. The move vector is normalized on the
// horizontal plane so diagonal movement is not faster than axial movement.
func Step(state State, in Input) State {
	dt := float32(in.DeltaMS) / 1000
	if dt <= 0 {
		return state
	}

	mx, mz := in.MoveX, in.MoveZ
	length := float32(math.Sqrt(float64(mx*mx + mz*mz)))
	if length > 1 {
		mx /= length
		mz /= length
	}
	my := clamp(in.MoveY, -1, 1)

	state.Vel = protocol.Vec3{
		X: mx * WalkSpeed,
		Y: my * VerticalSpeed,
		Z: mz * WalkSpeed,
	}
	state.Pos.X = clamp(state.Pos.X+state.Vel.X*dt, WorldMinX, WorldMaxX)
	state.Pos.Y = clamp(state.Pos.Y+state.Vel.Y*dt, WorldMinY, WorldMaxY)
	state.Pos.Z = clamp(state.Pos.Z+state.Vel.Z*dt, WorldMinZ, WorldMaxZ)
	state.Yaw = in.Yaw
	state.Pitch = in.Pitch
	return state
}

// Replay applies a run of inputs in order, returning the final state.
func Replay(state State, inputs []Input) State {
	for _, in := range inputs {
		state = Step(state, in)
	}
	return state
}

// Diverged reports whether two states differ by more than tolerance in any
// position axis.
func Diverged(a, b State, tolerance float32) bool {
	return abs(a.Pos.X-b.Pos.X) > tolerance ||
		abs(a.Pos.Y-b.Pos.Y) > tolerance ||
		abs(a.Pos.Z-b.Pos.Z) > tolerance
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
