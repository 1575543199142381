package movement

import (
	"testing"

	"blockfall/server/internal/protocol"
)

func TestStepIsDeterministic(t *testing.T) {
	start := State{Pos: protocol.Vec3{X: 10, Y: 64, Z: -3}}
	in := Input{MoveX: 1, MoveZ: 1, Yaw: 90, DeltaMS: 50}
	a := Step(start, in)
	b := Step(start, in)
	if a != b {
		t.Fatalf("identical inputs produced different states: %+v vs %+v", a, b)
	}
}

func TestStepNormalizesDiagonal(t *testing.T) {
	start := State{}
	straight := Step(start, Input{MoveX: 1, DeltaMS: 1000})
	diagonal := Step(start, Input{MoveX: 1, MoveZ: 1, DeltaMS: 1000})
	straightDist := straight.Pos.X
	diagDist := float32(0)
	diagDist += diagonal.Pos.X * diagonal.Pos.X
	diagDist += diagonal.Pos.Z * diagonal.Pos.Z
	if diagDist > straightDist*straightDist+0.001 {
		t.Fatalf("diagonal moved farther than axial: %f vs %f", diagDist, straightDist*straightDist)
	}
}

func TestStepClampsToWorldBounds(t *testing.T) {
	start := State{Pos: protocol.Vec3{X: WorldMaxX - 0.1, Y: WorldMaxY - 0.1}}
	out := Step(start, Input{MoveX: 1, MoveY: 1, DeltaMS: 10000})
	if out.Pos.X > WorldMaxX || out.Pos.Y > WorldMaxY {
		t.Fatalf("state escaped world bounds: %+v", out.Pos)
	}
}

func TestStepZeroDeltaIsNoop(t *testing.T) {
	start := State{Pos: protocol.Vec3{X: 5}}
	if out := Step(start, Input{MoveX: 1}); out != start {
		t.Fatalf("zero-delta step changed state: %+v", out)
	}
}

func TestReplayMatchesSequentialSteps(t *testing.T) {
	inputs := []Input{
		{Sequence: 1, MoveX: 1, DeltaMS: 50},
		{Sequence: 2, MoveZ: -1, DeltaMS: 50},
		{Sequence: 3, MoveX: -1, MoveZ: 1, DeltaMS: 50},
	}
	sequential := State{Pos: protocol.Vec3{Y: 64}}
	for _, in := range inputs {
		sequential = Step(sequential, in)
	}
	replayed := Replay(State{Pos: protocol.Vec3{Y: 64}}, inputs)
	if sequential != replayed {
		t.Fatalf("replay diverged: %+v vs %+v", replayed, sequential)
	}
}

func TestDiverged(t *testing.T) {
	a := State{Pos: protocol.Vec3{X: 1}}
	b := State{Pos: protocol.Vec3{X: 1.05}}
	if Diverged(a, b, 0.1) {
		t.Fatal("states within tolerance reported as diverged")
	}
	if !Diverged(a, b, 0.01) {
		t.Fatal("states beyond tolerance not reported")
	}
}
