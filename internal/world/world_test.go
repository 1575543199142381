package world

import (
	"bytes"
	"testing"
	"time"
)

func TestTimeAdvancesAndWraps(t *testing.T) {
	w := New(Config{Seed: 1})
	if w.Time() != 0 {
		t.Fatalf("fresh world time = %d", w.Time())
	}
	w.Update(time.Second)
	if got := w.Time(); got != 20 {
		t.Fatalf("time after 1s = %d, want 20", got)
	}

	fast := New(Config{Seed: 1, TimeScale: float64(DayLength)})
	fast.Update(time.Second)
	fast.Update(time.Second)
	if got := fast.Time(); got >= DayLength {
		t.Fatalf("world time did not wrap: %d", got)
	}
}

func TestBlockPlacementAndRemoval(t *testing.T) {
	w := New(Config{})
	pos := BlockPos{X: 1, Y: 64, Z: -3}

	w.SetBlock(pos, 7)
	if got := w.Block(pos); got != 7 {
		t.Fatalf("block = %d", got)
	}
	if w.BlockCount() != 1 {
		t.Fatalf("count = %d", w.BlockCount())
	}

	w.SetBlock(pos, 0)
	if got := w.Block(pos); got != 0 {
		t.Fatalf("removed block = %d", got)
	}
	if w.BlockCount() != 0 {
		t.Fatalf("count after removal = %d", w.BlockCount())
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	w := New(Config{Seed: 42})
	w.SetBlock(BlockPos{X: 0, Y: 60, Z: 0}, 1)
	w.SetBlock(BlockPos{X: 5, Y: 61, Z: 2}, 3)
	w.Update(time.Second)

	data, err := w.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	mirror := New(Config{})
	if err := mirror.Load(data); err != nil {
		t.Fatalf("load: %v", err)
	}
	if mirror.Block(BlockPos{X: 5, Y: 61, Z: 2}) != 3 {
		t.Fatal("block lost in round trip")
	}
	if mirror.Time() != w.Time() {
		t.Fatalf("time %d vs %d", mirror.Time(), w.Time())
	}
}

func TestSerializeIsStableAndCached(t *testing.T) {
	w := New(Config{Seed: 9})
	for i := int32(0); i < 16; i++ {
		w.SetBlock(BlockPos{X: i, Y: 60, Z: -i}, uint16(i+1))
	}

	first, err := w.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	second, err := w.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("repeated serialization differs without mutation")
	}

	w.SetBlock(BlockPos{X: 99, Y: 1, Z: 0}, 5)
	third, err := w.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if bytes.Equal(first, third) {
		t.Fatal("mutation did not change the encoding")
	}
}
