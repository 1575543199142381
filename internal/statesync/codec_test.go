package statesync

import (
	"bytes"
	"testing"
)

func TestDeltaRoundTrip(t *testing.T) {
	base := []byte("the quick brown fox jumps over the lazy dog")
	target := []byte("the quick brown cat jumps over the lazy dog!")
	delta := deltaEncode(target, base)
	if len(delta) != len(target) {
		t.Fatalf("delta length %d, want %d", len(delta), len(target))
	}
	restored := deltaApply(delta, base)
	if !bytes.Equal(restored, target) {
		t.Fatalf("delta round trip mismatch: %q", restored)
	}
}

func TestDeltaShrinkingTarget(t *testing.T) {
	base := []byte("a longer baseline buffer")
	target := []byte("short")
	restored := deltaApply(deltaEncode(target, base), base)
	if !bytes.Equal(restored, target) {
		t.Fatalf("delta round trip mismatch for shrinking target: %q", restored)
	}
}

func TestDeltaMostlyZeroWhenUnchanged(t *testing.T) {
	base := bytes.Repeat([]byte{0xAB}, 256)
	target := append([]byte(nil), base...)
	target[100] ^= 0xFF
	delta := deltaEncode(target, base)
	nonzero := 0
	for _, b := range delta {
		if b != 0 {
			nonzero++
		}
	}
	if nonzero != 1 {
		t.Fatalf("expected a single changed byte in delta, got %d", nonzero)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("voxel"), 200)
	compressed := compress(payload)
	if len(compressed) >= len(payload) {
		t.Fatalf("repetitive payload did not shrink: %d >= %d", len(compressed), len(payload))
	}
	restored, err := decompress(compressed)
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}
	if !bytes.Equal(restored, payload) {
		t.Fatal("compress round trip mismatch")
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	if _, err := decompress([]byte{0xFF, 0xFE, 0xFD}); err == nil {
		t.Fatal("expected garbage input to fail")
	}
}

func TestSnapshotEncodeDecode(t *testing.T) {
	snap := Snapshot{
		Sequence:  9,
		Tick:      180,
		Timestamp: 123456,
		WorldData: []byte{1, 2, 3},
		Players: map[uint32]PlayerState{
			7: {ID: 7, Name: "steve", Health: 20, InputSeq: 41},
		},
		Entities: map[uint32]EntityState{
			100: {ID: 100, Type: 3},
		},
	}
	raw, err := encodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decodeSnapshot(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Sequence != 9 || decoded.Tick != 180 {
		t.Fatalf("header mismatch: %+v", decoded)
	}
	if p := decoded.Players[7]; p.Name != "steve" || p.InputSeq != 41 {
		t.Fatalf("player mismatch: %+v", p)
	}
	if e := decoded.Entities[100]; e.Type != 3 {
		t.Fatalf("entity mismatch: %+v", e)
	}
}
