package protocol

import (
	"bytes"
	"math"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	original := Packet{
		ID:        42,
		Type:      TypeChat,
		Timestamp: 1712345678901,
		SenderID:  7,
		Sequence:  99,
		Reliable:  true,
		Data:      []byte("hello"),
	}
	buf, err := original.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	decoded, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.ID != original.ID || decoded.Type != original.Type ||
		decoded.Timestamp != original.Timestamp || decoded.SenderID != original.SenderID ||
		decoded.Sequence != original.Sequence || decoded.Reliable != original.Reliable {
		t.Fatalf("header mismatch: %+v vs %+v", decoded, original)
	}
	if !bytes.Equal(decoded.Data, original.Data) {
		t.Fatalf("payload mismatch: %q vs %q", decoded.Data, original.Data)
	}
}

func TestPacketRoundTripEmptyPayload(t *testing.T) {
	buf, err := Packet{ID: 1, Type: TypeLogout}.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	decoded, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(decoded.Data) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(decoded.Data))
	}
}

func TestUnmarshalRejectsTruncatedHeader(t *testing.T) {
	if _, err := Unmarshal(make([]byte, headerSize-1)); err != ErrShortPacket {
		t.Fatalf("expected ErrShortPacket, got %v", err)
	}
}

func TestUnmarshalRejectsLengthMismatch(t *testing.T) {
	buf, err := Packet{Type: TypeChat, Data: []byte("abc")}.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if _, err := Unmarshal(buf[:len(buf)-1]); err != ErrPayloadLength {
		t.Fatalf("expected ErrPayloadLength, got %v", err)
	}
}

func TestVec3RoundTripExact(t *testing.T) {
	vectors := []Vec3{
		{0, 0, 0},
		{1.5, -2.25, 1024.125},
		{math.MaxFloat32, -math.MaxFloat32, math.SmallestNonzeroFloat32},
		{float32(math.Pi), float32(math.E), -0.0001},
	}
	for _, v := range vectors {
		decoded, ok := UnmarshalVec3(MarshalVec3(v))
		if !ok {
			t.Fatalf("decode failed for %+v", v)
		}
		if math.Float32bits(decoded.X) != math.Float32bits(v.X) ||
			math.Float32bits(decoded.Y) != math.Float32bits(v.Y) ||
			math.Float32bits(decoded.Z) != math.Float32bits(v.Z) {
			t.Fatalf("round trip not bit-exact: %+v vs %+v", decoded, v)
		}
	}
}

func TestUnmarshalVec3Short(t *testing.T) {
	if _, ok := UnmarshalVec3(make([]byte, Vec3Size-1)); ok {
		t.Fatal("expected short buffer to fail")
	}
}

func TestTypedPayloadRoundTrip(t *testing.T) {
	pkt, err := NewHandshakePacket("steve", "tok-1")
	if err != nil {
		t.Fatalf("build handshake: %v", err)
	}
	if !pkt.Reliable {
		t.Fatal("handshake must be reliable")
	}
	var payload HandshakePayload
	if err := DecodePayload(pkt.Data, &payload); err != nil {
		t.Fatalf("decode handshake payload: %v", err)
	}
	if payload.Name != "steve" || payload.Token != "tok-1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestTypeString(t *testing.T) {
	cases := []struct {
		t    Type
		want string
	}{
		{TypeHandshake, "handshake"},
		{TypeSnapshot, "snapshot"},
		{TypeCustomBase + 5, "custom_1005"},
		{Type(999), "type_999"},
	}
	for _, tc := range cases {
		if got := tc.t.String(); got != tc.want {
			t.Fatalf("Type(%d).String() = %q, want %q", tc.t, got, tc.want)
		}
	}
}
