package protocol

import (
	"encoding/binary"
	"math"
)

// Vec3 is the shared position/rotation/velocity type crossing the wire.
type Vec3 struct {
	X float32 `json:"x" msgpack:"x"`
	Y float32 `json:"y" msgpack:"y"`
	Z float32 `json:"z" msgpack:"z"`
}

// Vec3Size is the encoded length of a Vec3: three little-endian float32s.
const Vec3Size = 12

// MarshalVec3 encodes a vector bit-exactly; no compression or quantization
// happens at this layer.
func MarshalVec3(v Vec3) []byte {
	buf := make([]byte, Vec3Size)
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(v.X))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(v.Z))
	return buf
}

// UnmarshalVec3 decodes a vector produced by MarshalVec3.
func UnmarshalVec3(buf []byte) (Vec3, bool) {
	if len(buf) < Vec3Size {
		return Vec3{}, false
	}
	return Vec3{
		X: math.Float32frombits(binary.LittleEndian.Uint32(buf[0:])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(buf[4:])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(buf[8:])),
	}, true
}
