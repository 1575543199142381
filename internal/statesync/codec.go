package statesync

import (
	"errors"
	"fmt"

	"github.com/golang/snappy"
	"github.com/shamaton/msgpack/v2"
)

// Wire flags describing how a snapshot payload was encoded.
const (
	flagCompressed uint8 = 1 << iota
	flagDelta
	flagResync
)

var (
	ErrStaleSnapshot   = errors.New("statesync: snapshot sequence not newer than last applied")
	ErrMissingBaseline = errors.New("statesync: delta baseline not available")
)

// wireSnapshot is the transmission envelope around an encoded snapshot. For
// delta payloads BaseSequence names the snapshot the diff was taken against.
type wireSnapshot struct {
	Sequence     uint64 `msgpack:"seq"`
	BaseSequence uint64 `msgpack:"base,omitempty"`
	Flags        uint8  `msgpack:"flags"`
	Payload      []byte `msgpack:"payload"`
}

func encodeSnapshot(snap Snapshot) ([]byte, error) {
	return msgpack.Marshal(snap)
}

func decodeSnapshot(raw []byte) (Snapshot, error) {
	var snap Snapshot
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("statesync: decode snapshot: %w", err)
	}
	return snap, nil
}

// compress wraps the payload with snappy. Decompression failures surface as
// protocol errors at the receiver and drop the snapshot.
func compress(payload []byte) []byte {
	return snappy.Encode(nil, payload)
}

func decompress(payload []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("statesync: decompress: %w", err)
	}
	return out, nil
}

// deltaEncode XORs target bytes against a baseline. Bytes past the baseline
// length pass through unchanged, so the output always has the target length
// and trailing runs of zero compress well when little changed.
func deltaEncode(target, base []byte) []byte {
	out := make([]byte, len(target))
	for i := range target {
		if i < len(base) {
			out[i] = target[i] ^ base[i]
		} else {
			out[i] = target[i]
		}
	}
	return out
}

// deltaApply reverses deltaEncode given the same baseline bytes.
func deltaApply(delta, base []byte) []byte {
	out := make([]byte, len(delta))
	for i := range delta {
		if i < len(base) {
			out[i] = delta[i] ^ base[i]
		} else {
			out[i] = delta[i]
		}
	}
	return out
}
