package statesync

import (
	"sync"
)

// Journal keeps a rolling window of encoded snapshots keyed by sequence so
// delta encoding can diff against whichever snapshot a given peer last
// acknowledged. The server records every outgoing snapshot; the client
// records every applied one.
type Journal struct {
	mu        sync.RWMutex
	frames    []journalFrame
	maxFrames int
}

type journalFrame struct {
	sequence uint64
	raw      []byte
}

// NewJournal constructs a journal retaining up to capacity snapshots.
func NewJournal(capacity int) *Journal {
	if capacity < 1 {
		capacity = 1
	}
	return &Journal{frames: make([]journalFrame, 0, capacity), maxFrames: capacity}
}

// Record stores the encoded bytes for a sequence, evicting the oldest frame
// once the window is full. Sequences must arrive in increasing order.
func (j *Journal) Record(sequence uint64, raw []byte) {
	if j == nil || len(raw) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if n := len(j.frames); n > 0 && j.frames[n-1].sequence >= sequence {
		return
	}
	if len(j.frames) == j.maxFrames {
		copy(j.frames, j.frames[1:])
		j.frames = j.frames[:len(j.frames)-1]
	}
	j.frames = append(j.frames, journalFrame{sequence: sequence, raw: raw})
}

// Lookup returns the encoded bytes for a sequence if it is still retained.
func (j *Journal) Lookup(sequence uint64) ([]byte, bool) {
	if j == nil {
		return nil, false
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	for i := len(j.frames) - 1; i >= 0; i-- {
		if j.frames[i].sequence == sequence {
			return j.frames[i].raw, true
		}
		if j.frames[i].sequence < sequence {
			break
		}
	}
	return nil, false
}

// Window reports the retained frame count and sequence bounds.
func (j *Journal) Window() (size int, oldest, newest uint64) {
	if j == nil {
		return 0, 0, 0
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.frames) == 0 {
		return 0, 0, 0
	}
	return len(j.frames), j.frames[0].sequence, j.frames[len(j.frames)-1].sequence
}
