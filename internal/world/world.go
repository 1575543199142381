// Package world holds the minimal authoritative simulation the sync layer
// serializes: a sparse voxel store and the world clock. Player movement is
// not here; the server replays inputs through the shared movement rules.
package world

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shamaton/msgpack/v2"
)

// DayLength is how many world-time units make one full day cycle.
const DayLength = 24000

// BlockPos addresses one voxel.
type BlockPos struct {
	X int32 `msgpack:"x"`
	Y int32 `msgpack:"y"`
	Z int32 `msgpack:"z"`
}

// BlockChange is one voxel edit, in placement order.
type BlockChange struct {
	Pos BlockPos `msgpack:"pos"`
	ID  uint16   `msgpack:"id"`
}

// Config seeds the world.
type Config struct {
	Seed      int64
	TimeScale float64
}

// World is the server's authoritative environment state. All methods are
// safe for concurrent use.
type World struct {
	mu        sync.Mutex
	seed      int64
	timeScale float64
	worldTime float64
	blocks    map[BlockPos]uint16
	dirty     bool
	encoded   []byte
}

// New creates an empty world.
func New(cfg Config) *World {
	if cfg.TimeScale <= 0 {
		cfg.TimeScale = 1
	}
	return &World{
		seed:      cfg.Seed,
		timeScale: cfg.TimeScale,
		blocks:    make(map[BlockPos]uint16),
		dirty:     true,
	}
}

// Update advances the world clock by one tick of wall time.
func (w *World) Update(dt time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	// 20 world-time units per second at scale 1, matching the tick rate.
	w.worldTime = math.Mod(w.worldTime+dt.Seconds()*20*w.timeScale, DayLength)
	w.dirty = true
}

// Time reports the current world time in day-cycle units.
func (w *World) Time() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return uint64(w.worldTime)
}

// SetBlock places or removes a voxel. ID zero means air and deletes the
// entry.
func (w *World) SetBlock(pos BlockPos, id uint16) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id == 0 {
		delete(w.blocks, pos)
	} else {
		w.blocks[pos] = id
	}
	w.dirty = true
}

// Block reads one voxel. Zero means air.
func (w *World) Block(pos BlockPos) uint16 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blocks[pos]
}

// BlockCount reports how many non-air voxels exist.
func (w *World) BlockCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.blocks)
}

type worldDoc struct {
	Seed   int64         `msgpack:"seed"`
	Time   uint64        `msgpack:"time"`
	Blocks []BlockChange `msgpack:"blocks"`
}

// Serialize encodes the world for a snapshot. The encoding is cached until
// the next mutation so a quiet world costs nothing per snapshot.
func (w *World) Serialize() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirty && w.encoded != nil {
		return w.encoded, nil
	}
	doc := worldDoc{
		Seed:   w.seed,
		Time:   uint64(w.worldTime),
		Blocks: make([]BlockChange, 0, len(w.blocks)),
	}
	for pos, id := range w.blocks {
		doc.Blocks = append(doc.Blocks, BlockChange{Pos: pos, ID: id})
	}
	// Stable order keeps successive encodings byte-similar, which is what
	// the delta stage diffs against.
	sort.Slice(doc.Blocks, func(i, j int) bool {
		a, b := doc.Blocks[i].Pos, doc.Blocks[j].Pos
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	data, err := msgpack.Marshal(doc)
	if err != nil {
		return nil, err
	}
	w.encoded = data
	w.dirty = false
	return data, nil
}

// Load replaces the world contents from a serialized document. Clients use
// it to mirror the server's world data from snapshots.
func (w *World) Load(data []byte) error {
	var doc worldDoc
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seed = doc.Seed
	w.worldTime = float64(doc.Time)
	w.blocks = make(map[BlockPos]uint16, len(doc.Blocks))
	for _, b := range doc.Blocks {
		w.blocks[b.Pos] = b.ID
	}
	w.dirty = true
	return nil
}
