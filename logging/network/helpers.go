// Package network provides typed event constructors for connection and sync
// lifecycle logging.
package network

import (
	"context"

	"blockfall/server/logging"
)

const (
	// EventPeerConnected is emitted when a peer completes its handshake.
	EventPeerConnected logging.EventType = "network.peer_connected"
	// EventPeerDisconnected is emitted when a peer leaves for any reason.
	EventPeerDisconnected logging.EventType = "network.peer_disconnected"
	// EventSnapshotResync is emitted when a peer's delta baseline was
	// evicted and the server fell back to a full snapshot.
	EventSnapshotResync logging.EventType = "sync.snapshot_resync"
)

// PeerPayload captures connection lifecycle details.
type PeerPayload struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// PeerConnected publishes a handshake completion.
func PeerConnected(ctx context.Context, pub logging.Publisher, tick uint64, playerID uint32, payload PeerPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerConnected,
		Tick:     tick,
		Actor:    logging.PlayerRef(playerID),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// PeerDisconnected publishes a departure with its reason.
func PeerDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, playerID uint32, payload PeerPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerDisconnected,
		Tick:     tick,
		Actor:    logging.PlayerRef(playerID),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// ResyncPayload records which baseline forced a full snapshot.
type ResyncPayload struct {
	Sequence     uint64 `json:"sequence"`
	BaseSequence uint64 `json:"baseSequence"`
}

// SnapshotResync publishes a baseline eviction fallback.
func SnapshotResync(ctx context.Context, pub logging.Publisher, tick uint64, playerID uint32, payload ResyncPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSnapshotResync,
		Tick:     tick,
		Actor:    logging.PlayerRef(playerID),
		Severity: logging.SeverityWarn,
		Category: logging.CategorySync,
		Payload:  payload,
	})
}
