package transport

import (
	"sync"

	"blockfall/server/internal/protocol"
	"blockfall/server/internal/queue"
	"blockfall/server/internal/telemetry"
)

// PacketReader is the read half of a connection.
type PacketReader interface {
	ReadPacket() (protocol.Packet, error)
}

// Worker pumps packets from one connection into the shared incoming queue.
// Each connection gets its own worker goroutine so a slow peer never blocks
// another peer's reads.
type Worker struct {
	peerID   uint32
	conn     PacketReader
	incoming *queue.PacketQueue
	metrics  *telemetry.NetworkMetrics
	logger   telemetry.Logger

	// onError fires once, from the worker goroutine, when the read loop
	// exits with an error.
	onError func(peerID uint32, err error)

	wg sync.WaitGroup
}

// NewWorker wires a reader to the incoming queue.
func NewWorker(peerID uint32, conn PacketReader, incoming *queue.PacketQueue, metrics *telemetry.NetworkMetrics, logger telemetry.Logger, onError func(uint32, error)) *Worker {
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	return &Worker{
		peerID:   peerID,
		conn:     conn,
		incoming: incoming,
		metrics:  metrics,
		logger:   logger,
		onError:  onError,
	}
}

// Start launches the read loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Wait blocks until the read loop has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		pkt, err := w.conn.ReadPacket()
		if err != nil {
			if w.onError != nil {
				w.onError(w.peerID, err)
			}
			return
		}
		w.metrics.RecordReceive(pkt.WireSize())
		if !w.incoming.Push(protocol.Envelope{PeerID: w.peerID, Packet: pkt}) {
			w.metrics.RecordDrop()
			w.logger.Printf("[transport] incoming queue full, dropped %s from peer %d", pkt.Type, w.peerID)
		}
	}
}
