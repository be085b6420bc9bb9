package chat

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ateska/markdown-notes-mcp/internal/infrastructure/metrics"
)

// monitorQueueSize bounds how far a slow subscriber may fall behind before
// it is dropped. Broadcast order within the queue is FIFO.
const monitorQueueSize = 256

// ErrMonitorClosed is returned by SendFunc implementations once the
// underlying transport is gone.
var ErrMonitorClosed = errors.New("monitor closed")

// SendFunc delivers one serialized event to the subscriber transport.
type SendFunc func(event any) error

// MonitorQueue adapts a transport send function into a conversation
// monitor. Each monitor owns a private FIFO queue drained by a single
// goroutine, so one stalled or failing subscriber never delays or aborts
// delivery to its peers, while per-monitor event order is preserved.
type MonitorQueue struct {
	send   SendFunc
	queue  chan any
	log    zerolog.Logger
	once   sync.Once
	closed chan struct{}
}

// NewMonitorQueue starts the drain goroutine and returns the monitor.
func NewMonitorQueue(send SendFunc, log zerolog.Logger) *MonitorQueue {
	m := &MonitorQueue{
		send:   send,
		queue:  make(chan any, monitorQueueSize),
		log:    log,
		closed: make(chan struct{}),
	}
	go m.drain()
	return m
}

// Send enqueues the event without blocking. When the queue is full the
// monitor is dropped: losing one lagging subscriber is preferable to
// stalling the conversation.
func (m *MonitorQueue) Send(event any) {
	select {
	case <-m.closed:
	case m.queue <- event:
	default:
		m.log.Warn().Msg("monitor queue overflow, dropping subscriber")
		metrics.MonitorDropsTotal.WithLabelValues("overflow").Inc()
		m.Close()
	}
}

// Close stops delivery. Safe to call multiple times and from any goroutine.
func (m *MonitorQueue) Close() {
	m.once.Do(func() {
		close(m.closed)
	})
}

// Done is closed once the monitor stopped delivering, either by Close or
// after a transport error.
func (m *MonitorQueue) Done() <-chan struct{} {
	return m.closed
}

func (m *MonitorQueue) drain() {
	for {
		select {
		case <-m.closed:
			return
		case event := <-m.queue:
			if err := m.send(event); err != nil {
				if !errors.Is(err, ErrMonitorClosed) {
					m.log.Debug().Err(err).Msg("monitor delivery failed")
					metrics.MonitorDropsTotal.WithLabelValues("error").Inc()
				}
				m.Close()
				return
			}
		}
	}
}
