// Package quality runs the periodic link-quality sampling and liveness
// heartbeats for an active call.
package quality

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/whisperline/whisperline/internal/call"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultSampleInterval    = 2 * time.Second
)

// Sampler reads raw link counters off the live transport.
type Sampler interface {
	Sample() (call.QualitySample, bool)
}

// Sender delivers heartbeats and quality reports to the server.
type Sender interface {
	CallHeartbeat()
	CallQuality(s call.QualitySample)
}

type Monitor struct {
	sampler  Sampler
	sender   Sender
	onSample func(call.QualitySample)

	heartbeatEvery time.Duration
	sampleEvery    time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewMonitor wires a sampler to a sender. onSample receives each composite
// sample for local observers; it may be nil and must not re-enter a lock
// that Stop is called under.
func NewMonitor(sampler Sampler, sender Sender, onSample func(call.QualitySample)) *Monitor {
	return &Monitor{
		sampler:        sampler,
		sender:         sender,
		onSample:       onSample,
		heartbeatEvery: DefaultHeartbeatInterval,
		sampleEvery:    DefaultSampleInterval,
	}
}

// Start begins sampling for a call. Starting an already-running monitor is a
// no-op.
func (m *Monitor) Start(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	go m.loop(ctx, roomID)
}

// Stop halts sampling. After Stop returns no further heartbeat or quality
// emissions occur. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.cancel()
	m.cancel = nil
}

func (m *Monitor) loop(ctx context.Context, roomID string) {
	heartbeat := time.NewTicker(m.heartbeatEvery)
	defer heartbeat.Stop()
	sample := time.NewTicker(m.sampleEvery)
	defer sample.Stop()

	log.Printf("quality: monitoring room=%s", roomID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			m.emit(func() { m.sender.CallHeartbeat() })
		case <-sample.C:
			s, ok := m.sampler.Sample()
			if !ok {
				continue
			}
			s.CompositeScore = Composite(s)
			m.emit(func() {
				m.sender.CallQuality(s)
				if m.onSample != nil {
					m.onSample(s)
				}
			})
		}
	}
}

// emit runs fn only while the monitor is still running, so a tick racing
// Stop cannot leak an emission past it.
func (m *Monitor) emit(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	fn()
}

// Composite folds rtt, jitter and loss into a 0..100 score. Loss dominates:
// a lossy link is unusable for voice well before latency is.
func Composite(s call.QualitySample) float64 {
	score := 100.0
	score -= s.RTTMs * 0.1
	score -= s.JitterMs * 0.5
	score -= s.PacketLossPct * 2.5
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
