package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/whisperline/whisperline/internal/call"
)

// Sample reads the link-quality counters off the live connection. Returns
// false when no connection exists.
func (m *Manager) Sample() (call.QualitySample, bool) {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return call.QualitySample{}, false
	}

	var sample call.QualitySample
	var lost, received float64
	for _, s := range pc.GetStats() {
		switch s := s.(type) {
		case webrtc.RemoteInboundRTPStreamStats:
			sample.RTTMs = s.RoundTripTime * 1000
		case webrtc.InboundRTPStreamStats:
			sample.JitterMs = s.Jitter * 1000
			lost = float64(s.PacketsLost)
			received = float64(s.PacketsReceived)
		}
	}
	if lost+received > 0 {
		sample.PacketLossPct = lost / (lost + received) * 100
	}
	return sample, true
}
