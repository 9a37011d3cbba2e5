// Package peer owns the peer-to-peer audio transport for the current call:
// one pion PeerConnection at a time, role tie-break, offer/answer/ICE relay
// through the signaling channel, and stall detection on the dial.
package peer

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/whisperline/whisperline/internal/call"
)

const DefaultStallTimeout = 10 * time.Second

// SignalSender relays session descriptions and ICE candidates to the remote
// side. Implementations are fire-and-forget and non-blocking.
type SignalSender interface {
	PeerOffer(sdp string)
	PeerAnswer(sdp string)
	PeerCandidate(candidate string)
}

// Callbacks surface transport lifecycle to the owner. They are invoked from
// pion or timer goroutines; owners must not call back into the manager
// synchronously from OnClosed.
type Callbacks struct {
	OnRemoteTrack func(track *webrtc.TrackRemote)
	OnClosed      func(reason string)
	OnError       func(err error)
	OnDialTimeout func()
}

type Manager struct {
	api          *webrtc.API
	sender       SignalSender
	cb           Callbacks
	stallTimeout time.Duration

	mu         sync.Mutex
	fallback   []call.ICEServer
	pc         *webrtc.PeerConnection
	track      *webrtc.TrackLocalStaticSample
	localID    string
	remoteID   string
	localReady bool
	dialed     bool
	gotRemote  bool
	pending    []string
	remoteSet  bool
	stall      *time.Timer
	gen        int
}

func NewManager(sender SignalSender, cb Callbacks, stallTimeout time.Duration) (*Manager, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	if stallTimeout <= 0 {
		stallTimeout = DefaultStallTimeout
	}
	return &Manager{
		api:          webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		sender:       sender,
		cb:           cb,
		stallTimeout: stallTimeout,
	}, nil
}

// SetFallbackICE supplies locally configured STUN/TURN servers, used when a
// pairing arrives without any.
func (m *Manager) SetFallbackICE(servers []call.ICEServer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = servers
}

// SetLocalReady records whether a live microphone stream exists. Incoming
// offers are refused without one.
func (m *Manager) SetLocalReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localReady = ready
}

// Create instantiates the peer connection for a session, bound to the given
// identity token. At most one connection exists per session: a second call
// while one is live is a no-op, never a replacement.
func (m *Manager) Create(info call.PeerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pc != nil {
		log.Printf("peer: create ignored, connection already exists")
		return nil
	}
	if info.Token == "" {
		return fmt.Errorf("peer token is required")
	}

	ice := info.ICEServers
	if len(ice) == 0 {
		ice = m.fallback
	}
	pc, err := m.api.NewPeerConnection(pionConfig(ice))
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "whisperline")
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("new audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return fmt.Errorf("add audio track: %w", err)
	}

	m.gen++
	gen := m.gen
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.sender.PeerCandidate(c.ToJSON().Candidate)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("peer: connection state=%s", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed:
			if m.cb.OnError != nil {
				m.cb.OnError(fmt.Errorf("peer connection failed"))
			}
		case webrtc.PeerConnectionStateClosed:
			if m.cb.OnClosed != nil && m.isCurrent(gen) {
				m.cb.OnClosed("transport-closed")
			}
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		m.remoteArrived(gen)
		if m.cb.OnRemoteTrack != nil {
			m.cb.OnRemoteTrack(track)
		}
	})

	m.pc = pc
	m.track = track
	m.localID = info.Token
	m.remoteID = ""
	m.dialed = false
	m.gotRemote = false
	m.remoteSet = false
	m.pending = nil
	m.armStallLocked(gen)
	return nil
}

// SetRemoteID supplies the partner's transport id. No action is taken until
// both ids are known; then the side whose id sorts strictly greater dials
// and the other waits for the incoming offer.
func (m *Manager) SetRemoteID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pc == nil {
		return
	}
	m.remoteID = id
	m.maybeDialLocked()
}

// ShouldDial is the tie-break: dial only when the local id sorts strictly
// greater than the remote id. Equal ids never dial, so both sides waiting is
// the defined outcome there.
func ShouldDial(localID, remoteID string) bool {
	return localID != "" && remoteID != "" && localID > remoteID
}

func (m *Manager) maybeDialLocked() {
	if m.dialed || m.pc == nil || !ShouldDial(m.localID, m.remoteID) {
		return
	}
	m.dialed = true
	pc := m.pc
	go func() {
		offer, err := pc.CreateOffer(nil)
		if err != nil {
			m.fail(fmt.Errorf("create offer: %w", err))
			return
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			m.fail(fmt.Errorf("set local offer: %w", err))
			return
		}
		m.sender.PeerOffer(offer.SDP)
	}()
}

// HandleOffer answers an incoming dial using the held microphone stream.
func (m *Manager) HandleOffer(sdp string) error {
	m.mu.Lock()
	pc := m.pc
	ready := m.localReady
	m.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("no peer connection")
	}
	if !ready {
		return call.ErrNoLocalStream
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	m.flushCandidates(pc)
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	m.sender.PeerAnswer(answer.SDP)
	return nil
}

func (m *Manager) HandleAnswer(sdp string) error {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("no peer connection")
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	m.flushCandidates(pc)
	return nil
}

// AddCandidate applies a remote ICE candidate, buffering it until a remote
// description exists.
func (m *Manager) AddCandidate(candidate string) error {
	m.mu.Lock()
	pc := m.pc
	if pc == nil {
		m.mu.Unlock()
		return fmt.Errorf("no peer connection")
	}
	if !m.remoteSet {
		m.pending = append(m.pending, candidate)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

func (m *Manager) flushCandidates(pc *webrtc.PeerConnection) {
	m.mu.Lock()
	m.remoteSet = true
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, c := range pending {
		if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: c}); err != nil {
			log.Printf("peer: buffered candidate rejected: %v", err)
		}
	}
}

// WriteSample feeds one encoded opus frame to the outbound track.
func (m *Manager) WriteSample(data []byte, duration time.Duration) error {
	m.mu.Lock()
	track := m.track
	m.mu.Unlock()
	if track == nil {
		return nil
	}
	return track.WriteSample(media.Sample{Data: data, Duration: duration})
}

// Identity returns the current transport id pair.
func (m *Manager) Identity() (localID, remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localID, m.remoteID
}

func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pc != nil
}

// Destroy tears the transport down. Idempotent; safe to call at any time.
func (m *Manager) Destroy() {
	m.mu.Lock()
	pc := m.pc
	m.pc = nil
	m.track = nil
	m.localID = ""
	m.remoteID = ""
	m.dialed = false
	m.gotRemote = false
	m.remoteSet = false
	m.pending = nil
	m.gen++
	if m.stall != nil {
		m.stall.Stop()
		m.stall = nil
	}
	m.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}
}

func (m *Manager) armStallLocked(gen int) {
	if m.stall != nil {
		m.stall.Stop()
	}
	m.stall = time.AfterFunc(m.stallTimeout, func() {
		m.mu.Lock()
		stale := gen != m.gen || m.gotRemote
		m.mu.Unlock()
		if stale {
			return
		}
		if m.cb.OnDialTimeout != nil {
			m.cb.OnDialTimeout()
		}
	})
}

func (m *Manager) remoteArrived(gen int) {
	m.mu.Lock()
	if gen == m.gen {
		m.gotRemote = true
		if m.stall != nil {
			m.stall.Stop()
			m.stall = nil
		}
	}
	m.mu.Unlock()
}

func (m *Manager) isCurrent(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) fail(err error) {
	log.Printf("peer: %v", err)
	if m.cb.OnError != nil {
		m.cb.OnError(err)
	}
}

func pionConfig(ice []call.ICEServer) webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(ice))
	for _, s := range ice {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}
