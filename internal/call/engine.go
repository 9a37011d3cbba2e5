// Package call owns the canonical call state machine. All inputs (user
// intents, signaling events, peer session callbacks, media gate reports,
// timer fires) arrive as one typed event union through Dispatch, and the
// engine is the single writer of session state. Collaborators are reached
// through narrow interfaces and must not block inside their callbacks.
package call

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/whisperline/whisperline/internal/mic"
)

// Signaler is the outbound half of the signaling channel. Emissions are
// fire-and-forget: implementations never block and never fail into the
// engine.
type Signaler interface {
	FindNewPair()
	StopFindingPair()
	CallReady(peerID, roomID string)
	CallConnected(roomID string)
	CallEnded(roomID, reason string)
	MicPermissionResult(status string)
}

// PeerManager drives the peer-to-peer transport for the current session.
type PeerManager interface {
	// Create instantiates the single peer connection for a session. A second
	// call while one exists is a no-op.
	Create(info PeerInfo) error
	// SetRemoteID supplies the partner's transport id; the manager dials
	// once both ids are known and the local id wins the tie-break.
	SetRemoteID(id string)
	// Destroy is idempotent and must not call back into the engine
	// synchronously.
	Destroy()
}

// MicGate acquires the microphone. Request may await a long prompt and is
// always called off the engine goroutine.
type MicGate interface {
	Request(ctx context.Context) error
}

// Monitor runs quality sampling and heartbeats while a call is connected.
// Stop must be synchronous and idempotent.
type Monitor interface {
	Start(roomID string)
	Stop()
}

type Config struct {
	SafetyTimeout   time.Duration
	FindNewCooldown time.Duration
	MaxDialRetries  int
}

func (c Config) withDefaults() Config {
	if c.SafetyTimeout <= 0 {
		c.SafetyTimeout = 15 * time.Second
	}
	if c.FindNewCooldown <= 0 {
		c.FindNewCooldown = 500 * time.Millisecond
	}
	if c.MaxDialRetries <= 0 {
		c.MaxDialRetries = 1
	}
	return c
}

type Engine struct {
	cfg        Config
	sig        Signaler
	peers      PeerManager
	gate       MicGate
	monitor    Monitor
	onSnapshot func(Snapshot)

	mu       sync.Mutex
	seq      uint64
	state    State
	micState MicState
	session  *Session
	peerIDs  PeerIdentity
	metrics  QueueMetrics
	quality  QualitySample
	speaking bool
	info     string
	lastErr  *CallError

	cleanup     bool
	waitGen     int
	durGen      int
	safety      *time.Timer
	lastFindNew time.Time
	dialRetries int

	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	pubMu  sync.Mutex
	pubSeq uint64
}

func NewEngine(cfg Config, sig Signaler, peers PeerManager, gate MicGate, monitor Monitor, onSnapshot func(Snapshot)) *Engine {
	return &Engine{
		cfg:        cfg.withDefaults(),
		sig:        sig,
		peers:      peers,
		gate:       gate,
		monitor:    monitor,
		onSnapshot: onSnapshot,
		state:      StateIdle,
		micState:   MicUnknown,
	}
}

// Start arms the engine. Timers and in-flight acquisitions are bound to the
// engine's own context so Dispose can cancel them all.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.started = true
}

// Dispose force-hangs any live session and stops every timer. Safe to call
// more than once.
func (e *Engine) Dispose() {
	e.Dispatch(HangupRequest{Reason: "navigation"})
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.started = false
	e.mu.Unlock()
}

// Snapshot returns the current published state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Dispatch runs one event through the reducer. Events are processed in
// arrival order; events that have no edge from the current state are
// swallowed after logging.
func (e *Engine) Dispatch(ev Event) {
	e.mu.Lock()
	e.handleLocked(ev)
	e.seq++
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(snap)
}

// publish hands a snapshot to the observer. Delivery is serialized outside
// the engine lock and ordered by Seq, so a slow observer cannot stall the
// reducer and two concurrent dispatches cannot leave the older snapshot as
// the last one delivered.
func (e *Engine) publish(snap Snapshot) {
	if e.onSnapshot == nil {
		return
	}
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	if snap.Seq < e.pubSeq {
		return
	}
	e.pubSeq = snap.Seq
	e.onSnapshot(snap)
}

func (e *Engine) handleLocked(ev Event) {
	switch ev := ev.(type) {
	case StartRequest:
		e.startLocked()
	case HangupRequest:
		e.hangupLocked(ev.Reason)
	case FindNewRequest:
		e.findNewLocked()
	case MicGranted:
		e.micState = MicGrantedState
		e.sig.MicPermissionResult("granted")
		if e.state == StatePreparingMic {
			e.enterWaitingLocked()
		}
	case MicDenied:
		e.micState = MicDeniedState
		e.sig.MicPermissionResult("denied")
		if e.state == StatePreparingMic {
			e.state = StateIdle
			e.lastErr = &CallError{Kind: micErrorKind(ev.Err), Reason: mic.Reason(ev.Err)}
		}
	case MicLost:
		e.micState = MicPrompt
		if e.state.live() {
			e.teardownLocked("track-lost", true, StateEnded)
			e.lastErr = &CallError{Kind: ErrKindTrackLost, Reason: "The microphone stopped working, so the call was ended."}
		}
	case QueueJoined:
		if e.state != StateWaiting {
			logIgnored(ev, e.state)
			return
		}
		e.disarmSafetyLocked()
		e.metrics = QueueMetrics{Position: ev.Position, QueueSize: ev.QueueSize}
	case QueueStatus:
		if e.state != StateWaiting {
			logIgnored(ev, e.state)
			return
		}
		e.metrics = ev.Metrics
	case NoUsersAvailable:
		if e.state == StateWaiting {
			e.info = ev.Suggestion
		}
	case QueueTimedOut:
		if e.state != StateWaiting {
			logIgnored(ev, e.state)
			return
		}
		e.disarmSafetyLocked()
		e.metrics = QueueMetrics{}
		e.state = StateIdle
		e.dialRetries = 0
		e.lastErr = &CallError{Kind: ErrKindQueueTimeout, Reason: ev.Message}
		e.info = ev.Suggestion
	case PairingSucceeded:
		e.pairingLocked(ev)
	case RemoteReady:
		if !e.state.live() {
			logIgnored(ev, e.state)
			return
		}
		e.peerIDs.Remote = ev.PeerID
		e.peers.SetRemoteID(ev.PeerID)
	case RemoteStreamAttached:
		if e.state != StateDialing && e.state != StateConnecting {
			logIgnored(ev, e.state)
			return
		}
		e.connectedLocked()
	case DialTimedOut:
		e.dialFailedLocked(ErrKindDialTimeout, "The call could not be connected in time.")
	case PeerFailed:
		if errors.Is(ev.Err, ErrNoLocalStream) {
			e.dialFailedLocked(ErrKindNoLocalStream, "No microphone stream was available for the call.")
			return
		}
		e.dialFailedLocked(ErrKindPeerTransport, "The audio connection failed.")
	case PeerClosed:
		if !e.state.live() {
			// Late close callbacks after teardown are expected; swallow.
			return
		}
		e.teardownLocked(ev.Reason, false, StateEnded)
	case CallEnded:
		if !e.state.live() {
			logIgnored(ev, e.state)
			return
		}
		e.teardownLocked(ev.Reason, false, StateEnded)
	case PairDisconnected:
		if !e.state.live() {
			logIgnored(ev, e.state)
			return
		}
		e.teardownLocked("pair-disconnected", false, StateEnded)
	case FiltersUpdated:
		e.info = "Match filters updated."
	case FiltersUpdateFailed:
		e.info = ev.Message
	case FilterLevelChanged:
		if e.state == StateWaiting {
			e.metrics.FilterLevel = ev.Level
			e.metrics.FilterDescription = ev.Description
		}
	case MicStatusAcked:
		log.Printf("call: mic status acked status=%s", ev.Status)
	case SignalingLost:
		e.signalingLostLocked()
	case QualityUpdated:
		if e.state == StateConnected {
			e.quality = ev.Sample
		}
	case SpeakingChanged:
		e.speaking = ev.Active
	case safetyTimeoutFired:
		if ev.gen != e.waitGen || e.state != StateWaiting {
			return
		}
		e.sig.StopFindingPair()
		e.metrics = QueueMetrics{}
		e.state = StateIdle
		e.lastErr = &CallError{Kind: ErrKindQueueTimeout, Reason: "The server did not acknowledge the queue join. Try again."}
	case durationTicked:
		if ev.gen != e.durGen || e.state != StateConnected || e.session == nil {
			return
		}
		e.session.DurationSeconds = int(time.Since(e.session.StartedAt).Seconds())
	default:
		log.Printf("call: unhandled event %T", ev)
	}
}

func (e *Engine) startLocked() {
	if e.state != StateIdle && e.state != StateEnded {
		logIgnored(StartRequest{}, e.state)
		return
	}
	e.lastErr = nil
	e.info = ""
	e.dialRetries = 0
	if e.micState == MicGrantedState {
		e.enterWaitingLocked()
		return
	}
	e.state = StatePreparingMic
	go e.requestMic()
}

func (e *Engine) requestMic() {
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.gate.Request(ctx); err != nil {
		e.Dispatch(MicDenied{Err: err})
		return
	}
	e.Dispatch(MicGranted{})
}

func (e *Engine) enterWaitingLocked() {
	e.session = nil
	e.peerIDs = PeerIdentity{}
	e.quality = QualitySample{}
	e.metrics = QueueMetrics{}
	e.lastErr = nil
	e.state = StateWaiting
	e.sig.FindNewPair()
	e.armSafetyLocked()
}

func (e *Engine) pairingLocked(ev PairingSucceeded) {
	if e.state != StateWaiting {
		logIgnored(ev, e.state)
		return
	}
	e.disarmSafetyLocked()
	e.session = &Session{
		RoomID:       ev.RoomID,
		Partner:      ev.Partner,
		MatchQuality: ev.MatchQuality,
	}
	e.peerIDs = PeerIdentity{Local: ev.Peer.Token}
	e.state = StateDialing
	if err := e.peers.Create(ev.Peer); err != nil {
		log.Printf("call: peer create failed: %v", err)
		e.dialFailedLocked(ErrKindPeerTransport, "The audio connection could not be set up.")
		return
	}
	e.sig.CallReady(ev.Peer.Token, ev.RoomID)
}

func (e *Engine) connectedLocked() {
	e.state = StateConnected
	e.dialRetries = 0
	e.lastErr = nil
	if e.session != nil {
		e.session.StartedAt = time.Now()
		e.session.DurationSeconds = 0
		e.sig.CallConnected(e.session.RoomID)
		e.monitor.Start(e.session.RoomID)
	}
	e.startDurationLocked()
}

// dialFailedLocked handles a dial that did not produce a call: tear down the
// attempt and auto re-queue once rather than leave the UI stuck in DIALING.
// A transient transport failure mid-call takes the same path.
func (e *Engine) dialFailedLocked(kind ErrorKind, reason string) {
	if !e.state.live() {
		return
	}
	e.teardownLocked(string(kind), true, StateEnded)
	if e.dialRetries < e.cfg.MaxDialRetries {
		e.dialRetries++
		e.enterWaitingLocked()
		return
	}
	e.dialRetries = 0
	e.state = StateIdle
	e.lastErr = &CallError{Kind: kind, Reason: reason}
}

func (e *Engine) hangupLocked(reason string) {
	switch {
	case e.state.live():
		e.teardownLocked(reason, true, StateEnded)
	case e.state == StateWaiting:
		e.disarmSafetyLocked()
		e.sig.StopFindingPair()
		e.metrics = QueueMetrics{}
		e.state = StateEnded
	case e.state == StatePreparingMic:
		e.state = StateIdle
	default:
		// Hanging up an idle or already-ended session is a no-op.
	}
}

func (e *Engine) findNewLocked() {
	now := time.Now()
	if now.Sub(e.lastFindNew) < e.cfg.FindNewCooldown {
		return
	}
	e.lastFindNew = now

	switch {
	case e.state == StateConnected || e.state == StateConnecting || e.state == StateDialing:
		// Never a silent partner swap: hang up first, then re-queue.
		e.teardownLocked("find-new", true, StateEnded)
		e.enterWaitingLocked()
	case e.state == StateIdle || e.state == StateEnded:
		e.startLocked()
	default:
		// Already waiting or still preparing the mic.
	}
}

func (e *Engine) signalingLostLocked() {
	if e.cleanup {
		return
	}
	e.cleanup = true
	e.monitor.Stop()
	e.stopDurationLocked()
	e.disarmSafetyLocked()
	e.peers.Destroy()
	e.session = nil
	e.peerIDs = PeerIdentity{}
	e.metrics = QueueMetrics{}
	e.quality = QualitySample{}
	e.state = StateIdle
	e.lastErr = &CallError{Kind: ErrKindSignalingUnavailable, Reason: "Connection to the server was lost."}
	e.cleanup = false
}

// teardownLocked is the single exit path out of the live states. Ordering is
// load-bearing: peer teardown, then the signaling emission, then the state
// flip, so a dangling peer object can never survive a state change.
func (e *Engine) teardownLocked(reason string, emitEnd bool, next State) {
	if e.cleanup {
		return
	}
	e.cleanup = true
	roomID := ""
	if e.session != nil {
		roomID = e.session.RoomID
	}
	wasLive := e.state.live()

	e.monitor.Stop()
	e.stopDurationLocked()
	e.disarmSafetyLocked()
	e.peers.Destroy()
	if wasLive && emitEnd {
		e.sig.CallEnded(roomID, reason)
	}

	e.session = nil
	e.peerIDs = PeerIdentity{}
	e.metrics = QueueMetrics{}
	e.quality = QualitySample{}
	e.speaking = false
	e.state = next
	e.cleanup = false
}

func (e *Engine) armSafetyLocked() {
	e.disarmSafetyLocked()
	gen := e.waitGen
	e.safety = time.AfterFunc(e.cfg.SafetyTimeout, func() {
		e.Dispatch(safetyTimeoutFired{gen: gen})
	})
}

func (e *Engine) disarmSafetyLocked() {
	e.waitGen++
	if e.safety != nil {
		e.safety.Stop()
		e.safety = nil
	}
}

func (e *Engine) startDurationLocked() {
	e.durGen++
	gen := e.durGen
	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.mu.Lock()
				stale := gen != e.durGen
				e.mu.Unlock()
				if stale {
					return
				}
				e.Dispatch(durationTicked{gen: gen})
			}
		}
	}()
}

func (e *Engine) stopDurationLocked() {
	e.durGen++
}

func micErrorKind(err error) ErrorKind {
	switch {
	case errors.Is(err, mic.ErrPermissionDenied):
		return ErrKindPermissionDenied
	case errors.Is(err, mic.ErrUnsupported):
		return ErrKindUnsupported
	default:
		return ErrKindDeviceUnavailable
	}
}

func logIgnored(ev Event, s State) {
	log.Printf("call: ignoring %T in state %s", ev, s)
}

// ErrNoLocalStream is reported by the peer layer when an incoming call
// arrives before a microphone stream exists.
var ErrNoLocalStream = errors.New("call: no local stream")
