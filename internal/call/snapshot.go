package call

// Snapshot is the immutable view the engine publishes after every
// transition. Observers only read it; intents come back in as events.
type Snapshot struct {
	// Seq orders snapshots; a later transition always carries a larger
	// value. Observers that cache the last snapshot drop any with a
	// smaller Seq than the cached one.
	Seq uint64

	State    State
	MicState MicState

	Session  *Session
	Peers    PeerIdentity
	Metrics  QueueMetrics
	Quality  QualitySample
	Speaking bool

	Info string
	Err  *CallError
}

// MicState mirrors the media gate's permission state for observers.
type MicState int

const (
	MicUnknown MicState = iota
	MicPrompt
	MicGrantedState
	MicDeniedState
)

func (m MicState) String() string {
	switch m {
	case MicPrompt:
		return "prompt"
	case MicGrantedState:
		return "granted"
	case MicDeniedState:
		return "denied"
	default:
		return "unknown"
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Seq:      e.seq,
		State:    e.state,
		MicState: e.micState,
		Peers:    e.peerIDs,
		Metrics:  e.metrics,
		Quality:  e.quality,
		Speaking: e.speaking,
		Info:     e.info,
		Err:      e.lastErr,
	}
	if e.session != nil {
		s := *e.session
		snap.Session = &s
	}
	return snap
}
