package call

// State is the canonical call state. Exactly one is live at a time and only
// the Engine writes it.
type State int

const (
	StateIdle State = iota
	StatePreparingMic
	StateWaiting
	StateDialing
	StateConnecting
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparingMic:
		return "preparing_mic"
	case StateWaiting:
		return "waiting"
	case StateDialing:
		return "dialing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	default:
		return "invalid"
	}
}

// live reports whether a peer session is allowed to exist in this state.
// CallSession and PeerIdentity must be cleared on any transition out of the
// live set.
func (s State) live() bool {
	switch s {
	case StateDialing, StateConnecting, StateConnected:
		return true
	default:
		return false
	}
}
