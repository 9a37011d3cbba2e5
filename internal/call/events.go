package call

// Event is the tagged union every input to the engine arrives as: user
// intents, signaling events, peer session callbacks, media gate reports, and
// internal timer fires. The reducer in Engine.Dispatch is the only consumer.
type Event interface{ isEvent() }

// User intents.

type StartRequest struct{}

type HangupRequest struct{ Reason string }

type FindNewRequest struct{}

// Media gate.

type MicGranted struct{}

type MicDenied struct{ Err error }

type MicLost struct{}

// Signaling, server to client.

type QueueStatus struct{ Metrics QueueMetrics }

type QueueJoined struct {
	Position  int
	QueueSize int
}

type NoUsersAvailable struct {
	KeepWaiting bool
	Suggestion  string
}

type QueueTimedOut struct {
	Message    string
	Suggestion string
}

type PairingSucceeded struct {
	RoomID       string
	Partner      Partner
	MatchQuality float64
	Peer         PeerInfo
}

type RemoteReady struct{ PeerID string }

type CallEnded struct{ Reason string }

type PairDisconnected struct{}

type FiltersUpdated struct{ Prefs Preferences }

type FiltersUpdateFailed struct{ Message string }

type FilterLevelChanged struct {
	Level       int
	Description string
}

type MicStatusAcked struct{ Status string }

// SignalingLost reports a dropped transport; a disconnected signaling
// channel cannot be trusted to still represent an active pairing.
type SignalingLost struct{}

// Peer session.

type RemoteStreamAttached struct{}

type PeerClosed struct{ Reason string }

type PeerFailed struct{ Err error }

type DialTimedOut struct{}

// QualityUpdated carries the monitor's latest sample into the snapshot.
type QualityUpdated struct{ Sample QualitySample }

// SpeakingChanged carries the outbound voice-activity flag.
type SpeakingChanged struct{ Active bool }

// Internal timers.

type safetyTimeoutFired struct{ gen int }

type durationTicked struct{ gen int }

func (StartRequest) isEvent()         {}
func (HangupRequest) isEvent()        {}
func (FindNewRequest) isEvent()       {}
func (MicGranted) isEvent()           {}
func (MicDenied) isEvent()            {}
func (MicLost) isEvent()              {}
func (QueueStatus) isEvent()          {}
func (QueueJoined) isEvent()          {}
func (NoUsersAvailable) isEvent()     {}
func (QueueTimedOut) isEvent()        {}
func (PairingSucceeded) isEvent()     {}
func (RemoteReady) isEvent()          {}
func (CallEnded) isEvent()            {}
func (PairDisconnected) isEvent()     {}
func (FiltersUpdated) isEvent()       {}
func (FiltersUpdateFailed) isEvent()  {}
func (FilterLevelChanged) isEvent()   {}
func (MicStatusAcked) isEvent()       {}
func (SignalingLost) isEvent()        {}
func (RemoteStreamAttached) isEvent() {}
func (PeerClosed) isEvent()           {}
func (PeerFailed) isEvent()           {}
func (DialTimedOut) isEvent()         {}
func (QualityUpdated) isEvent()       {}
func (SpeakingChanged) isEvent()      {}
func (safetyTimeoutFired) isEvent()   {}
func (durationTicked) isEvent()       {}
