package call

import "time"

// Partner is what the server reveals about the matched stranger.
type Partner struct {
	ID       string
	Gender   string
	Verified bool
	Initials string
}

// Session identifies one pairing attempt or live call. Created on pairing
// success, destroyed on every teardown path.
type Session struct {
	RoomID          string
	Partner         Partner
	MatchQuality    float64
	StartedAt       time.Time
	DurationSeconds int
}

// PeerIdentity pairs the local and remote transport ids. It exists only
// while a peer session is being established or active.
type PeerIdentity struct {
	Local  string
	Remote string
}

// QueueMetrics is advisory server state, replaced wholesale on each update
// so stale fields never survive a partial merge.
type QueueMetrics struct {
	Position          int
	QueueSize         int
	WaitTimeMs        int64
	EstimatedWaitMs   int64
	FilterLevel       int
	FilterDescription string
}

// QualitySample is the last link-quality measurement; last value wins.
type QualitySample struct {
	RTTMs          float64
	JitterMs       float64
	PacketLossPct  float64
	CompositeScore float64
}

// Preferences are the client's matching filters.
type Preferences struct {
	Gender  string
	College string
}

// ICEServer mirrors the STUN/TURN descriptor from pairingSuccess without
// binding the engine to a transport library.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// PeerInfo is the transport bootstrap handed out on pairing success: the
// local identity token plus the ICE configuration to dial with.
type PeerInfo struct {
	Token      string
	ICEServers []ICEServer
	Server     string
}
