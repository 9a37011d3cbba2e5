package signaling

import (
	"sync"

	"github.com/whisperline/whisperline/internal/call"
)

// Outbound event names, client to server.
const (
	evIdentify            = "identify"
	evFindNewPair         = "findNewPair"
	evStopFindingPair     = "stopFindingPair"
	evCallReady           = "callReady"
	evCallConnected       = "callConnected"
	evOutCallEnded        = "callEnded"
	evCallHeartbeat       = "callHeartbeat"
	evCallQuality         = "callQuality"
	evMicPermissionResult = "micPermissionResult"
	evUpdateFilters       = "updateFilters"
)

type identifyPayload struct {
	UserID           string `json:"userId"`
	PreferredGender  string `json:"preferredGender,omitempty"`
	PreferredCollege string `json:"preferredCollege,omitempty"`
	MicStatus        string `json:"micStatus"`
}

type findNewPairPayload struct {
	UserID           string `json:"userId"`
	PreferredGender  string `json:"preferredGender,omitempty"`
	PreferredCollege string `json:"preferredCollege,omitempty"`
}

type userPayload struct {
	UserID string `json:"userId"`
}

type callReadyPayload struct {
	UserID string `json:"userId"`
	PeerID string `json:"peerId"`
	RoomID string `json:"roomId"`
}

type roomPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

type callEndedOutPayload struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

type callQualityPayload struct {
	UserID     string  `json:"userId"`
	RTT        float64 `json:"rtt"`
	Jitter     float64 `json:"jitter"`
	PacketLoss float64 `json:"packetLoss"`
}

type micResultPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type updateFiltersPayload struct {
	UserID           string `json:"userId"`
	PreferredGender  string `json:"preferredGender"`
	PreferredCollege string `json:"preferredCollege"`
}

type peerRelayPayload struct {
	UserID    string `json:"userId"`
	RoomID    string `json:"roomId"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
}

// Emitter implements the engine's Signaler, the quality monitor's sender,
// and the peer manager's SignalSender over the current connection. The
// underlying client is swapped on reconnect; with no client attached every
// emit is a silent no-op.
type Emitter struct {
	userID string

	mu    sync.Mutex
	c     *Client
	prefs call.Preferences
}

func NewEmitter(userID string, prefs call.Preferences) *Emitter {
	return &Emitter{userID: userID, prefs: prefs}
}

// SetClient attaches the live connection; nil detaches.
func (e *Emitter) SetClient(c *Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.c = c
}

func (e *Emitter) client() *Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.c
}

// Prefs returns the current matching preferences.
func (e *Emitter) Prefs() call.Preferences {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prefs
}

// Identify announces presence and preferences. Idempotent on the server;
// safe to re-send after reconnects.
func (e *Emitter) Identify(micStatus string) {
	e.client().Emit(evIdentify, identifyPayload{
		UserID:           e.userID,
		PreferredGender:  e.Prefs().Gender,
		PreferredCollege: e.Prefs().College,
		MicStatus:        micStatus,
	})
}

func (e *Emitter) FindNewPair() {
	e.client().Emit(evFindNewPair, findNewPairPayload{
		UserID:           e.userID,
		PreferredGender:  e.Prefs().Gender,
		PreferredCollege: e.Prefs().College,
	})
}

func (e *Emitter) StopFindingPair() {
	e.client().Emit(evStopFindingPair, userPayload{UserID: e.userID})
}

func (e *Emitter) CallReady(peerID, roomID string) {
	c := e.client()
	c.SetRoom(roomID)
	c.Emit(evCallReady, callReadyPayload{UserID: e.userID, PeerID: peerID, RoomID: roomID})
}

func (e *Emitter) CallConnected(roomID string) {
	e.client().Emit(evCallConnected, roomPayload{UserID: e.userID, RoomID: roomID})
}

func (e *Emitter) CallEnded(roomID, reason string) {
	c := e.client()
	c.Emit(evOutCallEnded, callEndedOutPayload{UserID: e.userID, Reason: reason})
	c.SetRoom("")
}

func (e *Emitter) CallHeartbeat() {
	e.client().Emit(evCallHeartbeat, userPayload{UserID: e.userID})
}

func (e *Emitter) CallQuality(s call.QualitySample) {
	e.client().Emit(evCallQuality, callQualityPayload{
		UserID:     e.userID,
		RTT:        s.RTTMs,
		Jitter:     s.JitterMs,
		PacketLoss: s.PacketLossPct,
	})
}

func (e *Emitter) MicPermissionResult(status string) {
	e.client().Emit(evMicPermissionResult, micResultPayload{UserID: e.userID, Status: status})
}

func (e *Emitter) UpdateFilters(prefs call.Preferences) {
	e.mu.Lock()
	e.prefs = prefs
	e.mu.Unlock()
	e.client().Emit(evUpdateFilters, updateFiltersPayload{
		UserID:           e.userID,
		PreferredGender:  prefs.Gender,
		PreferredCollege: prefs.College,
	})
}

func (e *Emitter) PeerOffer(sdp string) {
	c := e.client()
	c.Emit(evPeerOffer, peerRelayPayload{UserID: e.userID, RoomID: c.room(), SDP: sdp})
}

func (e *Emitter) PeerAnswer(sdp string) {
	c := e.client()
	c.Emit(evPeerAnswer, peerRelayPayload{UserID: e.userID, RoomID: c.room(), SDP: sdp})
}

func (e *Emitter) PeerCandidate(candidate string) {
	c := e.client()
	c.Emit(evPeerCandidate, peerRelayPayload{UserID: e.userID, RoomID: c.room(), Candidate: candidate})
}
