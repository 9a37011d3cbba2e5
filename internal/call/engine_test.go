package call

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/whisperline/whisperline/internal/mic"
)

// recorder collects collaborator calls in arrival order so tests can assert
// teardown ordering across the signaling, peer and monitor fakes.
type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) add(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, entry)
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.log))
	copy(out, r.log)
	return out
}

func (r *recorder) count(entry string) int {
	n := 0
	for _, e := range r.entries() {
		if e == entry {
			n++
		}
	}
	return n
}

func (r *recorder) indexOf(entry string) int {
	for i, e := range r.entries() {
		if e == entry {
			return i
		}
	}
	return -1
}

type fakeSignaler struct{ rec *recorder }

func (f *fakeSignaler) FindNewPair()     { f.rec.add("findNewPair") }
func (f *fakeSignaler) StopFindingPair() { f.rec.add("stopFindingPair") }
func (f *fakeSignaler) CallReady(peerID, roomID string) {
	f.rec.add(fmt.Sprintf("callReady:%s:%s", peerID, roomID))
}
func (f *fakeSignaler) CallConnected(roomID string) { f.rec.add("callConnected:" + roomID) }
func (f *fakeSignaler) CallEnded(roomID, reason string) {
	f.rec.add(fmt.Sprintf("callEnded:%s:%s", roomID, reason))
}
func (f *fakeSignaler) MicPermissionResult(status string) { f.rec.add("micResult:" + status) }

type fakePeers struct {
	rec        *recorder
	mu         sync.Mutex
	failCreate bool
	created    int
	destroyed  int
	remoteIDs  []string
}

func (f *fakePeers) Create(info PeerInfo) error {
	f.mu.Lock()
	f.created++
	f.mu.Unlock()
	f.rec.add("peerCreate:" + info.Token)
	if f.failCreate {
		return fmt.Errorf("create failed")
	}
	return nil
}

func (f *fakePeers) SetRemoteID(id string) {
	f.mu.Lock()
	f.remoteIDs = append(f.remoteIDs, id)
	f.mu.Unlock()
	f.rec.add("peerRemote:" + id)
}

func (f *fakePeers) Destroy() {
	f.mu.Lock()
	f.destroyed++
	f.mu.Unlock()
	f.rec.add("peerDestroy")
}

type fakeGate struct{ err error }

func (g fakeGate) Request(context.Context) error { return g.err }

type fakeMonitor struct{ rec *recorder }

func (f *fakeMonitor) Start(roomID string) { f.rec.add("monitorStart:" + roomID) }
func (f *fakeMonitor) Stop()               { f.rec.add("monitorStop") }

type engineFixture struct {
	engine  *Engine
	rec     *recorder
	peers   *fakePeers
	monitor *fakeMonitor
}

func newFixture(t *testing.T, cfg Config, gateErr error) *engineFixture {
	t.Helper()
	rec := &recorder{}
	peers := &fakePeers{rec: rec}
	monitor := &fakeMonitor{rec: rec}
	engine := NewEngine(cfg, &fakeSignaler{rec: rec}, peers, fakeGate{err: gateErr}, monitor, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	engine.Start(ctx)
	return &engineFixture{engine: engine, rec: rec, peers: peers, monitor: monitor}
}

func (f *engineFixture) waitState(t *testing.T, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.engine.Snapshot().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, still %s", want, f.engine.Snapshot().State)
}

func pairing(room, token string) PairingSucceeded {
	return PairingSucceeded{
		RoomID:       room,
		Partner:      Partner{ID: "partner-1", Gender: "female", Initials: "AB"},
		MatchQuality: 0.8,
		Peer:         PeerInfo{Token: token},
	}
}

// grantMic pre-grants the gate so StartRequest queues synchronously.
func (f *engineFixture) grantMic() {
	f.engine.Dispatch(MicGranted{})
}

func TestStartRequestAcquiresMicThenQueues(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)

	if got := f.rec.count("micResult:granted"); got != 1 {
		t.Fatalf("expected one granted mic result, got %d", got)
	}
	if got := f.rec.count("findNewPair"); got != 1 {
		t.Fatalf("expected one findNewPair, got %d", got)
	}
	if snap := f.engine.Snapshot(); snap.MicState != MicGrantedState {
		t.Fatalf("expected granted mic state, got %s", snap.MicState)
	}
}

func TestStartRequestMicDenied(t *testing.T) {
	f := newFixture(t, Config{}, mic.ErrPermissionDenied)
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateIdle)

	snap := f.engine.Snapshot()
	if snap.Err == nil || snap.Err.Kind != ErrKindPermissionDenied {
		t.Fatalf("expected permission_denied error, got %v", snap.Err)
	}
	if got := f.rec.count("micResult:denied"); got != 1 {
		t.Fatalf("expected one denied mic result, got %d", got)
	}
	if got := f.rec.count("findNewPair"); got != 0 {
		t.Fatalf("denied mic must not queue, got %d findNewPair", got)
	}
}

func TestStartRequestDeviceUnavailable(t *testing.T) {
	f := newFixture(t, Config{}, mic.ErrDeviceUnavailable)
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateIdle)

	snap := f.engine.Snapshot()
	if snap.Err == nil || snap.Err.Kind != ErrKindDeviceUnavailable {
		t.Fatalf("expected device_unavailable error, got %v", snap.Err)
	}
}

func TestPairingCreatesPeerAndSignalsReady(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)

	f.engine.Dispatch(pairing("room-1", "token-a"))
	snap := f.engine.Snapshot()
	if snap.State != StateDialing {
		t.Fatalf("expected dialing, got %s", snap.State)
	}
	if snap.Session == nil || snap.Session.RoomID != "room-1" {
		t.Fatalf("expected session for room-1, got %+v", snap.Session)
	}
	if snap.Peers.Local != "token-a" {
		t.Fatalf("expected local token recorded, got %q", snap.Peers.Local)
	}
	if f.rec.count("peerCreate:token-a") != 1 {
		t.Fatalf("expected one peer create")
	}
	if f.rec.count("callReady:token-a:room-1") != 1 {
		t.Fatalf("expected callReady emission")
	}
	if f.rec.indexOf("peerCreate:token-a") > f.rec.indexOf("callReady:token-a:room-1") {
		t.Fatalf("peer must exist before callReady: %v", f.rec.entries())
	}
}

func TestPairingIgnoredOutsideWaiting(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.engine.Dispatch(pairing("room-1", "token-a"))
	if snap := f.engine.Snapshot(); snap.State != StateIdle || snap.Session != nil {
		t.Fatalf("pairing outside waiting must be ignored, got %s", snap.State)
	}
	if f.peers.created != 0 {
		t.Fatalf("no peer should be created")
	}
}

func TestRemoteReadyForwardsPartnerID(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)
	f.engine.Dispatch(pairing("room-1", "token-a"))

	f.engine.Dispatch(RemoteReady{PeerID: "token-b"})
	snap := f.engine.Snapshot()
	if snap.Peers.Remote != "token-b" {
		t.Fatalf("expected remote token recorded, got %q", snap.Peers.Remote)
	}
	if f.rec.count("peerRemote:token-b") != 1 {
		t.Fatalf("expected remote id forwarded to peer manager")
	}
}

func TestRemoteStreamConnectsAndStartsMonitoring(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)
	f.engine.Dispatch(pairing("room-1", "token-a"))

	f.engine.Dispatch(RemoteStreamAttached{})
	snap := f.engine.Snapshot()
	if snap.State != StateConnected {
		t.Fatalf("expected connected, got %s", snap.State)
	}
	if snap.Session == nil || snap.Session.StartedAt.IsZero() {
		t.Fatalf("expected session start time set")
	}
	if f.rec.count("callConnected:room-1") != 1 {
		t.Fatalf("expected callConnected emission")
	}
	if f.rec.count("monitorStart:room-1") != 1 {
		t.Fatalf("expected monitor started")
	}
}

func TestHangupTeardownOrdering(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)
	f.engine.Dispatch(pairing("room-1", "token-a"))
	f.engine.Dispatch(RemoteStreamAttached{})

	f.engine.Dispatch(HangupRequest{Reason: "hangup"})
	snap := f.engine.Snapshot()
	if snap.State != StateEnded {
		t.Fatalf("expected ended, got %s", snap.State)
	}
	if snap.Session != nil || snap.Peers.Local != "" {
		t.Fatalf("session and peer ids must be cleared on teardown")
	}

	stop := f.rec.indexOf("monitorStop")
	destroy := f.rec.indexOf("peerDestroy")
	ended := f.rec.indexOf("callEnded:room-1:hangup")
	if stop == -1 || destroy == -1 || ended == -1 {
		t.Fatalf("missing teardown steps: %v", f.rec.entries())
	}
	if !(stop < destroy && destroy < ended) {
		t.Fatalf("teardown out of order: %v", f.rec.entries())
	}
}

func TestDoubleHangupEmitsCallEndedOnce(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)
	f.engine.Dispatch(pairing("room-1", "token-a"))
	f.engine.Dispatch(RemoteStreamAttached{})

	f.engine.Dispatch(HangupRequest{Reason: "hangup"})
	f.engine.Dispatch(HangupRequest{Reason: "hangup"})

	if got := f.rec.count("callEnded:room-1:hangup"); got != 1 {
		t.Fatalf("expected exactly one callEnded, got %d", got)
	}
	if f.peers.destroyed != 1 {
		t.Fatalf("expected exactly one destroy, got %d", f.peers.destroyed)
	}
}

func TestHangupWhileWaitingStopsQueue(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)

	f.engine.Dispatch(HangupRequest{Reason: "hangup"})
	if snap := f.engine.Snapshot(); snap.State != StateEnded {
		t.Fatalf("expected ended, got %s", snap.State)
	}
	if f.rec.count("stopFindingPair") != 1 {
		t.Fatalf("expected stopFindingPair emission")
	}
	if f.rec.count("callEnded:room-1:hangup") != 0 {
		t.Fatalf("no call to end while waiting")
	}
}

func TestDialTimeoutRequeuesOnceThenFails(t *testing.T) {
	f := newFixture(t, Config{FindNewCooldown: time.Millisecond}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)
	f.engine.Dispatch(pairing("room-1", "token-a"))

	// First stall re-queues automatically.
	f.engine.Dispatch(DialTimedOut{})
	snap := f.engine.Snapshot()
	if snap.State != StateWaiting {
		t.Fatalf("expected auto re-queue after first stall, got %s", snap.State)
	}
	if got := f.rec.count("findNewPair"); got != 2 {
		t.Fatalf("expected second findNewPair, got %d", got)
	}

	// Second stall in a row surfaces the error instead of looping.
	f.engine.Dispatch(pairing("room-2", "token-b"))
	f.engine.Dispatch(DialTimedOut{})
	snap = f.engine.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("expected idle after second stall, got %s", snap.State)
	}
	if snap.Err == nil || snap.Err.Kind != ErrKindDialTimeout {
		t.Fatalf("expected dial_timeout error, got %v", snap.Err)
	}
}

func TestPeerFailedWithoutLocalStream(t *testing.T) {
	f := newFixture(t, Config{FindNewCooldown: time.Millisecond}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)
	f.engine.Dispatch(pairing("room-1", "token-a"))

	f.engine.Dispatch(PeerFailed{Err: ErrNoLocalStream})
	// One automatic retry, then the error surfaces.
	f.engine.Dispatch(pairing("room-2", "token-b"))
	f.engine.Dispatch(PeerFailed{Err: ErrNoLocalStream})

	snap := f.engine.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("expected idle, got %s", snap.State)
	}
	if snap.Err == nil || snap.Err.Kind != ErrKindNoLocalStream {
		t.Fatalf("expected no_local_stream error, got %v", snap.Err)
	}
}

func TestPeerCreateFailureFallsBackToQueue(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.peers.failCreate = true
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)

	f.engine.Dispatch(pairing("room-1", "token-a"))
	snap := f.engine.Snapshot()
	if snap.State != StateWaiting {
		t.Fatalf("expected re-queue after create failure, got %s", snap.State)
	}
	if f.rec.count("callReady:token-a:room-1") != 0 {
		t.Fatalf("callReady must not fire when peer create fails")
	}
}

func TestFindNewDebounce(t *testing.T) {
	f := newFixture(t, Config{FindNewCooldown: time.Hour}, nil)
	f.grantMic()
	f.engine.Dispatch(FindNewRequest{})
	f.waitState(t, StateWaiting)
	f.engine.Dispatch(FindNewRequest{})

	if got := f.rec.count("findNewPair"); got != 1 {
		t.Fatalf("debounce broken, expected one findNewPair, got %d", got)
	}
}

func TestFindNewDuringCallHangsUpFirst(t *testing.T) {
	f := newFixture(t, Config{FindNewCooldown: time.Millisecond}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)
	f.engine.Dispatch(pairing("room-1", "token-a"))
	f.engine.Dispatch(RemoteStreamAttached{})
	time.Sleep(5 * time.Millisecond)

	f.engine.Dispatch(FindNewRequest{})
	snap := f.engine.Snapshot()
	if snap.State != StateWaiting {
		t.Fatalf("expected waiting after find-new, got %s", snap.State)
	}
	ended := f.rec.indexOf("callEnded:room-1:find-new")
	requeue := f.rec.indexOf("peerDestroy")
	if ended == -1 || requeue == -1 {
		t.Fatalf("expected teardown before re-queue: %v", f.rec.entries())
	}
	if got := f.rec.count("findNewPair"); got != 2 {
		t.Fatalf("expected re-queue emission, got %d", got)
	}
}

func TestQueueSafetyTimeout(t *testing.T) {
	f := newFixture(t, Config{SafetyTimeout: 30 * time.Millisecond}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)

	f.waitState(t, StateIdle)
	snap := f.engine.Snapshot()
	if snap.Err == nil || snap.Err.Kind != ErrKindQueueTimeout {
		t.Fatalf("expected queue_timeout error, got %v", snap.Err)
	}
	if f.rec.count("stopFindingPair") != 1 {
		t.Fatalf("expected stopFindingPair on safety timeout")
	}
}

func TestQueueJoinedDisarmsSafetyTimeout(t *testing.T) {
	f := newFixture(t, Config{SafetyTimeout: 30 * time.Millisecond}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)
	f.engine.Dispatch(QueueJoined{Position: 3, QueueSize: 9})

	time.Sleep(80 * time.Millisecond)
	snap := f.engine.Snapshot()
	if snap.State != StateWaiting {
		t.Fatalf("safety timeout fired after ack, state %s", snap.State)
	}
	if snap.Metrics.Position != 3 || snap.Metrics.QueueSize != 9 {
		t.Fatalf("expected queue metrics recorded, got %+v", snap.Metrics)
	}
}

func TestServerQueueTimeoutReturnsToIdle(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)

	f.engine.Dispatch(QueueTimedOut{Message: "no match found", Suggestion: "loosen filters"})
	snap := f.engine.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("expected idle, got %s", snap.State)
	}
	if snap.Err == nil || snap.Err.Kind != ErrKindQueueTimeout {
		t.Fatalf("expected queue_timeout error, got %v", snap.Err)
	}
	if snap.Info != "loosen filters" {
		t.Fatalf("expected suggestion surfaced, got %q", snap.Info)
	}
}

func TestPairDisconnectedEndsWithoutEmission(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)
	f.engine.Dispatch(pairing("room-1", "token-a"))
	f.engine.Dispatch(RemoteStreamAttached{})

	f.engine.Dispatch(PairDisconnected{})
	snap := f.engine.Snapshot()
	if snap.State != StateEnded {
		t.Fatalf("expected ended, got %s", snap.State)
	}
	// The partner is already gone; echoing callEnded back would be noise.
	for _, e := range f.rec.entries() {
		if len(e) >= 9 && e[:9] == "callEnded" {
			t.Fatalf("unexpected callEnded emission: %v", f.rec.entries())
		}
	}
	if f.rec.count("monitorStop") == 0 {
		t.Fatalf("monitor must stop on pair disconnect")
	}
}

func TestMicLostDuringCallEndsIt(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)
	f.engine.Dispatch(pairing("room-1", "token-a"))
	f.engine.Dispatch(RemoteStreamAttached{})

	f.engine.Dispatch(MicLost{})
	snap := f.engine.Snapshot()
	if snap.State != StateEnded {
		t.Fatalf("expected ended, got %s", snap.State)
	}
	if snap.Err == nil || snap.Err.Kind != ErrKindTrackLost {
		t.Fatalf("expected track_lost error, got %v", snap.Err)
	}
	if snap.MicState != MicPrompt {
		t.Fatalf("mic state must fall back to prompt, got %s", snap.MicState)
	}
	if f.rec.count("callEnded:room-1:track-lost") != 1 {
		t.Fatalf("expected callEnded with track-lost reason: %v", f.rec.entries())
	}
}

func TestSignalingLostResetsEverything(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)
	f.engine.Dispatch(pairing("room-1", "token-a"))
	f.engine.Dispatch(RemoteStreamAttached{})

	f.engine.Dispatch(SignalingLost{})
	snap := f.engine.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("expected idle, got %s", snap.State)
	}
	if snap.Err == nil || snap.Err.Kind != ErrKindSignalingUnavailable {
		t.Fatalf("expected signaling_unavailable error, got %v", snap.Err)
	}
	if snap.Session != nil {
		t.Fatalf("session must be cleared")
	}
	if f.peers.destroyed != 1 {
		t.Fatalf("peer must be destroyed, got %d", f.peers.destroyed)
	}
}

// driveTo walks the fixture to a known state through the normal edges.
func (f *engineFixture) driveTo(t *testing.T, target State) {
	t.Helper()
	switch target {
	case StateIdle:
	case StateWaiting, StateDialing, StateConnected:
		f.grantMic()
		f.engine.Dispatch(StartRequest{})
		f.waitState(t, StateWaiting)
		if target == StateWaiting {
			return
		}
		f.engine.Dispatch(pairing("room-1", "token-a"))
		if target == StateDialing {
			return
		}
		f.engine.Dispatch(RemoteStreamAttached{})
		f.waitState(t, StateConnected)
	case StateEnded:
		f.grantMic()
		f.engine.Dispatch(StartRequest{})
		f.waitState(t, StateWaiting)
		f.engine.Dispatch(HangupRequest{Reason: "hangup"})
		f.waitState(t, StateEnded)
	default:
		t.Fatalf("no drive path to %s", target)
	}
}

func TestIgnoredEventsLeaveStateUntouched(t *testing.T) {
	cases := []struct {
		state  State
		events []Event
	}{
		{StateIdle, []Event{
			QueueJoined{Position: 1},
			QueueStatus{Metrics: QueueMetrics{Position: 2}},
			QueueTimedOut{},
			pairing("room-9", "token-z"),
			RemoteStreamAttached{},
			RemoteReady{PeerID: "x"},
			DialTimedOut{},
			CallEnded{Reason: "hangup"},
			PairDisconnected{},
			PeerClosed{Reason: "late"},
			HangupRequest{Reason: "hangup"},
		}},
		{StateWaiting, []Event{
			RemoteStreamAttached{},
			RemoteReady{PeerID: "x"},
			DialTimedOut{},
			PeerFailed{Err: ErrNoLocalStream},
			PeerClosed{Reason: "late"},
			CallEnded{Reason: "hangup"},
			PairDisconnected{},
			StartRequest{},
		}},
		{StateDialing, []Event{
			pairing("room-9", "token-z"),
			QueueJoined{Position: 1},
			QueueStatus{Metrics: QueueMetrics{Position: 2}},
			QueueTimedOut{},
			StartRequest{},
		}},
		{StateConnected, []Event{
			pairing("room-9", "token-z"),
			QueueJoined{Position: 1},
			QueueStatus{Metrics: QueueMetrics{Position: 2}},
			QueueTimedOut{},
			RemoteStreamAttached{},
			StartRequest{},
		}},
		{StateEnded, []Event{
			QueueJoined{Position: 1},
			QueueStatus{Metrics: QueueMetrics{Position: 2}},
			QueueTimedOut{},
			pairing("room-9", "token-z"),
			RemoteStreamAttached{},
			RemoteReady{PeerID: "x"},
			DialTimedOut{},
			CallEnded{Reason: "hangup"},
			PairDisconnected{},
			PeerClosed{Reason: "late"},
			HangupRequest{Reason: "hangup"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.state.String(), func(t *testing.T) {
			for _, ev := range tc.events {
				name := strings.TrimPrefix(fmt.Sprintf("%T", ev), "call.")
				t.Run(name, func(t *testing.T) {
					f := newFixture(t, Config{}, nil)
					f.driveTo(t, tc.state)
					created, destroyed := f.peers.created, f.peers.destroyed

					f.engine.Dispatch(ev)
					snap := f.engine.Snapshot()
					if snap.State != tc.state {
						t.Fatalf("state changed to %s", snap.State)
					}
					if f.peers.created != created || f.peers.destroyed != destroyed {
						t.Fatalf("peer manager touched: created=%d destroyed=%d", f.peers.created, f.peers.destroyed)
					}
				})
			}
		})
	}
}

func TestQualityAndSpeakingUpdates(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)
	f.engine.Dispatch(pairing("room-1", "token-a"))
	f.engine.Dispatch(RemoteStreamAttached{})

	f.engine.Dispatch(QualityUpdated{Sample: QualitySample{RTTMs: 40, JitterMs: 3, PacketLossPct: 1, CompositeScore: 92}})
	f.engine.Dispatch(SpeakingChanged{Active: true})
	snap := f.engine.Snapshot()
	if snap.Quality.CompositeScore != 92 {
		t.Fatalf("expected quality recorded, got %+v", snap.Quality)
	}
	if !snap.Speaking {
		t.Fatalf("expected speaking flag set")
	}

	f.engine.Dispatch(HangupRequest{Reason: "hangup"})
	snap = f.engine.Snapshot()
	if snap.Quality.CompositeScore != 0 || snap.Speaking {
		t.Fatalf("quality and speaking must reset on teardown, got %+v speaking=%v", snap.Quality, snap.Speaking)
	}
}

func TestSlowObserverGetsNewestSnapshotLast(t *testing.T) {
	rec := &recorder{}
	peers := &fakePeers{rec: rec}
	monitor := &fakeMonitor{rec: rec}

	var (
		deliveredMu sync.Mutex
		delivered   []Snapshot
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	var stallOnce sync.Once
	observe := func(s Snapshot) {
		// Stall exactly once, on the quality update, so a later transition
		// can race past this delivery.
		if s.State == StateConnected && s.Quality.RTTMs == 42 {
			stallOnce.Do(func() {
				close(entered)
				<-release
			})
		}
		deliveredMu.Lock()
		delivered = append(delivered, s)
		deliveredMu.Unlock()
	}

	engine := NewEngine(Config{}, &fakeSignaler{rec: rec}, peers, fakeGate{}, monitor, observe)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	engine.Start(ctx)

	f := &engineFixture{engine: engine, rec: rec, peers: peers, monitor: monitor}
	f.driveTo(t, StateConnected)

	qualityDone := make(chan struct{})
	go func() {
		engine.Dispatch(QualityUpdated{Sample: QualitySample{RTTMs: 42}})
		close(qualityDone)
	}()
	<-entered

	hangupDone := make(chan struct{})
	go func() {
		engine.Dispatch(HangupRequest{Reason: "hangup"})
		close(hangupDone)
	}()
	// The reducer must keep moving while the observer is stuck.
	f.waitState(t, StateEnded)

	close(release)
	<-qualityDone
	<-hangupDone

	deliveredMu.Lock()
	defer deliveredMu.Unlock()
	if len(delivered) == 0 {
		t.Fatalf("no snapshots delivered")
	}
	if last := delivered[len(delivered)-1]; last.State != StateEnded {
		t.Fatalf("last delivered snapshot is %s, want %s", last.State, StateEnded)
	}
	for i := 1; i < len(delivered); i++ {
		if delivered[i].Seq < delivered[i-1].Seq {
			t.Fatalf("snapshot order regressed: seq %d after %d", delivered[i].Seq, delivered[i-1].Seq)
		}
	}
}

func TestStartFromEndedRestarts(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.grantMic()
	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)
	f.engine.Dispatch(HangupRequest{Reason: "hangup"})
	if snap := f.engine.Snapshot(); snap.State != StateEnded {
		t.Fatalf("expected ended, got %s", snap.State)
	}

	f.engine.Dispatch(StartRequest{})
	f.waitState(t, StateWaiting)
	if got := f.rec.count("findNewPair"); got != 2 {
		t.Fatalf("expected second findNewPair after restart, got %d", got)
	}
}
