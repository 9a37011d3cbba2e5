package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/whisperline/whisperline/internal/call"
	"github.com/whisperline/whisperline/internal/config"
	"github.com/whisperline/whisperline/internal/identity"
	"github.com/whisperline/whisperline/internal/ipc"
	"github.com/whisperline/whisperline/internal/mic"
	"github.com/whisperline/whisperline/internal/peer"
	"github.com/whisperline/whisperline/internal/quality"
	"github.com/whisperline/whisperline/internal/signaling"
)

const defaultVADThreshold = 500

type callDaemon struct {
	cfg          config.Config
	id           *identity.Identity
	vadThreshold int64
	meter        bool
	meterNext    time.Time

	engine  *call.Engine
	gate    *mic.Gate
	peers   *peer.Manager
	emitter *signaling.Emitter
	monitor *quality.Monitor
	ipc     *ipcServer
	sts     *pipelineStats

	mu       sync.Mutex
	muted    bool
	speaking bool
	playback *mic.Playback
	ws       *signaling.Client
	lastWire ipc.Snapshot
	lastSeq  uint64
}

func newCallDaemon(cfg config.Config, id *identity.Identity, vadThreshold int64, meter bool) *callDaemon {
	if vadThreshold <= 0 {
		vadThreshold = defaultVADThreshold
	}
	return &callDaemon{
		cfg:          cfg,
		id:           id,
		vadThreshold: vadThreshold,
		meter:        meter,
	}
}

func (d *callDaemon) Run(ctx context.Context, ipcAddr string) error {
	d.sts = newPipelineStats()
	go d.sts.LogLoop(ctx)
	d.startPlayback(ctx)

	d.gate = mic.NewGate(nil, func() {
		d.peers.SetLocalReady(false)
		go d.engine.Dispatch(call.MicLost{})
	})

	d.emitter = signaling.NewEmitter(d.id.UserID, call.Preferences{
		Gender:  d.cfg.PreferredGender,
		College: d.cfg.PreferredCollege,
	})

	peers, err := peer.NewManager(d.emitter, peer.Callbacks{
		OnRemoteTrack: d.handleRemoteTrack,
		OnClosed: func(reason string) {
			go d.engine.Dispatch(call.PeerClosed{Reason: reason})
		},
		OnError: func(err error) {
			go d.engine.Dispatch(call.PeerFailed{Err: err})
		},
		OnDialTimeout: func() {
			go d.engine.Dispatch(call.DialTimedOut{})
		},
	}, peer.DefaultStallTimeout)
	if err != nil {
		return err
	}
	d.peers = peers
	d.peers.SetFallbackICE(buildFallbackICE(d.cfg))

	d.monitor = quality.NewMonitor(d.peers, d.emitter, func(s call.QualitySample) {
		go d.engine.Dispatch(call.QualityUpdated{Sample: s})
	})

	d.engine = call.NewEngine(call.Config{}, d.emitter, d.peers, micGateFunc(d.requestMic), d.monitor, d.publishSnapshot)
	d.engine.Start(ctx)
	defer d.engine.Dispose()

	go quality.LogCPUUsage(ctx)

	wsErrCh := make(chan error, 1)
	go func() {
		wsErrCh <- d.runWSLoop(ctx)
	}()

	d.publishSnapshot(d.engine.Snapshot())
	server := newIPCServer(ipcAddr, d.handleIPCCommand, d.currentWire)
	d.ipc = server
	ipcErrCh := make(chan error, 1)
	go func() {
		ipcErrCh <- server.Run(ctx)
	}()

	audioErrCh := make(chan error, 1)
	go func() {
		audioErrCh <- d.runAudio(ctx)
	}()

	hotkeyErrCh := make(chan error, 1)
	go func() {
		hotkeyErrCh <- d.runMuteHotkey(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			d.closeWS()
			d.closePlayback()
			d.gate.Release()
			_ = server.Close()
			return nil
		case err := <-wsErrCh:
			if err != nil {
				return fmt.Errorf("signaling loop failed: %w", err)
			}
			return nil
		case err := <-ipcErrCh:
			if err != nil {
				return fmt.Errorf("ipc server failed: %w", err)
			}
			return nil
		case err := <-audioErrCh:
			if err != nil {
				return fmt.Errorf("audio pipeline failed: %w", err)
			}
			return nil
		case err := <-hotkeyErrCh:
			if err != nil {
				log.Printf("mute hotkey unavailable: %v", err)
				if d.ipc != nil {
					d.ipc.Broadcast(ipc.Message{Event: ipc.EventInfo, Error: fmt.Sprintf("mute hotkey unavailable: %v", err)})
				}
			}
			continue
		}
	}
}

// requestMic is the engine's media gate. Marking the transport local-ready
// here rather than in the gate keeps the gate ignorant of the peer layer.
func (d *callDaemon) requestMic(ctx context.Context) error {
	if err := d.gate.Request(ctx); err != nil {
		return err
	}
	d.peers.SetLocalReady(true)
	return nil
}

type micGateFunc func(ctx context.Context) error

func (f micGateFunc) Request(ctx context.Context) error { return f(ctx) }

func (d *callDaemon) runWSLoop(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		client, err := d.connectWSWithRetry(ctx)
		if err != nil {
			return err
		}
		attempt = 0
		d.setWS(client)
		d.emitter.SetClient(client)
		d.emitter.Identify(d.gate.State().String())

		ch := make(chan any, 64)
		go client.ReadLoop(ch)

		for msg := range ch {
			if ctx.Err() != nil {
				d.closeWS()
				return nil
			}
			d.handleSignal(msg)
		}

		// ReadLoop closed the channel: the transport dropped.
		d.emitter.SetClient(nil)
		d.closeWS()
		if ctx.Err() != nil {
			return nil
		}
		d.engine.Dispatch(call.SignalingLost{})
		attempt++
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wsBackoff(attempt)):
		}
	}
}

func (d *callDaemon) connectWSWithRetry(ctx context.Context) (*signaling.Client, error) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		client, err := signaling.Connect(d.cfg.ServerURL, d.id.UserID)
		if err == nil {
			return client, nil
		}
		attempt++
		log.Printf("signaling connect failed: %v", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wsBackoff(attempt)):
		}
	}
}

func wsBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		attempt = 5
	}
	return time.Duration(1<<attempt) * time.Second
}

// handleSignal routes one decoded server frame. Peer transport relays go
// straight to the peer manager; everything else is an engine event.
func (d *callDaemon) handleSignal(msg any) {
	switch v := msg.(type) {
	case signaling.PeerOffer:
		if err := d.peers.HandleOffer(v.SDP); err != nil {
			if errors.Is(err, call.ErrNoLocalStream) {
				d.engine.Dispatch(call.PeerFailed{Err: err})
				return
			}
			log.Printf("peer offer rejected: %v", err)
		}
	case signaling.PeerAnswer:
		if err := d.peers.HandleAnswer(v.SDP); err != nil {
			log.Printf("peer answer rejected: %v", err)
			d.engine.Dispatch(call.PeerFailed{Err: err})
		}
	case signaling.PeerCandidate:
		if err := d.peers.AddCandidate(v.Candidate); err != nil {
			log.Printf("peer candidate rejected: %v", err)
		}
	case call.Event:
		d.engine.Dispatch(v)
	default:
		log.Printf("signaling delivered unknown message %T", msg)
	}
}

func (d *callDaemon) handleIPCCommand(ctx context.Context, msg ipc.Message) (ipc.Message, error) {
	switch msg.Cmd {
	case ipc.CommandStartCall:
		d.engine.Dispatch(call.StartRequest{})
		return ipc.Message{}, nil
	case ipc.CommandHangUp:
		reason := msg.Reason
		if reason == "" {
			reason = "hangup"
		}
		d.engine.Dispatch(call.HangupRequest{Reason: reason})
		return ipc.Message{}, nil
	case ipc.CommandFindNew:
		d.engine.Dispatch(call.FindNewRequest{})
		return ipc.Message{}, nil
	case ipc.CommandMute:
		d.setMuted(true)
		return ipc.Message{Event: ipc.EventMuted, Muted: true}, nil
	case ipc.CommandUnmute:
		d.setMuted(false)
		return ipc.Message{Event: ipc.EventMuted, Muted: false}, nil
	case ipc.CommandSetFilters:
		d.emitter.UpdateFilters(call.Preferences{Gender: msg.Gender, College: msg.College})
		return ipc.Message{}, nil
	case ipc.CommandPing:
		return ipc.Message{Event: ipc.EventPong}, nil
	default:
		return ipc.Message{}, fmt.Errorf("unknown command")
	}
}

// publishSnapshot is the engine's observer: every state transition lands
// here and is fanned out to the attached UI clients.
func (d *callDaemon) publishSnapshot(snap call.Snapshot) {
	wire := d.toWire(snap)
	d.mu.Lock()
	if snap.Seq < d.lastSeq {
		// A newer transition already landed; do not regress the greeting.
		d.mu.Unlock()
		return
	}
	d.lastSeq = snap.Seq
	d.lastWire = wire
	d.mu.Unlock()
	if d.ipc != nil {
		d.ipc.Broadcast(ipc.Message{Event: ipc.EventSnapshot, Snapshot: &wire})
	}
}

// currentWire serves the greeting snapshot for a freshly attached client.
func (d *callDaemon) currentWire() ipc.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastWire
}

func (d *callDaemon) toWire(snap call.Snapshot) ipc.Snapshot {
	wire := ipc.Snapshot{
		State:             snap.State.String(),
		Mic:               snap.MicState.String(),
		QueuePosition:     snap.Metrics.Position,
		QueueSize:         snap.Metrics.QueueSize,
		WaitTimeMs:        snap.Metrics.WaitTimeMs,
		EstimatedWaitMs:   snap.Metrics.EstimatedWaitMs,
		FilterLevel:       snap.Metrics.FilterLevel,
		FilterDescription: snap.Metrics.FilterDescription,
		RTTMs:             snap.Quality.RTTMs,
		JitterMs:          snap.Quality.JitterMs,
		PacketLossPct:     snap.Quality.PacketLossPct,
		QualityScore:      snap.Quality.CompositeScore,
		Speaking:          snap.Speaking,
		Muted:             d.isMuted(),
		Info:              snap.Info,
	}
	if snap.Session != nil {
		wire.RoomID = snap.Session.RoomID
		wire.PartnerInitials = snap.Session.Partner.Initials
		wire.PartnerGender = snap.Session.Partner.Gender
		wire.PartnerVerified = snap.Session.Partner.Verified
		wire.DurationSeconds = snap.Session.DurationSeconds
	}
	if snap.Err != nil {
		wire.ErrorKind = string(snap.Err.Kind)
		wire.ErrorMessage = snap.Err.Reason
	}
	return wire
}

func (d *callDaemon) setMuted(muted bool) {
	d.mu.Lock()
	changed := d.muted != muted
	d.muted = muted
	d.mu.Unlock()
	if !changed {
		return
	}
	if muted {
		d.setSpeaking(false)
	}
	// Re-publish so attached clients see the mute flag flip.
	d.publishSnapshot(d.engine.Snapshot())
}

func (d *callDaemon) isMuted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

func (d *callDaemon) toggleMuted() bool {
	d.mu.Lock()
	muted := !d.muted
	d.mu.Unlock()
	d.setMuted(muted)
	return muted
}

func (d *callDaemon) setSpeaking(active bool) {
	d.mu.Lock()
	changed := d.speaking != active
	d.speaking = active
	d.mu.Unlock()
	if changed {
		d.engine.Dispatch(call.SpeakingChanged{Active: active})
	}
}

func (d *callDaemon) isSpeaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

func (d *callDaemon) handleRemoteTrack(track *webrtc.TrackRemote) {
	go d.engine.Dispatch(call.RemoteStreamAttached{})
	d.playRemoteTrack(track)
}

func (d *callDaemon) setWS(ws *signaling.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ws = ws
}

func (d *callDaemon) closeWS() {
	d.mu.Lock()
	ws := d.ws
	d.ws = nil
	d.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
}

func (d *callDaemon) startPlayback(ctx context.Context) {
	playback, err := mic.StartPlayback(ctx)
	if err != nil {
		log.Printf("audio playback failed: %v", err)
		return
	}
	d.mu.Lock()
	d.playback = playback
	d.mu.Unlock()
}

func (d *callDaemon) closePlayback() {
	d.mu.Lock()
	playback := d.playback
	d.playback = nil
	d.mu.Unlock()
	if playback != nil {
		_ = playback.Close()
	}
}

func (d *callDaemon) writePlayback(samples []int16) {
	d.mu.Lock()
	playback := d.playback
	d.mu.Unlock()
	if playback == nil || len(samples) == 0 {
		return
	}
	playback.Write(samples)
}

func (d *callDaemon) maybeLogMeter(level int64) {
	if !d.meter {
		return
	}
	now := time.Now()
	d.mu.Lock()
	next := d.meterNext
	if next.IsZero() || !now.Before(next) {
		d.meterNext = now.Add(time.Second)
		threshold := d.vadThreshold
		d.mu.Unlock()
		log.Printf("voice meter: level=%d threshold=%d speaking=%v", level, threshold, d.isSpeaking())
		return
	}
	d.mu.Unlock()
}
