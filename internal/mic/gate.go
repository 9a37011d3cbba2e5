// Package mic guards access to the microphone. A Gate owns the capture
// device, tracks permission-like state for it, and watches the live stream so
// a call is never silently carried on a dead input.
package mic

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

type State int

const (
	StateUnknown State = iota
	StatePrompt
	StateGranted
	StateDenied
)

func (s State) String() string {
	switch s {
	case StatePrompt:
		return "prompt"
	case StateGranted:
		return "granted"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

var (
	ErrPermissionDenied  = errors.New("mic: permission denied")
	ErrDeviceUnavailable = errors.New("mic: device unavailable")
	ErrUnsupported       = errors.New("mic: audio capture not supported on this platform")
)

// Reason maps a capture error to the message shown to the user.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Microphone access was denied. Enable microphone permissions for this app and try again."
	case errors.Is(err, ErrUnsupported):
		return "Audio capture is not supported on this platform."
	case errors.Is(err, ErrDeviceUnavailable):
		return "No usable microphone was found. Check that a capture device is connected and not in use."
	default:
		return "The microphone could not be started."
	}
}

const (
	staleAfter    = 5 * time.Second
	watchInterval = 2 * time.Second
)

type opener func(ctx context.Context, relaxed bool) (*Capture, <-chan []int16, error)

type Gate struct {
	mu        sync.Mutex
	state     State
	cap       *Capture
	frames    chan []int16
	lastFrame time.Time
	gen       int

	onState func(State)
	onLost  func()

	open opener
}

// NewGate returns an idle gate. onState fires on every MicState change and
// onLost fires when a granted stream dies out from under an owner; both may
// be nil. Callbacks are invoked without the gate lock held.
func NewGate(onState func(State), onLost func()) *Gate {
	return &Gate{
		state:   StateUnknown,
		onState: onState,
		onLost:  onLost,
		open:    StartCapture,
	}
}

// Request acquires the capture device, reusing a still-live stream from a
// previous call. The strict device profile is tried first and retried once
// relaxed; that retry is a compatibility fallback, not a user-visible one.
func (g *Gate) Request(ctx context.Context) error {
	g.mu.Lock()
	if g.state == StateGranted && g.cap != nil {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	g.setState(StatePrompt)

	capture, ch, err := g.open(ctx, false)
	if err != nil {
		capture, ch, err = g.open(ctx, true)
	}
	if err != nil {
		g.setState(StateDenied)
		return classifyOpenError(err)
	}

	g.mu.Lock()
	g.gen++
	gen := g.gen
	g.cap = capture
	g.frames = make(chan []int16, 8)
	g.lastFrame = time.Now()
	g.mu.Unlock()

	go g.pump(ctx, gen, ch)
	go g.watch(ctx, gen)
	g.setState(StateGranted)
	return nil
}

// Frames returns the stream for the current grant. Nil while not granted.
func (g *Gate) Frames() <-chan []int16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frames
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Live reports whether a granted stream is currently producing frames.
func (g *Gate) Live() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == StateGranted && g.cap != nil
}

// Release drops the capture device. Used on daemon shutdown; hangups keep
// the stream for the next call.
func (g *Gate) Release() {
	g.mu.Lock()
	capture := g.cap
	g.cap = nil
	g.frames = nil
	g.gen++
	changed := g.state == StateGranted
	if changed {
		g.state = StatePrompt
	}
	g.mu.Unlock()
	if capture != nil {
		_ = capture.Close()
	}
	if changed {
		g.notifyState(StatePrompt)
	}
}

// MarkDenied records an externally observed permission revocation.
func (g *Gate) MarkDenied() {
	g.mu.Lock()
	capture := g.cap
	g.cap = nil
	g.frames = nil
	g.gen++
	g.mu.Unlock()
	if capture != nil {
		_ = capture.Close()
	}
	g.setState(StateDenied)
}

func (g *Gate) pump(ctx context.Context, gen int, in <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case samples, ok := <-in:
			if !ok {
				g.lost(gen)
				return
			}
			g.mu.Lock()
			if g.gen != gen {
				g.mu.Unlock()
				return
			}
			g.lastFrame = time.Now()
			out := g.frames
			g.mu.Unlock()
			if out == nil {
				continue
			}
			select {
			case out <- samples:
			default:
			}
		}
	}
}

func (g *Gate) watch(ctx context.Context, gen int) {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.mu.Lock()
			if g.gen != gen {
				g.mu.Unlock()
				return
			}
			stale := time.Since(g.lastFrame) > staleAfter
			g.mu.Unlock()
			if stale {
				g.lost(gen)
				return
			}
		}
	}
}

// lost handles a granted stream that died; the state self-corrects to PROMPT
// so the next call re-acquires instead of trusting a dead grant.
func (g *Gate) lost(gen int) {
	g.mu.Lock()
	if g.gen != gen || g.state != StateGranted {
		g.mu.Unlock()
		return
	}
	capture := g.cap
	g.cap = nil
	g.frames = nil
	g.gen++
	g.state = StatePrompt
	g.mu.Unlock()

	if capture != nil {
		_ = capture.Close()
	}
	g.notifyState(StatePrompt)
	if g.onLost != nil {
		g.onLost()
	}
}

func (g *Gate) setState(s State) {
	g.mu.Lock()
	if g.state == s {
		g.mu.Unlock()
		return
	}
	g.state = s
	g.mu.Unlock()
	g.notifyState(s)
}

func (g *Gate) notifyState(s State) {
	if g.onState != nil {
		g.onState(s)
	}
}

func classifyOpenError(err error) error {
	if errors.Is(err, ErrUnsupported) || errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") || strings.Contains(msg, "access") {
		return errors.Join(ErrPermissionDenied, err)
	}
	return errors.Join(ErrDeviceUnavailable, err)
}
