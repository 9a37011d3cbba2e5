//go:build linux

package mic

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// playbackQueueLimit caps queued remote audio at two seconds. The partner's
// decoded frames arrive on the network's schedule, not the device's; past
// the cap the oldest samples are dropped so latency cannot grow unbounded.
const playbackQueueLimit = SampleRate * 2

// Playback is the sink for the partner's decoded audio. The remote-track
// loop writes PCM in, the device callback drains it out.
type Playback struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu        sync.Mutex
	queue     []int16
	closeOnce sync.Once
}

// StartPlayback opens the default output device at the call format
// (48 kHz mono S16). The device is closed when ctx is cancelled.
func StartPlayback(ctx context.Context) (*Playback, error) {
	malgoCtx, err := malgoInitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init malgo context: %w", err)
	}

	deviceConfig := malgoDefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = Channels
	deviceConfig.SampleRate = SampleRate

	p := &Playback{ctx: malgoCtx}
	callback := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			p.drain(output)
		},
	}

	device, err := malgoInitDevice(malgoCtx.Context, deviceConfig, callback)
	if err != nil {
		malgoContextUninit(malgoCtx)
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	if err := malgoDeviceStart(device); err != nil {
		malgoDeviceUninit(device)
		malgoContextUninit(malgoCtx)
		return nil, fmt.Errorf("start playback: %w", err)
	}
	p.device = device

	go func() {
		<-ctx.Done()
		_ = p.Close()
	}()
	return p, nil
}

// Write queues decoded samples for the device. Never blocks; overflow sheds
// the oldest queued audio first.
func (p *Playback) Write(samples []int16) {
	if p == nil || len(samples) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if excess := len(p.queue) + len(samples) - playbackQueueLimit; excess > 0 {
		if excess >= len(p.queue) {
			p.queue = p.queue[:0]
		} else {
			p.queue = p.queue[excess:]
		}
	}
	p.queue = append(p.queue, samples...)
}

// drain fills one device period from the queue, zero-padding any shortfall
// so an empty queue plays silence rather than stale samples.
func (p *Playback) drain(output []byte) {
	if p == nil || len(output) == 0 {
		return
	}
	want := len(output) / 2

	p.mu.Lock()
	n := want
	if n > len(p.queue) {
		n = len(p.queue)
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(output[i*2:], uint16(p.queue[i]))
	}
	if n > 0 {
		remaining := copy(p.queue, p.queue[n:])
		p.queue = p.queue[:remaining]
	}
	p.mu.Unlock()

	for i := n; i < want; i++ {
		binary.LittleEndian.PutUint16(output[i*2:], 0)
	}
}

func (p *Playback) Close() error {
	if p == nil {
		return nil
	}
	p.closeOnce.Do(func() {
		if p.device != nil {
			malgoDeviceUninit(p.device)
			p.device = nil
		}
		if p.ctx != nil {
			malgoContextUninit(p.ctx)
			p.ctx = nil
		}
	})
	return nil
}
