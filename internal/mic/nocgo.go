//go:build !linux

package mic

import "context"

const (
	SampleRate = 48000
	Channels   = 1
)

type Capture struct{}

type Playback struct{}

func StartCapture(context.Context, bool) (*Capture, <-chan []int16, error) {
	return nil, nil, ErrUnsupported
}

func (c *Capture) Close() error {
	return nil
}

func StartPlayback(context.Context) (*Playback, error) {
	return nil, ErrUnsupported
}

func (p *Playback) Write([]int16) {}

func (p *Playback) Close() error {
	return nil
}
