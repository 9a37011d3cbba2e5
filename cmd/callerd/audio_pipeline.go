//go:build linux

package main

import (
	"context"
	"log"
	"time"

	"github.com/hraban/opus"

	"github.com/whisperline/whisperline/internal/mic"
)

const (
	opusFrameSize = 960
	opusMaxBytes  = 4000
)

// runAudio encodes the granted microphone stream for the lifetime of the
// daemon. The gate hands out a fresh frame channel per grant, so the outer
// loop re-fetches it whenever the stream is released or lost.
func (d *callDaemon) runAudio(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		ch := d.gate.Frames()
		if ch == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		if err := d.encodeLoop(ctx, ch); err != nil {
			return err
		}
	}
}

func (d *callDaemon) encodeLoop(ctx context.Context, audioCh <-chan []int16) error {
	encoder, err := opus.NewEncoder(mic.SampleRate, mic.Channels, opus.AppVoIP)
	if err != nil {
		return err
	}

	buf := make([]int16, 0, opusFrameSize*4)
	frameDuration := 20 * time.Millisecond
	idle := time.NewTimer(time.Second)
	defer idle.Stop()

	for {
		idle.Reset(time.Second)
		select {
		case <-ctx.Done():
			return nil
		case <-idle.C:
			// Stream went quiet; check whether the grant was replaced.
			if d.gate.Frames() != audioCh {
				return nil
			}
		case samples := <-audioCh:
			if len(samples) == 0 {
				continue
			}
			buf = append(buf, samples...)
			for len(buf) >= opusFrameSize {
				frame := buf[:opusFrameSize]
				buf = buf[opusFrameSize:]
				d.updateVADFromFrame(frame)
				if d.isMuted() || !d.isSpeaking() {
					d.sts.RecordDrop()
					continue
				}
				packet := make([]byte, opusMaxBytes)
				n, err := encoder.Encode(frame, packet)
				if err != nil {
					log.Printf("opus encode failed: %v", err)
					continue
				}
				if err := d.peers.WriteSample(packet[:n], frameDuration); err != nil {
					log.Printf("peer write sample failed: %v", err)
				}
				d.sts.RecordSent(n)
			}
		}
	}
}

func (d *callDaemon) updateVADFromFrame(frame []int16) {
	level := voiceLevel(frame)
	active := isVoiceActive(level, d.vadThreshold)
	d.maybeLogMeter(level)
	if d.isMuted() {
		active = false
	}
	d.setSpeaking(active)
}

func voiceLevel(frame []int16) int64 {
	if len(frame) == 0 {
		return 0
	}
	var sum int64
	for _, sample := range frame {
		if sample < 0 {
			sum -= int64(sample)
		} else {
			sum += int64(sample)
		}
	}
	return sum / int64(len(frame))
}

func isVoiceActive(level int64, threshold int64) bool {
	return level >= threshold
}
