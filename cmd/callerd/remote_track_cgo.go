//go:build linux

package main

import (
	"log"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4"

	"github.com/whisperline/whisperline/internal/mic"
)

const maxRemoteFrameSize = opusFrameSize * 6

// playRemoteTrack decodes the partner's audio onto the playback device for
// the lifetime of the track.
func (d *callDaemon) playRemoteTrack(track *webrtc.TrackRemote) {
	if track == nil || track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	decoder, err := opus.NewDecoder(mic.SampleRate, mic.Channels)
	if err != nil {
		log.Printf("opus decoder init failed: %v", err)
		return
	}

	go func() {
		pcm := make([]int16, maxRemoteFrameSize)
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			if len(pkt.Payload) == 0 {
				continue
			}
			n, err := decoder.Decode(pkt.Payload, pcm)
			if err != nil {
				log.Printf("opus decode failed: %v", err)
				continue
			}
			if n <= 0 {
				continue
			}
			d.writePlayback(pcm[:n])
		}
	}()
}
