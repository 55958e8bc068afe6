// Package audio holds the small amount of signal plumbing tilawa needs to hand
// uploaded recitations to speech-recognition backends: WAV container
// encode/decode, PCM format conversion and MIME type detection.
//
// All PCM handled here is 16-bit signed little-endian, interleaved when more
// than one channel is present.
package audio

import (
	"errors"
	"time"
)

// ErrEmpty is returned when an operation requires audio but got none.
var ErrEmpty = errors.New("audio: empty input")

// Format describes the sample rate and channel count of PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is 16 kHz mono, the input format expected by whisper models
// and the default for streaming recognisers.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// Clip is a buffer of raw PCM audio in a known format.
type Clip struct {
	Data []byte
	Format
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	bytesPerSec := c.SampleRate * c.Channels * 2
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(len(c.Data)) * time.Second / time.Duration(bytesPerSec)
}
