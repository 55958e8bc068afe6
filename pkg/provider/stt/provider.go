// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider turns one complete recorded recitation into text. Recitations
// are short (a single verse), so the contract is a single blocking call
// rather than a stream. Implementations wrap a local whisper.cpp server or
// model, the OpenAI audio API or Deepgram.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when Transcribe is called without audio data.
var ErrEmptyAudio = errors.New("stt: empty audio")

// ErrUnsupportedFormat is returned by providers that cannot decode the
// supplied MIME type.
var ErrUnsupportedFormat = errors.New("stt: unsupported audio format")

// Audio is a complete recorded utterance in a container format identified by
// MIMEType (e.g. "audio/wav", "audio/webm").
type Audio struct {
	Data     []byte
	MIMEType string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in audio. An empty transcript is a
	// valid result (silence); failures to reach or use the backend are
	// errors. Implementations honour ctx cancellation.
	Transcribe(ctx context.Context, audio Audio) (Transcript, error)
}

// Validate reports ErrEmptyAudio for an empty payload.
func (a Audio) Validate() error {
	if len(a.Data) == 0 {
		return ErrEmptyAudio
	}
	return nil
}
