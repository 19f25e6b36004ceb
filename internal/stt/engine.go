package stt

import (
	"context"
	"errors"
)

// ErrDecoderUnavailable is returned when the speech decoder cannot be
// reached or refuses to start a recognizer.
var ErrDecoderUnavailable = errors.New("speech decoder unavailable")

// Result is one decoder output. A non-final result is tentative and may be
// superseded by a later result for the same utterance.
type Result struct {
	Text  string
	Final bool
}

// Recognizer decodes a single session's audio stream. Accept and
// FinalResult are called from one goroutine; Close may be called once the
// caller has stopped feeding audio.
type Recognizer interface {
	// Accept feeds one PCM-16 frame. The returned result may be empty
	// when the decoder has nothing new to say yet.
	Accept(ctx context.Context, frame []byte) (Result, error)

	// FinalResult flushes any buffered audio and returns the closing
	// transcript for the stream.
	FinalResult(ctx context.Context) (Result, error)

	Close() error
}

// Engine creates recognizers and owns whatever shared decoder state they
// need.
type Engine interface {
	NewRecognizer() (Recognizer, error)
	Close() error
}
