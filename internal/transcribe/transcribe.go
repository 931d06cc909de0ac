// Package transcribe holds the speech-to-text backends a meeting queue can run against.
package transcribe

import (
	"context"
	"errors"
	"voxmeet/pkg/model"
)

var ErrEmptyAudio = errors.New("audio payload is empty")

// Backend turns one chunk of audio into text. Implementations must be safe
// for concurrent use; the queue calls them from several goroutines.
type Backend interface {
	Transcribe(ctx context.Context, audio []byte, language string) (*model.Result, error)
}
