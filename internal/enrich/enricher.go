// Package enrich turns a freshly discovered video into local audio plus a
// best-effort transcription, tolerating partial failure of either step.
package enrich

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/tummerk/video-stats/internal/log"
)

// Extractor downloads the media at url and writes an mp3 to dest.
type Extractor interface {
	Extract(ctx context.Context, url, dest string) error
}

// Transcriber converts the audio file at path to UTF-8 text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Result is what enrichment produces for one video. AudioPath is empty if
// extraction never succeeded; Transcription is empty if transcription never
// succeeded. Neither failure is fatal to the caller.
type Result struct {
	AudioPath     string
	Transcription string
}

// Enricher orchestrates extraction and transcription behind a bounded
// transcription pool so a slow speech-to-text call never stalls the
// scheduler's timer loop.
type Enricher struct {
	extractor     Extractor
	transcriber   Transcriber
	audioDir      string
	transcribeSem *errgroup.Group
}

// New builds an Enricher writing audio under audioDir and transcribing on a
// pool limited to maxConcurrentTranscriptions in-flight calls.
func New(extractor Extractor, transcriber Transcriber, audioDir string, maxConcurrentTranscriptions int) *Enricher {
	group := &errgroup.Group{}
	if maxConcurrentTranscriptions > 0 {
		group.SetLimit(maxConcurrentTranscriptions)
	}
	return &Enricher{
		extractor:     extractor,
		transcriber:   transcriber,
		audioDir:      audioDir,
		transcribeSem: group,
	}
}

// Enrich extracts audio for shortcode from mediaURL (skipping extraction if
// a non-empty mp3 already exists) and transcribes it. Extractor and
// transcriber errors are logged and downgraded, never returned: a partial
// result (audio only, or neither) is a valid outcome so the caller can still
// create the Video row.
func (e *Enricher) Enrich(ctx context.Context, shortcode, mediaURL string) Result {
	logger := log.WithComponentFromContext(ctx, "enrich").With().Str("shortcode", shortcode).Logger()

	dest := filepath.Join(e.audioDir, shortcode+".mp3")
	result := Result{}

	if existingHasContent(dest) {
		result.AudioPath = dest
	} else if e.extractor != nil {
		if err := e.extractor.Extract(ctx, mediaURL, dest); err != nil {
			logger.Warn().Err(err).Msg("audio extraction failed, video will be recorded without audio")
		} else {
			result.AudioPath = dest
		}
	}

	if result.AudioPath == "" || e.transcriber == nil {
		return result
	}

	var text string
	var transcribeErr error
	done := make(chan struct{})
	submitErr := e.transcribeSem.TryGo(func() error {
		defer close(done)
		text, transcribeErr = e.transcriber.Transcribe(ctx, result.AudioPath)
		return nil
	})
	if !submitErr {
		text, transcribeErr = e.transcriber.Transcribe(ctx, result.AudioPath)
	} else {
		select {
		case <-done:
		case <-ctx.Done():
			logger.Warn().Msg("transcription abandoned on context cancellation")
			return result
		}
	}

	if transcribeErr != nil {
		logger.Warn().Err(transcribeErr).Msg("transcription failed, video will be recorded without transcription")
		return result
	}
	result.Transcription = text
	return result
}

func existingHasContent(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() > 0
}
