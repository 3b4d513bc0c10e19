package enrich

import "context"

// NoopTranscriber is a Transcriber that never produces text. It exists so a
// worker can run with audio extraction enabled and transcription disabled
// (e.g. no speech-to-text model configured) without a nil-interface check
// scattered through the enrichment path.
type NoopTranscriber struct{}

// Transcribe always returns an empty string and a nil error: the Video row
// is still created, just without transcription.
func (NoopTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	return "", nil
}
