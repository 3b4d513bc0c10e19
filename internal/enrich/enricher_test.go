package enrich

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	calls atomic.Int32
	err   error
	write string
}

func (f *fakeExtractor) Extract(ctx context.Context, url, dest string) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	content := f.write
	if content == "" {
		content = "audio-bytes"
	}
	return os.WriteFile(dest, []byte(content), 0o644)
}

type fakeTranscriber struct {
	calls atomic.Int32
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func TestEnrichExtractsAndTranscribes(t *testing.T) {
	dir := t.TempDir()
	extractor := &fakeExtractor{}
	transcriber := &fakeTranscriber{text: "hello world"}
	e := New(extractor, transcriber, dir, 2)

	result := e.Enrich(context.Background(), "abc123", "https://example.test/media/abc123")

	assert.Equal(t, filepath.Join(dir, "abc123.mp3"), result.AudioPath)
	assert.Equal(t, "hello world", result.Transcription)
	assert.Equal(t, int32(1), extractor.calls.Load())
	assert.Equal(t, int32(1), transcriber.calls.Load())
}

func TestEnrichSkipsExtractionWhenFileAlreadyNonEmpty(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "abc123.mp3")
	require.NoError(t, os.WriteFile(dest, []byte("existing"), 0o644))

	extractor := &fakeExtractor{}
	transcriber := &fakeTranscriber{text: "text"}
	e := New(extractor, transcriber, dir, 2)

	result := e.Enrich(context.Background(), "abc123", "https://example.test/media/abc123")

	assert.Equal(t, dest, result.AudioPath)
	assert.Equal(t, int32(0), extractor.calls.Load())
	assert.Equal(t, int32(1), transcriber.calls.Load())
}

func TestEnrichToleratesExtractionFailure(t *testing.T) {
	dir := t.TempDir()
	extractor := &fakeExtractor{err: errors.New("network unreachable")}
	transcriber := &fakeTranscriber{text: "unused"}
	e := New(extractor, transcriber, dir, 2)

	result := e.Enrich(context.Background(), "abc123", "https://example.test/media/abc123")

	assert.Empty(t, result.AudioPath)
	assert.Empty(t, result.Transcription)
	assert.Equal(t, int32(0), transcriber.calls.Load())
}

func TestEnrichToleratesTranscriptionFailure(t *testing.T) {
	dir := t.TempDir()
	extractor := &fakeExtractor{}
	transcriber := &fakeTranscriber{err: errors.New("model unavailable")}
	e := New(extractor, transcriber, dir, 2)

	result := e.Enrich(context.Background(), "abc123", "https://example.test/media/abc123")

	assert.NotEmpty(t, result.AudioPath)
	assert.Empty(t, result.Transcription)
}

func TestEnrichRetriesTranscriptionWhenPreviouslyMissing(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "abc123.mp3")
	require.NoError(t, os.WriteFile(dest, []byte("existing-audio"), 0o644))

	extractor := &fakeExtractor{}
	transcriber := &fakeTranscriber{text: "second attempt succeeds"}
	e := New(extractor, transcriber, dir, 2)

	result := e.Enrich(context.Background(), "abc123", "https://example.test/media/abc123")

	assert.Equal(t, int32(0), extractor.calls.Load())
	assert.Equal(t, "second attempt succeeds", result.Transcription)
}

func TestEnrichWithNoopTranscriberLeavesTranscriptionEmpty(t *testing.T) {
	dir := t.TempDir()
	extractor := &fakeExtractor{}
	e := New(extractor, NoopTranscriber{}, dir, 2)

	result := e.Enrich(context.Background(), "abc123", "https://example.test/media/abc123")

	assert.NotEmpty(t, result.AudioPath)
	assert.Empty(t, result.Transcription)
}
