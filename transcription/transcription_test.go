package transcription

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleTranscript = `{
  "text": " Today we cover SQL joins. Then window functions.",
  "language": "en",
  "segments": [
    {"id": 0, "seek": 0, "start": 0.0, "end": 4.2, "text": " Today we cover SQL joins."},
    {"id": 1, "seek": 0, "start": 4.2, "end": 9.87, "text": " Then window functions."}
  ]
}`

func TestTranscribeAll(t *testing.T) {
	dir := t.TempDir()
	var gotArgs []string

	service := NewService("whisper", "base", dir, time.Minute)
	service.ExecuteFunc = func(ctx context.Context, args []string) ([]byte, error) {
		gotArgs = args
		return []byte("done"), nil
	}
	service.ReadFileFunc = func(filename string) ([]byte, error) {
		if filename == filepath.Join(dir, "SQL basics.json") {
			return []byte(sampleTranscript), nil
		}
		return nil, os.ErrNotExist
	}

	paths := []string{"/work/SQL basics.webm", "/work/missing.m4a"}
	got, err := service.TranscribeAll(context.Background(), paths)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 transcript, got %d", len(got))
	}
	tr := got["/work/SQL basics.webm"]
	if tr == nil {
		t.Fatal("expected transcript for SQL basics")
	}
	if len(tr.Segments) != 2 || tr.Segments[1].Start != 4.2 {
		t.Errorf("unexpected segments: %+v", tr.Segments)
	}
	if tr.Language != "en" {
		t.Errorf("expected language en, got %s", tr.Language)
	}

	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{
		"/work/SQL basics.webm",
		"/work/missing.m4a",
		"--model base",
		"--output_format json",
		"--output_dir " + dir,
		"--fp16 False",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected args to contain %q, got %q", want, joined)
		}
	}
}

func TestTranscribeAll_NoFiles(t *testing.T) {
	service := NewService("whisper", "base", t.TempDir(), time.Minute)
	service.ExecuteFunc = func(ctx context.Context, args []string) ([]byte, error) {
		t.Fatal("whisper should not run without files")
		return nil, nil
	}

	got, err := service.TranscribeAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no transcripts, got %d", len(got))
	}
}

func TestTranscribeAll_RetriesThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	calls := 0

	service := NewService("whisper", "base", dir, time.Minute)
	service.ExecuteFunc = func(ctx context.Context, args []string) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("CUDA out of memory")
		}
		return nil, nil
	}
	service.ReadFileFunc = func(filename string) ([]byte, error) {
		return []byte(sampleTranscript), nil
	}

	got, err := service.TranscribeAll(context.Background(), []string{"a.m4a"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if got["a.m4a"] == nil {
		t.Error("expected transcript after retry")
	}
}

func TestTranscribeAll_Cancelled(t *testing.T) {
	service := NewService("whisper", "base", t.TempDir(), time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	service.ExecuteFunc = func(ctx context.Context, args []string) ([]byte, error) {
		cancel()
		return nil, errors.New("killed")
	}

	_, err := service.TranscribeAll(ctx, []string{"a.m4a"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTranscriptPath(t *testing.T) {
	tests := []struct {
		audio string
		want  string
	}{
		{"/w/SQL basics.webm", "/out/SQL basics.json"},
		{"/w/v1.2 release.m4a", "/out/v1.2 release.json"},
		{"plain", "/out/plain.json"},
	}

	for _, tt := range tests {
		if got := transcriptPath("/out", tt.audio); got != tt.want {
			t.Errorf("transcriptPath(%q) = %q, want %q", tt.audio, got, tt.want)
		}
	}
}
