package transcription

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nijaru/yt-mentions/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Service struct {
	WhisperPath string
	Model       string
	OutputDir   string
	Timeout     time.Duration

	ExecuteFunc  func(ctx context.Context, args []string) ([]byte, error)
	ReadFileFunc func(filename string) ([]byte, error)
}

func NewService(whisperPath, model, outputDir string, timeout time.Duration) *Service {
	s := &Service{
		WhisperPath:  whisperPath,
		Model:        model,
		OutputDir:    outputDir,
		Timeout:      timeout,
		ReadFileFunc: os.ReadFile,
	}
	s.ExecuteFunc = s.executeWhisper
	return s
}

// TranscribeAll runs whisper once over every path so the model is loaded a
// single time, then reads the JSON transcript written for each file. Files
// without a transcript are logged and left out of the result.
func (s *Service) TranscribeAll(ctx context.Context, paths []string) (map[string]*models.Transcript, error) {
	out := make(map[string]*models.Transcript, len(paths))
	if len(paths) == 0 {
		return out, nil
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	if err := os.MkdirAll(s.OutputDir, os.ModePerm); err != nil {
		return nil, errors.Wrap(err, "creating transcript directory")
	}

	logrus.WithFields(logrus.Fields{
		"files": len(paths),
		"model": s.Model,
	}).Info("Starting transcription")

	if _, err := s.executeWithRetry(ctx, s.args(paths)); err != nil {
		return nil, err
	}

	for _, path := range paths {
		transcript, err := s.readTranscript(transcriptPath(s.OutputDir, path))
		if err != nil {
			logrus.WithError(err).WithField("file", path).Warn("No transcript for file")
			continue
		}
		out[path] = transcript
	}

	logrus.WithField("transcribed", len(out)).Info("Transcription completed")
	return out, nil
}

func (s *Service) args(paths []string) []string {
	args := append([]string(nil), paths...)
	return append(args,
		"--model", s.Model,
		"--output_format", "json",
		"--output_dir", s.OutputDir,
		"--fp16", "False",
		"--verbose", "False",
	)
}

func (s *Service) executeWithRetry(ctx context.Context, args []string) ([]byte, error) {
	const (
		maxRetries     = 3
		initialBackoff = 2 * time.Second
		maxBackoff     = 30 * time.Second
		backoffFactor  = 2.0
	)

	var (
		output []byte
		err    error
	)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		output, err = s.ExecuteFunc(ctx, args)
		if err == nil {
			return output, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		logrus.WithFields(logrus.Fields{
			"attempt":    attempt,
			"maxRetries": maxRetries,
			"error":      err,
		}).Error("Whisper failed")

		if attempt == maxRetries {
			break
		}

		backoff := time.Duration(float64(initialBackoff) * math.Pow(backoffFactor, float64(attempt-1)))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		select {
		case <-time.After(backoff + time.Duration(rand.Int63n(int64(backoff/2)))):
		case <-ctx.Done():
			logrus.WithError(ctx.Err()).Error("Context cancelled during transcription")
			return nil, ctx.Err()
		}
	}

	return nil, errors.Wrapf(err, "transcribing after %d attempts", maxRetries)
}

func (s *Service) executeWhisper(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.WhisperPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, errors.Errorf("error executing whisper: %v, output: %s", err, lastLines(output, 5))
	}
	return output, nil
}

func (s *Service) readTranscript(filename string) (*models.Transcript, error) {
	data, err := s.ReadFileFunc(filename)
	if err != nil {
		return nil, errors.Wrap(err, "reading transcript")
	}
	var t models.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrapf(err, "decoding transcript %s", filename)
	}
	return &t, nil
}

// transcriptPath mirrors whisper's naming: the audio base name with its
// extension replaced by .json.
func transcriptPath(dir, audioPath string) string {
	base := filepath.Base(audioPath)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".json")
}

func lastLines(output []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
