// Package transcribe converts a canonical audio asset into text. The core
// pipeline treats it as an opaque collaborator: audio path in, transcript
// out.
package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"drawl/internal/toolrun"

	"github.com/sirupsen/logrus"
)

// Transcriber converts an audio file into a plain transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Error reports a failed transcription. It propagates unchanged through
// the pipeline.
type Error struct {
	Message string
	Stderr  string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcription failed: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Whisper runs a whisper.cpp CLI binary as a subprocess. It is constructed
// once at process start and passed by reference to request handlers; there
// is no process-wide model state.
type Whisper struct {
	binPath   string
	modelPath string
	language  string
	timeout   time.Duration
	runner    toolrun.Runner
	logger    *logrus.Logger
}

// NewWhisper constructs the subprocess transcriber.
func NewWhisper(binPath, modelPath, language string, timeout time.Duration, logger *logrus.Logger) *Whisper {
	return &Whisper{
		binPath:   binPath,
		modelPath: modelPath,
		language:  language,
		timeout:   timeout,
		runner:    &toolrun.ExecRunner{},
		logger:    logger,
	}
}

// NewWhisperWithRunner constructs a transcriber with an injectable runner
// for tests.
func NewWhisperWithRunner(binPath, modelPath, language string, timeout time.Duration, runner toolrun.Runner, logger *logrus.Logger) *Whisper {
	w := NewWhisper(binPath, modelPath, language, timeout, logger)
	w.runner = runner
	return w
}

// Transcribe runs whisper on the audio file and returns the trimmed
// transcript text. An empty transcript is an error: downstream scoring
// needs speech.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	outBase := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	args := buildWhisperArgs(w.modelPath, audioPath, outBase, w.language)

	res, runErr := w.runner.Run(ctx, w.binPath, args...)
	if runErr != nil {
		return "", &Error{
			Message: "whisper subprocess failed",
			Stderr:  res.Stderr,
			Err:     runErr,
		}
	}

	textPath := outBase + ".txt"
	content, err := os.ReadFile(textPath)
	if err != nil {
		return "", &Error{
			Message: "whisper completed but transcript file is missing",
			Stderr:  res.Stderr,
			Err:     err,
		}
	}
	defer func() {
		if err := os.Remove(textPath); err != nil {
			w.logger.Warnf("remove transcript file: %v", err)
		}
	}()

	transcript := strings.TrimSpace(string(content))
	if transcript == "" {
		return "", &Error{Message: "no speech detected in the audio"}
	}
	w.logger.WithField("chars", len(transcript)).Debug("transcription complete")
	return transcript, nil
}

// buildWhisperArgs builds whisper.cpp CLI args for txt transcript export.
func buildWhisperArgs(modelPath, audioPath, outBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-otxt",
	}
	if lang := strings.TrimSpace(language); lang != "" && !strings.EqualFold(lang, "auto") {
		args = append(args, "-l", lang)
	}
	return args
}
