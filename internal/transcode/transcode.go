// Package transcode normalizes arbitrary media files into the canonical
// mono 16 kHz 16-bit PCM waveform using ffmpeg as a black-box subprocess.
package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"drawl/internal/toolrun"

	"github.com/sirupsen/logrus"
)

const (
	// CanonicalSampleRate and CanonicalChannels define the waveform format
	// every downstream consumer reads.
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
)

// Error reports a failed ffmpeg invocation. Stderr carries the tool's
// diagnostic stream for troubleshooting.
type Error struct {
	Input    string
	Message  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("transcode %s: %s (exit=%d)", filepath.Base(e.Input), e.Message, e.ExitCode)
	}
	return fmt.Sprintf("transcode %s: %s", filepath.Base(e.Input), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Transcoder converts acquired media into the canonical waveform.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
	runner      toolrun.Runner
	logger      *logrus.Logger
}

// New constructs a Transcoder using the configured tool paths.
func New(ffmpegPath, ffprobePath string, timeout time.Duration, logger *logrus.Logger) *Transcoder {
	return &Transcoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		timeout:     timeout,
		runner:      &toolrun.ExecRunner{},
		logger:      logger,
	}
}

// NewWithRunner constructs a Transcoder with an injectable runner for tests.
func NewWithRunner(ffmpegPath, ffprobePath string, timeout time.Duration, runner toolrun.Runner, logger *logrus.Logger) *Transcoder {
	t := New(ffmpegPath, ffprobePath, timeout, logger)
	t.runner = runner
	return t
}

// ToCanonicalWAV converts inputPath into a mono 16 kHz PCM16 WAV at
// outPath. Re-running on the same input yields byte-equivalent output.
func (t *Transcoder) ToCanonicalWAV(ctx context.Context, inputPath, outPath string) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	args := buildFFmpegArgs(inputPath, outPath)
	res, runErr := t.runner.Run(ctx, t.ffmpegPath, args...)
	if runErr != nil {
		return &Error{
			Input:    inputPath,
			Message:  "ffmpeg audio conversion failed",
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			Err:      runErr,
		}
	}
	if _, err := os.Stat(outPath); err != nil {
		return &Error{
			Input:   inputPath,
			Message: "ffmpeg completed but output file is missing",
			Stderr:  res.Stderr,
			Err:     err,
		}
	}
	t.logger.WithFields(logrus.Fields{
		"input":   filepath.Base(inputPath),
		"elapsed": res.Elapsed.Round(time.Millisecond),
	}).Debug("transcoded to canonical waveform")
	return nil
}

// ProbeDuration asks ffprobe for the container-reported duration of a
// media file. It returns 0 when the duration is unknown; the caller must
// recheck the decoded waveform length in that case.
func (t *Transcoder) ProbeDuration(ctx context.Context, inputPath string) (float64, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	}
	res, err := t.runner.Run(ctx, t.ffprobePath, args...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", filepath.Base(inputPath), err)
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" || out == "N/A" {
		return 0, nil
	}
	dur, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, nil
	}
	return dur, nil
}

// buildFFmpegArgs builds CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", strconv.Itoa(CanonicalChannels),
		"-ar", strconv.Itoa(CanonicalSampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	}
}
