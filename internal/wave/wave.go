// Package wave owns the canonical audio asset: decoding, duration policy,
// and lifecycle.
package wave

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// Asset is the normalized mono 16 kHz PCM waveform every downstream
// consumer reads. It is owned exclusively by the pipeline invocation that
// created it and must be deleted on every exit path.
type Asset struct {
	FilePath        string  `json:"filePath"`
	SampleRate      int     `json:"sampleRate"`
	Channels        int     `json:"channels"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Remove deletes the asset file. Missing files are not an error; cleanup
// runs on every exit path and may race a prior removal of the enclosing
// workspace.
func (a *Asset) Remove() error {
	if a == nil || a.FilePath == "" {
		return nil
	}
	if err := os.Remove(a.FilePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DurationExceededError reports an asset longer than the configured
// ceiling.
type DurationExceededError struct {
	DurationSec float64
	MaxSec      float64
}

func (e *DurationExceededError) Error() string {
	return fmt.Sprintf("media duration %.1fs exceeds the %.0fs maximum", e.DurationSec, e.MaxSec)
}

// CheckDuration is the duration guard: a pure predicate rejecting any
// duration strictly above maxSec. The ceiling itself is accepted.
func CheckDuration(durationSec, maxSec float64) error {
	if durationSec > maxSec {
		return &DurationExceededError{DurationSec: durationSec, MaxSec: maxSec}
	}
	return nil
}

// Decode reads a WAV file and returns its samples as float64 in [-1, 1]
// at the file's native sample rate. Multi-channel audio is averaged down
// to mono.
func Decode(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, 0, fmt.Errorf("decode wav: empty waveform")
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float64(int64(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float64(channels)
	}
	return samples, buf.Format.SampleRate, nil
}

// Duration returns the length in seconds of a decoded waveform.
func Duration(samples []float64, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(samples)) / float64(sampleRate)
}
