package wave

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func TestCheckDurationBoundary(t *testing.T) {
	cases := []struct {
		duration float64
		max      float64
		ok       bool
	}{
		{299, 300, true},
		{300, 300, true}, // ceiling inclusive
		{300.1, 300, false},
		{301, 300, false},
		{0, 300, true},
	}
	for _, c := range cases {
		err := CheckDuration(c.duration, c.max)
		if c.ok && err != nil {
			t.Fatalf("CheckDuration(%v, %v): unexpected %v", c.duration, c.max, err)
		}
		if !c.ok {
			var derr *DurationExceededError
			if !errors.As(err, &derr) {
				t.Fatalf("CheckDuration(%v, %v): expected DurationExceededError, got %v", c.duration, c.max, err)
			}
			if derr.MaxSec != c.max {
				t.Fatalf("error does not name the ceiling: %+v", derr)
			}
		}
	}
}

// writeTestWAV writes a mono 16-bit sine at the given rate and returns the
// path.
func writeTestWAV(t *testing.T, sampleRate int, seconds float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	n := int(float64(sampleRate) * seconds)
	data := make([]int, n)
	for i := range data {
		data[i] = int(10000 * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate)))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func TestDecodeRoundTrip(t *testing.T) {
	path := writeTestWAV(t, 16000, 0.5)
	samples, sr, err := Decode(path)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sr != 16000 {
		t.Fatalf("sample rate got %d", sr)
	}
	if got := Duration(samples, sr); math.Abs(got-0.5) > 0.01 {
		t.Fatalf("duration got %v", got)
	}
	for _, s := range samples {
		if s < -1 || s > 1 {
			t.Fatalf("sample out of range: %v", s)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("not a riff header"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := Decode(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestAssetRemoveIdempotent(t *testing.T) {
	path := writeTestWAV(t, 16000, 0.1)
	a := &Asset{FilePath: path, SampleRate: 16000, Channels: 1}
	if err := a.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("asset file still present")
	}
	if err := a.Remove(); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}
