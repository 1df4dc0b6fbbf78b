package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"drawl/internal/accent"
	"drawl/internal/acquire"
	"drawl/internal/config"
	"drawl/internal/llm"
	"drawl/internal/logging"
	"drawl/internal/source"
	"drawl/internal/toolrun"
	"drawl/internal/transcode"
	"drawl/internal/wave"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// copyRunner fakes ffmpeg by copying the input file to the output path,
// and fakes ffprobe by reporting a fixed duration.
type copyRunner struct {
	probeDur float64
	fail     bool
}

func (r *copyRunner) Run(ctx context.Context, name string, args ...string) (toolrun.Result, error) {
	if strings.Contains(name, "ffprobe") {
		return toolrun.Result{Stdout: fmt.Sprintf("%f\n", r.probeDur)}, nil
	}
	if r.fail {
		return toolrun.Result{Stderr: "Invalid data found", ExitCode: 1}, fmt.Errorf("exit status 1")
	}
	var in string
	for i, a := range args {
		if a == "-i" && i+1 < len(args) {
			in = args[i+1]
		}
	}
	out := args[len(args)-1]
	data, err := os.ReadFile(in)
	if err != nil {
		return toolrun.Result{Stderr: err.Error(), ExitCode: 1}, err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return toolrun.Result{Stderr: err.Error(), ExitCode: 1}, err
	}
	return toolrun.Result{}, nil
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeAnalyzer struct {
	verdict *llm.Verdict
	err     error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, transcript string, features map[string]any) (*llm.Verdict, error) {
	return f.verdict, f.err
}

func writeSineWAV(t *testing.T, dir string, seconds float64) string {
	t.Helper()
	path := filepath.Join(dir, "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	const rate = 16000
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	n := int(rate * seconds)
	data := make([]int, n)
	for i := range data {
		data[i] = int(10000 * math.Sin(2*math.Pi*220*float64(i)/rate))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
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

func testConfig(t *testing.T, workRoot string) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Paths.WorkDir = workRoot
	cfg.LLM.Enabled = false
	return cfg
}

// copyStrategy drops a prebuilt WAV into the acquisition workspace.
func copyStrategy(t *testing.T, src string, err error) acquire.Strategy {
	t.Helper()
	return acquire.Strategy{
		StrategyConfig: config.StrategyConfig{Name: "scripted", MaxAttempts: 1},
		Attempt: func(ctx context.Context, ref *source.Reference, workspace, userAgent string) (string, error) {
			if err != nil {
				return "", err
			}
			data, readErr := os.ReadFile(src)
			if readErr != nil {
				return "", readErr
			}
			dst := filepath.Join(workspace, "raw.wav")
			if writeErr := os.WriteFile(dst, data, 0o644); writeErr != nil {
				return "", writeErr
			}
			return dst, nil
		},
	}
}

func testPipeline(t *testing.T, cfg *config.Config, strat acquire.Strategy, tr *fakeTranscriber, an llm.Analyzer) *Pipeline {
	t.Helper()
	logger := logging.NewTestLogger()
	runner := &copyRunner{probeDur: 5}
	transcoder := transcode.NewWithRunner("ffmpeg", "ffprobe", time.Minute, runner, logger)
	cascade := acquire.NewCascade([]acquire.Strategy{strat}, cfg.Paths.WorkDir,
		cfg.Limits.MaxDurationSec, transcoder, logger)
	return &Pipeline{
		cfg:         cfg,
		cascade:     cascade,
		transcoder:  transcoder,
		transcriber: tr,
		analyzer:    an,
		scorer:      accent.NewScorer(accent.DefaultThresholds()),
		logger:      logger,
	}
}

func TestAnalyzeURLEndToEnd(t *testing.T) {
	workRoot := t.TempDir()
	cfg := testConfig(t, workRoot)
	src := writeSineWAV(t, t.TempDir(), 2)
	tr := &fakeTranscriber{text: "I love water and better weather in the United States."}
	p := testPipeline(t, cfg, copyStrategy(t, src, nil), tr, nil)

	report, err := p.AnalyzeURL(context.Background(), "https://youtube.com/watch?v=abc")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.RequestID == "" {
		t.Fatal("missing request id")
	}
	if report.Accent == nil || report.Accent.Label == "" {
		t.Fatalf("missing accent result: %+v", report)
	}
	if report.Summary == "" {
		t.Fatal("missing summary")
	}
	if report.Features == nil || report.Features.SampleRate != 16000 {
		t.Fatalf("features not extracted: %+v", report.Features)
	}
	if len(report.Acquisition) == 0 || !report.Acquisition[0].Success {
		t.Fatalf("acquisition outcomes not recorded: %+v", report.Acquisition)
	}
	if tr.calls != 1 {
		t.Fatalf("transcriber called %d times", tr.calls)
	}

	entries, readErr := os.ReadDir(workRoot)
	if readErr != nil {
		t.Fatalf("read workroot: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("workspace not cleaned up: %v", entries)
	}
}

func TestAnalyzeURLInvalidReference(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	p := testPipeline(t, cfg, copyStrategy(t, "", nil), &fakeTranscriber{}, nil)

	_, err := p.AnalyzeURL(context.Background(), "ftp://example.com/file.mp4")
	var verr *source.InvalidReferenceError
	if !errors.As(err, &verr) {
		t.Fatalf("expected InvalidReferenceError, got %v", err)
	}
}

func TestAnalyzeURLAcquisitionFailureCleansUp(t *testing.T) {
	workRoot := t.TempDir()
	cfg := testConfig(t, workRoot)
	strat := copyStrategy(t, "", fmt.Errorf("network unreachable"))
	p := testPipeline(t, cfg, strat, &fakeTranscriber{}, nil)

	_, err := p.AnalyzeURL(context.Background(), "https://youtube.com/watch?v=abc")
	var ferr *acquire.FailedError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected FailedError, got %v", err)
	}

	entries, readErr := os.ReadDir(workRoot)
	if readErr != nil {
		t.Fatalf("read workroot: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("workspace leaked after failure: %v", entries)
	}
}

func TestAnalyzeURLTranscriptionFailureCleansUp(t *testing.T) {
	workRoot := t.TempDir()
	cfg := testConfig(t, workRoot)
	src := writeSineWAV(t, t.TempDir(), 2)
	tr := &fakeTranscriber{err: fmt.Errorf("model not found")}
	p := testPipeline(t, cfg, copyStrategy(t, src, nil), tr, nil)

	_, err := p.AnalyzeURL(context.Background(), "https://youtube.com/watch?v=abc")
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("transcription error not propagated: %v", err)
	}

	entries, readErr := os.ReadDir(workRoot)
	if readErr != nil {
		t.Fatalf("read workroot: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("workspace leaked after failure: %v", entries)
	}
}

func TestAnalyzeURLDecodedDurationGuard(t *testing.T) {
	workRoot := t.TempDir()
	cfg := testConfig(t, workRoot)
	cfg.Limits.MaxDurationSec = 1
	src := writeSineWAV(t, t.TempDir(), 2)
	p := testPipeline(t, cfg, copyStrategy(t, src, nil), &fakeTranscriber{}, nil)
	// Metadata probe reports under the ceiling, so only the decoded
	// length check can catch it.
	p.transcoder = transcode.NewWithRunner("ffmpeg", "ffprobe", time.Minute,
		&copyRunner{probeDur: 0.5}, logging.NewTestLogger())
	p.cascade = acquire.NewCascade([]acquire.Strategy{copyStrategy(t, src, nil)},
		workRoot, cfg.Limits.MaxDurationSec, p.transcoder, logging.NewTestLogger())

	_, err := p.AnalyzeURL(context.Background(), "https://youtube.com/watch?v=abc")
	var derr *wave.DurationExceededError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DurationExceededError, got %v", err)
	}

	entries, readErr := os.ReadDir(workRoot)
	if readErr != nil {
		t.Fatalf("read workroot: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("workspace leaked after duration abort: %v", entries)
	}
}

func TestAnalyzeUploadEndToEnd(t *testing.T) {
	workRoot := t.TempDir()
	cfg := testConfig(t, workRoot)
	src := writeSineWAV(t, t.TempDir(), 2)
	tr := &fakeTranscriber{text: "lovely weather in the garden, brilliant"}
	p := testPipeline(t, cfg, copyStrategy(t, src, nil), tr, nil)

	f, err := os.Open(src)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	report, analyzeErr := p.AnalyzeUpload(context.Background(), "my clip.wav", f)
	if analyzeErr != nil {
		t.Fatalf("analyze upload: %v", analyzeErr)
	}
	if report.Accent == nil {
		t.Fatal("missing accent result")
	}
	if len(report.Acquisition) != 0 {
		t.Fatalf("upload must bypass the cascade: %+v", report.Acquisition)
	}

	entries, readErr := os.ReadDir(workRoot)
	if readErr != nil {
		t.Fatalf("read workroot: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("upload workspace leaked: %v", entries)
	}
}

func TestAnalyzeUploadRejectsUnsupportedExtension(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	p := testPipeline(t, cfg, copyStrategy(t, "", nil), &fakeTranscriber{}, nil)

	_, err := p.AnalyzeUpload(context.Background(), "notes.txt", strings.NewReader("hello"))
	var verr *source.InvalidReferenceError
	if !errors.As(err, &verr) {
		t.Fatalf("expected InvalidReferenceError, got %v", err)
	}
}

func TestAnalyzeURLWithLLMVerdict(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	src := writeSineWAV(t, t.TempDir(), 2)
	an := &fakeAnalyzer{verdict: &llm.Verdict{Accent: "British", Confidence: 72, Explanation: "non-rhotic"}}
	p := testPipeline(t, cfg, copyStrategy(t, src, nil), &fakeTranscriber{text: "brilliant"}, an)

	report, err := p.AnalyzeURL(context.Background(), "https://youtube.com/watch?v=abc")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.LLM == nil || report.LLM.Accent != "British" {
		t.Fatalf("llm verdict not attached: %+v", report.LLM)
	}
}

func TestAnalyzeURLLLMErrorPropagates(t *testing.T) {
	workRoot := t.TempDir()
	cfg := testConfig(t, workRoot)
	src := writeSineWAV(t, t.TempDir(), 2)
	an := &fakeAnalyzer{err: &llm.Error{Kind: llm.KindRateLimit, Message: "quota exceeded"}}
	p := testPipeline(t, cfg, copyStrategy(t, src, nil), &fakeTranscriber{text: "hi"}, an)

	_, err := p.AnalyzeURL(context.Background(), "https://youtube.com/watch?v=abc")
	var lerr *llm.Error
	if !errors.As(err, &lerr) || lerr.Kind != llm.KindRateLimit {
		t.Fatalf("expected llm rate limit error, got %v", err)
	}

	entries, readErr := os.ReadDir(workRoot)
	if readErr != nil {
		t.Fatalf("read workroot: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("workspace leaked after llm failure: %v", entries)
	}
}

func TestNewRejectsEnabledLLMWithoutKey(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.LLM.Enabled = true
	cfg.LLM.APIKey = ""
	_, err := New(cfg, logging.NewTestLogger())
	if err == nil {
		t.Fatal("expected configuration error")
	}
}
