// Package pipeline wires acquisition, transcoding, feature extraction,
// transcription and scoring into one end-to-end analysis run.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"drawl/internal/accent"
	"drawl/internal/acquire"
	"drawl/internal/config"
	"drawl/internal/features"
	"drawl/internal/llm"
	"drawl/internal/source"
	"drawl/internal/toolrun"
	"drawl/internal/transcode"
	"drawl/internal/transcribe"
	"drawl/internal/wave"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const canonicalName = "canonical.wav"

// Report is the final artifact of one analysis run.
type Report struct {
	RequestID   string            `json:"requestId"`
	CreatedAt   time.Time         `json:"createdAt"`
	Source      string            `json:"source"`
	Accent      *accent.Result    `json:"accent"`
	Summary     string            `json:"summary"`
	Features    *features.Vector  `json:"features"`
	LLM         *llm.Verdict      `json:"llmVerdict,omitempty"`
	Acquisition []acquire.Outcome `json:"acquisition,omitempty"`
	DurationSec float64           `json:"durationSec"`
	ElapsedMS   int64             `json:"elapsedMs"`
}

// Pipeline runs the full analysis flow. Safe for concurrent use.
type Pipeline struct {
	cfg         *config.Config
	cascade     *acquire.Cascade
	transcoder  *transcode.Transcoder
	transcriber transcribe.Transcriber
	analyzer    llm.Analyzer
	scorer      *accent.Scorer
	logger      *logrus.Logger
}

// New assembles a pipeline from config. The LLM collaborator is only
// attached when enabled, and an enabled LLM without an API key is a
// configuration error rather than a runtime surprise.
func New(cfg *config.Config, logger *logrus.Logger) (*Pipeline, error) {
	runner := &toolrun.ExecRunner{}
	toolTimeout := time.Duration(cfg.Tools.TimeoutSec * float64(time.Second))

	transcoder := transcode.New(cfg.Tools.FFmpegPath, cfg.Tools.FFprobePath, toolTimeout, logger)

	strategies, err := acquire.BuildStrategies(cfg.Acquire.Strategies, cfg.Tools.YtdlpPath, runner, &http.Client{})
	if err != nil {
		return nil, err
	}
	cascade := acquire.NewCascade(strategies, cfg.Paths.WorkDir, cfg.Limits.MaxDurationSec, transcoder, logger)

	transcriber := transcribe.NewWhisper(
		cfg.Transcribe.WhisperPath, cfg.Transcribe.ModelPath, cfg.Transcribe.Language,
		time.Duration(cfg.Transcribe.TimeoutSec*float64(time.Second)), logger)

	var analyzer llm.Analyzer
	if cfg.LLM.Enabled {
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("llm is enabled but no API key is configured")
		}
		analyzer = llm.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.Model,
			time.Duration(cfg.LLM.TimeoutSec*float64(time.Second)), logger)
	}

	return &Pipeline{
		cfg:         cfg,
		cascade:     cascade,
		transcoder:  transcoder,
		transcriber: transcriber,
		analyzer:    analyzer,
		scorer:      accent.NewScorer(thresholdsFrom(cfg)),
		logger:      logger,
	}, nil
}

func thresholdsFrom(cfg *config.Config) accent.Thresholds {
	return accent.Thresholds{
		AmericanCentroidHz:    cfg.Scoring.AmericanCentroidHz,
		BritishPitchHz:        cfg.Scoring.BritishPitchHz,
		AustralianTempoBPM:    cfg.Scoring.AustralianTempoBPM,
		CanadianCentroidLowHz: cfg.Scoring.CanadianCentroidLowHz,
		CanadianCentroidHiHz:  cfg.Scoring.CanadianCentroidHiHz,
		IndianTempoBPM:        cfg.Scoring.IndianTempoBPM,
	}
}

// AnalyzeURL runs the full flow for a remote reference. The acquisition
// workspace, including every intermediate file, is removed before return
// on every path.
func (p *Pipeline) AnalyzeURL(ctx context.Context, rawURL string) (*Report, error) {
	start := time.Now()
	ref, err := source.Validate(rawURL, p.cfg.Source.Platforms, p.cfg.Source.Extensions)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	log := p.logger.WithField("requestId", requestID)
	log.WithField("source", ref.Raw).Info("analysis started")

	res, err := p.cascade.Acquire(ctx, ref, requestID, p.finalize)
	if err != nil {
		return nil, err
	}
	defer p.removeWorkspace(res.Workspace, log)

	report, err := p.analyzeCanonical(ctx, requestID, res.FinalPath, ref.Raw)
	if err != nil {
		return nil, err
	}
	report.Acquisition = res.Outcomes
	report.ElapsedMS = time.Since(start).Milliseconds()
	log.WithField("accent", report.Accent.Label).Info("analysis finished")
	return report, nil
}

// AnalyzeFile runs the flow for a local media file, bypassing the
// acquisition cascade. The input file itself is left untouched.
func (p *Pipeline) AnalyzeFile(ctx context.Context, path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return p.AnalyzeUpload(ctx, filepath.Base(path), f)
}

// AnalyzeUpload runs the flow for uploaded media content.
func (p *Pipeline) AnalyzeUpload(ctx context.Context, filename string, r io.Reader) (*Report, error) {
	start := time.Now()
	ref, err := source.ValidateUpload(filename, p.cfg.Source.Platforms, p.cfg.Source.Extensions)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	log := p.logger.WithField("requestId", requestID)
	log.WithField("filename", ref.Raw).Info("upload analysis started")

	workspace, err := os.MkdirTemp(p.cfg.Paths.WorkDir, "drawl-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer p.removeWorkspace(workspace, log)

	// The raw name must not collide with the transcoder output name.
	rawPath := filepath.Join(workspace, "raw-"+source.SanitizeFilename(filename))
	if err := writeUpload(rawPath, r); err != nil {
		return nil, err
	}

	if p.cfg.Limits.MaxDurationSec > 0 {
		dur, probeErr := p.transcoder.ProbeDuration(ctx, rawPath)
		if probeErr == nil && dur > 0 {
			if guardErr := wave.CheckDuration(dur, p.cfg.Limits.MaxDurationSec); guardErr != nil {
				return nil, guardErr
			}
		}
	}

	canonical, err := p.finalize(ctx, rawPath, workspace)
	if err != nil {
		return nil, err
	}

	report, err := p.analyzeCanonical(ctx, requestID, canonical, ref.Raw)
	if err != nil {
		return nil, err
	}
	report.ElapsedMS = time.Since(start).Milliseconds()
	log.WithField("accent", report.Accent.Label).Info("upload analysis finished")
	return report, nil
}

// finalize transcodes a freshly acquired raw file into the canonical
// 16 kHz mono WAV inside the same workspace.
func (p *Pipeline) finalize(ctx context.Context, rawPath, workspace string) (string, error) {
	out := filepath.Join(workspace, canonicalName)
	if err := p.transcoder.ToCanonicalWAV(ctx, rawPath, out); err != nil {
		return "", err
	}
	return out, nil
}

type transcriptOut struct {
	text string
	err  error
}

// analyzeCanonical derives features and transcript from the canonical
// WAV, then scores. Transcription runs concurrently with extraction since
// neither depends on the other.
func (p *Pipeline) analyzeCanonical(ctx context.Context, requestID, canonical, src string) (*Report, error) {
	samples, rate, err := wave.Decode(canonical)
	if err != nil {
		return nil, err
	}

	// Decoded length is authoritative; container metadata can lie.
	dur := wave.Duration(samples, rate)
	if p.cfg.Limits.MaxDurationSec > 0 {
		if err := wave.CheckDuration(dur, p.cfg.Limits.MaxDurationSec); err != nil {
			return nil, err
		}
	}

	asset := &wave.Asset{
		FilePath:        canonical,
		SampleRate:      rate,
		Channels:        transcode.CanonicalChannels,
		DurationSeconds: dur,
	}
	defer asset.Remove()

	ch := make(chan transcriptOut, 1)
	go func() {
		text, terr := p.transcriber.Transcribe(ctx, canonical)
		ch <- transcriptOut{text: text, err: terr}
	}()

	vec, featErr := features.Extract(samples, rate, canonical)
	tr := <-ch
	if featErr != nil {
		return nil, featErr
	}
	if tr.err != nil {
		return nil, tr.err
	}

	result := p.scorer.Score(tr.text, vec)

	report := &Report{
		RequestID:   requestID,
		CreatedAt:   time.Now().UTC(),
		Source:      src,
		Accent:      result,
		Summary:     accent.Summary(result.Label, result.Confidence),
		Features:    vec,
		DurationSec: dur,
	}

	if p.analyzer != nil {
		verdict, err := p.analyzer.Analyze(ctx, tr.text, vec.FlatMap())
		if err != nil {
			return nil, err
		}
		report.LLM = verdict
	}

	return report, nil
}

func writeUpload(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (p *Pipeline) removeWorkspace(dir string, log *logrus.Entry) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Warnf("remove workspace %s: %v", dir, err)
	}
}
