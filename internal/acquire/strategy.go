package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"drawl/internal/config"
	"drawl/internal/source"
	"drawl/internal/toolrun"

	"github.com/google/shlex"
)

// AttemptFunc performs one acquisition attempt. It downloads into the
// given workspace and returns the raw media path. Any error it returns is
// recoverable: the cascade retries or moves to the next strategy.
type AttemptFunc func(ctx context.Context, ref *source.Reference, workspace, userAgent string) (string, error)

// Strategy is one named acquisition method. Strategies are stateless and
// data-driven: the policy lives in the config, the behavior in Attempt.
type Strategy struct {
	config.StrategyConfig
	Attempt AttemptFunc
}

// userAgentFor rotates through the strategy's pool so retries vary only
// client identity, never the target reference.
func (s *Strategy) userAgentFor(attempt int) string {
	if len(s.UserAgents) == 0 {
		return ""
	}
	return s.UserAgents[(attempt-1)%len(s.UserAgents)]
}

// toolbox bundles the external collaborators strategies need.
type toolbox struct {
	ytdlpPath string
	runner    toolrun.Runner
	client    *http.Client
}

// BuildStrategies maps configured strategy names onto their attempt
// implementations, preserving config order as cascade priority.
func BuildStrategies(cfgs []config.StrategyConfig, ytdlpPath string, runner toolrun.Runner, client *http.Client) ([]Strategy, error) {
	tb := &toolbox{ytdlpPath: ytdlpPath, runner: runner, client: client}
	out := make([]Strategy, 0, len(cfgs))
	for _, sc := range cfgs {
		var attempt AttemptFunc
		switch sc.Name {
		case "ytdlp-audio":
			attempt = tb.ytdlpAudio(sc)
		case "ytdlp-client-rotate":
			attempt = tb.ytdlpClientRotate(sc)
		case "direct-download":
			attempt = tb.directDownload()
		case "ytdlp-simple":
			attempt = tb.ytdlpSimple(sc)
		default:
			return nil, fmt.Errorf("unknown acquisition strategy %q", sc.Name)
		}
		out = append(out, Strategy{StrategyConfig: sc, Attempt: attempt})
	}
	return out, nil
}

// ytdlpAudio is the native extractor: bestaudio with a WAV postprocessing
// pass, so the raw media is already close to canonical.
func (tb *toolbox) ytdlpAudio(sc config.StrategyConfig) AttemptFunc {
	return func(ctx context.Context, ref *source.Reference, workspace, userAgent string) (string, error) {
		args := []string{
			"--no-playlist",
			"--quiet", "--no-warnings",
			"-f", "bestaudio/best",
			"-x", "--audio-format", "wav",
			"--retries", "5",
			"--fragment-retries", "5",
			"--socket-timeout", "30",
			"-o", filepath.Join(workspace, "%(title)s.%(ext)s"),
		}
		args = appendUserAgent(args, userAgent)
		args, err := appendExtraArgs(args, sc.ExtraArgs)
		if err != nil {
			return "", err
		}
		args = append(args, ref.Raw)
		return tb.runYtdlp(ctx, workspace, args)
	}
}

// ytdlpClientRotate is the alternate extractor: it asks the platform for
// formats through a different client identity, which often dodges
// throttling applied to the default web client.
func (tb *toolbox) ytdlpClientRotate(sc config.StrategyConfig) AttemptFunc {
	return func(ctx context.Context, ref *source.Reference, workspace, userAgent string) (string, error) {
		args := []string{
			"--no-playlist",
			"--quiet", "--no-warnings",
			"-f", "bestaudio/best",
			"--extractor-args", "youtube:player_client=android,web",
			"--socket-timeout", "30",
			"-o", filepath.Join(workspace, "media.%(ext)s"),
		}
		args = appendUserAgent(args, userAgent)
		args, err := appendExtraArgs(args, sc.ExtraArgs)
		if err != nil {
			return "", err
		}
		args = append(args, ref.Raw)
		return tb.runYtdlp(ctx, workspace, args)
	}
}

// ytdlpSimple is the last-resort single-pass download: best muxed format,
// no postprocessing, fewest moving parts.
func (tb *toolbox) ytdlpSimple(sc config.StrategyConfig) AttemptFunc {
	return func(ctx context.Context, ref *source.Reference, workspace, userAgent string) (string, error) {
		args := []string{
			"--no-playlist",
			"--quiet", "--no-warnings",
			"-f", "best",
			"-o", filepath.Join(workspace, "media.%(ext)s"),
		}
		args = appendUserAgent(args, userAgent)
		args, err := appendExtraArgs(args, sc.ExtraArgs)
		if err != nil {
			return "", err
		}
		args = append(args, ref.Raw)
		return tb.runYtdlp(ctx, workspace, args)
	}
}

func (tb *toolbox) runYtdlp(ctx context.Context, workspace string, args []string) (string, error) {
	res, err := tb.runner.Run(ctx, tb.ytdlpPath, args...)
	if err != nil {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("yt-dlp: %s", firstLine(detail))
	}
	return newestMediaFile(workspace)
}

// directDownload fetches a direct media URL over plain HTTP. It refuses
// platform URLs: those need an extractor, and failing fast here keeps the
// cascade moving.
func (tb *toolbox) directDownload() AttemptFunc {
	return func(ctx context.Context, ref *source.Reference, workspace, userAgent string) (string, error) {
		if ref.Kind != source.KindDirectURL {
			return "", fmt.Errorf("not a direct media URL")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.Raw, nil)
		if err != nil {
			return "", err
		}
		if userAgent != "" {
			req.Header.Set("User-Agent", userAgent)
		}
		resp, err := tb.client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("download: unexpected status %s", resp.Status)
		}

		name := source.SanitizeFilename(filepath.Base(ref.URL.Path))
		if name == "" || name == "." {
			name = "download.bin"
		}
		dst := filepath.Join(workspace, name)
		f, err := os.Create(dst)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			f.Close()
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return dst, nil
	}
}

func appendUserAgent(args []string, userAgent string) []string {
	if userAgent == "" {
		return args
	}
	return append(args, "--user-agent", userAgent)
}

func appendExtraArgs(args []string, extra string) ([]string, error) {
	if strings.TrimSpace(extra) == "" {
		return args, nil
	}
	parsed, err := shlex.Split(extra)
	if err != nil {
		return nil, fmt.Errorf("parse extra_args: %w", err)
	}
	return append(args, parsed...), nil
}

// newestMediaFile returns the most recently modified regular file in the
// workspace. yt-dlp names output after the media title, so the exact name
// is not known up front.
func newestMediaFile(workspace string) (string, error) {
	entries, err := os.ReadDir(workspace)
	if err != nil {
		return "", err
	}
	var newest string
	var newestMod int64 = -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); mod > newestMod {
			newestMod = mod
			newest = filepath.Join(workspace, e.Name())
		}
	}
	if newest == "" {
		return "", fmt.Errorf("download completed but no media file found in workspace")
	}
	return newest, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
