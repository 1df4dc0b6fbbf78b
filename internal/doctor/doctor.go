package doctor

import (
	"os"
	"os/exec"
	"strings"

	"drawl/internal/config"
)

// Result represents a diagnostic check.
type Result struct {
	Name   string
	Pass   bool
	Detail string
}

// Run executes doctor checks.
func Run(cfg *config.Config) []Result {
	results := []Result{
		checkFile("config path", cfg.Paths.ConfigPath),
		checkTool("yt-dlp", cfg.Tools.YtdlpPath),
		checkTool("ffmpeg", cfg.Tools.FFmpegPath),
		checkTool("ffprobe", cfg.Tools.FFprobePath),
		checkTool("whisper", cfg.Transcribe.WhisperPath),
		checkFile("whisper model", cfg.Transcribe.ModelPath),
	}
	results = append(results, checkLLM(cfg))
	return results
}

func checkFile(label, path string) Result {
	if path == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	if _, err := os.Stat(os.ExpandEnv(path)); err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: path}
}

func checkTool(label, bin string) Result {
	if bin == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	path := os.ExpandEnv(bin)
	// If contains a path separator, treat as explicit path.
	if strings.Contains(path, "/") || strings.Contains(path, "\\") {
		info, err := os.Stat(path)
		if err != nil {
			return Result{Name: label, Pass: false, Detail: err.Error()}
		}
		if info.IsDir() {
			return Result{Name: label, Pass: false, Detail: "is a directory"}
		}
		if info.Mode().Perm()&0o111 == 0 {
			return Result{Name: label, Pass: false, Detail: "not executable; chmod +x or choose another binary"}
		}
		return Result{Name: label, Pass: true, Detail: path}
	}
	// Else search PATH.
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: resolved}
}

func checkLLM(cfg *config.Config) Result {
	if !cfg.LLM.Enabled {
		return Result{Name: "llm", Pass: true, Detail: "disabled"}
	}
	if cfg.LLM.APIKey == "" {
		return Result{Name: "llm", Pass: false, Detail: "enabled but no API key set (DRAWL_OPENAI_API_KEY)"}
	}
	return Result{Name: "llm", Pass: true, Detail: "api key present, model " + cfg.LLM.Model}
}
