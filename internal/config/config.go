package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultMaxDurationSec = 300
	defaultListenAddr     = "127.0.0.1:8316"
	defaultStateDirLinux  = ".local/state/drawl"
	defaultConfigDir      = ".config/drawl"
)

// StrategyConfig holds the retry and timeout policy for one acquisition
// strategy. Order in the Strategies slice is the cascade priority order.
type StrategyConfig struct {
	Name          string   `toml:"name"`
	MaxAttempts   int      `toml:"max_attempts"`
	TimeoutSec    float64  `toml:"timeout_sec"`
	UserAgents    []string `toml:"user_agents"`
	ExtraArgs     string   `toml:"extra_args"`
	RetryDelaySec float64  `toml:"retry_delay_sec"`
}

// Config holds user configuration loaded from TOML.
type Config struct {
	Source struct {
		Platforms  []string `toml:"platforms"`
		Extensions []string `toml:"extensions"`
	} `toml:"source"`

	Acquire struct {
		Strategies []StrategyConfig `toml:"strategies"`
	} `toml:"acquire"`

	Limits struct {
		MaxDurationSec float64 `toml:"max_duration_sec"`
	} `toml:"limits"`

	Tools struct {
		YtdlpPath   string  `toml:"ytdlp_path"`
		FFmpegPath  string  `toml:"ffmpeg_path"`
		FFprobePath string  `toml:"ffprobe_path"`
		TimeoutSec  float64 `toml:"timeout_sec"`
	} `toml:"tools"`

	Transcribe struct {
		WhisperPath string  `toml:"whisper_path"`
		ModelPath   string  `toml:"model_path"`
		Language    string  `toml:"language"`
		TimeoutSec  float64 `toml:"timeout_sec"`
	} `toml:"transcribe"`

	LLM struct {
		Enabled    bool    `toml:"enabled"`
		Model      string  `toml:"model"`
		APIKey     string  `toml:"api_key"`
		TimeoutSec float64 `toml:"timeout_sec"`
	} `toml:"llm"`

	// Acoustic bonus thresholds for the rule scorer. These are inherited
	// heuristics with no empirical basis; they are exposed here so
	// deployments can tune them without a rebuild.
	Scoring struct {
		AmericanCentroidHz    float64 `toml:"american_centroid_hz"`
		BritishPitchHz        float64 `toml:"british_pitch_hz"`
		AustralianTempoBPM    float64 `toml:"australian_tempo_bpm"`
		CanadianCentroidLowHz float64 `toml:"canadian_centroid_low_hz"`
		CanadianCentroidHiHz  float64 `toml:"canadian_centroid_hi_hz"`
		IndianTempoBPM        float64 `toml:"indian_tempo_bpm"`
	} `toml:"scoring"`

	RateLimit struct {
		PerMinute int `toml:"per_minute"`
		PerHour   int `toml:"per_hour"`
	} `toml:"ratelimit"`

	Server struct {
		ListenAddr  string `toml:"listen_addr"`
		MaxUploadMB int    `toml:"max_upload_mb"`
	} `toml:"server"`

	Logging struct {
		Level  string `toml:"level"`  // debug, info, warn, error
		Format string `toml:"format"` // text, json
		Stdout bool   `toml:"stdout"`
	} `toml:"logging"`

	Paths struct {
		StateDir   string `toml:"state_dir"`
		LogPath    string `toml:"log_path"`
		WorkDir    string `toml:"work_dir"`
		ConfigPath string `toml:"-"`
	} `toml:"paths"`
}

// Default returns Config populated with defaults.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(home, defaultStateDirLinux)
	if isMac() {
		stateDir = filepath.Join(home, "Library", "Application Support", "drawl")
	}

	cfg := &Config{}

	cfg.Source.Platforms = []string{
		"youtube.com", "youtu.be", "www.youtube.com",
		"loom.com", "www.loom.com",
		"vimeo.com", "www.vimeo.com",
	}
	cfg.Source.Extensions = []string{
		".mp4", ".avi", ".mov", ".mkv",
		".wav", ".mp3", ".m4a", ".flac",
	}

	cfg.Acquire.Strategies = DefaultStrategies()

	cfg.Limits.MaxDurationSec = defaultMaxDurationSec

	cfg.Tools.YtdlpPath = "yt-dlp"
	cfg.Tools.FFmpegPath = "ffmpeg"
	cfg.Tools.FFprobePath = "ffprobe"
	cfg.Tools.TimeoutSec = 120

	cfg.Transcribe.WhisperPath = "whisper-cli"
	cfg.Transcribe.ModelPath = filepath.Join(stateDir, "models", "ggml-base.bin")
	cfg.Transcribe.Language = "en"
	cfg.Transcribe.TimeoutSec = 180

	cfg.LLM.Enabled = true
	cfg.LLM.Model = "gpt-4"
	cfg.LLM.TimeoutSec = 60

	cfg.Scoring.AmericanCentroidHz = 2000
	cfg.Scoring.BritishPitchHz = 150
	cfg.Scoring.AustralianTempoBPM = 120
	cfg.Scoring.CanadianCentroidLowHz = 1800
	cfg.Scoring.CanadianCentroidHiHz = 2200
	cfg.Scoring.IndianTempoBPM = 100

	cfg.RateLimit.PerMinute = 10
	cfg.RateLimit.PerHour = 100

	cfg.Server.ListenAddr = defaultListenAddr
	cfg.Server.MaxUploadMB = 100

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Logging.Stdout = true

	cfg.Paths.StateDir = stateDir
	cfg.Paths.LogPath = filepath.Join(stateDir, "drawl.log")
	cfg.Paths.WorkDir = "" // empty means os.TempDir

	return cfg, nil
}

// DefaultStrategies returns the built-in acquisition cascade, in priority
// order.
func DefaultStrategies() []StrategyConfig {
	uas := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:89.0) Gecko/20100101 Firefox/89.0",
	}
	return []StrategyConfig{
		{Name: "ytdlp-audio", MaxAttempts: 2, TimeoutSec: 120, UserAgents: uas, RetryDelaySec: 2},
		{Name: "ytdlp-client-rotate", MaxAttempts: 2, TimeoutSec: 120, UserAgents: uas, RetryDelaySec: 2},
		{Name: "direct-download", MaxAttempts: 2, TimeoutSec: 90, UserAgents: uas, RetryDelaySec: 2},
		{Name: "ytdlp-simple", MaxAttempts: 1, TimeoutSec: 120, UserAgents: uas, RetryDelaySec: 2},
	}
}

// Load loads config from file, applying defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, defaultConfigDir, "config.toml")
	}

	// Read if exists; otherwise write template.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}
			if err := Save(cfg, path); err != nil {
				return nil, err
			}
			cfg.Paths.ConfigPath = path
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Paths.ConfigPath = path
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to path.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

func isMac() bool {
	return runtime.GOOS == "darwin"
}

// MustStatePaths ensures state dirs exist.
func MustStatePaths(cfg *Config) error {
	for _, p := range []string{cfg.Paths.StateDir, filepath.Dir(cfg.Paths.LogPath)} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DRAWL_MAX_DURATION_SEC"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.Limits.MaxDurationSec = n
		}
	}
	if v := os.Getenv("DRAWL_OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("DRAWL_LLM_ENABLED"); v != "" {
		cfg.LLM.Enabled = v != "0" && strings.ToLower(v) != "false"
	}
	if v := os.Getenv("DRAWL_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("DRAWL_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("DRAWL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DRAWL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DRAWL_WORK_DIR"); v != "" {
		cfg.Paths.WorkDir = v
	}
}
