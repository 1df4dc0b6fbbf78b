package main

import (
	"fmt"
	"os"

	"drawl/internal/cli"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &cobra.Command{
		Use:   "drawl",
		Short: "Drawl — English accent analysis for video and audio sources",
		Long: `Drawl pulls media from a URL (YouTube, Loom, Vimeo or a direct file link),
transcodes it to canonical WAV, extracts acoustic features, transcribes the
speech, and scores the speaker's English accent with a rule engine plus an
optional LLM second opinion.

Key commands:
  analyze <url-or-file>   Run a full accent analysis
  serve                   Serve the HTTP API
  doctor                  Check external tools and config
  features <wavfile>      Dump the acoustic feature vector
  score <transcript>      Score a transcript without media

Env overrides: DRAWL_MAX_DURATION_SEC, DRAWL_OPENAI_API_KEY,
               DRAWL_LLM_ENABLED/MODEL, DRAWL_LISTEN_ADDR,
               DRAWL_LOG_LEVEL/FORMAT, DRAWL_WORK_DIR`,
		Example: `  drawl analyze https://youtube.com/watch?v=dQw4w9WgXcQ
  drawl analyze interview.mp4 --json
  drawl serve
  drawl doctor`,
		DisableFlagsInUseLine: true,
	}

	root.Version = version
	root.SetVersionTemplate("Drawl v{{.Version}}\n")

	cfgPath := root.PersistentFlags().StringP("config", "c", "", "Path to config file (TOML). Defaults to ~/.config/drawl/config.toml")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(cli.NewAnalyzeCmd(cfgPath))
	root.AddCommand(cli.NewServeCmd(cfgPath))
	root.AddCommand(cli.NewDoctorCmd(cfgPath))
	root.AddCommand(cli.NewFeaturesCmd(cfgPath))
	root.AddCommand(cli.NewScoreCmd(cfgPath))

	return root.Execute()
}
