// Package cli holds the drawl command implementations.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"drawl/internal/accent"
	"drawl/internal/api"
	"drawl/internal/config"
	"drawl/internal/doctor"
	"drawl/internal/features"
	"drawl/internal/logging"
	"drawl/internal/pipeline"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewAnalyzeCmd runs one full analysis for a URL or local file.
func NewAnalyzeCmd(cfgPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze <url-or-file>",
		Short: "Analyze the accent in a video or audio source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			p, err := pipeline.New(cfg, logger)
			if err != nil {
				return err
			}

			target := args[0]
			var report *pipeline.Report
			if _, statErr := os.Stat(target); statErr == nil {
				report, err = p.AnalyzeFile(cmd.Context(), target)
			} else {
				report, err = p.AnalyzeURL(cmd.Context(), target)
			}
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(report)
			}
			printReport(report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full report as JSON")
	return cmd
}

// NewServeCmd starts the HTTP API.
func NewServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			p, err := pipeline.New(cfg, logger)
			if err != nil {
				return err
			}
			return api.NewServer(cfg, p, logger).Run()
		},
	}
}

// NewDoctorCmd runs environment checks.
func NewDoctorCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools and config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			results := doctor.Run(cfg)
			exitCode := 0
			for _, r := range results {
				status := "ok"
				if !r.Pass {
					status = "fail"
					exitCode = 1
				}
				fmt.Printf("%-14s %-4s %s\n", r.Name, status, r.Detail)
			}
			if exitCode != 0 {
				return fmt.Errorf("doctor found issues")
			}
			return nil
		},
	}
}

// NewFeaturesCmd extracts acoustic features from a WAV file.
func NewFeaturesCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "features <wavfile>",
		Short: "Extract acoustic features from a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vec, err := features.ExtractFile(args[0])
			if err != nil {
				return err
			}
			return printJSON(vec)
		},
	}
}

// NewScoreCmd scores a transcript, optionally with a saved feature
// vector, without touching any media.
func NewScoreCmd(cfgPath *string) *cobra.Command {
	var featuresPath string
	cmd := &cobra.Command{
		Use:   "score <transcript>",
		Short: "Score a transcript against the accent rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}

			vec := &features.Vector{}
			if featuresPath != "" {
				data, err := os.ReadFile(featuresPath)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, vec); err != nil {
					return fmt.Errorf("parse features: %w", err)
				}
			}

			scorer := accent.NewScorer(accent.Thresholds{
				AmericanCentroidHz:    cfg.Scoring.AmericanCentroidHz,
				BritishPitchHz:        cfg.Scoring.BritishPitchHz,
				AustralianTempoBPM:    cfg.Scoring.AustralianTempoBPM,
				CanadianCentroidLowHz: cfg.Scoring.CanadianCentroidLowHz,
				CanadianCentroidHiHz:  cfg.Scoring.CanadianCentroidHiHz,
				IndianTempoBPM:        cfg.Scoring.IndianTempoBPM,
			})
			result := scorer.Score(args[0], vec)
			fmt.Println(accent.Summary(result.Label, result.Confidence))
			return printJSON(result.Scores)
		},
	}
	cmd.Flags().StringVar(&featuresPath, "features", "", "Path to a saved feature vector JSON")
	return cmd
}

func setup(cfgPath string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if err := config.MustStatePaths(cfg); err != nil {
		return nil, nil, err
	}
	logger, err := logging.Configure(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printReport(r *pipeline.Report) {
	fmt.Println(r.Summary)
	fmt.Printf("  transcript: %s\n", r.Accent.Transcript)
	fmt.Println("  scores:")
	for _, label := range accent.Labels {
		fmt.Printf("    %-12s %6.1f\n", label, r.Accent.Scores[label])
	}
	if r.LLM != nil {
		fmt.Printf("  llm: %s (%.1f%%) %s\n", r.LLM.Accent, r.LLM.Confidence, r.LLM.Explanation)
	}
	fmt.Printf("  duration: %.1fs  elapsed: %dms  request: %s\n", r.DurationSec, r.ElapsedMS, r.RequestID)
}
