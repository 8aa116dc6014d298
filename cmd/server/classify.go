package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/study-planner/internal/assistant"
	"github.com/ashureev/study-planner/internal/config"
	"github.com/ashureev/study-planner/internal/entity"
)

func newClassifyCommand() *cobra.Command {
	var nowFlag string
	cmd := &cobra.Command{
		Use:   "classify <message>",
		Short: "Print the intent, subject and dates found in a message",
		Long: `Runs the classification pipeline on a message without touching the
calendar and prints the analysis as JSON.

Examples:
  planner classify "marcar física amanhã"
  planner classify --now 2025-07-23T10:00:00-03:00 "apagar tudo da semana que vem"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			now := time.Now().In(cfg.Location())
			if nowFlag != "" {
				now, err = time.Parse(time.RFC3339, nowFlag)
				if err != nil {
					return fmt.Errorf("invalid --now: %w", err)
				}
			}
			pipeline, err := newPipeline(cfg)
			if err != nil {
				return err
			}
			return printAnalysis(cmd, pipeline.Analyze(strings.Join(args, " "), now))
		},
	}
	cmd.Flags().StringVar(&nowFlag, "now", "", "reference instant (RFC 3339) used to resolve relative dates")
	return cmd
}

// newPipeline loads the subject table when SUBJECTS_FILE is set.
func newPipeline(cfg *config.Config) (*assistant.Pipeline, error) {
	var subjects []string
	if cfg.SubjectsFile != "" {
		loaded, err := entity.LoadSubjects(cfg.SubjectsFile)
		if err != nil {
			return nil, err
		}
		subjects = loaded
	}
	return assistant.NewPipeline(subjects, cfg.Location()), nil
}

func printAnalysis(cmd *cobra.Command, a assistant.Analysis) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}
