package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/processor"
)

func runCmd(logger *slog.Logger) *cobra.Command {
	var (
		anchor   string
		ingestID string
		timeout  time.Duration
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one forecast invocation and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := buildApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			inv := processor.Invocation{IngestID: a.cfg.Forecast.IngestID}
			if ingestID != "" {
				inv.IngestID = ingestID
			}
			if anchor != "" {
				t, err := time.Parse(time.RFC3339, anchor)
				if err != nil {
					return fmt.Errorf("--anchor must be RFC3339: %w", err)
				}
				inv.Anchor = &t
			}

			s, err := a.proc.Run(ctx, inv)
			if err != nil {
				a.metrics.RunFailed(a.cfg.ZoneID)
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			printSummary(s)
			return nil
		},
	}

	cmd.Flags().StringVar(&anchor, "anchor", "", "Anchor time (RFC3339); defaults to the latest reading")
	cmd.Flags().StringVar(&ingestID, "ingest-id", "", "Ingest identifier for idempotency (overrides INGEST_ID)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Upper bound on the whole run")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run summary as JSON")
	return cmd
}

func printSummary(s models.RunSummary) {
	fmt.Printf("Zone %s at %s\n", s.ZoneID, s.Anchor.Format(time.RFC3339))

	switch {
	case s.Duplicate:
		fmt.Printf("  %s ingest already processed\n", color.New(color.FgYellow).Sprint("SKIPPED"))
	case s.Sentinel:
		fmt.Printf("  %s %s\n", color.New(color.FgRed).Sprint("NO FORECAST"), s.SkippedReason)
	default:
		c := color.New(color.FgGreen)
		if s.Probability >= 0.5 {
			c = color.New(color.FgRed, color.Bold)
		}
		fmt.Printf("  frost probability: %s\n", c.Sprintf("%.2f%%", s.ProbabilityPercent))
	}

	fmt.Printf("  backlog: %d trained, %d skipped\n", s.BacklogTrained, s.BacklogSkipped)
	if s.StateSaved {
		fmt.Printf("  model state: %s\n", color.New(color.FgGreen).Sprint("saved"))
	}
}
