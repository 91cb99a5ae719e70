package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run the scraping pipeline once.",
	}
	cmd.AddCommand(newScrapeAllCmd(), newScrapeAthleteCmd())
	return cmd
}

func newScrapeAllCmd() *cobra.Command {
	var (
		sector   string
		snapshot bool
	)
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Scrape every rostered athlete and publish a snapshot.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()

			snap, summary, err := appInstance.Scrape(cmd.Context(), sector)
			if err != nil {
				return err
			}
			logger.Info("scrape finished",
				zap.String("run_id", summary.RunID),
				zap.Int("athletes", summary.Athletes),
				zap.Int("succeeded", summary.Succeeded),
				zap.Int("failed", summary.Failed),
				zap.Int("forbidden", summary.Forbidden),
				zap.Duration("duration", summary.Duration),
			)
			if snapshot {
				return printJSON(cmd.OutOrStdout(), snap)
			}
			if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			if summary.Athletes > 0 && summary.Succeeded == 0 {
				return fmt.Errorf("all %d athletes failed", summary.Athletes)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sector, "sector", "", "only scrape athletes in this sector (FS, SB, AL, ...)")
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "print the full snapshot instead of the run summary")
	return cmd
}

func newScrapeAthleteCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "athlete <fis-code>",
		Short: "Scrape a single rostered athlete.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, summary, err := appInstance.ScrapeOne(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			if summary.Failed > 0 {
				if summary.Forbidden > 0 {
					return fmt.Errorf("athlete %s: profile blocked by federation site (403)", args[0])
				}
				return fmt.Errorf("athlete %s: scrape failed", args[0])
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore cached results and refetch")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

