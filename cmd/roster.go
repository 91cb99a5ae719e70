package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jjjenkim/fis-results-scraper/internal/roster"
)

func newRosterCmd() *cobra.Command {
	var sector string
	cmd := &cobra.Command{
		Use:         "roster",
		Short:       "List the athletes the scraper will visit.",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			athletes, err := roster.Load(cfg.Scraper.RosterPath)
			if err != nil {
				return fmt.Errorf("load roster: %w", err)
			}
			athletes = roster.Filter(athletes, sector)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FIS CODE\tNAME\tSECTOR\tDISCIPLINE\tURL")
			for _, a := range athletes {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.DisplayName(), a.SectorCode, a.SubDiscipline, a.ProfileURL)
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write roster: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sector, "sector", "", "only list athletes in this sector")
	return cmd
}
