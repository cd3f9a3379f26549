package app

import (
	"fmt"
	"time"

	"github.com/celer-network/tx-racer/store/models"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List the journaled races",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions()
		if err != nil {
			return err
		}
		if opts.DBDir == "" {
			return errors.New("history needs the race journal, set --db-dir")
		}
		s, err := openStore(opts.DBDir)
		if err != nil {
			return err
		}
		defer s.Close()

		unfinished, err := cmd.Flags().GetBool("unfinished")
		if err != nil {
			return err
		}
		var races []*models.Race
		if unfinished {
			races, err = s.GetUnfinishedRaces()
		} else {
			races, err = s.GetRaces()
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, race := range races {
			fmt.Fprintf(out, "%s  %-16s  %s  recover=%s",
				race.ID,
				race.State,
				race.CreatedAt.Format(time.RFC3339),
				race.RecoverHash.Hex(),
			)
			if race.State == models.RaceStateConfirmed {
				fmt.Fprintf(out, "  block=%d  via=%s", race.WinnerBlockNumber, race.WinnerEndpoint)
			}
			if race.Error != "" {
				fmt.Fprintf(out, "  err=%q", race.Error)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	HistoryCmd.Flags().Bool("unfinished", false, "Only list races that never finished, e.g. after a crash")
}
