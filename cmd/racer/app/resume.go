package app

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var ResumeCmd = &cobra.Command{
	Use:   "resume <race-id>",
	Short: "Race the journaled payloads of an unconfirmed race again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raceID, err := uuid.Parse(args[0])
		if err != nil {
			return errors.Wrapf(err, "invalid race id %q", args[0])
		}
		opts, err := loadOptions()
		if err != nil {
			return err
		}
		env, err := newEnvironment(opts)
		if err != nil {
			return err
		}
		defer env.close()
		if env.store == nil {
			return errors.New("resume needs the race journal, set --db-dir")
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		driver, err := env.driver()
		if err != nil {
			return err
		}
		outcome, err := driver.Resume(ctx, raceID)
		printOutcome(cmd.OutOrStdout(), outcome)
		if err != nil {
			return err
		}
		if !outcome.Confirmed() {
			return errors.Errorf("race %s ended without confirmation", raceID)
		}
		return nil
	},
}
