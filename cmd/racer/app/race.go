package app

import (
	"fmt"
	"log"

	"github.com/celer-network/tx-racer/client"
	"github.com/celer-network/tx-racer/txrace"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var RaceCmd = &cobra.Command{
	Use:   "race",
	Short: "Broadcast the claim and recover transactions until the recover transaction is confirmed",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions()
		if err != nil {
			return err
		}
		if len(opts.Endpoints) == 0 {
			return errors.New("no endpoints were given")
		}

		builder := &txrace.StaticPayloadBuilder{ClaimHex: opts.ClaimTx, RecoverHex: opts.RecoverTx}
		claim, rec, err := builder.BuildPayloads(cmd.Context())
		if err != nil {
			return err
		}

		var funding *txrace.SignedPayload
		if opts.FundingTx != "" {
			if opts.FundingEndpoint == "" {
				return errors.New("a funding transaction needs a funding endpoint")
			}
			funding, err = txrace.ParseSignedPayload(txrace.RoleFunding, opts.FundingTx)
			if err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "claim tx:    %s\n", claim.Hash().Hex())
		fmt.Fprintf(out, "recover tx:  %s\n", rec.Hash().Hex())
		if funding != nil {
			fmt.Fprintf(out, "funding tx:  %s via %s\n", funding.Hash().Hex(), opts.FundingEndpoint)
		}
		fmt.Fprintf(out, "endpoints:   %d\n", len(opts.Endpoints))

		yes, err := cmd.Flags().GetBool("yes")
		if err != nil {
			return err
		}
		if !yes {
			ok, err := askConfirmation(cmd.InOrStdin(), out, "Start the race?")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, "aborted")
				return nil
			}
		}

		env, err := newEnvironment(opts)
		if err != nil {
			return err
		}
		defer env.close()

		var driverOpts []txrace.DriverOpt
		if funding != nil {
			connector := client.NewConnector(env.config, nil)
			action := txrace.NewRawFundingAction(env.config, connector, opts.FundingEndpoint, funding, env.metrics)
			driverOpts = append(driverOpts, txrace.WithFunding(action))
		}
		driver, err := env.driver(driverOpts...)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		outcome, err := driver.Race(ctx, &txrace.PreparedPayloads{Claim: claim, Recover: rec}, opts.Endpoints)
		printOutcome(out, outcome)
		env.waitFunding(driver)
		if err != nil {
			return err
		}
		if !outcome.Confirmed() {
			return errors.Errorf("race %s ended without confirmation", outcome.RaceID)
		}
		return nil
	},
}

func init() {
	var err error

	RaceCmd.Flags().StringSlice("endpoints", nil, "RPC endpoints to race on (http, https, ws, wss)")
	err = viper.BindPFlag("endpoints", RaceCmd.Flags().Lookup("endpoints"))
	if err != nil {
		log.Fatal(err)
	}

	RaceCmd.Flags().String("claim-tx", "", "Signed claim transaction, 0x prefixed hex")
	err = viper.BindPFlag("claim_tx", RaceCmd.Flags().Lookup("claim-tx"))
	if err != nil {
		log.Fatal(err)
	}

	RaceCmd.Flags().String("recover-tx", "", "Signed recover transaction, 0x prefixed hex")
	err = viper.BindPFlag("recover_tx", RaceCmd.Flags().Lookup("recover-tx"))
	if err != nil {
		log.Fatal(err)
	}

	RaceCmd.Flags().String("funding-tx", "", "Optional signed funding transaction, sent once to the funding endpoint")
	err = viper.BindPFlag("funding_tx", RaceCmd.Flags().Lookup("funding-tx"))
	if err != nil {
		log.Fatal(err)
	}

	RaceCmd.Flags().String("funding-endpoint", "", "Endpoint the funding transaction is sent to")
	err = viper.BindPFlag("funding_endpoint", RaceCmd.Flags().Lookup("funding-endpoint"))
	if err != nil {
		log.Fatal(err)
	}

	RaceCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
}
