package main

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/inoueakimitsu/cline/authentication"
	"github.com/inoueakimitsu/cline/config"
	"github.com/inoueakimitsu/cline/env"
	"github.com/inoueakimitsu/cline/tui"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a control plane token",
	Long: `Prints a fresh shared secret for the control plane.

With --bearer it prints a scrape token for the metrics endpoint instead,
derived from CLINE_METRICS_TOKEN (or --metrics-token).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if bearer, _ := cmd.Flags().GetBool("bearer"); bearer {
			return printBearer(cmd)
		}
		token, err := authentication.NewSharedToken()
		if err != nil {
			return err
		}
		fn, _ := cmd.Flags().GetString("write")
		if fn == "" {
			fmt.Fprintln(tui.Out, token)
			return nil
		}
		ok, err := tui.Ask(fmt.Sprintf("Write %sTOKEN to %s?", env.Prefix, fn), true)
		if err != nil || !ok {
			return err
		}
		if err := env.UpsertEnvFile(fn, env.Prefix+"TOKEN", token); err != nil {
			return err
		}
		tui.ShowSuccess("%sTOKEN written to %s", env.Prefix, fn)
		return nil
	},
}

func printBearer(cmd *cobra.Command) error {
	if fn, _ := cmd.Flags().GetString("env-file"); fn != "" {
		if err := env.LoadEnvFile(fn); err != nil {
			return err
		}
	}
	secret := env.FlagOrEnv(cmd, "metrics-token", env.Prefix+"METRICS_TOKEN", "")
	if secret == "" {
		return errors.New("token --bearer needs --metrics-token or " + env.Prefix + "METRICS_TOKEN")
	}
	var opts []authentication.TokenOpt
	if raw, _ := cmd.Flags().GetString("expires"); raw != "" {
		d, err := config.ParseDuration(raw)
		if err != nil {
			return err
		}
		opts = append(opts, authentication.WithExpiration(time.Now().Add(d)))
	}
	token, err := authentication.NewBearerToken(secret, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintln(tui.Out, token)
	return nil
}

func init() {
	tokenCmd.Flags().String("write", "", "upsert the token into this dotenv file")
	tokenCmd.Flags().Bool("bearer", false, "print a metrics scrape token instead")
	tokenCmd.Flags().String("metrics-token", "", "metrics secret the bearer token is derived from")
	tokenCmd.Flags().String("expires", "", "lifetime of the bearer token, e.g. 1d (default never)")
}
