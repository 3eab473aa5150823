package main

import (
	"fmt"
	"net/url"

	"github.com/cockroachdb/errors"
	"github.com/inoueakimitsu/cline/callback"
	"github.com/inoueakimitsu/cline/env"
	"github.com/inoueakimitsu/cline/session"
	"github.com/inoueakimitsu/cline/tui"
	"github.com/spf13/cobra"
)

var authURLCmd = &cobra.Command{
	Use:   "auth-url",
	Short: "Issue an anti-forgery state for a running session",
	Long: `Stores a single-use state for the session in redis and prints the
callback path a login redirect should return to.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.RedisURL == "" {
			return errors.New("auth-url needs --redis-url to share state with serve")
		}
		sessionID := env.FlagOrEnv(cmd, "session-id", env.Prefix+"SESSION_ID", "")
		if sessionID == "" {
			return errors.New("auth-url needs --session-id")
		}
		ctx := cmd.Context()
		var state string
		err = tui.ShowSpinner(ctx, "Issuing state", func() error {
			rdb, err := openRedis(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			defer rdb.Close()
			state, err = session.IssueAuthState(ctx, redisStore(rdb, cfg), sessionID, cfg.StateTTL.Std())
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(tui.Out, "%s?state=%s&token={token}\n", callback.PathAuth, url.QueryEscape(state))
		return nil
	},
}

func init() {
	authURLCmd.Flags().String("state-ttl", "", "lifetime of the issued state (default 10m)")
}
