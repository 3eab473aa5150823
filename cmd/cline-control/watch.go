package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/inoueakimitsu/cline/env"
	"github.com/inoueakimitsu/cline/eventing"
	"github.com/inoueakimitsu/cline/session"
	"github.com/inoueakimitsu/cline/tui"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the UI events serve relays through redis",
	Long: `Prints the last state serve published for --session-id, then every
UI event as it is relayed. Without --session-id all sessions are watched.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.RedisURL == "" {
			return errors.New("watch needs --redis-url")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, log, shutdown, err := env.NewTelemetry(ctx, cmd, "cline-control-watch")
		if err != nil {
			return err
		}
		defer shutdown()

		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()

		sessionID := env.FlagOrEnv(cmd, "session-id", env.Prefix+"SESSION_ID", "")
		if sessionID != "" {
			state, found, err := session.LatestState(ctx, redisStore(rdb, cfg), sessionID)
			if err != nil {
				return err
			}
			if found {
				printEvent(sessionID, session.Event{Type: session.EventState, State: &state})
			}
		}

		events := eventing.NewRedisClient(ctx, log, rdb)
		defer events.Close()
		sub, err := session.SubscribeEvents(ctx, events, log, sessionID, func(_ context.Context, id string, event session.Event) {
			printEvent(id, event)
		})
		if err != nil {
			return err
		}
		defer sub.Close()
		<-ctx.Done()
		return nil
	},
}

func printEvent(sessionID string, event session.Event) {
	switch {
	case event.Type == session.EventState && event.State != nil:
		fmt.Fprintln(tui.Out, tui.KeyValues(
			[2]string{"session", sessionID},
			[2]string{"mode", string(event.State.Mode)},
			[2]string{"messages", fmt.Sprint(len(event.State.Messages))},
			[2]string{"authenticated", fmt.Sprint(event.State.Authenticated)},
		))
	case event.Text != "":
		fmt.Fprintf(tui.Out, "%s %s %s\n", tui.Muted(sessionID), tui.Bold(string(event.Invoke)), event.Text)
	default:
		fmt.Fprintf(tui.Out, "%s %s\n", tui.Muted(sessionID), tui.Bold(string(event.Invoke)))
	}
}
