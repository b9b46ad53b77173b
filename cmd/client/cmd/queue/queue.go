package queue

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"clinsync/cmd/client/cmd/cli"
)

var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and replay requests captured while offline",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued requests and cache tiers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}
		q, err := env.Agent().Queue(cmd.Context())
		if err != nil {
			return err
		}
		return env.Print(q, func(w io.Writer) error {
			fmt.Fprintf(w, "Connectivity: %s, shell version %s\n\n", cli.OnlineLabel(q.Online), q.Shell)

			rows := make([][]any, 0, len(q.Entries))
			for _, e := range q.Entries {
				rows = append(rows, []any{e.ID, e.Method, e.URL, e.Size, e.CreatedAt.Local().Format(time.DateTime), e.Attempts, e.LastError})
			}
			if err := cli.Table(w, []any{"ID", "METHOD", "URL", "BYTES", "QUEUED", "ATTEMPTS", "LAST ERROR"}, rows); err != nil {
				return err
			}

			tiers := make([]string, 0, len(q.Tiers))
			for t := range q.Tiers {
				tiers = append(tiers, t)
			}
			sort.Strings(tiers)
			fmt.Fprintln(w)
			trows := make([][]any, 0, len(tiers))
			for _, t := range tiers {
				trows = append(trows, []any{t, q.Tiers[t]})
			}
			return cli.Table(w, []any{"TIER", "ENTRIES"}, trows)
		})
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay queued requests now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}
		res, err := env.Agent().Replay(cmd.Context())
		if err != nil {
			return err
		}
		return env.Print(res, func(w io.Writer) error {
			cli.Success(w, "replayed %d, rejected %d, retained %d", res.Replayed, res.Rejected, res.Retained)
			if res.Stopped {
				cli.Warn(w, "server unreachable, remaining requests stay queued")
			}
			return nil
		})
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate <version>",
	Short: "Make a shell version current and drop cached files of other versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}
		if err := env.Agent().Activate(cmd.Context(), args[0]); err != nil {
			return err
		}
		cli.Success(cmd.OutOrStdout(), "shell version %s active", args[0])
		return nil
	},
}

func init() {
	QueueCmd.AddCommand(listCmd, replayCmd, activateCmd)
}
