package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"clinsync/cmd/client/cmd/cli"
	"clinsync/internal/app/client"
	"clinsync/internal/app/client/agent"
)

type status struct {
	Agent     agent.HealthResponse `json:"agent"`
	Documents []client.SyncStats   `json:"documents"`
	Queued    int                  `json:"queued"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent connectivity, documents and queued requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		ac := env.Agent()

		health, err := ac.Health(ctx)
		if err != nil {
			return err
		}
		docs, err := ac.Documents(ctx)
		if err != nil {
			return err
		}
		queue, err := ac.Queue(ctx)
		if err != nil {
			return err
		}

		st := status{Agent: *health, Documents: docs, Queued: len(queue.Entries)}
		return env.Print(st, func(w io.Writer) error {
			fmt.Fprintf(w, "Server:   %s (%s)\n", env.Config.ServerAddress, cli.OnlineLabel(health.Online))
			fmt.Fprintf(w, "Replica:  %s\n", health.ReplicaID)
			fmt.Fprintf(w, "Queued:   %d request(s)\n\n", st.Queued)

			rows := make([][]any, 0, len(docs))
			for _, d := range docs {
				rows = append(rows, []any{d.Document, d.Kind, d.Phase, d.Pending, d.Pushed, lastSync(d.LastSuccessful), d.LastError})
			}
			return cli.Table(w, []any{"DOCUMENT", "KIND", "PHASE", "PENDING", "PUSHED", "LAST SYNC", "LAST ERROR"}, rows)
		})
	},
}

func lastSync(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
