package agent

import (
	"fmt"

	"github.com/spf13/cobra"

	"clinsync/cmd/client/cmd/cli"
	"clinsync/internal/app/client"
	"clinsync/internal/app/client/agent"
)

var AgentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the background sync agent",
	Long: `The agent owns the local edit store and the request cache. It runs one
sync loop per configured document, watches connectivity, replays requests
captured while offline and serves:

  /healthz, /docs/...    local API used by the other commands
  /events                websocket feed of sync events
  /api/...               caching proxy to the sync server`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}

		app, err := client.New(env.Config, env.Log)
		if err != nil {
			return fmt.Errorf("start agent: %w", err)
		}
		defer func() {
			if err := app.Close(); err != nil {
				env.Log.Error("close agent", "error", err)
			}
		}()

		return app.Run(agent.New(app, env.Log))
	},
}
