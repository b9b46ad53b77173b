package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"clinsync/cmd/client/cmd/cli"
	"clinsync/internal/app/client"
	"clinsync/internal/app/client/agent"
)

var standalone bool

type docResult struct {
	Document string   `json:"document"`
	Pushed   int      `json:"pushed"`
	Rejected []string `json:"rejected,omitempty"`
	Pulled   bool     `json:"pulled"`
	Error    string   `json:"error,omitempty"`
}

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync every configured document once",
	Long: `Runs one push/pull cycle per document. When an agent is running the
cycles run inside it; otherwise (or with --standalone) the command opens
the local stores itself, which fails while an agent holds them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}

		var results []docResult
		if !standalone {
			results, err = viaAgent(cmd.Context(), env.Agent())
		}
		if standalone || err != nil {
			if err != nil {
				env.Log.Debug("agent unavailable, syncing standalone", "error", err)
			}
			results, err = direct(cmd.Context(), env)
			if err != nil {
				return err
			}
		}

		return env.Print(results, func(w io.Writer) error {
			failed := 0
			for _, r := range results {
				if r.Error != "" {
					failed++
					cli.Warn(w, "%s: %s", r.Document, r.Error)
					continue
				}
				cli.Success(w, "%s: pushed %d, pulled %t", r.Document, r.Pushed, r.Pulled)
			}
			if failed > 0 {
				return fmt.Errorf("%d document(s) failed to sync", failed)
			}
			return nil
		})
	},
}

func viaAgent(ctx context.Context, ac *agent.Client) ([]docResult, error) {
	docs, err := ac.Documents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]docResult, 0, len(docs))
	for _, d := range docs {
		r := docResult{Document: d.Document}
		res, err := ac.Sync(ctx, d.Document)
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Pushed, r.Rejected, r.Pulled = res.Pushed, res.Rejected, res.Pulled
		}
		out = append(out, r)
	}
	return out, nil
}

func direct(ctx context.Context, env *cli.Env) ([]docResult, error) {
	app, err := client.New(env.Config, env.Log)
	if err != nil {
		return nil, err
	}
	defer func() { _ = app.Close() }()

	if err := app.CheckConnection(ctx); err != nil {
		return nil, fmt.Errorf("sync server unreachable: %w", err)
	}

	results, err := app.SyncAll(ctx)
	failed := map[string]string{}
	for _, e := range unwrapJoined(err) {
		var de *client.DocumentError
		if errors.As(e, &de) {
			failed[de.Document] = de.Err.Error()
		}
	}

	out := make([]docResult, 0, len(results))
	for doc, res := range results {
		out = append(out, docResult{
			Document: doc,
			Pushed:   res.Pushed,
			Rejected: res.Rejected,
			Pulled:   res.Pulled,
			Error:    failed[doc],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Document < out[j].Document })
	return out, nil
}

func unwrapJoined(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func init() {
	SyncCmd.Flags().BoolVar(&standalone, "standalone", false, "do not use a running agent")
}
