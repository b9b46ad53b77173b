// Package cli holds what every client command shares: the loaded config,
// the logger and output helpers.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"clinsync/internal/app/client/agent"
	"clinsync/internal/app/client/config"
)

type Env struct {
	Config *config.Config
	Log    *slog.Logger
	JSON   bool
	Out    io.Writer
}

type envKey struct{}

func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// FromCommand returns the Env installed by the root command.
func FromCommand(cmd *cobra.Command) (*Env, error) {
	env, ok := cmd.Context().Value(envKey{}).(*Env)
	if !ok || env == nil {
		return nil, errors.New("client not initialized")
	}
	return env, nil
}

// Agent returns a client for the locally running agent.
func (e *Env) Agent() *agent.Client {
	return agent.NewClient(e.Config.AgentAddress, e.Config.RequestTimeout)
}

func (e *Env) writer() io.Writer {
	if e.Out != nil {
		return e.Out
	}
	return os.Stdout
}

// Print writes v as indented JSON when --json is set, otherwise calls
// human.
func (e *Env) Print(v any, human func(w io.Writer) error) error {
	w := e.writer()
	if e.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return human(w)
}

// Table renders rows with a header through a tabwriter.
func Table(w io.Writer, header []any, rows [][]any) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	line := func(cells []any) {
		for i, c := range cells {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, c)
		}
		fmt.Fprintln(tw)
	}
	line(header)
	for _, r := range rows {
		line(r)
	}
	return tw.Flush()
}

func Success(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, color.GreenString("✓ ")+fmt.Sprintf(format, a...))
}

func Warn(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, color.YellowString("! ")+fmt.Sprintf(format, a...))
}

// OnlineLabel colors the connectivity state.
func OnlineLabel(online bool) string {
	if online {
		return color.GreenString("online")
	}
	return color.RedString("offline")
}
