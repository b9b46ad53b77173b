package doc

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"clinsync/cmd/client/cmd/cli"
	"clinsync/internal/app/client/agent"
)

var DocCmd = &cobra.Command{
	Use:   "doc",
	Short: "Read and edit documents through the running agent",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}
		docs, err := env.Agent().Documents(cmd.Context())
		if err != nil {
			return err
		}
		return env.Print(docs, func(w io.Writer) error {
			rows := make([][]any, 0, len(docs))
			for _, d := range docs {
				rows = append(rows, []any{d.Document, d.Kind, d.Pending})
			}
			return cli.Table(w, []any{"DOCUMENT", "KIND", "PENDING"}, rows)
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the local state of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}
		st, err := env.Agent().State(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return env.Print(st, func(w io.Writer) error {
			fmt.Fprintf(w, "%s (%s, %d pending)\n", st.Document, st.State.Type, st.Stats.Pending)
			if fields, ok := st.State.Data.(map[string]any); ok {
				return printFields(w, fields)
			}
			fmt.Fprintln(w, st.Text)
			return nil
		})
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert <id> <pos> <text>",
	Short: "Insert text at a visible position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("position: %w", err)
		}
		return submit(cmd, args[0], agent.EditRequest{Op: "insert", Pos: pos, Text: args[2]})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id> <pos> <count>",
	Short: "Delete visible characters",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("position: %w", err)
		}
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("count: %w", err)
		}
		return submit(cmd, args[0], agent.EditRequest{Op: "delete", Pos: pos, Count: n})
	},
}

var setCmd = &cobra.Command{
	Use:   "set <id> key=value...",
	Short: "Assign fields of a json document",
	Long: `Assign fields of a json document. Values are parsed as JSON when
possible (numbers, booleans, null, quoted strings) and kept as plain
strings otherwise.`,
	Example: `  clinsync doc set case-1-meta status=submitted owner="Dr. Lee" priority=2`,
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := ParseAssignments(args[1:])
		if err != nil {
			return err
		}
		return submit(cmd, args[0], agent.EditRequest{Op: "set", Fields: fields})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <id>",
	Short: "Run a sync cycle for one document now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}
		res, err := env.Agent().Sync(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return env.Print(res, func(w io.Writer) error {
			cli.Success(w, "%s: pushed %d edit(s) in %s", args[0], res.Pushed, res.Duration)
			if len(res.Rejected) > 0 {
				cli.Warn(w, "server rejected: %s", strings.Join(res.Rejected, ", "))
			}
			return nil
		})
	},
}

func submit(cmd *cobra.Command, id string, req agent.EditRequest) error {
	env, err := cli.FromCommand(cmd)
	if err != nil {
		return err
	}
	res, err := env.Agent().Edit(cmd.Context(), id, req)
	if err != nil {
		return err
	}
	return env.Print(res, func(w io.Writer) error {
		cli.Success(w, "queued %d edit(s)", len(res.IDs))
		if fields, ok := res.State.Data.(map[string]any); ok {
			return printFields(w, fields)
		}
		fmt.Fprintln(w, res.Text)
		return nil
	})
}

func printFields(w io.Writer, fields map[string]any) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]any, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []any{k, fields[k]})
	}
	return cli.Table(w, []any{"FIELD", "VALUE"}, rows)
}

func init() {
	DocCmd.AddCommand(listCmd, showCmd, insertCmd, deleteCmd, setCmd, syncCmd)
}
