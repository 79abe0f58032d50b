package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/skosovsky/toolthread/orchestrator"
	"github.com/skosovsky/toolthread/thread"
)

// manager returns a Manager without a model transport, for commands that only
// touch the store.
func (a *app) manager() *orchestrator.Manager {
	return orchestrator.NewManager(a.store, nil, orchestrator.WithLogger(a.logger))
}

func newCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a thread and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.manager().CreateThread(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newAddCmd(a *app) *cobra.Command {
	var (
		role   string
		images []string
	)
	cmd := &cobra.Command{
		Use:   "add <thread-id> <text>",
		Short: "Append a message to a thread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var msg thread.Message
			switch thread.Role(role) {
			case thread.RoleUser:
				msg = thread.UserMessage(args[1])
			case thread.RoleAssistant:
				msg = thread.AssistantMessage(args[1])
			default:
				return fmt.Errorf("unsupported role %q (valid: user, assistant)", role)
			}
			var attached []thread.Image
			for _, path := range images {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read image: %w", err)
				}
				attached = append(attached, thread.Image{ContentType: http.DetectContentType(data), Data: data})
			}
			return a.manager().AddMessage(cmd.Context(), args[0], msg, attached...)
		},
	}
	cmd.Flags().StringVar(&role, "role", string(thread.RoleUser), "Message role (user, assistant)")
	cmd.Flags().StringSliceVar(&images, "image", nil, "Image file to attach (repeatable)")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var (
		hideTools bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "list <thread-id>",
		Short: "Print the active messages of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := a.manager().ListMessages(cmd.Context(), args[0], thread.ListOptions{HideToolMessages: hideTools})
			if err != nil {
				return err
			}
			return printMessages(cmd.OutOrStdout(), msgs, asJSON)
		},
	}
	cmd.Flags().BoolVar(&hideTools, "hide-tools", false, "Drop tool messages and tool calls")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print messages as JSON")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history <thread-id>",
		Short: "Print every message ever appended to a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := a.manager().History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printMessages(cmd.OutOrStdout(), msgs, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print messages as JSON")
	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <thread-id>",
		Short: "Clear the active messages of a thread; history is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.manager().ResetMessages(cmd.Context(), args[0])
		},
	}
}

func printMessages(w io.Writer, msgs []thread.Message, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(msgs)
	}
	for i, m := range msgs {
		fmt.Fprintf(w, "[%d] %s", i, m.Role)
		if m.ToolCallID != "" {
			fmt.Fprintf(w, " (%s)", m.ToolCallID)
		}
		fmt.Fprintf(w, ": %s\n", m.Content.String())
		for _, c := range m.ToolCalls {
			fmt.Fprintf(w, "    -> %s %s %s\n", c.ID, c.Function.Name, c.Function.Arguments)
		}
	}
	return nil
}
