package cmds

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/sidenote/pkg/conversation"
)

func NewConversationsCommand() *cobra.Command {
	conversationsCmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "List, show and manage conversations",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *App) error {
				rows := [][]string{}
				for _, c := range a.Conversations.List() {
					annotations := 0
					for _, anns := range c.Annotations {
						annotations += len(anns)
					}
					rows = append(rows, []string{
						shortID(c.ID),
						c.Title,
						fmt.Sprintf("%d", len(c.Messages)),
						fmt.Sprintf("%d", annotations),
						c.UpdatedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				if len(rows) == 0 {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "no conversations yet, start one with `sidenote chat`")
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(),
					renderTable([]string{"ID", "TITLE", "MESSAGES", "ANNOTATIONS", "UPDATED"}, rows))
				return err
			})
		},
	}

	newCmd := &cobra.Command{
		Use:   "new [TITLE...]",
		Short: "Create an empty conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *App) error {
				c := a.Conversations.Create(strings.Join(args, " "))
				_, err := fmt.Fprintln(cmd.OutOrStdout(), c.ID)
				return err
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show CONVERSATION",
		Short: "Print a conversation with its annotations highlighted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plain, _ := cmd.Flags().GetBool("plain")
			return withApp(func(a *App) error {
				c, err := a.Conversations.Find(args[0])
				if err != nil {
					return err
				}
				return writeConversation(cmd.OutOrStdout(), c, messageRenderer{styled: !plain && isTerminal()})
			})
		},
	}
	showCmd.Flags().Bool("plain", false, "Disable colors and markdown rendering")

	renameCmd := &cobra.Command{
		Use:   "rename CONVERSATION TITLE...",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *App) error {
				c, err := a.Conversations.Find(args[0])
				if err != nil {
					return err
				}
				return a.Conversations.Rename(c.ID, strings.Join(args[1:], " "))
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete CONVERSATION",
		Short: "Delete a conversation and its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *App) error {
				c, err := a.Conversations.Find(args[0])
				if err != nil {
					return err
				}
				if err := a.Conversations.Delete(c.ID); err != nil {
					return err
				}
				if err := a.Documents.DeleteConversation(c.ID); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%s)\n", shortID(c.ID), c.Title)
				return err
			})
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export CONVERSATION",
		Short: "Export a conversation as JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			return withApp(func(a *App) error {
				c, err := a.Conversations.Find(args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer func() {
						_ = f.Close()
					}()
					w = f
				}
				return exportConversation(w, c, format)
			})
		},
	}
	exportCmd.Flags().String("format", "json", "Output format (json, yaml)")
	exportCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")

	conversationsCmd.AddCommand(listCmd, newCmd, showCmd, renameCmd, deleteCmd, exportCmd)
	return conversationsCmd
}

func exportConversation(w io.Writer, c conversation.Conversation, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown format %q (expected json or yaml)", format)
	}
}
