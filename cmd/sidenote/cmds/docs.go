package cmds

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/sidenote/pkg/documents"
)

func NewDocsCommand() *cobra.Command {
	docsCmd := &cobra.Command{
		Use:   "docs",
		Short: "Attach documents whose text is sent along with every turn of a conversation",
	}

	addCmd := &cobra.Command{
		Use:   "add CONVERSATION FILE...",
		Short: "Parse files and attach them to a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *App) error {
				c, err := a.Conversations.Find(args[0])
				if err != nil {
					return err
				}
				for _, path := range args[1:] {
					doc, err := documents.ParseFile(path)
					if err != nil {
						return err
					}
					if err := a.Documents.Add(c.ID, doc); err != nil {
						return err
					}
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s, %s, ~%d tokens)\n",
						doc.Name, doc.Type, documents.FormatFileSize(doc.Size), doc.Tokens)
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list CONVERSATION",
		Short: "List the documents of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *App) error {
				c, err := a.Conversations.Find(args[0])
				if err != nil {
					return err
				}
				docs := a.Documents.List(c.ID)
				if len(docs) == 0 {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "no documents")
					return err
				}
				rows := [][]string{}
				total := 0
				for _, d := range docs {
					total += d.Tokens
					rows = append(rows, []string{
						shortID(d.ID),
						d.Name,
						d.Type,
						documents.FormatFileSize(d.Size),
						fmt.Sprintf("%d", d.CharCount),
						fmt.Sprintf("%d", d.Tokens),
					})
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n~%d tokens of context per turn\n",
					renderTable([]string{"ID", "NAME", "TYPE", "SIZE", "CHARS", "TOKENS"}, rows), total)
				return err
			})
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove CONVERSATION DOCUMENT",
		Short: "Detach a document by id or name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *App) error {
				c, err := a.Conversations.Find(args[0])
				if err != nil {
					return err
				}
				return a.Documents.Remove(c.ID, args[1])
			})
		},
	}

	docsCmd.AddCommand(addCmd, listCmd, removeCmd)
	return docsCmd
}
