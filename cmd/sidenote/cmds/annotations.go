package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/sidenote/pkg/annotation"
	"github.com/go-go-golems/sidenote/pkg/conversation"
)

func NewAnnotateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "annotate CONVERSATION MESSAGE SELECTION...",
		Short: "Explain a passage of an assistant message and store it as a highlight",
		Long: "Asks the active provider to explain SELECTION in the context of the message. " +
			"The explanation is stored as an annotation and highlighted by `conversations show`. " +
			"Use --ask to send follow-up questions, or --interactive to keep asking from stdin.",
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			questions, _ := cmd.Flags().GetStringArray("ask")
			interactive, _ := cmd.Flags().GetBool("interactive")
			selection := strings.Join(args[2:], " ")

			return withApp(func(a *App) error {
				c, m, err := a.FindMessage(args[0], args[1])
				if err != nil {
					return err
				}

				interaction := annotation.NewInteraction(a.NewEngine(), c.ID, m.ID)
				action, err := interaction.HandleClick(annotation.Click{Selection: selection})
				if err != nil {
					return err
				}
				if action != annotation.ActionAsk {
					if strings.TrimSpace(selection) != "" {
						return annotation.ErrSelectionTooShort
					}
					return annotation.ErrNoSelection
				}

				d, err := interaction.Ask(cmd.Context())
				if err != nil {
					return err
				}
				if d.Err != nil {
					log.Warn().Err(d.Err).Msg("explanation failed")
				}
				out := cmd.OutOrStdout()
				if _, err := fmt.Fprintln(out, d.Transcript()); err != nil {
					return err
				}
				if d.Annotation != nil {
					_, _ = fmt.Fprintf(out, "\nstored annotation %s\n", shortID(d.Annotation.ID))
				}
				return followUps(cmd.Context(), d, questions, interactive, cmd.InOrStdin(), out)
			})
		},
	}
	cmd.Flags().StringArray("ask", nil, "Follow-up question (repeatable)")
	cmd.Flags().BoolP("interactive", "i", false, "Read follow-up questions from stdin")
	return cmd
}

func NewAnnotationsCommand() *cobra.Command {
	annotationsCmd := &cobra.Command{
		Use:   "annotations",
		Short: "List annotations and continue their dialogues",
	}

	listCmd := &cobra.Command{
		Use:   "list CONVERSATION [MESSAGE]",
		Short: "List the annotations of a conversation or of one message",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *App) error {
				c, err := a.Conversations.Find(args[0])
				if err != nil {
					return err
				}
				var only *conversation.Message
				if len(args) == 2 {
					m, ok := c.FindMessage(args[1])
					if !ok {
						return errors.Wrapf(conversation.ErrNotFound, "message %s", args[1])
					}
					only = &m
				}

				rows := [][]string{}
				for _, m := range c.Messages {
					if only != nil && m.ID != only.ID {
						continue
					}
					for _, ann := range c.Annotations[m.ID] {
						rows = append(rows, []string{
							shortID(ann.ID),
							shortID(m.ID),
							ann.Text,
							truncateLine(ann.Explanation, 60),
						})
					}
				}
				if len(rows) == 0 {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "no annotations")
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(),
					renderTable([]string{"ID", "MESSAGE", "TEXT", "EXPLANATION"}, rows))
				return err
			})
		},
	}

	askCmd := &cobra.Command{
		Use:   "ask CONVERSATION ANNOTATION [QUESTION...]",
		Short: "Reopen an annotation and ask follow-up questions",
		Long: "Reopens the dialogue of a stored annotation. QUESTION is sent as a follow-up; " +
			"without it the dialogue is printed, and --interactive reads questions from stdin. " +
			"Follow-ups are not stored.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			interactive, _ := cmd.Flags().GetBool("interactive")
			return withApp(func(a *App) error {
				c, err := a.Conversations.Find(args[0])
				if err != nil {
					return err
				}
				engine := a.NewEngine()
				messageID, _, err := engine.FindAnnotation(c.ID, args[1])
				if err != nil {
					return err
				}

				interaction := annotation.NewInteraction(engine, c.ID, messageID)
				defer interaction.Close()
				if _, err := interaction.HandleClick(annotation.Click{AnnotationID: args[1]}); err != nil {
					return err
				}
				d := interaction.Dialogue()

				out := cmd.OutOrStdout()
				if _, err := fmt.Fprintln(out, d.Transcript()); err != nil {
					return err
				}
				var questions []string
				if len(args) > 2 {
					questions = []string{strings.Join(args[2:], " ")}
				}
				return followUps(cmd.Context(), d, questions, interactive, cmd.InOrStdin(), out)
			})
		},
	}
	askCmd.Flags().BoolP("interactive", "i", false, "Read follow-up questions from stdin")

	annotationsCmd.AddCommand(listCmd, askCmd)
	return annotationsCmd
}

// followUps asks each question in turn, then keeps reading questions from in
// when interactive.
func followUps(ctx context.Context, d *annotation.Dialogue, questions []string, interactive bool, in io.Reader, out io.Writer) error {
	ask := func(q string) error {
		answer, err := d.Ask(ctx, q)
		if errors.Is(err, annotation.ErrEmptyQuestion) {
			return nil
		}
		if err != nil {
			log.Warn().Err(err).Msg("follow-up failed")
		}
		_, werr := fmt.Fprintf(out, "\nUser: %s\nAssistant: %s\n", strings.TrimSpace(q), answer)
		return werr
	}

	for _, q := range questions {
		if err := ask(q); err != nil {
			return err
		}
	}
	if !interactive {
		return nil
	}

	scanner := bufio.NewScanner(in)
	for {
		if isTerminal() {
			_, _ = fmt.Fprint(out, "\n? ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if err := ask(scanner.Text()); err != nil {
			return err
		}
	}
}

func truncateLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
