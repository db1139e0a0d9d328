package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/sidenote/pkg/conversation"
	"github.com/go-go-golems/sidenote/pkg/events"
	"github.com/go-go-golems/sidenote/pkg/session"
)

const chatTopic = "chat"

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [TEXT...]",
		Short: "Chat with the active provider, or start a REPL when no text is given",
		Long: "Sends TEXT as one turn, or reads one turn per line from stdin. " +
			"Ctrl-C stops the answer being streamed; at the prompt it exits. " +
			"In the REPL, /new starts a new conversation and /quit exits.",
		RunE: runChat,
	}
	cmd.Flags().StringP("conversation", "c", "", "Conversation id or id prefix (default: a new conversation)")
	cmd.Flags().String("image", "", "Image file attached to the first turn")
	cmd.Flags().Bool("raw-events", false, "Print the raw session events as JSON")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	convFlag, _ := cmd.Flags().GetString("conversation")
	imagePath, _ := cmd.Flags().GetString("image")
	rawEvents, _ := cmd.Flags().GetBool("raw-events")

	var image *conversation.ImageRef
	if imagePath != "" {
		var err error
		image, err = loadImage(imagePath)
		if err != nil {
			return err
		}
	}

	return withApp(func(a *App) error {
		var conv conversation.Conversation
		if convFlag != "" {
			var err error
			conv, err = a.Conversations.Find(convFlag)
			if err != nil {
				return err
			}
		} else {
			conv = a.Conversations.Create("")
		}

		out := cmd.OutOrStdout()
		router, err := events.NewEventRouter(events.WithVerbose(viper.GetBool("verbose")))
		if err != nil {
			return err
		}
		defer func() {
			_ = router.Close()
		}()
		if rawEvents {
			router.AddHandler("raw", chatTopic, router.DumpRawEvents(out))
		} else {
			router.AddHandler("printer", chatTopic, events.StepPrinterFunc("Assistant", out))
		}

		manager := a.NewManager(router.Sink(chatTopic))

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go stopOnInterrupt(ctx, cancel, manager)

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			return router.Run(ctx)
		})
		eg.Go(func() error {
			defer cancel()
			select {
			case <-router.Running():
			case <-ctx.Done():
				return nil
			}

			c := &chatLoop{manager: manager, store: a.Conversations, conversationID: conv.ID, image: image, out: out}
			if len(args) > 0 {
				return c.turn(ctx, strings.Join(args, " "))
			}
			return c.repl(ctx, cmd.InOrStdin())
		})

		err = eg.Wait()
		if manager.IsStreaming() {
			_ = manager.Stop()
		}
		return err
	})
}

// stopOnInterrupt stops the streaming turn on Ctrl-C, or ends the chat when
// nothing streams.
func stopOnInterrupt(ctx context.Context, cancel context.CancelFunc, manager *session.Manager) {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	for {
		select {
		case <-ctx.Done():
			return
		case <-interrupts:
			if manager.IsStreaming() {
				if err := manager.Stop(); err != nil && !errors.Is(err, session.ErrNotStreaming) {
					log.Warn().Err(err).Msg("could not stop turn")
				}
				continue
			}
			cancel()
			return
		}
	}
}

type chatLoop struct {
	manager        *session.Manager
	store          *conversation.Store
	conversationID string
	image          *conversation.ImageRef
	out            io.Writer
}

func (c *chatLoop) turn(ctx context.Context, text string) error {
	h, err := c.manager.Start(ctx, session.SubmitRequest{
		ConversationID: c.conversationID,
		Text:           text,
		Image:          c.image,
	})
	if err != nil {
		return err
	}
	c.image = nil

	res := h.Wait()
	log.Debug().
		Str("conversation", res.ConversationID).
		Str("credential", res.CredentialID).
		Int("attempts", res.Attempts).
		Bool("canceled", res.Canceled).
		Err(res.Err).
		Msg("turn finished")
	return nil
}

func (c *chatLoop) repl(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	interactive := isTerminal()
	for {
		if interactive {
			_, _ = fmt.Fprint(c.out, "\n> ")
		}
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			conv := c.store.Create("")
			c.conversationID = conv.ID
			_, _ = fmt.Fprintf(c.out, "new conversation %s\n", shortID(conv.ID))
			continue
		}
		if err := c.turn(ctx, line); err != nil {
			return err
		}
	}
}

func loadImage(path string) (*conversation.ImageRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read image")
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, errors.Errorf("%s is not an image (%s)", path, mimeType)
	}
	return &conversation.ImageRef{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Data:     data,
	}, nil
}
