package cmds

import (
	"io"
	"os"

	input "github.com/tcnksm/go-input"
)

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stderr.Write(p) }
func (stdio) Close() error                { return nil }

// openTTY opens the controlling terminal so prompts work even when stdout is
// redirected. Without one it falls back to stdin and stderr.
func openTTY() io.ReadWriteCloser {
	f, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return stdio{}
	}
	return f
}

// askSecret prompts for an API key without echoing it.
func askSecret(query string) (string, error) {
	tty := openTTY()
	defer func() {
		_ = tty.Close()
	}()

	ui := &input.UI{
		Writer: tty,
		Reader: tty,
	}
	return ui.Ask(query, &input.Options{
		Required:  true,
		Loop:      true,
		Mask:      true,
		HideOrder: true,
	})
}
