package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"gopkg.in/yaml.v3"
)

// StepPrinterFunc returns a handler that prints a turn as it streams: the name
// header before the first delta, deltas as they arrive, and a short notice for
// failovers, errors and interruptions.
func StepPrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	isFirst := true
	lastCompletion := ""

	header := func() error {
		if isFirst && name != "" {
			isFirst = false
			_, err := fmt.Fprintf(w, "\n%s: \n", name)
			return err
		}
		return nil
	}

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventStart:
			isFirst = true
			lastCompletion = ""

		case *EventPartialCompletion:
			if err := header(); err != nil {
				return err
			}
			if p_.Delta == "" && p_.Completion != lastCompletion {
				// the provider rewrote the text, reprint it whole
				_, err = fmt.Fprintf(w, "\r%s", p_.Completion)
			} else {
				_, err = fmt.Fprintf(w, "%s", p_.Delta)
			}
			lastCompletion = p_.Completion
			if err != nil {
				return err
			}

		case *EventFailover:
			meta := p_.Metadata()
			if _, err := fmt.Fprintf(w, "\n[%s failed, retrying with %s]\n", p_.PreviousCredentialID, meta.Provider); err != nil {
				return err
			}
			lastCompletion = ""

		case *EventFinal:
			if lastCompletion == "" && p_.Text != "" {
				if err := header(); err != nil {
					return err
				}
				if _, err := fmt.Fprint(w, p_.Text); err != nil {
					return err
				}
			}
			if !strings.HasSuffix(p_.Text, "\n") {
				if _, err := fmt.Fprintf(w, "\n"); err != nil {
					return err
				}
			}

		case *EventError:
			if err := header(); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "\n%s\n", p_.Text); err != nil {
				return err
			}

		case *EventInterrupt:
			if _, err := fmt.Fprintf(w, "\n[stopped]\n"); err != nil {
				return err
			}

		default:
			v_, err := yaml.Marshal(e)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s\n", v_); err != nil {
				return err
			}
		}

		return nil
	}
}
