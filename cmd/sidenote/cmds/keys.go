package cmds

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/sidenote/pkg/credentials"
)

func NewKeysCommand() *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage provider API keys",
	}

	addCmd := &cobra.Command{
		Use:   "add PROVIDER",
		Short: fmt.Sprintf("Add an API key (%s)", strings.Join(credentials.KindNames(), ", ")),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := credentials.ParseKind(args[0])
			if err != nil {
				return err
			}
			secret, _ := cmd.Flags().GetString("key")
			model, _ := cmd.Flags().GetString("model")
			label, _ := cmd.Flags().GetString("label")

			if secret == "" && credentials.Providers[kind].NeedsSecret {
				secret, err = askSecret(fmt.Sprintf("%s API key", credentials.Providers[kind].Name))
				if err != nil {
					return err
				}
			}

			return withApp(func(a *App) error {
				c, err := a.Credentials.Add(credentials.Credential{
					Kind:   kind,
					Secret: secret,
					Model:  model,
					Label:  label,
				})
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s, %s)\n", shortID(c.ID), c.Label, displayModel(c.Model))
				return err
			})
		},
	}
	addCmd.Flags().String("key", "", "API key (prompted for when empty)")
	addCmd.Flags().String("model", "", "Model (default: the provider's default model)")
	addCmd.Flags().String("label", "", "Label (default: \"<provider> Key\")")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *App) error {
				active, _ := a.Credentials.ActiveCredential()
				rows := [][]string{}
				for _, c := range a.Credentials.List() {
					marker := ""
					if c.ID == active.ID && c.Enabled {
						marker = "*"
					}
					rows = append(rows, []string{
						marker,
						shortID(c.ID),
						c.Label,
						credentials.Providers[c.Kind].Name,
						displayModel(c.Model),
						c.RedactedSecret(),
						fmt.Sprintf("%t", c.Enabled),
					})
				}
				if len(rows) == 0 {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "no API keys, add one with `sidenote keys add`")
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(),
					renderTable([]string{"", "ID", "LABEL", "PROVIDER", "MODEL", "KEY", "ENABLED"}, rows))
				return err
			})
		},
	}

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List the supported providers and their models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := [][]string{}
			for _, name := range credentials.KindNames() {
				info := credentials.Providers[credentials.Kind(name)]
				rows = append(rows, []string{
					name,
					info.Name,
					displayModel(info.DefaultModel),
					strings.Join(info.Models, ", "),
				})
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"KIND", "NAME", "DEFAULT", "MODELS"}, rows))
			return err
		},
	}

	keysCmd.AddCommand(
		addCmd,
		listCmd,
		providersCmd,
		credentialCommand("remove ID", "Remove an API key", func(a *App, c credentials.Credential, _ []string) error {
			return a.Credentials.Remove(c.ID)
		}),
		credentialCommand("enable ID", "Let a key take part in selection and fallback", func(a *App, c credentials.Credential, _ []string) error {
			return a.Credentials.SetEnabled(c.ID, true)
		}),
		credentialCommand("disable ID", "Exclude a key from selection and fallback", func(a *App, c credentials.Credential, _ []string) error {
			return a.Credentials.SetEnabled(c.ID, false)
		}),
		credentialCommand("activate ID", "Use a key for the next turns", func(a *App, c credentials.Credential, _ []string) error {
			return a.Credentials.SetActive(c.ID)
		}),
		credentialCommand("model ID MODEL", "Change the model of a key", func(a *App, c credentials.Credential, args []string) error {
			return a.Credentials.SetModel(c.ID, args[0])
		}),
	)

	return keysCmd
}

// credentialCommand builds a subcommand taking a credential id (or prefix)
// followed by the remaining arguments named in use.
func credentialCommand(use string, short string, f func(a *App, c credentials.Credential, args []string) error) *cobra.Command {
	n := len(strings.Fields(use)) - 1
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(n),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *App) error {
				c, err := a.FindCredential(args[0])
				if err != nil {
					return err
				}
				if err := f(a, c, args[1:]); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", strings.Fields(use)[0], shortID(c.ID))
				return err
			})
		},
	}
}

func displayModel(model string) string {
	if model == "" {
		return "(auto)"
	}
	return model
}
