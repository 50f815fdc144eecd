package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Rrens/secassist/internal/config"
	"github.com/Rrens/secassist/internal/security"
)

func newKeysCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage provider API keys in the encrypted keystore",
	}

	cmd.AddCommand(newKeysSetCmd(flags))
	cmd.AddCommand(newKeysListCmd(flags))
	cmd.AddCommand(newKeysDeleteCmd(flags))
	return cmd
}

func newKeysSetCmd(flags *globalFlags) *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store the API key for a provider",
		Long:  "Prompts for the key without echoing it. Use --stdin to pipe it in.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := checkProvider(args[0])
			if err != nil {
				return err
			}
			cfg, keys, err := openKeys(cmd, flags)
			if err != nil {
				return err
			}

			secret, err := readSecret(cmd, fmt.Sprintf("API key for %s: ", provider), fromStdin)
			if err != nil {
				return err
			}
			if secret == "" {
				return errors.New("empty key, nothing stored")
			}

			if err := keys.Set(provider, secret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored key for %s (%s) in %s\n", provider, security.Mask(secret), cfg.Keystore.Path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the key from standard input")
	return cmd
}

func newKeysListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List providers with a stored key",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, keys, err := openKeys(cmd, flags)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			providers := keys.Providers()
			if len(providers) == 0 {
				fmt.Fprintln(out, "No keys stored")
				return nil
			}
			for _, p := range providers {
				secret, _ := keys.Get(p)
				fmt.Fprintf(out, "%-10s %s\n", p, security.Mask(secret))
			}
			return nil
		},
	}
}

func newKeysDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <provider>",
		Short: "Remove the key stored for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := checkProvider(args[0])
			if err != nil {
				return err
			}
			_, keys, err := openKeys(cmd, flags)
			if err != nil {
				return err
			}

			removed, err := keys.Delete(provider)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "No key stored for %s\n", provider)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted key for %s\n", provider)
			return nil
		},
	}
}

func checkProvider(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range config.Providers {
		if p == name && p != "local" {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", name)
}

// openKeys opens the keystore, prompting for the passphrase when the
// environment does not provide one and a terminal is attached
func openKeys(cmd *cobra.Command, flags *globalFlags) (*config.Config, *security.KeyStore, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, nil, err
	}

	passphrase := cfg.Keystore.Passphrase
	if passphrase == "" && isTerminal(os.Stdin) {
		passphrase, err = readSecret(cmd, "Keystore passphrase: ", false)
		if err != nil {
			return nil, nil, err
		}
	}

	keys, err := security.OpenKeyStore(cfg.Keystore.Path, passphrase)
	if err != nil {
		return nil, nil, err
	}
	return cfg, keys, nil
}

// readSecret reads one line without echo from a terminal, or plainly from
// the command input otherwise
func readSecret(cmd *cobra.Command, prompt string, fromStdin bool) (string, error) {
	if !fromStdin && isTerminal(os.Stdin) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
