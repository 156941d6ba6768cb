package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/readreply/credential"
)

// NewCredentialCmd returns the command that manages passwords in the OS
// keyring, as read back by --keyring.
func NewCredentialCmd() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Store or remove IMAP/SMTP passwords in the OS keyring",
	}
	cmd.PersistentFlags().StringVar(&service, "keyring-service", credential.DefaultService, "Keyring service name")

	open := func() (*credential.Store, error) {
		return credential.Open(service)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set imap|smtp USER",
		Short: "Read a password from stdin and store it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := credentialKey(args[0], args[1])
			if err != nil {
				return err
			}
			password, err := readSecret(cmd)
			if err != nil {
				return err
			}
			store, err := open()
			if err != nil {
				return err
			}
			if err := store.Set(key, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", key)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete imap|smtp USER",
		Short: "Remove a stored password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := credentialKey(args[0], args[1])
			if err != nil {
				return err
			}
			store, err := open()
			if err != nil {
				return err
			}
			if err := store.Delete(key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
			return nil
		},
	})

	return cmd
}

func credentialKey(kind, user string) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", fmt.Errorf("user is empty")
	}
	switch strings.ToLower(kind) {
	case "imap":
		return credential.IMAPKey(user), nil
	case "smtp":
		return credential.SMTPKey(user), nil
	default:
		return "", fmt.Errorf("unknown credential kind %q, want imap or smtp", kind)
	}
}

func readSecret(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", fmt.Errorf("password is empty")
	}
	return secret, nil
}
