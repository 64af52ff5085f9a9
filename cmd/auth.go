package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/bookpipe/credentials"
)

// NewAuthCommand creates the auth command group.
func NewAuthCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the PostgreSQL mirror password",
		Long: `Manage the password used to connect to the PostgreSQL mirror.

The password is stored in the system keyring under the account
<user>@<host>:<port> taken from store.postgres. On hosts without a keyring,
set BOOKPIPE_CREDENTIALS_PASSPHRASE (or BOOKPIPE_ENCRYPTION_KEY) and the
password is kept in an encrypted credentials.yaml in the config directory.

BOOKPIPE_PG_PASSWORD takes precedence over any stored password.`,
	}

	cmd.AddCommand(newAuthSetPasswordCommand(deps))
	cmd.AddCommand(newAuthStatusCommand(deps))
	cmd.AddCommand(newAuthClearCommand(deps))

	return cmd
}

func newAuthSetPasswordCommand(deps *CommandDeps) *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "set-password",
		Short: "Store the mirror password",
		Long: `Store the PostgreSQL mirror password.

Prompts without echo when run in a terminal. Use --password-stdin to read the
password from standard input in scripts.

Examples:
  bookpipe auth set-password
  echo "$PG_PASSWORD" | bookpipe auth set-password --password-stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if !fromStdin {
				in = os.Stdin
			}
			return runAuthSetPassword(cmd.OutOrStdout(), in, deps)
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "Read the password from standard input")

	return cmd
}

func runAuthSetPassword(out io.Writer, in io.Reader, deps *CommandDeps) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	account := postgresAccount(cfg)

	password, err := deps.promptPassword(out, in, fmt.Sprintf("Password for %s: ", account))
	if err != nil {
		return err
	}
	password = strings.TrimSpace(password)
	if password == "" {
		return errors.New("password must not be empty")
	}

	creds, err := deps.Credentials()
	if err != nil {
		return err
	}
	source, err := creds.Save(account, password)
	if err != nil {
		if errors.Is(err, credentials.ErrKeyringUnavailable) {
			return fmt.Errorf("%w; set %s to use an encrypted file instead", err, credentials.EnvPassphrase)
		}
		return err
	}

	where := credentials.KeyringDescription()
	if source == credentials.SourceFile {
		where = creds.Path()
	}
	fmt.Fprintf(out, "Stored password for %s in %s\n", account, where)
	return nil
}

func newAuthStatusCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where the mirror password comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus(cmd.OutOrStdout(), deps)
		},
	}
}

type authStatusOutput struct {
	Account string `json:"account" yaml:"account"`
	Source  string `json:"source" yaml:"source"`
	Masked  string `json:"masked,omitempty" yaml:"masked,omitempty"`
}

func runAuthStatus(out io.Writer, deps *CommandDeps) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	creds, err := deps.Credentials()
	if err != nil {
		return err
	}

	res := authStatusOutput{Account: postgresAccount(cfg), Source: "none"}
	password, source, err := creds.Lookup(res.Account)
	switch {
	case errors.Is(err, credentials.ErrNoCredentials):
	case err != nil:
		return err
	default:
		res.Source = source
		res.Masked = credentials.MaskCredential(password)
	}

	return writeOutput(out, cfg.OutputFormat, res, func(w io.Writer) error {
		fmt.Fprintf(w, "Account: %s\n", res.Account)
		if res.Source == "none" {
			fmt.Fprintln(w, "Password: not set")
			return nil
		}
		fmt.Fprintf(w, "Password: %s (from %s)\n", res.Masked, res.Source)
		return nil
	})
}

func newAuthClearCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored mirror password",
		Long: `Remove the stored mirror password from the keyring and the encrypted file.
BOOKPIPE_PG_PASSWORD is not affected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.config()
			if err != nil {
				return err
			}
			creds, err := deps.Credentials()
			if err != nil {
				return err
			}
			account := postgresAccount(cfg)
			if err := creds.Delete(account); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared password for %s\n", account)
			return nil
		},
	}
}
