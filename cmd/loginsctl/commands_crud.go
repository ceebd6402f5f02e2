package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultline/logins/internal/logins"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loginFieldsFromFlags(cmd *cobra.Command) logins.LoginFields {
	origin, _ := cmd.Flags().GetString("origin")
	formActionOrigin, _ := cmd.Flags().GetString("form-action-origin")
	httpRealm, _ := cmd.Flags().GetString("http-realm")
	usernameField, _ := cmd.Flags().GetString("username-field")
	passwordField, _ := cmd.Flags().GetString("password-field")
	return logins.LoginFields{
		Origin:            origin,
		FormActionOrigin:  formActionOrigin,
		HTTPRealm:         httpRealm,
		UsernameField:     usernameField,
		PasswordField:     passwordField,
	}
}

func secureFieldsFromFlags(cmd *cobra.Command) logins.SecureFields {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	return logins.SecureFields{Username: username, Password: password}
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().String("origin", "", "origin this login belongs to (required)")
	cmd.Flags().String("form-action-origin", "", "form action origin, mutually exclusive with --http-realm")
	cmd.Flags().String("http-realm", "", "HTTP auth realm, mutually exclusive with --form-action-origin")
	cmd.Flags().String("username-field", "", "name of the username form field")
	cmd.Flags().String("password-field", "", "name of the password form field")
	cmd.Flags().String("username", "", "login username (required)")
	cmd.Flags().String("password", "", "login password (required)")
}

func newAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "add a new login record",
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := openStoreFromFlags(cmd)
			if err != nil {
				return err
			}
			defer opened.Close()

			login, err := opened.store.Add(context.Background(), loginFieldsFromFlags(cmd), secureFieldsFromFlags(cmd))
			if err != nil {
				return fmt.Errorf("add login: %w", err)
			}
			return printJSON(login)
		},
	}
	addTargetFlags(cmd)
	cmd.MarkFlagRequired("origin")
	cmd.MarkFlagRequired("username")
	return cmd
}

func newUpdateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "update an existing login record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := openStoreFromFlags(cmd)
			if err != nil {
				return err
			}
			defer opened.Close()

			login, err := opened.store.Update(context.Background(), args[0], loginFieldsFromFlags(cmd), secureFieldsFromFlags(cmd))
			if err != nil {
				return fmt.Errorf("update login %q: %w", args[0], err)
			}
			return printJSON(login)
		},
	}
	addTargetFlags(cmd)
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "fetch a single login record by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := openStoreFromFlags(cmd)
			if err != nil {
				return err
			}
			defer opened.Close()

			login, found, err := opened.store.GetByID(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("get login %q: %w", args[0], err)
			}
			if !found {
				return fmt.Errorf("no login with id %q", args[0])
			}
			return printJSON(login)
		},
	}
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list login records, optionally filtered by base domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := openStoreFromFlags(cmd)
			if err != nil {
				return err
			}
			defer opened.Close()

			base, _ := cmd.Flags().GetString("base-domain")
			ctx := context.Background()
			var result []logins.Login
			if base != "" {
				result, err = opened.store.GetByBaseDomain(ctx, base)
			} else {
				result, err = opened.store.GetAll(ctx)
			}
			if err != nil {
				return fmt.Errorf("list logins: %w", err)
			}
			return printJSON(result)
		},
	}
	cmd.Flags().String("base-domain", "", "restrict to logins whose origin matches this base domain")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "delete a login record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := openStoreFromFlags(cmd)
			if err != nil {
				return err
			}
			defer opened.Close()

			deleted, err := opened.store.Delete(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("delete login %q: %w", args[0], err)
			}
			return printJSON(map[string]bool{"deleted": deleted})
		},
	}
}

// importEntry is the on-disk shape accepted by newImportCommand: the fields
// an import source (a browser export, another credentials manager) would
// plausibly supply, with meta left for the store to default.
type importEntry struct {
	Origin           string `json:"origin"`
	FormActionOrigin string `json:"formActionOrigin"`
	HTTPRealm        string `json:"httpRealm"`
	UsernameField    string `json:"usernameField"`
	PasswordField    string `json:"passwordField"`
	Username         string `json:"username"`
	Password         string `json:"password"`
}

type importResult struct {
	Index int           `json:"index"`
	Login *logins.Login `json:"login,omitempty"`
	Error string        `json:"error,omitempty"`
}

func newImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "bulk-add login records from a JSON array, committing all successes in one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := openStoreFromFlags(cmd)
			if err != nil {
				return err
			}
			defer opened.Close()

			raw, err := readImportFile(args[0])
			if err != nil {
				return err
			}
			var entries []importEntry
			if err := json.Unmarshal(raw, &entries); err != nil {
				return fmt.Errorf("parse import file: %w", err)
			}

			batch := make([]logins.Login, len(entries))
			for i, e := range entries {
				batch[i] = logins.Login{
					LoginFields: logins.LoginFields{
						Origin:           e.Origin,
						FormActionOrigin: e.FormActionOrigin,
						HTTPRealm:        e.HTTPRealm,
						UsernameField:    e.UsernameField,
						PasswordField:    e.PasswordField,
					},
					SecureFields: logins.SecureFields{Username: e.Username, Password: e.Password},
				}
			}

			results, err := opened.store.AddMany(context.Background(), batch)
			if err != nil {
				return fmt.Errorf("import batch: %w", err)
			}

			out := make([]importResult, len(results))
			failed := 0
			for i, r := range results {
				out[i] = importResult{Index: i}
				if r.Err != nil {
					out[i].Error = r.Err.Error()
					failed++
					continue
				}
				login := r.Login
				out[i].Login = &login
			}
			if failed > 0 {
				cmd.PrintErrf("import: %d of %d entries failed\n", failed, len(results))
			}
			return printJSON(out)
		},
	}
	return cmd
}

func readImportFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func newTouchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "touch <id>",
		Short: "record a use of a login (bumps times_used and time_last_used)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := openStoreFromFlags(cmd)
			if err != nil {
				return err
			}
			defer opened.Close()

			if err := opened.store.Touch(context.Background(), args[0]); err != nil {
				return fmt.Errorf("touch login %q: %w", args[0], err)
			}
			return printJSON(map[string]string{"id": args[0], "status": "touched"})
		},
	}
}
