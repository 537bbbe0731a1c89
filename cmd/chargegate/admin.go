package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/chargegate/internal/auth"
)

// generatedPasswordLen trims generated operator passwords to a typeable length.
const generatedPasswordLen = 24

func newOperatorCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage console operators",
	}

	var username, roles, password, displayName string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an operator",
		Long:  "Creates a console operator. Without --password a random one is generated and printed once.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := auth.ParseRoles(roles)
			if err != nil {
				return err
			}
			if len(parsed) == 0 {
				return errors.New("at least one role is required")
			}

			generated := password == ""
			if generated {
				secret, err := auth.GenerateSecret()
				if err != nil {
					return err
				}
				password = secret[:generatedPasswordLen]
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			_, db, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer db.Close()

			op := &auth.Operator{
				Username:     username,
				DisplayName:  displayName,
				PasswordHash: hash,
				Roles:        parsed,
				IsActive:     true,
			}
			if err := auth.NewOperatorRepository(db.DB).Create(cmd.Context(), op); err != nil {
				return fmt.Errorf("creating operator: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created operator %s (%s) with roles %s\n", op.Username, op.ID, auth.FormatRoles(op.Roles))
			if generated {
				fmt.Fprintf(out, "Password: %s\n", password)
			}
			return nil
		},
	}
	add.Flags().StringVar(&username, "username", "", "login name")
	add.Flags().StringVar(&displayName, "name", "", "display name")
	add.Flags().StringVar(&roles, "role", string(auth.RoleAdmin), "comma-separated roles")
	add.Flags().StringVar(&password, "password", "", "initial password (generated when empty)")
	_ = add.MarkFlagRequired("username") //nolint:errcheck // flag is defined above

	cmd.AddCommand(add)
	return cmd
}

func newAPIClientCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apiclient",
		Short: "Manage programmatic API clients",
	}

	var name, roles string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an API client and print its secret once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := auth.ParseRoles(roles)
			if err != nil {
				return err
			}

			secret, err := auth.GenerateSecret()
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(secret)
			if err != nil {
				return err
			}

			_, db, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer db.Close()

			client := &auth.APIClient{
				Name:       name,
				SecretHash: hash,
				Roles:      parsed,
				IsActive:   true,
			}
			if err := auth.NewAPIClientRepository(db.DB).Create(cmd.Context(), client); err != nil {
				return fmt.Errorf("creating api client: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created API client %s (%s)\n", client.Name, client.ID)
			fmt.Fprintf(out, "Secret: %s\n", secret)
			fmt.Fprintln(out, "Store the secret now; it cannot be shown again.")
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "client name, used as the Basic username")
	add.Flags().StringVar(&roles, "role", string(auth.RoleUser), "comma-separated roles")
	_ = add.MarkFlagRequired("name") //nolint:errcheck // flag is defined above

	cmd.AddCommand(add)
	return cmd
}

func newTokenCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue bearer tokens",
	}

	var clientName string
	var ttl int
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for an existing API client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer db.Close()

			if cfg.Security.JWT.Secret == "" {
				return errors.New("security.jwt.secret is not configured; bearer tokens are disabled")
			}

			client, err := auth.NewAPIClientRepository(db.DB).GetByName(cmd.Context(), clientName)
			if err != nil {
				return fmt.Errorf("looking up api client %q: %w", clientName, err)
			}
			if !client.IsActive {
				return fmt.Errorf("api client %q: %w", clientName, auth.ErrClientInactive)
			}

			if ttl <= 0 {
				ttl = cfg.Security.JWT.AccessTokenTTL
			}
			token, err := auth.GenerateAccessToken(client, cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().StringVar(&clientName, "client", "", "API client name")
	issue.Flags().IntVar(&ttl, "ttl", 0, "lifetime in minutes (default security.jwt.access_token_ttl)")
	_ = issue.MarkFlagRequired("client") //nolint:errcheck // flag is defined above

	cmd.AddCommand(issue)
	return cmd
}
