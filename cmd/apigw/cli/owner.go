package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dashbite/apigw/internal/service"
)

func newOwnerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Manage owner accounts",
		Long:  "Create and list the developer accounts that own API keys and sign in to the system API.",
	}

	cmd.AddCommand(newOwnerCreateCmd())
	cmd.AddCommand(newOwnerListCmd())

	return cmd
}

// ---------- owner create ----------

func newOwnerCreateCmd() *cobra.Command {
	var (
		email      string
		password   string
		name       string
		superAdmin bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new owner account",
		Example: `  apigw owner create --email ops@example.com --super-admin
  apigw owner create --email dev@example.com --password secret123  # no prompt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOwnerCreate(cmd.OutOrStdout(), email, password, name, superAdmin)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owner email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Owner password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Owner display name")
	cmd.Flags().BoolVar(&superAdmin, "super-admin", false, "Allow tier changes, owner creation and event publication")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runOwnerCreate(out io.Writer, email, password, name string, superAdmin bool) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}

	// Prompt for password if not provided
	if password == "" {
		fmt.Fprint(out, "Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(out)
		password = string(pwBytes)

		fmt.Fprint(out, "Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Fprintln(out)

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	cfg, st, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	authSvc := service.NewAuthService(st, cfg.Auth.JWTSecret, hashCost(cfg.Auth.BcryptCost))
	owner, err := authSvc.CreateOwner(context.Background(), email, name, password, superAdmin)
	if err != nil {
		return fmt.Errorf("create owner: %w", err)
	}

	role := "owner"
	if owner.IsSuperAdmin {
		role = "super admin"
	}
	fmt.Fprintf(out, "Created %s %q (%s)\n", role, owner.Email, owner.ID)
	return nil
}

// ---------- owner list ----------

func newOwnerListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List owner accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOwnerList(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runOwnerList(out io.Writer, jsonOutput bool) error {
	_, st, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	owners, err := st.ListOwners(context.Background())
	if err != nil {
		return fmt.Errorf("list owners: %w", err)
	}

	if jsonOutput {
		return writeJSON(out, owners)
	}

	if len(owners) == 0 {
		fmt.Fprintln(out, "No owners configured. Use 'apigw owner create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-30s %-24s %-12s %-8s\n", "EMAIL", "NAME", "SUPER ADMIN", "ACTIVE")
	fmt.Fprintf(out, "%-30s %-24s %-12s %-8s\n", "-----", "----", "-----------", "------")
	for _, o := range owners {
		fmt.Fprintf(out, "%-30s %-24s %-12s %-8s\n", o.Email, o.Name, yesNo(o.IsSuperAdmin), yesNo(o.IsActive))
	}
	return nil
}
