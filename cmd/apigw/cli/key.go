package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, rotate, and revoke the key pairs third parties use to call the gateway.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRotateCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyTierCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		owner   string
		name    string
		tier    string
		sandbox bool
		expires time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key pair",
		Long:  "Issue a key pair for an owner. The secret is shown once and cannot be retrieved again.",
		Example: `  apigw key create --owner dev@example.com --name "Storefront" --tier starter
  apigw key create --owner dev@example.com --name "CI" --sandbox --expires 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(cmd.OutOrStdout(), owner, name, tier, sandbox, expires)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner email (required)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key")
	cmd.Flags().StringVar(&tier, "tier", "free", "Tier: free, starter, pro, enterprise")
	cmd.Flags().BoolVar(&sandbox, "sandbox", false, "Issue a pk_test_/sk_test_ sandbox pair")
	cmd.Flags().DurationVar(&expires, "expires", 0, "Expire the key after this duration (0 = never)")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runKeyCreate(out io.Writer, ownerEmail, name, tierName string, sandbox bool, expires time.Duration) error {
	tier, err := model.ParseTier(tierName)
	if err != nil {
		return err
	}

	cfg, st, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	owner, err := ownerByEmail(ctx, st, ownerEmail)
	if err != nil {
		return err
	}

	params := service.CreateKeyParams{
		OwnerID: owner.ID,
		Name:    name,
		Tier:    tier,
		Sandbox: sandbox,
	}
	if expires > 0 {
		at := time.Now().UTC().Add(expires)
		params.ExpiresAt = &at
	}

	keys := service.NewKeyManager(st, service.WithHashCost(hashCost(cfg.Auth.BcryptCost)))
	key, secret, err := keys.CreateAPIKey(ctx, params)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Fprintln(out, "API key created:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  ID:      %s\n", key.ID)
	fmt.Fprintf(out, "  Key:     %s\n", key.PublicKey)
	fmt.Fprintf(out, "  Secret:  %s\n", secret)
	fmt.Fprintf(out, "  Tier:    %s\n", key.Tier)
	fmt.Fprintf(out, "  Scopes:  %s\n", key.Permissions)
	if key.ExpiresAt != nil {
		fmt.Fprintf(out, "  Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save the secret now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		owner      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd.OutOrStdout(), owner, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Only list keys of this owner email")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(out io.Writer, ownerEmail string, jsonOutput bool) error {
	_, st, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	ownerID := ""
	if ownerEmail != "" {
		owner, err := ownerByEmail(ctx, st, ownerEmail)
		if err != nil {
			return err
		}
		ownerID = owner.ID
	}

	keys, err := st.ListAPIKeys(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		return writeJSON(out, keys)
	}

	if len(keys) == 0 {
		fmt.Fprintln(out, "No API keys issued. Use 'apigw key create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-32s %-12s %-10s %-8s\n", "ID", "KEY", "TIER", "TODAY", "ACTIVE")
	fmt.Fprintf(out, "%-36s %-32s %-12s %-10s %-8s\n", "--", "---", "----", "-----", "------")
	for _, k := range keys {
		fmt.Fprintf(out, "%-36s %-32s %-12s %-10d %-8s\n", k.ID, k.PublicKey, k.Tier, k.DailyRequests, yesNo(k.IsActive))
	}
	return nil
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <id>",
		Short: "Replace a key's public identifier and secret",
		Long:  "Issue a fresh pair for an existing key. The old pair stops working immediately.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRotate(cmd.OutOrStdout(), args[0])
		},
	}
}

func runKeyRotate(out io.Writer, id string) error {
	cfg, st, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	keys := service.NewKeyManager(st, service.WithHashCost(hashCost(cfg.Auth.BcryptCost)))
	key, secret, err := keys.RotateAPIKey(context.Background(), id)
	if err != nil {
		return fmt.Errorf("rotate api key: %w", err)
	}

	fmt.Fprintln(out, "API key rotated:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Key:     %s\n", key.PublicKey)
	fmt.Fprintf(out, "  Secret:  %s\n", secret)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save the secret now - it cannot be retrieved again.")
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Deactivate an API key",
		Long:  "Deactivate an API key, rejecting any further request made with it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(cmd.OutOrStdout(), args[0])
		},
	}
}

func runKeyRevoke(out io.Writer, id string) error {
	_, st, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	keys := service.NewKeyManager(st)
	if err := keys.DeactivateAPIKey(context.Background(), id); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	fmt.Fprintf(out, "Revoked API key %s\n", id)
	return nil
}

// ---------- key tier ----------

func newKeyTierCmd() *cobra.Command {
	var (
		tier       string
		grantAdmin bool
	)

	cmd := &cobra.Command{
		Use:   "tier <id>",
		Short: "Move a key to another tier",
		Long:  "Change a key's tier, resetting its scopes and limits to the tier's defaults.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyTier(cmd.OutOrStdout(), args[0], tier, grantAdmin)
		},
	}

	cmd.Flags().StringVar(&tier, "tier", "", "Target tier (required)")
	cmd.Flags().BoolVar(&grantAdmin, "admin", false, "Also grant the admin scope")
	cmd.MarkFlagRequired("tier")

	return cmd
}

func runKeyTier(out io.Writer, id, tierName string, grantAdmin bool) error {
	tier, err := model.ParseTier(tierName)
	if err != nil {
		return err
	}

	_, st, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	key, err := service.NewKeyManager(st).ChangeTier(context.Background(), id, tier, grantAdmin)
	if err != nil {
		return fmt.Errorf("change tier: %w", err)
	}
	fmt.Fprintf(out, "Key %s is now %s (scopes: %s, %d/day)\n", key.ID, key.Tier, key.Permissions, tier.Limits().DailyLimit)
	return nil
}

func hashCost(cost int) int {
	if cost < bcrypt.MinCost {
		return bcrypt.DefaultCost
	}
	return cost
}
