package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dashbite/apigw/internal/webhook"
)

func newWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "webhook",
		Aliases: []string{"webhooks"},
		Short:   "Inspect and deactivate webhook subscriptions",
	}

	cmd.AddCommand(newWebhookListCmd())
	cmd.AddCommand(newWebhookDeactivateCmd())

	return cmd
}

// ---------- webhook list ----------

func newWebhookListCmd() *cobra.Command {
	var (
		keyID      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List webhook subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWebhookList(cmd.OutOrStdout(), keyID, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&keyID, "key", "", "Only list subscriptions of this API key id")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runWebhookList(out io.Writer, keyID string, jsonOutput bool) error {
	_, st, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	hooks, err := webhook.NewRegistry(st, nil).ListForKey(context.Background(), keyID)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}

	if jsonOutput {
		return writeJSON(out, hooks)
	}

	if len(hooks) == 0 {
		fmt.Fprintln(out, "No webhook subscriptions.")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-40s %-32s %-9s %-8s\n", "ID", "URL", "EVENTS", "FAILURES", "ACTIVE")
	fmt.Fprintf(out, "%-36s %-40s %-32s %-9s %-8s\n", "--", "---", "------", "--------", "------")
	for _, h := range hooks {
		fmt.Fprintf(out, "%-36s %-40s %-32s %-9d %-8s\n", h.ID, h.URL, strings.Join(h.Events, ","), h.FailureCount, yesNo(h.IsActive))
	}
	return nil
}

// ---------- webhook deactivate ----------

func newWebhookDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Stop delivering events to a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWebhookDeactivate(cmd.OutOrStdout(), args[0])
		},
	}
}

func runWebhookDeactivate(out io.Writer, id string) error {
	_, st, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := webhook.NewRegistry(st, nil).Deactivate(context.Background(), id); err != nil {
		return fmt.Errorf("deactivate webhook: %w", err)
	}
	fmt.Fprintf(out, "Deactivated webhook %s\n", id)
	return nil
}
