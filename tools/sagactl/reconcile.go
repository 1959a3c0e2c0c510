package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one order reconciliation sweep now",
		Long: `Asks order-service to cancel orders stuck in PendingPayment past the
payment timeout and to settle orders whose payment outcome was missed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			var resp map[string]json.RawMessage
			if err := a.client("order-url").Post(ctx, "/admin/orders/reconcile", nil, &resp); err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			return a.print(resp)
		},
	}
}
