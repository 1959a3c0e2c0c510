package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func (a *app) orderCmd() *cobra.Command {
	order := &cobra.Command{
		Use:   "order",
		Short: "Inspect orders",
	}
	order.AddCommand(&cobra.Command{
		Use:   "get ORDER_ID",
		Short: "Print an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			return a.get(cmd, "order-url", "/orders/"+id.String())
		},
	})
	return order
}

func (a *app) paymentCmd() *cobra.Command {
	payment := &cobra.Command{
		Use:   "payment",
		Short: "Inspect payments",
	}
	get := &cobra.Command{
		Use:   "get ID",
		Short: "Print a payment by id, or by order id with --by-order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			path := "/payments/" + id.String()
			if byOrder, _ := cmd.Flags().GetBool("by-order"); byOrder {
				path = "/payments/order/" + id.String()
			}
			return a.get(cmd, "payment-url", path)
		},
	}
	get.Flags().Bool("by-order", false, "treat ID as an order id")
	payment.AddCommand(get)
	return payment
}

func (a *app) get(cmd *cobra.Command, urlKey, path string) error {
	ctx, cancel := a.context(cmd)
	defer cancel()

	var resp map[string]json.RawMessage
	if err := a.client(urlKey).Get(ctx, path, &resp); err != nil {
		return err
	}
	return a.print(resp)
}
