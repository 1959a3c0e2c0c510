package main

import (
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"

	pkgdynamo "github.com/yashrajoria/marketplace/pkg/dynamodb"
	"github.com/yashrajoria/marketplace/services/inventory-service/repository"
)

func (a *app) dynamoCmd() *cobra.Command {
	dynamo := &cobra.Command{
		Use:   "dynamo",
		Short: "Manage DynamoDB resources",
	}

	create := &cobra.Command{
		Use:   "create-tables",
		Short: "Create the inventory and adjustment tables if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			api, err := a.newTableAPI(ctx)
			if err != nil {
				return fmt.Errorf("aws config: %w", err)
			}

			type result struct {
				Table   string `json:"table"`
				Created bool   `json:"created"`
			}
			var results []result
			for _, def := range repository.TableDefinitions(a.v.GetString("inventory-table"), a.v.GetString("adjustments-table")) {
				created, err := pkgdynamo.EnsureTable(ctx, api, def)
				if err != nil {
					return err
				}
				results = append(results, result{Table: sdkaws.ToString(def.TableName), Created: created})
			}
			return a.print(results)
		},
	}
	create.Flags().String("inventory-table", "Inventory", "inventory table name")
	create.Flags().String("adjustments-table", "InventoryAdjustments", "per-order adjustments table name")
	_ = a.v.BindPFlags(create.Flags())

	dynamo.AddCommand(create)
	return dynamo
}
