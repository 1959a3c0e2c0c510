package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/yashrajoria/marketplace/services/inventory-service/models"
)

var (
	ErrNotFound          = errors.New("inventory record not found")
	ErrExists            = errors.New("inventory record already exists")
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrAlreadyApplied means this order line was decremented before.
	ErrAlreadyApplied = errors.New("adjustment already applied")
	// ErrOrderCancelled means the order was cancelled before its stock was taken.
	ErrOrderCancelled = errors.New("order already cancelled")
)

// cancelledMarker is the sort key of an order's cancellation tombstone in the
// adjustments table. Product ids never start with '#'.
const cancelledMarker = "#cancelled"

// InventoryRepository defines the interface for inventory data access
type InventoryRepository interface {
	Get(ctx context.Context, productID string) (*models.Inventory, error)
	Create(ctx context.Context, inv *models.Inventory) error
	Update(ctx context.Context, productID string, quantity, threshold *int) (*models.Inventory, error)
	// Decrement takes qty of productID for orderID, only if enough stock exists,
	// the line was not taken before and the order is not cancelled.
	Decrement(ctx context.Context, orderID, productID string, qty int) error
	// Credit gives back a decremented line. It reports false when there was
	// nothing left to credit.
	Credit(ctx context.Context, orderID, productID string, qty int) (bool, error)
	MarkCancelled(ctx context.Context, orderID, reason string) error
	Adjustments(ctx context.Context, orderID string) ([]models.Adjustment, error)
}

// DynamoAPI is the subset of the DynamoDB client the repository uses
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoInventoryRepository implements InventoryRepository using DynamoDB
type DynamoInventoryRepository struct {
	client      DynamoAPI
	table       string
	adjustments string
	now         func() time.Time
}

// NewDynamoInventoryRepository creates a new DynamoDB backed inventory repository
func NewDynamoInventoryRepository(client DynamoAPI, table, adjustmentsTable string) *DynamoInventoryRepository {
	return &DynamoInventoryRepository{
		client:      client,
		table:       table,
		adjustments: adjustmentsTable,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type tombstone struct {
	OrderID   string `dynamodbav:"order_id"`
	ProductID string `dynamodbav:"product_id"`
	Reason    string `dynamodbav:"reason"`
	CreatedAt string `dynamodbav:"created_at"`
}

func productKey(productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"product_id": &types.AttributeValueMemberS{Value: productID}}
}

func adjustmentKey(orderID, productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id":   &types.AttributeValueMemberS{Value: orderID},
		"product_id": &types.AttributeValueMemberS{Value: productID},
	}
}

func intAV(n int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprint(n)}
}

func strAV(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func (r *DynamoInventoryRepository) Get(ctx context.Context, productID string) (*models.Inventory, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &r.table,
		Key:            productKey(productID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var inv models.Inventory
	if err := attributevalue.UnmarshalMap(out.Item, &inv); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &inv, nil
}

func (r *DynamoInventoryRepository) Create(ctx context.Context, inv *models.Inventory) error {
	item, err := attributevalue.MarshalMap(inv)
	if err != nil {
		return fmt.Errorf("marshal inventory: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &r.table,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(product_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrExists
		}
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func (r *DynamoInventoryRepository) Update(ctx context.Context, productID string, quantity, threshold *int) (*models.Inventory, error) {
	expr := "SET updated_at = :now"
	values := map[string]types.AttributeValue{
		":now": strAV(r.now().Format(time.RFC3339Nano)),
	}
	names := map[string]string{}
	if quantity != nil {
		names["#qty"] = "quantity"
		expr += ", #qty = :qty"
		values[":qty"] = intAV(*quantity)
	}
	if threshold != nil {
		names["#th"] = "threshold"
		expr += ", #th = :th"
		values[":th"] = intAV(*threshold)
	}
	if len(names) == 0 {
		names = nil
	}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &r.table,
		Key:                       productKey(productID),
		UpdateExpression:          &expr,
		ConditionExpression:       aws.String("attribute_exists(product_id)"),
		ExpressionAttributeValues: values,
		ExpressionAttributeNames:  names,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update item failed: %w", err)
	}

	var inv models.Inventory
	if err := attributevalue.UnmarshalMap(out.Attributes, &inv); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &inv, nil
}

// Decrement writes the stock update, the adjustment record and the tombstone
// check as one transaction.
func (r *DynamoInventoryRepository) Decrement(ctx context.Context, orderID, productID string, qty int) error {
	now := r.now()
	adj, err := attributevalue.MarshalMap(models.Adjustment{
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  qty,
		State:     models.AdjustmentDecremented,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("marshal adjustment: %w", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:                &r.table,
				Key:                      productKey(productID),
				UpdateExpression:         aws.String("SET #qty = #qty - :qty, updated_at = :now"),
				ConditionExpression:      aws.String("attribute_exists(product_id) AND #qty >= :qty"),
				ExpressionAttributeNames: map[string]string{"#qty": "quantity"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":qty": intAV(qty),
					":now": strAV(now.Format(time.RFC3339Nano)),
				},
			}},
			{Put: &types.Put{
				TableName:           &r.adjustments,
				Item:                adj,
				ConditionExpression: aws.String("attribute_not_exists(order_id)"),
			}},
			{ConditionCheck: &types.ConditionCheck{
				TableName:           &r.adjustments,
				Key:                 adjustmentKey(orderID, cancelledMarker),
				ConditionExpression: aws.String("attribute_not_exists(order_id)"),
			}},
		},
	})
	if err == nil {
		return nil
	}

	failed := cancelledChecks(err)
	switch {
	case failed == nil:
		return fmt.Errorf("decrement failed: %w", err)
	case failed[2]:
		return ErrOrderCancelled
	case failed[1]:
		return ErrAlreadyApplied
	case failed[0]:
		return ErrInsufficientStock
	default:
		return fmt.Errorf("decrement failed: %w", err)
	}
}

func (r *DynamoInventoryRepository) Credit(ctx context.Context, orderID, productID string, qty int) (bool, error) {
	now := strAV(r.now().Format(time.RFC3339Nano))
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:                &r.adjustments,
				Key:                      adjustmentKey(orderID, productID),
				UpdateExpression:         aws.String("SET #state = :credited, credited_at = :now"),
				ConditionExpression:      aws.String("#state = :decremented AND #qty = :qty"),
				ExpressionAttributeNames: map[string]string{"#state": "state", "#qty": "quantity"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":credited":    strAV(string(models.AdjustmentCredited)),
					":decremented": strAV(string(models.AdjustmentDecremented)),
					":qty":         intAV(qty),
					":now":         now,
				},
			}},
			{Update: &types.Update{
				TableName:                &r.table,
				Key:                      productKey(productID),
				UpdateExpression:         aws.String("SET #qty = #qty + :qty, updated_at = :now"),
				ExpressionAttributeNames: map[string]string{"#qty": "quantity"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":qty": intAV(qty),
					":now": now,
				},
			}},
		},
	})
	if err == nil {
		return true, nil
	}
	if failed := cancelledChecks(err); failed != nil && failed[0] {
		return false, nil
	}
	return false, fmt.Errorf("credit failed: %w", err)
}

func (r *DynamoInventoryRepository) MarkCancelled(ctx context.Context, orderID, reason string) error {
	item, err := attributevalue.MarshalMap(tombstone{
		OrderID:   orderID,
		ProductID: cancelledMarker,
		Reason:    reason,
		CreatedAt: r.now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal tombstone: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &r.adjustments,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func (r *DynamoInventoryRepository) Adjustments(ctx context.Context, orderID string) ([]models.Adjustment, error) {
	var (
		result []models.Adjustment
		start  map[string]types.AttributeValue
	)
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 &r.adjustments,
			KeyConditionExpression:    aws.String("order_id = :o"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":o": strAV(orderID)},
			ConsistentRead:            aws.Bool(true),
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb Query failed: %w", err)
		}
		for _, item := range out.Items {
			if pk, ok := item["product_id"].(*types.AttributeValueMemberS); ok && pk.Value == cancelledMarker {
				continue
			}
			var adj models.Adjustment
			if err := attributevalue.UnmarshalMap(item, &adj); err != nil {
				return nil, fmt.Errorf("unmarshal adjustment: %w", err)
			}
			result = append(result, adj)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return result, nil
		}
		start = out.LastEvaluatedKey
	}
}

// cancelledChecks returns, per transaction item, whether its condition failed.
// It returns nil when err is not a cancelled transaction.
func cancelledChecks(err error) []bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil
	}
	failed := make([]bool, 3)
	for i, reason := range tce.CancellationReasons {
		if i < len(failed) && aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			failed[i] = true
		}
	}
	return failed
}

// TableDefinitions describes the inventory and adjustments tables.
func TableDefinitions(table, adjustmentsTable string) []*dynamodb.CreateTableInput {
	return []*dynamodb.CreateTableInput{
		{
			TableName:            aws.String(table),
			BillingMode:          types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{{AttributeName: aws.String("product_id"), AttributeType: types.ScalarAttributeTypeS}},
			KeySchema:            []types.KeySchemaElement{{AttributeName: aws.String("product_id"), KeyType: types.KeyTypeHash}},
		},
		{
			TableName:   aws.String(adjustmentsTable),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("order_id"), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String("product_id"), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("order_id"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("product_id"), KeyType: types.KeyTypeRange},
			},
		},
	}
}
