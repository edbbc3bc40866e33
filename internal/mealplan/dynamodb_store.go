package mealplan

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	ownerIndex = "owner-index"

	kindRecipe  = "recipe"
	kindMenu    = "menu"
	kindGrocery = "grocery"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDBStore
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBStore keeps all entities in one table with partition key "id".
// Each item also carries "owner" and "kind", which the owner-index GSI
// uses to list a user's entities of one kind.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
}

// NewDynamoDBStore creates a DynamoDB backed store
func NewDynamoDBStore(client DynamoDBAPI, tableName string) *DynamoDBStore {
	return &DynamoDBStore{client: client, tableName: tableName}
}

func marshalEntity(v interface{}, owner, kind string) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMapWithOptions(v, func(o *attributevalue.EncoderOptions) {
		o.TagKey = "json"
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	item["owner"] = &types.AttributeValueMemberS{Value: owner}
	item["kind"] = &types.AttributeValueMemberS{Value: kind}
	return item, nil
}

func unmarshalEntity(item map[string]types.AttributeValue, out interface{}) error {
	return attributevalue.UnmarshalMapWithOptions(item, out, func(o *attributevalue.DecoderOptions) {
		o.TagKey = "json"
	})
}

func (d *DynamoDBStore) put(ctx context.Context, item map[string]types.AttributeValue) error {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item to DynamoDB: %w", err)
	}
	return nil
}

// get loads the item with the given ID and reports ErrNotFound when it is
// missing or of another kind
func (d *DynamoDBStore) get(ctx context.Context, id, kind string, out interface{}) error {
	res, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if res.Item == nil {
		return ErrNotFound
	}
	if k, ok := res.Item["kind"].(*types.AttributeValueMemberS); !ok || k.Value != kind {
		return ErrNotFound
	}
	if err := unmarshalEntity(res.Item, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", kind, err)
	}
	return nil
}

func (d *DynamoDBStore) delete(ctx context.Context, id, kind string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConditionExpression:      aws.String("#k = :k"),
		ExpressionAttributeNames: map[string]string{"#k": "kind"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": &types.AttributeValueMemberS{Value: kind},
		},
	})
	var conflict *types.ConditionalCheckFailedException
	if errors.As(err, &conflict) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete item from DynamoDB: %w", err)
	}
	return nil
}

// query pages through the owner index and returns every item of one kind
func (d *DynamoDBStore) query(ctx context.Context, owner, kind string) ([]map[string]types.AttributeValue, error) {
	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		IndexName:              aws.String(ownerIndex),
		KeyConditionExpression: aws.String("#o = :o AND #k = :k"),
		ExpressionAttributeNames: map[string]string{
			"#o": "owner",
			"#k": "kind",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o": &types.AttributeValueMemberS{Value: owner},
			":k": &types.AttributeValueMemberS{Value: kind},
		},
	})

	var items []map[string]types.AttributeValue
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query DynamoDB: %w", err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func (d *DynamoDBStore) PutRecipe(ctx context.Context, r *Recipe) error {
	item, err := marshalEntity(r, r.UserID, kindRecipe)
	if err != nil {
		return err
	}
	return d.put(ctx, item)
}

func (d *DynamoDBStore) GetRecipe(ctx context.Context, id string) (*Recipe, error) {
	var r Recipe
	if err := d.get(ctx, id, kindRecipe, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (d *DynamoDBStore) DeleteRecipe(ctx context.Context, id string) error {
	return d.delete(ctx, id, kindRecipe)
}

func (d *DynamoDBStore) ListRecipes(ctx context.Context, userID string) ([]*Recipe, error) {
	items, err := d.query(ctx, userID, kindRecipe)
	if err != nil {
		return nil, err
	}
	out := make([]*Recipe, 0, len(items))
	for _, item := range items {
		var r Recipe
		if err := unmarshalEntity(item, &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipe: %w", err)
		}
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (d *DynamoDBStore) PutMenu(ctx context.Context, m *Menu) error {
	item, err := marshalEntity(m, m.UserID, kindMenu)
	if err != nil {
		return err
	}
	return d.put(ctx, item)
}

func (d *DynamoDBStore) GetMenu(ctx context.Context, id string) (*Menu, error) {
	var m Menu
	if err := d.get(ctx, id, kindMenu, &m); err != nil {
		return nil, err
	}
	if m.RecipeIDs == nil {
		m.RecipeIDs = []string{}
	}
	return &m, nil
}

func (d *DynamoDBStore) DeleteMenu(ctx context.Context, id string) error {
	return d.delete(ctx, id, kindMenu)
}

func (d *DynamoDBStore) ListMenus(ctx context.Context, userID string) ([]*Menu, error) {
	items, err := d.query(ctx, userID, kindMenu)
	if err != nil {
		return nil, err
	}
	out := make([]*Menu, 0, len(items))
	for _, item := range items {
		var m Menu
		if err := unmarshalEntity(item, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal menu: %w", err)
		}
		if m.RecipeIDs == nil {
			m.RecipeIDs = []string{}
		}
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (d *DynamoDBStore) PutGroceryItem(ctx context.Context, g *GroceryItem) error {
	item, err := marshalEntity(g, g.UserID, kindGrocery)
	if err != nil {
		return err
	}
	return d.put(ctx, item)
}

func (d *DynamoDBStore) GetGroceryItem(ctx context.Context, id string) (*GroceryItem, error) {
	var g GroceryItem
	if err := d.get(ctx, id, kindGrocery, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (d *DynamoDBStore) DeleteGroceryItem(ctx context.Context, id string) error {
	return d.delete(ctx, id, kindGrocery)
}

func (d *DynamoDBStore) ListGroceryItems(ctx context.Context, userID string) ([]*GroceryItem, error) {
	items, err := d.query(ctx, userID, kindGrocery)
	if err != nil {
		return nil, err
	}
	out := make([]*GroceryItem, 0, len(items))
	for _, item := range items {
		var g GroceryItem
		if err := unmarshalEntity(item, &g); err != nil {
			return nil, fmt.Errorf("failed to unmarshal grocery item: %w", err)
		}
		out = append(out, &g)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[j].CreatedAt, out[i].CreatedAt, out[j].ID, out[i].ID) })
	return out, nil
}

// Ping describes the table to confirm it is reachable
func (d *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err != nil {
		return fmt.Errorf("DynamoDB health check failed: %w", err)
	}
	return nil
}
