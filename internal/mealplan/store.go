package mealplan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maltehedderich/mealplan-api/internal/awsclient"
	"github.com/maltehedderich/mealplan-api/internal/config"
)

// ErrNotFound is returned by a Store when no entity has the given ID
var ErrNotFound = errors.New("mealplan: not found")

// Store persists recipes, menus and grocery items. Lookups by ID do not
// check ownership; the Service does.
type Store interface {
	PutRecipe(ctx context.Context, r *Recipe) error
	GetRecipe(ctx context.Context, id string) (*Recipe, error)
	DeleteRecipe(ctx context.Context, id string) error
	ListRecipes(ctx context.Context, userID string) ([]*Recipe, error)

	PutMenu(ctx context.Context, m *Menu) error
	GetMenu(ctx context.Context, id string) (*Menu, error)
	DeleteMenu(ctx context.Context, id string) error
	ListMenus(ctx context.Context, userID string) ([]*Menu, error)

	PutGroceryItem(ctx context.Context, item *GroceryItem) error
	GetGroceryItem(ctx context.Context, id string) (*GroceryItem, error)
	DeleteGroceryItem(ctx context.Context, id string) error
	ListGroceryItems(ctx context.Context, userID string) ([]*GroceryItem, error)

	Ping(ctx context.Context) error
}

// NewStoreFromConfig creates the configured store backend
func NewStoreFromConfig(ctx context.Context, cfg *config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "dynamodb":
		client, err := awsclient.NewDynamoDB(ctx, awsclient.DynamoDBOptions{
			Region:   cfg.DynamoDBRegion,
			Endpoint: cfg.DynamoDBEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DynamoDB store: %w", err)
		}
		return NewDynamoDBStore(client, cfg.DynamoDBTable), nil
	}
	return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
}

// newerFirst orders by creation time descending, then by ID for stability
func newerFirst(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return idA < idB
}
