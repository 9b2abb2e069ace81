package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/storefront-cart/internal/domain"
	pkgkafka "github.com/utafrali/storefront-cart/pkg/kafka"
	"github.com/utafrali/storefront-cart/pkg/logger"
)

const (
	TopicCartUpdated  = "ecommerce.cart.updated"
	AggregateTypeCart = "cart"
	SourceCartService = "cart-service"

	// MetadataSessionID carries the shopper session that made the change.
	MetadataSessionID = "session_id"
)

// CartUpdatedData is the payload of a cart.updated event.
type CartUpdatedData struct {
	Key       string         `json:"key"`
	Items     []CartItemData `json:"items"`
	ItemCount int            `json:"item_count"`
	Subtotal  string         `json:"subtotal"`
}

type CartItemData struct {
	ProductID int    `json:"product_id"`
	Title     string `json:"title"`
	Price     string `json:"price"`
	Amount    int    `json:"amount"`
}

// Publisher is satisfied by *pkgkafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes committed carts. It implements cart.Listener.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{publisher: publisher, logger: logger}
}

// CartUpdated publishes a cart.updated event keyed by the cart's storage key.
func (p *Producer) CartUpdated(ctx context.Context, key string, c domain.Cart) error {
	items := make([]CartItemData, len(c))
	for i, li := range c {
		items[i] = CartItemData{
			ProductID: li.ID,
			Title:     li.Title,
			Price:     li.Price.String(),
			Amount:    li.Amount,
		}
	}

	data := CartUpdatedData{
		Key:       key,
		Items:     items,
		ItemCount: c.ItemCount(),
		Subtotal:  c.Subtotal().StringFixed(2),
	}

	event, err := pkgkafka.NewEvent(TopicCartUpdated, key, AggregateTypeCart, SourceCartService, data,
		pkgkafka.WithCorrelationID(logger.CorrelationIDFromContext(ctx)),
		pkgkafka.WithMetadata(MetadataSessionID, logger.SessionIDFromContext(ctx)),
	)
	if err != nil {
		return fmt.Errorf("create cart.updated event: %w", err)
	}

	if err := p.publisher.Publish(ctx, TopicCartUpdated, event); err != nil {
		return fmt.Errorf("publish cart.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("key", key),
		slog.Int("item_count", data.ItemCount),
	)
	return nil
}
