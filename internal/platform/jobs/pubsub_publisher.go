package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/salles-management/api/internal/platform/config"
	"github.com/salles-management/api/internal/services"
)

var (
	_ services.OrderEventPublisher     = (*PubSubOrderPublisher)(nil)
	_ services.InventoryEventPublisher = (*PubSubInventoryPublisher)(nil)
)

// PubSubOrderPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderPublisher{topic: topic, marshal: json.Marshal}, nil
}

type orderEventMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	SaleType       string         `json:"saleType"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	ActorID        string         `json:"actorId,omitempty"`
	CustomerID     string         `json:"customerId,omitempty"`
	Total          int64          `json:"total"`
	LoyaltyPoints  int64          `json:"loyaltyPoints"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PublishOrderEvent enqueues the event and waits for the server acknowledgement.
func (p *PubSubOrderPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}

	data, err := p.marshal(orderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		SaleType:       event.SaleType,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		CustomerID:     event.CustomerID,
		Total:          event.Total,
		LoyaltyPoints:  event.LoyaltyPoints,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "saleType", event.SaleType)
	setAttr(attrs, "status", event.CurrentStatus)

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// PubSubInventoryPublisher publishes stock notifications to a Pub/Sub topic.
type PubSubInventoryPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubInventoryPublisher constructs a Pub/Sub backed inventory event publisher.
func NewPubSubInventoryPublisher(topic *pubsub.Topic) (*PubSubInventoryPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub inventory publisher: topic is required")
	}
	return &PubSubInventoryPublisher{topic: topic, marshal: json.Marshal}, nil
}

type inventoryEventMessage struct {
	Type       string    `json:"type"`
	ProductID  string    `json:"productId"`
	Delta      int       `json:"delta"`
	Remaining  int       `json:"remaining"`
	Threshold  int       `json:"threshold"`
	OccurredAt time.Time `json:"occurredAt"`
}

// PublishInventoryEvent enqueues the event and waits for the server acknowledgement.
func (p *PubSubInventoryPublisher) PublishInventoryEvent(ctx context.Context, event services.InventoryEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub inventory publisher: not initialised")
	}

	data, err := p.marshal(inventoryEventMessage{
		Type:       event.Type,
		ProductID:  event.ProductID,
		Delta:      event.Delta,
		Remaining:  event.Remaining,
		Threshold:  event.Threshold,
		OccurredAt: event.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal inventory event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "productId", event.ProductID)
	attrs["remaining"] = strconv.Itoa(event.Remaining)

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish inventory event: %w", err)
	}
	return nil
}

// Publishers owns the Pub/Sub client and the topics opened from configuration. A nil publisher
// means its topic is not configured.
type Publishers struct {
	client    *pubsub.Client
	topics    []*pubsub.Topic
	Orders    *PubSubOrderPublisher
	Inventory *PubSubInventoryPublisher
}

// OpenPublishers connects to Pub/Sub when at least one topic is configured and returns nil otherwise.
func OpenPublishers(ctx context.Context, cfg config.PubSubConfig, opts ...option.ClientOption) (*Publishers, error) {
	orderTopic := strings.TrimSpace(cfg.OrderEventsTopic)
	inventoryTopic := strings.TrimSpace(cfg.InventoryEventsTopic)
	if orderTopic == "" && inventoryTopic == "" {
		return nil, nil
	}
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub: project id is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new client: %w", err)
	}

	p := &Publishers{client: client}
	if orderTopic != "" {
		topic := client.Topic(orderTopic)
		p.topics = append(p.topics, topic)
		if p.Orders, err = NewPubSubOrderPublisher(topic); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	if inventoryTopic != "" {
		topic := client.Topic(inventoryTopic)
		p.topics = append(p.topics, topic)
		if p.Inventory, err = NewPubSubInventoryPublisher(topic); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	return p, nil
}

// OrderPublisher returns the order publisher as the services interface, nil when disabled.
func (p *Publishers) OrderPublisher() services.OrderEventPublisher {
	if p == nil || p.Orders == nil {
		return nil
	}
	return p.Orders
}

// InventoryPublisher returns the inventory publisher as the services interface, nil when disabled.
func (p *Publishers) InventoryPublisher() services.InventoryEventPublisher {
	if p == nil || p.Inventory == nil {
		return nil
	}
	return p.Inventory
}

// Close flushes pending messages and closes the client.
func (p *Publishers) Close() error {
	if p == nil {
		return nil
	}
	for _, topic := range p.topics {
		topic.Stop()
	}
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
