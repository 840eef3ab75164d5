package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/salles-management/api/internal/platform/config"
	"github.com/salles-management/api/internal/services"
)

func newTestServer(t *testing.T) (*pstest.Server, []option.ClientOption) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	return srv, []option.ClientOption{
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

func newTestTopic(t *testing.T, opts []option.ClientOption, name string) *pubsub.Topic {
	t.Helper()
	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project", opts...)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, name)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return topic
}

func TestPubSubOrderPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, opts := newTestServer(t)
	publisher, err := NewPubSubOrderPublisher(newTestTopic(t, opts, "order-events"))
	if err != nil {
		t.Fatalf("NewPubSubOrderPublisher: %v", err)
	}

	occurred := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:           "order.status.changed",
		OrderID:        "ord_1",
		SaleType:       "ONLINE",
		PreviousStatus: "READY_PICKUP",
		CurrentStatus:  "COMPLETED",
		ActorID:        "vnd_1",
		CustomerID:     "cust_1",
		Total:          4500,
		LoyaltyPoints:  45,
		OccurredAt:     occurred,
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload orderEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != "ord_1" || payload.CurrentStatus != "COMPLETED" || payload.Total != 4500 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if !payload.OccurredAt.Equal(occurred) {
		t.Fatalf("unexpected occurredAt %s", payload.OccurredAt)
	}
	attrs := messages[0].Attributes
	if attrs["eventType"] != "order.status.changed" || attrs["status"] != "COMPLETED" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestPubSubInventoryPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, opts := newTestServer(t)
	publisher, err := NewPubSubInventoryPublisher(newTestTopic(t, opts, "inventory-events"))
	if err != nil {
		t.Fatalf("NewPubSubInventoryPublisher: %v", err)
	}

	if err := publisher.PublishInventoryEvent(ctx, services.InventoryEvent{
		Type:       "inventory.low_stock",
		ProductID:  "prd_1",
		Delta:      -3,
		Remaining:  2,
		Threshold:  10,
		OccurredAt: time.Now(),
	}); err != nil {
		t.Fatalf("PublishInventoryEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if got := messages[0].Attributes["remaining"]; got != "2" {
		t.Fatalf("expected remaining attribute 2, got %q", got)
	}
	var payload inventoryEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ProductID != "prd_1" || payload.Delta != -3 || payload.Threshold != 10 {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestOpenPublishersDisabledWithoutTopics(t *testing.T) {
	publishers, err := OpenPublishers(context.Background(), config.PubSubConfig{ProjectID: "test-project"})
	if err != nil {
		t.Fatalf("OpenPublishers: %v", err)
	}
	if publishers != nil {
		t.Fatalf("expected nil publishers without topics")
	}
	if publishers.OrderPublisher() != nil || publishers.InventoryPublisher() != nil {
		t.Fatalf("expected nil interfaces from nil publishers")
	}
	if err := publishers.Close(); err != nil {
		t.Fatalf("Close on nil publishers: %v", err)
	}
}

func TestOpenPublishersWiresConfiguredTopics(t *testing.T) {
	ctx := context.Background()
	srv, opts := newTestServer(t)
	newTestTopic(t, opts, "order-events")

	publishers, err := OpenPublishers(ctx, config.PubSubConfig{
		ProjectID:        "test-project",
		OrderEventsTopic: "order-events",
	}, opts...)
	if err != nil {
		t.Fatalf("OpenPublishers: %v", err)
	}
	defer publishers.Close()

	if publishers.InventoryPublisher() != nil {
		t.Fatalf("expected inventory publisher to be disabled")
	}
	if err := publishers.OrderPublisher().PublishOrderEvent(ctx, services.OrderEvent{Type: "order.created", OrderID: "ord_2"}); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}
	if len(srv.Messages()) != 1 {
		t.Fatalf("expected message on configured topic")
	}
}
