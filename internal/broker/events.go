package broker

import (
	"context"
	"fmt"

	"chargehive/internal/models"
)

// EventPublisher handles publishing settlement domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishPaymentQuoted publishes PaymentQuoted event
func (ep *EventPublisher) PublishPaymentQuoted(ctx context.Context, event *models.PaymentQuotedEvent) error {
	key := fmt.Sprintf("payment-%s", event.PaymentID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPaymentCompleted publishes PaymentCompleted event
func (ep *EventPublisher) PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	key := fmt.Sprintf("payment-%s", event.PaymentID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPaymentFailed publishes PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	key := fmt.Sprintf("payment-%s", event.PaymentID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishSessionCreated publishes SessionCreated event
func (ep *EventPublisher) PublishSessionCreated(ctx context.Context, event *models.SessionCreatedEvent) error {
	key := fmt.Sprintf("payment-%s", event.PaymentID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishWalletCreated publishes WalletCreated event
func (ep *EventPublisher) PublishWalletCreated(ctx context.Context, event *models.WalletCreatedEvent) error {
	key := fmt.Sprintf("wallet-%s", event.IdentityID)
	return ep.producer.PublishEvent(ctx, key, event)
}
