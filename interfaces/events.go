package interfaces

import "context"

type EventPublisher interface {
	PublishFanoutEvent(ctx context.Context, eventType string, payload interface{}) error
	Close() error
}
