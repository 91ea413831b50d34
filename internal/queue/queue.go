// Package queue dispatches retry attempts to the workers that resubmit them
// to the owning interface.
package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/exception-collector/internal/domain"
)

// Publisher publishes retry messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg RetryMessage) error
	Close() error
}

// MessageHandler handles a consumed retry message. A returned error requeues
// the delivery.
type MessageHandler func(ctx context.Context, msg RetryMessage) error

// Consumer consumes retry messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	queuePrefix = "retry"

	// queueMaxPriority is the RabbitMQ x-max-priority value for retry queues.
	queueMaxPriority int32 = 4
)

// QueueName returns the retry queue of an interface, e.g. retry.order.
func QueueName(interfaceType domain.InterfaceType) string {
	return fmt.Sprintf("%s.%s", queuePrefix, routingKey(interfaceType))
}

// DLQName returns the dead-letter queue of an interface, e.g. dlq.retry.order.
func DLQName(interfaceType domain.InterfaceType) string {
	return fmt.Sprintf("dlq.%s", QueueName(interfaceType))
}

// WorkQueueNames returns the retry queue of every interface.
func WorkQueueNames() []string {
	types := domain.InterfaceTypes()
	queues := make([]string, 0, len(types))
	for _, it := range types {
		queues = append(queues, QueueName(it))
	}
	return queues
}

func DLQNames() []string {
	types := domain.InterfaceTypes()
	queues := make([]string, 0, len(types))
	for _, it := range types {
		queues = append(queues, DLQName(it))
	}
	return queues
}

// PriorityValue maps a retry priority to a RabbitMQ message priority.
func PriorityValue(priority domain.RetryPriority) uint8 {
	switch priority {
	case domain.PriorityUrgent:
		return 4
	case domain.PriorityHigh:
		return 3
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}

func routingKey(interfaceType domain.InterfaceType) string {
	return strings.ToLower(interfaceType.String())
}
