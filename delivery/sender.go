package delivery

import (
	"context"

	"github.com/newsprism/newsprism/broker"
)

// OutboundMessage is the payload handed to the front-end for the final
// user-visible send.
type OutboundMessage struct {
	UserID        int64  `json:"user_id"`
	Text          string `json:"text"`
	CorrelationID string `json:"correlation_id"`
}

// QueueOutbound is the durable queue the front-end consumes deliveries from.
const QueueOutbound = "user.outbound"

// QueueSender hands outbound messages to the front-end over the broker.
type QueueSender struct {
	Publisher broker.Publisher
}

// Send publishes one outbound message for the user.
func (s *QueueSender) Send(ctx context.Context, userID int64, text, correlationID string) error {
	return s.Publisher.Publish(ctx, QueueOutbound, correlationID, &OutboundMessage{
		UserID:        userID,
		Text:          text,
		CorrelationID: correlationID,
	})
}
