package outbound

import (
	"fmt"
	"time"
)

// DeliveryReceipt is what a boundary returns after a successful delivery.
type DeliveryReceipt struct {
	// MessageID is the platform-assigned id of the delivered message.
	// Skeleton-mode boundaries return a placeholder id.
	MessageID string `json:"messageId"`

	// DeliveredAt is when the boundary completed the send.
	DeliveredAt time.Time `json:"deliveredAt"`
}

// FormatDeliverySummary renders a one-line delivery summary for logs and
// transcripts, like "Sent via telegram. Message ID: 77".
func FormatDeliverySummary(channel string, receipt *DeliveryReceipt) string {
	messageID := "unknown"
	if receipt != nil && receipt.MessageID != "" {
		messageID = receipt.MessageID
	}
	return fmt.Sprintf("Sent via %s. Message ID: %s", channel, messageID)
}
