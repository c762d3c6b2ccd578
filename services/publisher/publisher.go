package publisher

import (
	"olxmonitor/internal/listing"
)

// Publisher represents a service for publishing progress events
type Publisher interface {
	// PublishProgress publishes one progress event to a stream
	PublishProgress(p listing.Progress) error

	// TrimStream trims the stream to the configured maximum length
	TrimStream() error

	// Close closes the publisher connection
	Close() error
}
