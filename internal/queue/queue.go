// Package queue implements a durable-queue consumer with manual
// acknowledgement and a fixed-backoff reconnect loop on broker disconnect.
package queue

import (
	"context"
	"encoding/json"

	"github.com/cafworker/cafworker/internal/errors"
)

// Message is the decoded queue payload.
type Message struct {
	TaskID   string `json:"task_id"`
	FilePath string `json:"file_path"`
}

// Delivery pairs a decoded Message with the ack/nack operations the pipeline
// must perform exactly once against the underlying broker delivery.
type Delivery struct {
	Message Message

	// Ack acknowledges the message as durably handled.
	Ack func() error
	// Nack negatively acknowledges the message; requeue controls whether the
	// broker redelivers it.
	Nack func(requeue bool) error
}

// ParseMessage decodes a raw delivery body, returning a Validation error on
// malformed JSON or a message missing either field.
func ParseMessage(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, errors.Wrapf(errors.ErrValidation, "queue message is not valid JSON: %v", err)
	}
	if m.TaskID == "" || m.FilePath == "" {
		return Message{}, errors.Wrapf(errors.ErrValidation, "queue message missing task_id or file_path: %q", body)
	}
	return m, nil
}

// Consumer delivers decoded queue messages to the packing pipeline. Manual
// acknowledgement is mandatory; the pipeline calls exactly one of
// Delivery.Ack or Delivery.Nack per delivery.
type Consumer interface {
	// Consume delivers messages onto the returned channel until ctx is
	// canceled or the broker connection is permanently lost. The channel is
	// closed when Consume returns.
	Consume(ctx context.Context) (<-chan Delivery, error)

	// Close disconnects from the broker. Unacked deliveries return to the
	// broker, and in-flight pipeline state built from them is discarded
	// rather than being flushed.
	Close() error
}
