package notification

import "context"

// DeliveryRecorder counts delivery attempts.
type DeliveryRecorder interface {
	RecordDelivery(kind, result string)
}

// Instrumented wraps a Notifier and records every delivery outcome.
type Instrumented struct {
	next     Notifier
	recorder DeliveryRecorder
}

// NewInstrumented decorates next with delivery accounting.
func NewInstrumented(next Notifier, recorder DeliveryRecorder) *Instrumented {
	return &Instrumented{next: next, recorder: recorder}
}

// Send forwards to the wrapped notifier.
func (n *Instrumented) Send(ctx context.Context, message Message) error {
	err := n.next.Send(ctx, message)
	result := "sent"
	if err != nil {
		result = "failed"
	}
	n.recorder.RecordDelivery(message.Kind, result)
	return err
}
