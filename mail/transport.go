package mail

import (
	"context"
	"sync"

	trust "github.com/goliatone/go-trust"
)

// LogTransport writes messages to a logger instead of sending them. Bodies
// carry codes and links, so it logs them at debug level only.
type LogTransport struct {
	logger trust.Logger
}

// NewLogTransport creates a transport logging to logger.
func NewLogTransport(logger trust.Logger) *LogTransport {
	if logger == nil {
		logger = trust.NewLogger("trust.mail")
	}
	return &LogTransport{logger: logger}
}

// Deliver implements Transport.
func (t *LogTransport) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.logger.Info("mail dispatched", "kind", string(msg.Kind), "subject", msg.Subject)
	t.logger.Debug("mail body", "kind", string(msg.Kind), "body", msg.Body)
	return nil
}

// Outbox keeps delivered messages in memory.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
}

// Deliver implements Transport.
func (o *Outbox) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

// Messages returns a copy of the delivered messages.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Last returns the most recent message sent to addr.
func (o *Outbox) Last(addr string) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].To == addr {
			return o.messages[i], true
		}
	}
	return Message{}, false
}
