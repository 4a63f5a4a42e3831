// Package sender implements the vendor delivery clients. Each client
// performs single delivery attempts; retry and backoff policy lives with
// the dispatcher.
package sender

import (
	"context"

	"github.com/pushbridge/pushbridge/internal/render"
)

// Attempt is the classified verdict of one delivery attempt. Code is the
// vendor HTTP status, or 500 when the vendor was unreachable. Expired marks
// tokens the vendor rejected permanently; such devices should be pruned.
type Attempt struct {
	Code      int
	Reason    string
	Body      map[string]any
	URL       string
	Retriable bool
	Expired   bool
}

// Sender performs delivery attempts against one vendor endpoint. Transport
// failures are classified into the Attempt rather than returned as errors;
// the error return is reserved for context cancellation and requests that
// cannot be built at all.
type Sender interface {
	Send(ctx context.Context, token string, msg *render.Message) (*Attempt, error)
}
