// Package notify delivers short user-facing messages about failed cart
// operations. Delivery is fire-and-forget.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/utafrali/storefront-cart/pkg/logger"
)

// Messages shown to the shopper, one per failure category.
const (
	MsgOutOfStock   = "Quantidade solicitada fora de estoque"
	MsgAddFailed    = "Erro na adição do produto"
	MsgRemoveFailed = "Erro na remoção do produto"
	MsgUpdateFailed = "Erro na alteração de quantidade do produto"
)

// Notifier displays message to the end user.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, message string)

func (f Func) Notify(ctx context.Context, message string) { f(ctx, message) }

// Logger writes each notification as a WARN line, enriched with the
// request's correlation and session IDs.
type Logger struct {
	log *slog.Logger
}

func NewLogger(l *slog.Logger) *Logger {
	return &Logger{log: l}
}

func (n *Logger) Notify(ctx context.Context, message string) {
	logger.WithContext(ctx, n.log).WarnContext(ctx, "cart notification", slog.String("message", message))
}

// Recorder keeps every message it receives.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *Recorder) Notify(_ context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

// Messages returns a copy of the recorded messages in arrival order.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Last returns the most recent message, or "".
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, message)
		}
	}
}
