package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lumen-trade/signin/internal/phone"
)

const (
	// KindOTPSMS carries a login passcode to a phone number in E.164 form.
	KindOTPSMS = "otp_sms"
	// KindOTPEmail carries a recovery email verification code.
	KindOTPEmail = "otp_email"
)

// Message describes a notification payload. Code is the one-time secret and
// is kept apart from Body so transports can template it without logging it.
type Message struct {
	Kind        string
	Destination string
	Body        string
	Code        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger. The code is only
// written when reveal is set, which is meant for local development.
type LoggerNotifier struct {
	logger *slog.Logger
	reveal bool
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger, reveal bool) *LoggerNotifier {
	return &LoggerNotifier{logger: logger, reveal: reveal}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := []any{
		slog.String("kind", message.Kind),
		slog.String("destination", phone.Mask(message.Destination)),
	}
	if n.reveal {
		attrs = append(attrs, slog.String("code", message.Code))
	}
	n.logger.Info("notification", attrs...)
	return nil
}

// Router picks a notifier by message kind.
type Router struct {
	routes   map[string]Notifier
	fallback Notifier
}

// NewRouter returns a Router that sends unrouted kinds to fallback.
func NewRouter(fallback Notifier) *Router {
	return &Router{routes: make(map[string]Notifier), fallback: fallback}
}

// Route registers n for kind.
func (r *Router) Route(kind string, n Notifier) *Router {
	r.routes[kind] = n
	return r
}

func (r *Router) Send(ctx context.Context, message Message) error {
	if n, ok := r.routes[message.Kind]; ok {
		return n.Send(ctx, message)
	}
	if r.fallback == nil {
		return fmt.Errorf("notification: no route for %s", message.Kind)
	}
	return r.fallback.Send(ctx, message)
}
