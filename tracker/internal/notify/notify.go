// CLAUDE:SUMMARY NotificationDispatcher: builds the card for a change or digest and delivers it to a Teams webhook or Telegram chat.
// CLAUDE:DEPENDS connectivity, horosafe, store (delivery status constants)
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/hazyhaar/docwatch/horosafe"
	"github.com/hazyhaar/docwatch/tracker/internal/store"
)

// ErrUnsupportedTarget is returned for target URLs no channel handles.
var ErrUnsupportedTarget = errors.New("notify: unsupported target")

// Channel names.
const (
	ChannelNone     = "none"
	ChannelTeams    = "teams"
	ChannelTelegram = "telegram"
)

// Notification is what a reader sees.
type Notification struct {
	Title string
	// Timestamp is the first line of the body. Callers showing the topic
	// prefix it here.
	Timestamp string
	Body      string
	// CommitURL is the single action link.
	CommitURL string
}

// Text is the body text every channel renders.
func (n Notification) Text() string {
	return n.Timestamp + "\n\n" + n.Body
}

// Result is the outcome of one dispatch. Payload is the message exactly as
// built, recorded even when nothing was sent.
type Result struct {
	Channel string
	Payload string
	Status  string
	Err     error
}

// Sender delivers a built payload to one channel.
type Sender interface {
	Send(ctx context.Context, target string, n Notification) (payload []byte, err error)
}

// Dispatcher routes notifications by target: telegram://<chat_id> goes to
// Telegram, http(s) URLs go to a Teams webhook.
type Dispatcher struct {
	teams    Sender
	telegram Sender
	logger   *slog.Logger
	observe  func(channel, status string)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTeams sets the webhook sender.
func WithTeams(s Sender) Option { return func(d *Dispatcher) { d.teams = s } }

// WithTelegram sets the Telegram sender. Without it telegram:// targets fail.
func WithTelegram(s Sender) Option { return func(d *Dispatcher) { d.telegram = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithObserver is called once per dispatch with the channel and status.
func WithObserver(fn func(channel, status string)) Option {
	return func(d *Dispatcher) { d.observe = fn }
}

// NewDispatcher creates a Dispatcher. The Teams sender defaults to
// NewTeamsSender(nil, horosafe.ValidateURL).
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	if d.teams == nil {
		d.teams = NewTeamsSender(nil, horosafe.ValidateURL)
	}
	return d
}

// Dispatch builds and delivers n. An empty target records the payload with
// status not_attempted. Delivery failures are logged and reported in the
// Result, never returned, and never retried.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification, target string) Result {
	res := d.dispatch(ctx, n, strings.TrimSpace(target))
	if d.observe != nil {
		d.observe(res.Channel, res.Status)
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, n Notification, target string) Result {
	if target == "" {
		payload, _ := json.Marshal(map[string]string{"title": n.Title, "text": n.Text()})
		return Result{Channel: ChannelNone, Payload: string(payload), Status: store.DeliveryNotAttempted}
	}

	channel, sender := d.route(target)
	if sender == nil {
		err := ErrUnsupportedTarget
		if channel == ChannelTelegram {
			err = ErrTelegramDisabled
		}
		d.logger.Warn("notify: no sender for target", "channel", channel, "error", err)
		return Result{Channel: channel, Status: store.DeliveryFailed, Err: err}
	}

	payload, err := sender.Send(ctx, target, n)
	res := Result{Channel: channel, Payload: string(payload)}
	if err != nil {
		d.logger.Error("notify: delivery failed", "channel", channel, "title", n.Title, "error", err)
		res.Status = store.DeliveryFailed
		res.Err = err
		return res
	}
	d.logger.Info("notify: delivered", "channel", channel, "title", n.Title)
	res.Status = store.DeliveryDelivered
	return res
}

func (d *Dispatcher) route(target string) (string, Sender) {
	switch {
	case strings.HasPrefix(target, telegramScheme):
		return ChannelTelegram, d.telegram
	case strings.HasPrefix(target, "https://"), strings.HasPrefix(target, "http://"):
		return ChannelTeams, d.teams
	default:
		return ChannelNone, nil
	}
}
