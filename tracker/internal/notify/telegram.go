package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramScheme = "telegram://"
	// Telegram rejects messages longer than 4096 characters.
	telegramMaxText = 4096
)

// ErrTelegramDisabled is returned for telegram:// targets when no bot token
// is configured.
var ErrTelegramDisabled = errors.New("notify: telegram not configured")

// TelegramConfig configures the bot.
type TelegramConfig struct {
	Token string
	// APIEndpoint is a format string with two %s verbs (token, method).
	// Defaults to tgbotapi.APIEndpoint.
	APIEndpoint string
}

// TelegramSender sends notifications through the Bot API. The bot is
// created on first use so a bad token only fails Telegram deliveries.
type TelegramSender struct {
	cfg    TelegramConfig
	client *http.Client

	mu  sync.Mutex
	api *tgbotapi.BotAPI
}

// NewTelegramSender creates a sender. client may be nil.
func NewTelegramSender(cfg TelegramConfig, client *http.Client) *TelegramSender {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: teamsTimeout}
	}
	return &TelegramSender{cfg: cfg, client: client}
}

func (s *TelegramSender) bot() (*tgbotapi.BotAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api != nil {
		return s.api, nil
	}
	if s.cfg.Token == "" {
		return nil, ErrTelegramDisabled
	}
	api, err := tgbotapi.NewBotAPIWithClient(s.cfg.Token, s.cfg.APIEndpoint, s.client)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram bot: %w", err)
	}
	s.api = api
	return api, nil
}

// ParseChatID extracts the chat id from telegram://<chat_id>.
func ParseChatID(target string) (int64, error) {
	raw := strings.TrimPrefix(target, telegramScheme)
	id, err := strconv.ParseInt(strings.TrimSuffix(raw, "/"), 10, 64)
	if err != nil || !strings.HasPrefix(target, telegramScheme) {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedTarget, target)
	}
	return id, nil
}

// BuildTelegramMessage renders n as an HTML message with a URL button. The
// title and body are cut before escaping so the result never ends inside an
// entity or loses its closing tag.
func BuildTelegramMessage(chatID int64, n Notification) tgbotapi.MessageConfig {
	const open, closing = "<b>", "</b>\n\n"
	budget := telegramMaxText - utf8.RuneCountInString(open+closing)
	title, used := escapeCapped(n.Title, budget)
	body, _ := escapeCapped(n.Text(), budget-used)
	text := open + title + closing + body
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if n.CommitURL != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(commitActionName, n.CommitURL)),
		)
	}
	return msg
}

// escapeCapped HTML-escapes s, keeping whole runes while the escaped form
// fits in budget characters. A cut text ends with an ellipsis. It returns
// the escaped text and its length in runes.
func escapeCapped(s string, budget int) (string, int) {
	if budget <= 0 {
		return "", 0
	}
	full := html.EscapeString(s)
	if n := utf8.RuneCountInString(full); n <= budget {
		return full, n
	}
	var b strings.Builder
	used := 0
	for _, r := range s {
		e := html.EscapeString(string(r))
		n := utf8.RuneCountInString(e)
		if used+n > budget-1 {
			break
		}
		b.WriteString(e)
		used += n
	}
	b.WriteString("…")
	return b.String(), used + 1
}

// Send implements Sender.
func (s *TelegramSender) Send(ctx context.Context, target string, n Notification) ([]byte, error) {
	chatID, err := ParseChatID(target)
	if err != nil {
		return nil, err
	}
	msg := BuildTelegramMessage(chatID, n)
	payload, _ := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       msg.Text,
		"parse_mode": msg.ParseMode,
		"button_url": n.CommitURL,
	})

	if err := ctx.Err(); err != nil {
		return payload, err
	}
	api, err := s.bot()
	if err != nil {
		return payload, err
	}
	if _, err := api.Send(msg); err != nil {
		return payload, fmt.Errorf("notify: telegram send: %w", err)
	}
	return payload, nil
}
