// Package telegram delivers run summaries through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/newthinker/tradesim/internal/notifier"
)

// Telegram implements the Notifier interface for Telegram Bot API
type Telegram struct {
	botToken string
	chatID   string
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// New creates a new Telegram notifier
func New(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		endpoint: tgbotapi.APIEndpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

// Init reads bot_token, chat_id and an optional api_endpoint. The bot
// itself is created on first Send so Init never touches the network.
func (t *Telegram) Init(cfg notifier.Config) error {
	if token := cfg.String("bot_token"); token != "" {
		t.botToken = token
	}
	if chatID := cfg.String("chat_id"); chatID != "" {
		t.chatID = chatID
	}
	if endpoint := cfg.String("api_endpoint"); endpoint != "" {
		t.endpoint = endpoint
	}
	if t.endpoint == "" {
		t.endpoint = tgbotapi.APIEndpoint
	}
	if t.client == nil {
		t.client = &http.Client{Timeout: 30 * time.Second}
	}

	if t.botToken == "" {
		return fmt.Errorf("telegram: bot_token is required")
	}
	if t.chatID == "" {
		return fmt.Errorf("telegram: chat_id is required")
	}
	if _, err := strconv.ParseInt(t.chatID, 10, 64); err != nil && !strings.HasPrefix(t.chatID, "@") {
		return fmt.Errorf("telegram: chat_id must be numeric or an @channel name")
	}

	return nil
}

func (t *Telegram) Send(ctx context.Context, summary notifier.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := t.api()
	if err != nil {
		return err
	}

	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(t.chatID, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, formatSummary(summary))
	} else {
		msg = tgbotapi.NewMessageToChannel(t.chatID, formatSummary(summary))
	}
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: failed to send message: %w", err)
	}
	return nil
}

func (t *Telegram) api() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot != nil {
		return t.bot, nil
	}
	endpoint := t.endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := t.client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.botToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: failed to initialize bot: %w", err)
	}
	t.bot = bot
	return bot, nil
}

// formatSummary renders summary as Telegram HTML. Strategy names contain
// underscores, which Markdown mode would treat as emphasis.
func formatSummary(s notifier.Summary) string {
	r := s.Result
	emoji := "📈"
	if r.TotalReturn < 0 {
		emoji = "📉"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>%s</b> %s to %s\n", emoji,
		html.EscapeString(s.Strategy), s.Start.Format(time.DateOnly), s.End.Format(time.DateOnly))
	fmt.Fprintf(&sb, "Symbols: %d\n", len(s.Symbols))
	fmt.Fprintf(&sb, "Return: %.2f%% (annual %.2f%%)\n", r.TotalReturn*100, r.AnnualReturn*100)
	fmt.Fprintf(&sb, "Max drawdown: %.2f%%\n", r.MaxDrawdown*100)
	fmt.Fprintf(&sb, "Sharpe: %.2f\n", r.SharpeRatio)
	fmt.Fprintf(&sb, "Trades: %d, win rate %.2f%%", r.TotalTrades, r.WinRate*100)
	for _, a := range s.Alerts {
		fmt.Fprintf(&sb, "\n⚠️ %s", html.EscapeString(a))
	}
	if s.DocumentPath != "" {
		fmt.Fprintf(&sb, "\n<code>%s</code>", html.EscapeString(s.DocumentPath))
	}
	return sb.String()
}
