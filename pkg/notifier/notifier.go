// Package notifier delivers new-item messages to a telegram chat.
package notifier

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/osawatch/osawatch/pkg/domain"
)

// Notifier sends one message per new item, strictly sequential with a
// fixed delay between consecutive sends to respect telegram rate limits.
// A failed send is logged and skipped, it never aborts the batch.
type Notifier struct {
	bot     *tele.Bot
	chat    tele.ChatID
	limiter *rate.Limiter
}

// Params holds notifier construction parameters
type Params struct {
	Token     string
	ChatID    int64
	SendDelay time.Duration
	Timeout   time.Duration
	APIURL    string // optional self-hosted bot api server
}

// New creates a telegram notifier. Bot construction verifies the token
// against the telegram api.
func New(p Params) (*Notifier, error) {
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	if p.SendDelay <= 0 {
		p.SendDelay = 30 * time.Second
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  p.Token,
		URL:    p.APIURL,
		Client: &http.Client{Timeout: p.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("make telegram bot: %w", err)
	}

	return &Notifier{
		bot:     bot,
		chat:    tele.ChatID(p.ChatID),
		limiter: rate.NewLimiter(rate.Every(p.SendDelay), 1),
	}, nil
}

// Broadcast sends a message for each item in order and returns the items
// actually delivered. The inter-message delay is enforced by the limiter,
// the first message goes out immediately.
func (n *Notifier) Broadcast(ctx context.Context, items []domain.Item) []domain.Item {
	var sent []domain.Item
	for _, item := range items {
		if err := n.limiter.Wait(ctx); err != nil {
			lgr.Printf("[WARN] broadcast interrupted: %v", err)
			return sent
		}

		if err := n.send(item); err != nil {
			lgr.Printf("[WARN] failed to send message for %q: %v", item.Title, err)
			continue
		}

		lgr.Printf("[INFO] sent telegram message for %q", item.Title)
		sent = append(sent, item)
	}
	return sent
}

// send delivers a single item message
func (n *Notifier) send(item domain.Item) error {
	_, err := n.bot.Send(n.chat, formatMessage(item), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: false,
	})
	return err
}

// formatMessage renders an item as bold title with the url on the next
// line. The title is html-escaped, the url is left as-is for the link
// preview to pick up.
func formatMessage(item domain.Item) string {
	return fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(item.Title), item.URL)
}
