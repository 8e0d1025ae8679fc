// Package telegram implements the Messaging Channel Transport over the
// Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/orionmind/internal/bus"
)

// Config configures the Telegram transport.
type Config struct {
	Token   string
	Webhook string // non-empty switches delivery to webhook mode (supplemented feature)

	// Optional STT proxy used to transcribe voice messages before they reach
	// the handler, gated by the Permission Sandbox's voice action.
	STTProxyURL       string
	STTAPIKey         string
	STTTenantID       string
	STTTimeoutSeconds int
}

// Transport implements channel.Transport over Telegram long polling.
type Transport struct {
	bot        *telego.Bot
	cfg        Config
	logger     *slog.Logger
	limiter    *rate.Limiter
	pollCancel context.CancelFunc
	pollDone   chan struct{}

	replyRouter *replyRouter
}

// New creates a Telegram Transport. Start begins long polling unless
// cfg.Webhook is set, in which case Start only logs the URL and returns:
// no HTTP handler in this repository receives webhook updates, so inbound
// messages and confirmation replies are not delivered in that mode.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Transport{
		bot:         bot,
		cfg:         cfg,
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		replyRouter: newReplyRouter(),
	}, nil
}

// Start begins long polling for Telegram updates and dispatches each text
// message to handler.
func (t *Transport) Start(ctx context.Context, handler bus.MessageHandler) error {
	if t.cfg.Webhook != "" {
		t.logger.Info("telegram channel using webhook delivery", "url", t.cfg.Webhook)
		return nil
	}

	pollCtx, cancel := context.WithCancel(ctx)
	t.pollCancel = cancel
	t.pollDone = make(chan struct{})

	updates, err := t.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	t.logger.Info("telegram bot connected", "username", t.bot.Username())

	go func() {
		defer close(t.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				t.dispatch(pollCtx, update.Message, handler)
			}
		}
	}()

	return nil
}

func (t *Transport) dispatch(ctx context.Context, msg *telego.Message, handler bus.MessageHandler) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	text := strings.TrimSpace(msg.Text)

	if text != "" {
		t.replyRouter.publish(chatID, text)
	}

	if text == "" && msg.Voice == nil {
		return
	}
	if text == "" && msg.Voice != nil {
		transcript, err := t.transcribeVoice(ctx, msg)
		if err != nil {
			t.logger.Warn("voice transcription failed", "error", err)
			return
		}
		text = transcript
	}
	if text == "" {
		return
	}

	if handler != nil {
		handler(bus.InboundMessage{
			Channel:   "telegram",
			UserID:    chatID,
			ChatID:    chatID,
			Content:   text,
			Timestamp: time.Now().Unix(),
		})
	}
}

// Stop cancels long polling and waits for it to exit.
func (t *Transport) Stop(ctx context.Context) error {
	if t.pollCancel != nil {
		t.pollCancel()
	}
	if t.pollDone != nil {
		select {
		case <-t.pollDone:
		case <-time.After(10 * time.Second):
			t.logger.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// Send posts a text message to chatID via the Bot API.
func (t *Transport) Send(ctx context.Context, recipient, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", recipient, err)
	}
	_, err = t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	})
	return err
}

// SendAndAwaitReply sends text, then blocks for a reply from recipient
// within timeout. This backs the Permission Sandbox's confirmation
// round-trip.
func (t *Transport) SendAndAwaitReply(ctx context.Context, recipient, text string, timeout time.Duration) (*string, error) {
	ch := t.replyRouter.subscribe(recipient)
	defer t.replyRouter.unsubscribe(recipient, ch)

	if err := t.Send(ctx, recipient, text); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		return &reply, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

