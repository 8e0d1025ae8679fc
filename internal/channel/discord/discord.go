// Package discord implements the Messaging Channel Transport over the
// Discord gateway.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/orionmind/internal/bus"
)

// Config configures the Discord transport.
type Config struct {
	Token string
}

// Transport implements channel.Transport over Discord's gateway API.
type Transport struct {
	session   *discordgo.Session
	cfg       Config
	logger    *slog.Logger
	botUserID string
	limiter   *rate.Limiter

	replyRouter *replyRouter
}

// New creates a Discord Transport.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	return &Transport{
		session:     session,
		cfg:         cfg,
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		replyRouter: newReplyRouter(),
	}, nil
}

// Start opens the Discord gateway connection and dispatches each message to
// handler.
func (t *Transport) Start(ctx context.Context, handler bus.MessageHandler) error {
	t.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == t.botUserID {
			return
		}
		t.dispatch(m, handler)
	})

	if err := t.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := t.session.User("@me")
	if err != nil {
		t.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	t.botUserID = user.ID
	t.logger.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

func (t *Transport) dispatch(m *discordgo.MessageCreate, handler bus.MessageHandler) {
	text := m.Content
	if text == "" {
		return
	}
	t.replyRouter.publish(m.ChannelID, text)

	if handler != nil {
		handler(bus.InboundMessage{
			Channel:   "discord",
			UserID:    m.ChannelID,
			ChatID:    m.ChannelID,
			Content:   text,
			Timestamp: time.Now().Unix(),
		})
	}
}

// Stop closes the Discord gateway connection.
func (t *Transport) Stop(ctx context.Context) error {
	return t.session.Close()
}

// Send posts a text message to a Discord channel ID.
func (t *Transport) Send(ctx context.Context, recipient, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := t.session.ChannelMessageSend(recipient, text)
	return err
}

// SendAndAwaitReply sends text, then blocks for a reply from recipient
// within timeout.
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
