package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
	"voxmeet/internal/broker"
	"voxmeet/pkg/cache"
	"voxmeet/pkg/logger"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"
)

const activeTTL = 30 * 24 * time.Hour

type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram posts meeting events into allowed chats. A chat opts in with /start
// and out with /stop; the flag lives in the cache.
type Telegram struct {
	tb     *tele.Bot
	sender Sender
	cache  cache.Cache
	chats  []int64
	log    *zap.Logger
}

func NewTelegram(token string, chats []int64, c cache.Cache) (*Telegram, error) {
	if token == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	tb, err := tele.NewBot(tele.Settings{
		Token: token,
		Poller: &tele.LongPoller{
			Timeout: 10 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	n := newTelegram(tb, chats, c)
	n.tb = tb
	n.registerHandlers()

	logger.Info("Telegram notifier created", zap.Int("chats", len(chats)))
	return n, nil
}

func newTelegram(sender Sender, chats []int64, c cache.Cache) *Telegram {
	return &Telegram{
		sender: sender,
		cache:  c,
		chats:  chats,
		log:    logger.Named("telegram"),
	}
}

func (n *Telegram) registerHandlers() {
	n.tb.Handle("/start", func(c tele.Context) error {
		return c.Send(n.activate(context.Background(), c.Chat().ID))
	})
	n.tb.Handle("/stop", func(c tele.Context) error {
		return c.Send(n.deactivate(context.Background(), c.Chat().ID))
	})
}

func (n *Telegram) allowed(chatID int64) bool {
	return slices.Contains(n.chats, chatID)
}

func (n *Telegram) activate(ctx context.Context, chatID int64) string {
	if !n.allowed(chatID) {
		n.log.Warn("Rejected /start from unknown chat", zap.Int64("chat_id", chatID))
		return "This chat is not allowed to receive meeting notifications."
	}

	if n.cache != nil {
		if err := n.cache.SetWithTTL(ctx, cache.ChatActiveCacheKey(chatID), "true", activeTTL); err != nil {
			n.log.Error("Failed to save chat active state to cache", zap.Error(err))
		}
	}

	n.log.Info("Notifications enabled for chat", zap.Int64("chat_id", chatID))
	return "Meeting notifications enabled."
}

func (n *Telegram) deactivate(ctx context.Context, chatID int64) string {
	if n.cache != nil {
		if err := n.cache.Delete(ctx, cache.ChatActiveCacheKey(chatID)); err != nil {
			n.log.Error("Failed to delete chat active state from cache", zap.Error(err))
		}
	}

	n.log.Info("Notifications disabled for chat", zap.Int64("chat_id", chatID))
	return "Meeting notifications stopped.\nSend /start to resume."
}

// isActive treats every allowed chat as active when there is no cache
func (n *Telegram) isActive(ctx context.Context, chatID int64) bool {
	if !n.allowed(chatID) {
		return false
	}
	if n.cache == nil {
		return true
	}

	var value string
	if err := n.cache.Get(ctx, cache.ChatActiveCacheKey(chatID), &value); err != nil {
		return false
	}
	return value == "true"
}

// Broadcast sends text to every active chat
func (n *Telegram) Broadcast(ctx context.Context, text string) error {
	var errs []error
	for _, chatID := range n.chats {
		if !n.isActive(ctx, chatID) {
			continue
		}
		if _, err := n.sender.Send(&tele.Chat{ID: chatID}, text); err != nil {
			n.log.Error("Failed to send notification", zap.Int64("chat_id", chatID), zap.Error(err))
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

// HandleEvent renders a broker event and broadcasts it; uninteresting events are skipped
func (n *Telegram) HandleEvent(ctx context.Context, ev broker.Event) error {
	text, ok, err := Render(ev)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return n.Broadcast(ctx, text)
}

func (n *Telegram) Start() {
	if n.tb == nil {
		return
	}
	n.log.Info("Bot started")
	n.tb.Start()
}

func (n *Telegram) Stop() {
	if n.tb == nil {
		return
	}
	n.tb.Stop()
	n.log.Info("Bot stopped")
}
