package gateway

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/Avertenandor/sigmatradebot/pkg/log"
)

// TelegramMessenger sends chat messages through the bot API. It
// implements types.Messenger.
type TelegramMessenger struct {
	bot *telego.Bot
}

func NewTelegramMessenger(token string) (*TelegramMessenger, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramMessenger{bot: bot}, nil
}

func (m *TelegramMessenger) SendMessage(ctx context.Context, telegramID int64, text string) error {
	_, err := m.bot.SendMessage(ctx, tu.Message(tu.ID(telegramID), text))
	if err != nil {
		return fmt.Errorf("telegram send to %d: %w", telegramID, err)
	}
	return nil
}

// AdminAlerter forwards critical operator alerts to the admin chat.
// With no admin chat configured, or when delivery fails, the alert
// falls back to the error log so it is never silently lost.
type AdminAlerter struct {
	messenger   *TelegramMessenger
	adminChatID int64
	log         log.Logger
}

func NewAdminAlerter(messenger *TelegramMessenger, adminChatID int64, logger log.Logger) *AdminAlerter {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &AdminAlerter{
		messenger:   messenger,
		adminChatID: adminChatID,
		log:         logger.WithName("admin-alert"),
	}
}

func (a *AdminAlerter) Critical(ctx context.Context, message string) {
	if a.messenger == nil || a.adminChatID == 0 {
		a.log.Errorw("critical alert (no admin chat configured)", "alert", message)
		return
	}
	if err := a.messenger.SendMessage(ctx, a.adminChatID, message); err != nil {
		a.log.Errorw("critical alert delivery failed", "alert", message, "error", err)
	}
}
