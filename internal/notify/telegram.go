package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/avelichko/walink/internal/domain"
)

// Telegram delivers notifications through the Telegram Bot API. Tenant ids
// are Telegram chat ids in string form.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

// NewTelegram wraps an authorized bot client.
func NewTelegram(bot *tgbotapi.BotAPI) *Telegram {
	return &Telegram{bot: bot}
}

func chatID(tenant domain.TenantID) (int64, error) {
	id, err := strconv.ParseInt(string(tenant), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tenant id %q is not a telegram chat id: %w", tenant, err)
	}
	return id, nil
}

// Text sends a plain text message.
func (t *Telegram) Text(_ context.Context, tenant domain.TenantID, msg string) error {
	id, err := chatID(tenant)
	if err != nil {
		return err
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(id, msg)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// Image sends an inline PNG with a caption.
func (t *Telegram) Image(_ context.Context, tenant domain.TenantID, caption string, png []byte) error {
	id, err := chatID(tenant)
	if err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(id, tgbotapi.FileBytes{Name: "qr.png", Bytes: png})
	photo.Caption = caption
	if _, err := t.bot.Send(photo); err != nil {
		return fmt.Errorf("send telegram photo: %w", err)
	}
	return nil
}

// Document sends a file attachment.
func (t *Telegram) Document(_ context.Context, tenant domain.TenantID, name string, data []byte) error {
	id, err := chatID(tenant)
	if err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(id, tgbotapi.FileBytes{Name: name, Bytes: data})
	if _, err := t.bot.Send(doc); err != nil {
		return fmt.Errorf("send telegram document: %w", err)
	}
	return nil
}
