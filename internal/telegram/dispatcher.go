package telegram

import (
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/nakedarizona/Pills-bot/internal/domain"
)

// Transport is the "send to user within chat" primitive the dispatcher
// delegates to. *tgbotapi.BotAPI satisfies it.
type Transport interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Dispatcher turns due reminders and evening digests into outbound chat
// messages addressed to one user inside the shared chat. Transport
// failures are reported to the log sink and returned; the clock never
// retries them — the evening digest is the only catch-up mechanism.
type Dispatcher struct {
	bot Transport
	log *zap.Logger
}

func NewDispatcher(bot Transport, log *zap.Logger) *Dispatcher {
	return &Dispatcher{bot: bot, log: log}
}

// SendReminder delivers one dose reminder, with the pill photo when the
// pill has one, and a confirmation button bound to the given day.
func (d *Dispatcher) SendReminder(due domain.DueDose, day string) error {
	text := fmt.Sprintf(reminderFmt, due.Mention(), due.PillName, due.Dosage)
	markup := takenKeyboard(due.PillID, due.SlotM, day, due.PillName)

	var msg tgbotapi.Chattable
	if due.PhotoID != "" {
		photo := tgbotapi.NewPhoto(due.ChatID, tgbotapi.FileID(due.PhotoID))
		photo.Caption = text
		photo.ReplyMarkup = markup
		msg = photo
	} else {
		m := tgbotapi.NewMessage(due.ChatID, text)
		m.ReplyMarkup = markup
		msg = m
	}

	if _, err := d.bot.Send(msg); err != nil {
		d.log.Warn("reminder send failed",
			zap.Error(err),
			zap.Int64("chatID", due.ChatID),
			zap.Int64("pillID", due.PillID),
		)
		return classifySendErr(err)
	}
	return nil
}

// classifySendErr maps the Bot API's forbidden responses (user blocked
// the bot, bot kicked from the chat) onto ErrRecipientGone so the clock
// can stop reminding a recipient that cannot be reached.
func classifySendErr(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 403 {
		return fmt.Errorf("%w: %s", domain.ErrRecipientGone, apiErr.Message)
	}
	return err
}

// SendDigest delivers the evening summary of one user's outstanding doses
// with a confirmation button per dose, each bound to the given day.
func (d *Dispatcher) SendDigest(chatID int64, mention, day string, items []domain.OutstandingDose) error {
	var b strings.Builder
	fmt.Fprintf(&b, digestHeaderFmt, mention)
	for _, it := range items {
		fmt.Fprintf(&b, "• %s (%s) — %s\n", it.PillName, it.Dosage, domain.FormatMinutes(it.SlotM))
	}
	b.WriteString(digestFooter)

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(items))
	for _, it := range items {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("✅ %s %s", it.PillName, domain.FormatMinutes(it.SlotM)),
				takenCallback(it.PillID, it.SlotM, day),
			),
		))
	}

	msg := tgbotapi.NewMessage(chatID, b.String())
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)

	if _, err := d.bot.Send(msg); err != nil {
		d.log.Warn("digest send failed", zap.Error(err), zap.Int64("chatID", chatID))
		return classifySendErr(err)
	}
	return nil
}
