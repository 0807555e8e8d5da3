package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/staffdocs/generic"
)

// ErrNoChat is returned when the staff member has no chat id on file.
var ErrNoChat = errors.New("staff member has no chat id")

// ChatLookup finds the chat of a staff member.
type ChatLookup interface {
	GetStaff(ctx context.Context, id generic.StaffID) (generic.StaffRecord, error)
}

// sender is the part of *tgbotapi.BotAPI the sink uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink sends notifications as Telegram messages.
type TelegramSink struct {
	bot   sender
	staff ChatLookup
	log   logrus.FieldLogger
}

// NewTelegramSink connects to the Bot API with token.
func NewTelegramSink(token string, staff ChatLookup, log logrus.FieldLogger) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	log.WithField("bot", bot.Self.UserName).Info("telegram notifications enabled")
	return &TelegramSink{bot: bot, staff: staff, log: log}, nil
}

func (s *TelegramSink) Notify(ctx context.Context, staffID generic.StaffID, templateID string, payload Payload) error {
	rec, err := s.staff.GetStaff(ctx, staffID)
	if err != nil {
		if generic.IsNotFound(err) {
			return Permanent(fmt.Errorf("telegram: %w", err))
		}
		return fmt.Errorf("telegram: %w", err)
	}
	if rec.ChatID == 0 {
		return Permanent(fmt.Errorf("telegram: %s: %w", staffID, ErrNoChat))
	}

	msg := tgbotapi.NewMessage(rec.ChatID, Format(templateID, payload))
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", rec.ChatID, err)
	}
	s.log.WithFields(logrus.Fields{
		"staff_id": staffID,
		"template": templateID,
	}).Debug("telegram message sent")
	return nil
}
