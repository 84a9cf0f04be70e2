package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"loft/internal/domain"
	"loft/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramService notifies property owners and managers about reservations.
// It is an outbox sink.
type TelegramService struct {
	bot          domain.TelegramSender
	managersChat int64
}

func NewTelegramService(bot domain.TelegramSender, managersChat int64) *TelegramService {
	return &TelegramService{
		bot:          bot,
		managersChat: managersChat,
	}
}

func (s *TelegramService) Name() string {
	return "telegram"
}

// Deliver sends the event to the owner chat and the managers chat.
func (s *TelegramService) Deliver(_ context.Context, eventType string, payload []byte) error {
	var ev events.ReservationEventPayload
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode reservation event: %w", err)
	}

	text := FormatReservationMessage(eventType, &ev)

	chats := make([]int64, 0, 2)
	if ev.OwnerChatID != 0 {
		chats = append(chats, ev.OwnerChatID)
	}
	if s.managersChat != 0 && s.managersChat != ev.OwnerChatID {
		chats = append(chats, s.managersChat)
	}

	for _, chatID := range chats {
		if _, err := s.SendMarkdown(chatID, text); err != nil {
			return fmt.Errorf("send to chat %d: %w", chatID, err)
		}
	}
	return nil
}

func (s *TelegramService) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	return s.bot.Send(msg)
}

func (s *TelegramService) SendMarkdown(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	return s.bot.Send(msg)
}

var eventTitles = map[string]string{
	events.EventReservationCreated:   "🆕 Новая бронь",
	events.EventReservationConfirmed: "✅ Бронь подтверждена",
	events.EventReservationCancelled: "❌ Бронь отменена",
	events.EventReservationCompleted: "🏁 Проживание завершено",
}

// FormatReservationMessage renders a reservation event as a Markdown message.
func FormatReservationMessage(eventType string, ev *events.ReservationEventPayload) string {
	title, ok := eventTitles[eventType]
	if !ok {
		title = eventType
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s* #%d\n", title, ev.BookingID)
	fmt.Fprintf(&sb, "🏠 %s\n", escapeMarkdown(ev.PropertyName))
	fmt.Fprintf(&sb, "📅 %s → %s (%d ночей)\n", ev.CheckIn, ev.CheckOut, ev.Nights)
	fmt.Fprintf(&sb, "👤 %s, гостей: %d\n", escapeMarkdown(ev.GuestName), ev.Guests)
	if ev.GuestPhone != "" {
		fmt.Fprintf(&sb, "📱 %s\n", ev.GuestPhone)
	}
	fmt.Fprintf(&sb, "💰 %s %s\n", FormatMinorUnits(ev.TotalPrice), ev.Currency)
	fmt.Fprintf(&sb, "Статус: %s, оплата: %s", ev.Status, ev.PaymentStatus)
	return sb.String()
}

// FormatMinorUnits renders an amount in minor units as "1234.56".
func FormatMinorUnits(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

func escapeMarkdown(s string) string {
	return strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[").Replace(s)
}
