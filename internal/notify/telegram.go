package notify

import (
	"fmt"
	"strings"

	"staybook/internal/domain"
	"staybook/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Notifier пересылает события бронирований в операционный чат Telegram.
type Notifier struct {
	sender domain.TelegramSender
	chatID int64
	logger zerolog.Logger
}

// NewTelegramSender authorises the bot token.
func NewTelegramSender(token string) (domain.TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return bot, nil
}

func NewNotifier(sender domain.TelegramSender, chatID int64, logger *zerolog.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		chatID: chatID,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Attach subscribes the notifier to every booking lifecycle event.
func (n *Notifier) Attach(bus *events.EventBus) {
	for _, t := range []string{
		events.EventBookingCreated,
		events.EventBookingConfirmed,
		events.EventBookingExpired,
		events.EventBookingCancelled,
	} {
		bus.Subscribe(t, n.Handle)
	}
}

// Handle formats one event and sends it to the chat.
func (n *Notifier) Handle(event *events.Event) error {
	var p events.ReservationEventPayload
	if err := event.Decode(&p); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}

	msg := tgbotapi.NewMessage(n.chatID, Format(event.Type, p))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := n.sender.Send(msg); err != nil {
		n.logger.Error().Err(err).Str("event", event.Type).Str("reservation_id", p.ReservationID).Msg("Failed to send notification")
		return err
	}
	return nil
}

var titles = map[string]string{
	events.EventBookingCreated:   "🆕 *Новая бронь* (ожидает оплаты)",
	events.EventBookingConfirmed: "✅ *Бронь оплачена*",
	events.EventBookingExpired:   "⌛ *Бронь истекла* (оплата не поступила)",
	events.EventBookingCancelled: "❌ *Бронь отменена*",
}

// Format renders the chat message for an event.
func Format(eventType string, p events.ReservationEventPayload) string {
	title, ok := titles[eventType]
	if !ok {
		title = "ℹ️ *" + eventType + "*"
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "🏠 Объект: `%s`\n", p.PropertyID)
	fmt.Fprintf(&b, "📅 Даты: %s → %s\n", p.CheckIn, p.CheckOut)
	fmt.Fprintf(&b, "👤 Гость: `%s`\n", p.GuestID)
	fmt.Fprintf(&b, "💳 Сумма: %s\n", formatAmount(p.Amount, p.Currency))
	if eventType == events.EventBookingCreated && !p.Deadline.IsZero() {
		fmt.Fprintf(&b, "⏰ Оплатить до: %s UTC\n", p.Deadline.UTC().Format("02.01.2006 15:04"))
	}
	fmt.Fprintf(&b, "🔖 `%s`", p.ReservationID)
	return b.String()
}

func formatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, currency)
}
