// Package notify dispatches user-facing alerts over Telegram, with a
// log-based system surface as the fallback path.
package notify

import (
	"fmt"
	"html"
	"log"
	"time"

	tele "gopkg.in/telebot.v3"

	"slotwatch/internal/models"
)

const (
	msgSlotFound = "🎯 <b>Slot found for %s</b>\n%s at <b>%s</b>\n📍 %s (%s)"
	msgBooking   = "✅ <b>Booking pre-filled for %s</b>\n%s\nOpen the site and press confirm to finish."
	msgSystem    = "⚠️ %s"
	msgUpgrade   = "\n\nYour %s plan has used all rebook attempts. Upgrade to keep booking."
)

var htmlOpts = &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}

// Telegram sends alerts to each monitor's linked chat.
type Telegram struct {
	bot        *tele.Bot
	systemChat int64
}

// NewTelegram builds the dispatcher. systemChat receives system messages
// and anything that could not be delivered to a monitor chat.
func NewTelegram(token string, systemChat int64) (*Telegram, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Telegram{bot: bot, systemChat: systemChat}, nil
}

// SendSlotFound alerts the monitor's chat about one newly found slot.
func (t *Telegram) SendSlotFound(monitor models.Monitor, slot models.Slot, sub models.Subscription, remaining int) error {
	if !monitor.Notify.Telegram || monitor.Notify.ChatID == 0 {
		return nil
	}
	_, err := t.bot.Send(&tele.Chat{ID: monitor.Notify.ChatID},
		slotFoundMessage(monitor, slot, sub, remaining), htmlOpts)
	return err
}

// slotFoundMessage renders the slot-found alert, appending the upgrade nudge
// when the tier's rebook allowance is used up.
func slotFoundMessage(monitor models.Monitor, slot models.Slot, sub models.Subscription, remaining int) string {
	kind := "new slot"
	if slot.Kind == models.SlotCancellation {
		kind = "cancellation"
	}
	msg := fmt.Sprintf(msgSlotFound,
		html.EscapeString(monitor.Name),
		slot.Date.Format("Mon 2 Jan 2006"), slot.Time,
		html.EscapeString(slot.Centre), kind)
	if !sub.Unlimited && remaining <= 0 {
		msg += fmt.Sprintf(msgUpgrade, sub.Tier)
	}
	return msg
}

// SendBookingConfirmation tells the user the workflow stopped at the
// confirmation control.
func (t *Telegram) SendBookingConfirmation(monitor models.Monitor, slotSummary string, _ models.Subscription) error {
	chat := monitor.Notify.ChatID
	if chat == 0 {
		chat = t.systemChat
	}
	if chat == 0 {
		return nil
	}
	msg := fmt.Sprintf(msgBooking, html.EscapeString(monitor.Name), html.EscapeString(slotSummary))
	_, err := t.bot.Send(&tele.Chat{ID: chat}, msg, htmlOpts)
	return err
}

// SendSystem delivers a system notification; without a system chat it
// degrades to the log, which always succeeds.
func (t *Telegram) SendSystem(message string) error {
	if t.systemChat == 0 {
		log.Printf("[notify] system: %s", message)
		return nil
	}
	_, err := t.bot.Send(&tele.Chat{ID: t.systemChat}, fmt.Sprintf(msgSystem, html.EscapeString(message)), htmlOpts)
	if err != nil {
		log.Printf("[notify] system (telegram failed, %v): %s", err, message)
	}
	return nil
}

// LogNotifier is the no-Telegram fallback used when BOT_TOKEN is unset.
type LogNotifier struct{}

func (LogNotifier) SendSlotFound(monitor models.Monitor, slot models.Slot, _ models.Subscription, _ int) error {
	log.Printf("[notify] slot for %s: %s %s at %s", monitor.Name, slot.Date.Format("2006-01-02"), slot.Time, slot.Centre)
	return nil
}

func (LogNotifier) SendBookingConfirmation(monitor models.Monitor, slotSummary string, _ models.Subscription) error {
	log.Printf("[notify] booking pre-filled for %s: %s", monitor.Name, slotSummary)
	return nil
}

func (LogNotifier) SendSystem(message string) error {
	log.Printf("[notify] system: %s", message)
	return nil
}
