// Package booking drives the multi-step change-a-booking workflow up to,
// but never past, the final confirmation. The last click belongs to the
// human operator.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sahilm/fuzzy"

	"slotwatch/internal/behavior"
	"slotwatch/internal/models"
	"slotwatch/internal/page"
)

// Typed workflow failures; callers surface the message verbatim.
var (
	ErrCentreNotFound   = errors.New("booking: no test centre option matches")
	ErrDateNotAvailable = errors.New("booking: target date is not available")
	ErrTimeNotFound     = errors.New("booking: target time not offered on that date")
)

const (
	changeBookingPath = "/manage/change-booking"

	selChangeLink   = "a[href*='change-booking']"
	selLicenceField = "#driving-licence-number"
	selLicenceGo    = "#licence-submit"
	selCentreSelect = "#test-centre"
	selCentreGo     = "#test-centre-submit"
	selSlotPicker   = "ul.SlotPicker"
	selSlotTime     = ".SlotPicker-time"
	selConfirm      = "#confirm-changes"

	stepTimeout = 5 * time.Second
)

// Engine runs the booking workflow over one browsing context.
type Engine struct {
	sess   page.Session
	policy behavior.Policy
}

func New(sess page.Session, policy behavior.Policy) *Engine {
	return &Engine{sess: sess, policy: policy}
}

// PerformAutoBooking pre-fills a reservation for the slot and stops at the
// confirmation control. There is no retry: a failed step fails the workflow.
func (e *Engine) PerformAutoBooking(ctx context.Context, slot models.Slot, monitor models.Monitor) (string, error) {
	if err := e.reachChangeBooking(ctx); err != nil {
		return "", err
	}
	if err := e.enterLicence(ctx, monitor.LicenceNumber); err != nil {
		return "", err
	}
	if err := e.selectCentre(ctx, slot.Centre); err != nil {
		return "", err
	}
	if err := e.navigateToMonth(ctx, slot.Date); err != nil {
		return "", err
	}
	if err := e.chooseSlot(ctx, slot); err != nil {
		return "", err
	}

	// Present the confirmation to the operator; never click it.
	if err := e.sess.ScrollTo(ctx, selConfirm); err != nil {
		return "", err
	}
	if err := e.sess.Highlight(ctx, selConfirm); err != nil {
		return "", err
	}

	msg := fmt.Sprintf("slot %s %s at %s pre-filled, awaiting your confirmation",
		slot.Date.Format("2006-01-02"), slot.Time, slot.Centre)
	log.Printf("[booking] %s", msg)
	return msg, nil
}

// interact performs one human-cadence interaction: approach, click, settle.
func (e *Engine) interact(ctx context.Context, selector string) error {
	if err := e.policy.Move(ctx, e.sess, selector); err != nil {
		return err
	}
	if err := e.sess.Click(ctx, selector); err != nil {
		return err
	}
	return e.policy.Pause(ctx, behavior.PauseAction)
}

// reachChangeBooking gets the session onto the change-booking view.
func (e *Engine) reachChangeBooking(ctx context.Context) error {
	snap, err := e.sess.Current(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(snap.Path(), "change-booking") {
		return nil
	}
	if snap.Find(selChangeLink).Length() > 0 {
		if err := e.interact(ctx, selChangeLink); err != nil {
			return err
		}
	} else if err := e.sess.Navigate(ctx, changeBookingPath); err != nil {
		return err
	}
	return e.sess.WaitVisible(ctx, selLicenceField, stepTimeout)
}

// enterLicence types the licence number character by character with a
// randomized inter-keystroke delay, then fires the commit event.
func (e *Engine) enterLicence(ctx context.Context, licence string) error {
	if err := e.policy.Move(ctx, e.sess, selLicenceField); err != nil {
		return err
	}
	for _, r := range licence {
		if err := e.sess.SendKeys(ctx, selLicenceField, string(r)); err != nil {
			return err
		}
		if err := e.policy.Pause(ctx, behavior.PauseKeystroke); err != nil {
			return err
		}
	}
	if err := e.sess.Commit(ctx, selLicenceField); err != nil {
		return err
	}
	return e.interact(ctx, selLicenceGo)
}

// centreOption is one entry of the test-centre select.
type centreOption struct {
	value string
	label string
}

type centreSource []centreOption

func (s centreSource) String(i int) string { return strings.ToLower(s[i].label) }
func (s centreSource) Len() int            { return len(s) }

// selectCentre fuzzy-matches the slot's centre name against the select
// options and submits the centre-selection step.
func (e *Engine) selectCentre(ctx context.Context, centre string) error {
	if err := e.sess.WaitVisible(ctx, selCentreSelect, stepTimeout); err != nil {
		return err
	}
	snap, err := e.sess.Current(ctx)
	if err != nil {
		return err
	}

	var options centreSource
	snap.Find(selCentreSelect + " option").Each(func(_ int, el *goquery.Selection) {
		label := strings.TrimSpace(el.Text())
		if label == "" {
			return
		}
		options = append(options, centreOption{
			value: el.AttrOr("value", label),
			label: label,
		})
	})
	if len(options) == 0 {
		return fmt.Errorf("%w: %s has no options", models.ErrElementNotFound, selCentreSelect)
	}

	matches := fuzzy.FindFrom(strings.ToLower(centre), options)
	if len(matches) == 0 {
		return fmt.Errorf("%w: %q", ErrCentreNotFound, centre)
	}
	best := options[matches[0].Index]
	log.Printf("[booking] centre %q matched option %q", centre, best.label)

	if err := e.policy.Move(ctx, e.sess, selCentreSelect); err != nil {
		return err
	}
	if err := e.sess.SelectOption(ctx, selCentreSelect, best.value); err != nil {
		return err
	}
	return e.interact(ctx, selCentreGo)
}

// chooseSlot clicks the exact date and time controls for the slot.
func (e *Engine) chooseSlot(ctx context.Context, slot models.Slot) error {
	iso := slot.Date.Format("2006-01-02")
	daySel := fmt.Sprintf("a.BookingCalendar-dateLink[data-date='%s']", iso)

	snap, err := e.sess.Current(ctx)
	if err != nil {
		return err
	}
	if snap.Find(daySel).Length() == 0 {
		return fmt.Errorf("%w: %s", ErrDateNotAvailable, iso)
	}
	if err := e.interact(ctx, daySel); err != nil {
		return err
	}
	if err := e.sess.WaitVisible(ctx, selSlotPicker, stepTimeout); err != nil {
		return err
	}

	snap, err = e.sess.Current(ctx)
	if err != nil {
		return err
	}
	timeSel, ok := findTimeControl(snap, slot.Time)
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrTimeNotFound, slot.Time, iso)
	}
	return e.interact(ctx, timeSel)
}

// findTimeControl locates the time element whose text carries the wanted
// HH:MM and returns a selector addressing it.
func findTimeControl(snap *page.Snapshot, want string) (string, bool) {
	found := ""
	snap.Find(selSlotTime).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if !strings.Contains(el.Text(), want) {
			return true
		}
		if id, ok := el.Attr("id"); ok && id != "" {
			found = "#" + id
			return false
		}
		if v, ok := el.Attr("data-slot"); ok && v != "" {
			found = fmt.Sprintf("%s[data-slot='%s']", selSlotTime, v)
			return false
		}
		return true
	})
	return found, found != ""
}
