// Package detector extracts available appointment slots from snapshots of
// the booking site. It is a pure consumer of page state: failures never
// propagate to the caller, they degrade to an empty result.
package detector

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"slotwatch/internal/behavior"
	"slotwatch/internal/models"
	"slotwatch/internal/page"
)

// PageKind classifies what view of the booking site a snapshot shows.
type PageKind int

const (
	KindUnknown PageKind = iota
	KindLogin
	KindListing
	KindCalendar
	KindConfirm
)

func (k PageKind) String() string {
	switch k {
	case KindLogin:
		return "login"
	case KindListing:
		return "listing"
	case KindCalendar:
		return "calendar"
	case KindConfirm:
		return "confirm"
	default:
		return "unknown"
	}
}

const (
	// maxDatesProbed bounds how many distinct dates are opened for time
	// slots in one check, to keep a check's footprint small.
	maxDatesProbed = 10
	// navTimeout bounds calendar navigation waits.
	navTimeout = 10 * time.Second
	// revealTimeout bounds the wait for a day's time slots to appear.
	revealTimeout = 3 * time.Second

	calendarPath    = "/manage/choose-appointment"
	selCalendarRoot = ".BookingCalendar"
	selCalendarLink = "a[href*='choose-appointment']"
	selSlotPicker   = ".SlotPicker-day.is-active, ul.SlotPicker"
	selSlotTime     = ".SlotPicker-time"
	selCentreOption = "#test-centre option[selected]"
	selCentreName   = ".test-centre-details h2"
	markCancelled   = "cancellation"
)

// Classify derives the page kind from URL and content heuristics.
func Classify(snap *page.Snapshot) PageKind {
	path := strings.ToLower(snap.Path())
	switch {
	case strings.Contains(path, "login"), snap.Find("input[type='password']").Length() > 0:
		return KindLogin
	case strings.Contains(path, "confirm"), snap.Find("#confirm-changes").Length() > 0:
		return KindConfirm
	case snap.Find(selCalendarRoot).Length() > 0, strings.Contains(path, "choose-appointment"):
		return KindCalendar
	case strings.Contains(path, "manage"), snap.Find(".booking-summary").Length() > 0:
		return KindListing
	default:
		return KindUnknown
	}
}

// Detector scans one browsing context for slots matching active monitors.
type Detector struct {
	sess   page.Session
	policy behavior.Policy
	now    func() time.Time
}

func New(sess page.Session, policy behavior.Policy) *Detector {
	return &Detector{sess: sess, policy: policy, now: time.Now}
}

// SetClock replaces the wall clock, for tests.
func (d *Detector) SetClock(now func() time.Time) { d.now = now }

// Check scans the site and returns found slots grouped by monitor id.
// It never returns an error: anything that goes wrong yields an empty map.
func (d *Detector) Check(ctx context.Context, monitors []models.Monitor) map[string][]models.Slot {
	slots := d.scan(ctx)
	if len(slots) == 0 {
		return map[string][]models.Slot{}
	}
	return groupByMonitor(slots, monitors)
}

// scan runs the extraction pipeline on the session's current page.
func (d *Detector) scan(ctx context.Context) []models.Slot {
	snap, err := d.sess.Current(ctx)
	if err != nil {
		log.Printf("[detector] no page snapshot: %v", err)
		return nil
	}

	if kind := Classify(snap); kind != KindCalendar {
		log.Printf("[detector] on %s view, navigating to calendar", kind)
		snap, err = d.reachCalendar(ctx, snap)
		if err != nil {
			log.Printf("[detector] calendar unreachable: %v", err)
			return nil
		}
	}

	centre := extractCentre(snap)

	dates, err := primaryDates(snap)
	if err != nil {
		log.Printf("[detector] primary strategy failed (%v), trying fallback", err)
		dates, err = fallbackDates(snap)
		if err != nil {
			log.Printf("[detector] fallback strategy failed: %v", err)
			return nil
		}
	}
	if len(dates) > maxDatesProbed {
		dates = dates[:maxDatesProbed]
	}

	var slots []models.Slot
	for i, ref := range dates {
		if i > 0 {
			// Human pacing between per-date probes.
			if err := d.policy.Pause(ctx, behavior.PauseProbe); err != nil {
				break
			}
		}
		slots = append(slots, d.probeDate(ctx, ref, centre)...)
	}

	return validSlots(slots, d.now())
}

// reachCalendar tries the in-page affordance first, then the direct path.
func (d *Detector) reachCalendar(ctx context.Context, snap *page.Snapshot) (*page.Snapshot, error) {
	if snap.Find(selCalendarLink).Length() > 0 {
		if err := d.sess.Click(ctx, selCalendarLink); err != nil {
			return nil, err
		}
	} else if err := d.sess.Navigate(ctx, calendarPath); err != nil {
		return nil, err
	}
	if err := d.sess.WaitVisible(ctx, selCalendarRoot, navTimeout); err != nil {
		return nil, err
	}
	next, err := d.sess.Current(ctx)
	if err != nil {
		return nil, err
	}
	if Classify(next) != KindCalendar {
		return nil, models.ErrNavigationTimeout
	}
	return next, nil
}

// probeDate reveals one day's time slots and converts them. The reveal
// clicks the selector the date was discovered under.
func (d *Detector) probeDate(ctx context.Context, ref dateRef, centre string) []models.Slot {
	iso := ref.date.Format("2006-01-02")
	if err := d.sess.Click(ctx, ref.sel); err != nil {
		log.Printf("[detector] reveal %s: %v", iso, err)
		return nil
	}
	if err := d.sess.WaitVisible(ctx, selSlotPicker, revealTimeout); err != nil {
		return nil
	}
	snap, err := d.sess.Current(ctx)
	if err != nil {
		return nil
	}

	var slots []models.Slot
	found := d.now()
	snap.Find(selSlotTime).Each(func(_ int, el *goquery.Selection) {
		text := strings.TrimSpace(el.Text())
		m := reTime.FindString(text)
		if m == "" {
			return
		}
		kind := models.SlotNew
		if cls, _ := el.Attr("class"); strings.Contains(cls, markCancelled) ||
			strings.Contains(strings.ToLower(text), markCancelled) {
			kind = models.SlotCancellation
		}
		slots = append(slots, models.Slot{
			Date:    ref.date,
			Time:    m,
			Centre:  centre,
			Kind:    kind,
			FoundAt: found,
		})
	})
	return slots
}

// extractCentre resolves the active test centre: selected option, then the
// display heading, then the URL parameter, then "unknown".
func extractCentre(snap *page.Snapshot) string {
	if opt := snap.Find(selCentreOption).First(); opt.Length() > 0 {
		if name := strings.TrimSpace(opt.Text()); name != "" {
			return name
		}
	}
	if h := snap.Find(selCentreName).First(); h.Length() > 0 {
		if name := strings.TrimSpace(h.Text()); name != "" {
			return name
		}
	}
	if name := snap.Query("centre"); name != "" {
		return name
	}
	return "unknown"
}

// groupByMonitor assigns each slot to every monitor watching its centre
// whose date window contains it.
func groupByMonitor(slots []models.Slot, monitors []models.Monitor) map[string][]models.Slot {
	out := make(map[string][]models.Slot)
	for _, m := range monitors {
		for _, s := range slots {
			if !m.InDateWindow(s.Date) {
				continue
			}
			if !watchesCentre(m, s.Centre) {
				continue
			}
			out[m.ID] = append(out[m.ID], s)
		}
	}
	return out
}

func watchesCentre(m models.Monitor, centre string) bool {
	if len(m.TestCentres) == 0 {
		return true
	}
	c := strings.ToLower(centre)
	for _, want := range m.TestCentres {
		w := strings.ToLower(want)
		if strings.Contains(c, w) || strings.Contains(w, c) {
			return true
		}
	}
	return false
}
