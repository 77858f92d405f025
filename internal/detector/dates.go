package detector

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"slotwatch/internal/models"
	"slotwatch/internal/page"
)

// Selectors for the primary extraction strategy. The calendar marks bookable
// days with a modifier class and carries the ISO date on the day link.
const (
	selBookableDay = "td.BookingCalendar-date--bookable"
	selDayLink     = "a.BookingCalendar-dateLink"
	attrDate       = "data-date"
	attrDay        = "data-day"
	attrMonth      = "data-month"
	attrYear       = "data-year"
)

var (
	reISO  = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	reDMY  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	reLong = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{4})\b`)
	reTime = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
)

// dateRef is one probeable date together with the selector that reveals its
// time slots, so the reveal click targets the element the date actually came
// from rather than assuming the primary DOM shape.
type dateRef struct {
	date time.Time
	sel  string
}

// primaryDates scans bookable-day cells for a date attribute or its
// day/month/year sub-attributes. An empty result is an error so the caller
// falls through to the secondary strategy.
func primaryDates(snap *page.Snapshot) ([]dateRef, error) {
	var dates []dateRef
	seen := map[string]bool{}

	snap.Find(selBookableDay).Each(func(_ int, cell *goquery.Selection) {
		link := cell.Find(selDayLink).First()
		if link.Length() == 0 {
			link = cell.Find("a").First()
		}
		if link.Length() == 0 {
			return
		}
		raw, ok := link.Attr(attrDate)
		if !ok || raw == "" {
			day := link.AttrOr(attrDay, "")
			month := link.AttrOr(attrMonth, "")
			year := link.AttrOr(attrYear, "")
			if day == "" || month == "" || year == "" {
				return
			}
			raw = fmt.Sprintf("%s-%02s-%02s", year, month, day)
		}
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return
		}
		if key := raw; !seen[key] {
			seen[key] = true
			dates = append(dates, dateRef{
				date: d,
				sel:  selDayLink + "[" + attrDate + "='" + raw + "']",
			})
		}
	})

	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: no availability markers", models.ErrParseFailure)
	}
	return dates, nil
}

// fallbackDates scans every interactive element for date-like text in ISO,
// DD/MM/YYYY or "DD Month YYYY" form. Elements with no addressable id or
// href are skipped; a date that cannot be clicked cannot be probed.
func fallbackDates(snap *page.Snapshot) ([]dateRef, error) {
	var dates []dateRef
	seen := map[string]bool{}

	snap.Find("a, button").Each(func(_ int, el *goquery.Selection) {
		text := strings.TrimSpace(el.Text())
		if text == "" {
			return
		}
		d, ok := parseDateText(text)
		if !ok {
			return
		}
		sel, ok := elementSelector(el)
		if !ok {
			return
		}
		if key := d.Format("2006-01-02"); !seen[key] {
			seen[key] = true
			dates = append(dates, dateRef{date: d, sel: sel})
		}
	})

	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: no clickable date-like text found", models.ErrParseFailure)
	}
	return dates, nil
}

// elementSelector derives a selector addressing the element: its id first,
// then its href.
func elementSelector(el *goquery.Selection) (string, bool) {
	if id, ok := el.Attr("id"); ok && id != "" {
		return "#" + id, true
	}
	if href, ok := el.Attr("href"); ok && href != "" && href != "#" {
		return fmt.Sprintf("a[href='%s']", href), true
	}
	return "", false
}

// parseDateText recognises the three supported textual date forms.
func parseDateText(text string) (time.Time, bool) {
	if m := reISO.FindStringSubmatch(text); m != nil {
		d, err := time.Parse("2006-01-02", m[0])
		if err == nil {
			return d, true
		}
	}
	if m := reDMY.FindStringSubmatch(text); m != nil {
		d, err := time.Parse("2/1/2006", m[0])
		if err == nil {
			return d, true
		}
	}
	if m := reLong.FindStringSubmatch(text); m != nil {
		d, err := time.Parse("2 January 2006", fmt.Sprintf("%s %s %s", m[1], m[2], m[3]))
		if err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

// validSlots drops slots with missing fields, unparseable times or a date
// not strictly in the future.
func validSlots(slots []models.Slot, now time.Time) []models.Slot {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]models.Slot, 0, len(slots))
	for _, s := range slots {
		if s.Centre == "" || s.Time == "" || s.Date.IsZero() {
			continue
		}
		if !reTime.MatchString(s.Time) {
			continue
		}
		if !s.Date.After(today) {
			continue
		}
		out = append(out, s)
	}
	return out
}
