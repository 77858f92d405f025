package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"slotwatch/internal/models"
	"slotwatch/internal/page"
)

const (
	selMonthHeader = ".BookingCalendar-currentMonth"
	selNavNext     = ".BookingCalendar-nav--next"
	selNavPrev     = ".BookingCalendar-nav--prev"

	// maxMonthSteps bounds calendar navigation; a target more than a year
	// out is outside any booking window anyway.
	maxMonthSteps = 12
)

// displayedMonth parses the "January 2026"-style calendar header.
func displayedMonth(snap *page.Snapshot) (time.Time, error) {
	header := strings.TrimSpace(snap.Find(selMonthHeader).First().Text())
	if header == "" {
		return time.Time{}, fmt.Errorf("%w: %s", models.ErrElementNotFound, selMonthHeader)
	}
	m, err := time.Parse("January 2006", header)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: month header %q", models.ErrParseFailure, header)
	}
	return m, nil
}

// navigateToMonth steps the calendar until the displayed month/year equals
// the target's, comparing the parsed header each step rather than clicking a
// fixed number of times.
func (e *Engine) navigateToMonth(ctx context.Context, target time.Time) error {
	want := time.Date(target.Year(), target.Month(), 1, 0, 0, 0, 0, time.UTC)

	for step := 0; step <= maxMonthSteps; step++ {
		snap, err := e.sess.Current(ctx)
		if err != nil {
			return err
		}
		shown, err := displayedMonth(snap)
		if err != nil {
			return err
		}
		if shown.Year() == want.Year() && shown.Month() == want.Month() {
			return nil
		}

		nav := selNavNext
		if shown.After(want) {
			nav = selNavPrev
		}
		if err := e.interact(ctx, nav); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: month %s not reached in %d steps", models.ErrNavigationTimeout, want.Format("January 2006"), maxMonthSteps)
}
