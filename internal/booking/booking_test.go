package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotwatch/internal/behavior"
	"slotwatch/internal/models"
	"slotwatch/internal/page"
)

// scriptSession replays a scripted workflow: each click on a known selector
// swaps in the next page of its queue, everything is recorded for assertions.
type scriptSession struct {
	current     *page.Snapshot
	onClick     map[string][]string // selector -> queue of page swaps
	clicks      []string
	typed       map[string]string
	selected    map[string]string
	highlighted []string
}

func newScriptSession(t *testing.T, startURL, html string) *scriptSession {
	t.Helper()
	snap, err := page.NewSnapshot(startURL, html)
	require.NoError(t, err)
	return &scriptSession{
		current:  snap,
		onClick:  map[string][]string{},
		typed:    map[string]string{},
		selected: map[string]string{},
	}
}

func (s *scriptSession) script(selector string, pages ...string) {
	s.onClick[selector] = append(s.onClick[selector], pages...)
}

func (s *scriptSession) Current(context.Context) (*page.Snapshot, error) {
	return s.current, nil
}

func (s *scriptSession) Navigate(context.Context, string) error {
	return models.ErrNavigationTimeout
}

func (s *scriptSession) Click(_ context.Context, selector string) error {
	s.clicks = append(s.clicks, selector)
	if queue := s.onClick[selector]; len(queue) > 0 {
		snap, err := page.NewSnapshot(s.current.URL(), queue[0])
		if err != nil {
			return err
		}
		s.onClick[selector] = queue[1:]
		s.current = snap
	}
	return nil
}

func (s *scriptSession) SendKeys(_ context.Context, selector, text string) error {
	s.typed[selector] += text
	return nil
}

func (s *scriptSession) Commit(context.Context, string) error { return nil }

func (s *scriptSession) SelectOption(_ context.Context, selector, value string) error {
	s.selected[selector] = value
	return nil
}

func (s *scriptSession) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	if s.current.Find(selector).Length() > 0 {
		return nil
	}
	return models.ErrElementNotFound
}

func (s *scriptSession) ScrollTo(context.Context, string) error { return nil }
func (s *scriptSession) Hover(context.Context, string) error    { return nil }

func (s *scriptSession) Highlight(_ context.Context, selector string) error {
	s.highlighted = append(s.highlighted, selector)
	return nil
}

const bookingURL = "https://example.test/manage/change-booking"

const licencePage = `
<form><input id="driving-licence-number" type="text">
<button id="licence-submit">Continue</button></form>`

const centrePage = `
<form><select id="test-centre">
  <option value="c-101">Manchester (Bredbury)</option>
  <option value="c-102">Leeds Horsforth</option>
</select>
<button id="test-centre-submit">Continue</button></form>`

const calMarch = `
<div class="BookingCalendar">
  <span class="BookingCalendar-currentMonth">March 2026</span>
  <a class="BookingCalendar-nav--prev" href="#">prev</a>
  <a class="BookingCalendar-nav--next" href="#">next</a>
</div>`

const calApril = `
<div class="BookingCalendar">
  <span class="BookingCalendar-currentMonth">April 2026</span>
  <a class="BookingCalendar-nav--prev" href="#">prev</a>
  <a class="BookingCalendar-nav--next" href="#">next</a>
  <td class="BookingCalendar-date--bookable"><a class="BookingCalendar-dateLink" data-date="2026-04-15" href="#">15</a></td>
</div>`

const calAprilSlots = calApril + `
<ul class="SlotPicker">
  <li><a class="SlotPicker-time" id="slot-0815">08:15</a></li>
  <li><a class="SlotPicker-time" id="slot-1130">11:30</a></li>
</ul>
<button id="confirm-changes">Confirm changes</button>`

func aprilSlot() models.Slot {
	return models.Slot{
		Date:   time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC),
		Time:   "08:15",
		Centre: "Manchester",
	}
}

func testMonitor() models.Monitor {
	return models.Monitor{ID: "m1", Name: "Sarah", LicenceNumber: "SMITH751025AB9CD"}
}

// happyPathSession scripts the full workflow up to the confirmation page.
func happyPathSession(t *testing.T) *scriptSession {
	sess := newScriptSession(t, bookingURL, licencePage)
	sess.script("#licence-submit", centrePage)
	sess.script("#test-centre-submit", calMarch)
	sess.script(".BookingCalendar-nav--next", calApril)
	sess.script("a.BookingCalendar-dateLink[data-date='2026-04-15']", calAprilSlots)
	return sess
}

func TestPerformAutoBookingStopsAtConfirmation(t *testing.T) {
	sess := happyPathSession(t)
	eng := New(sess, behavior.Instant{})

	msg, err := eng.PerformAutoBooking(context.Background(), aprilSlot(), testMonitor())
	require.NoError(t, err)
	assert.Contains(t, msg, "2026-04-15")
	assert.Contains(t, msg, "08:15")

	// The confirmation control is surfaced but the final click never happens.
	assert.Contains(t, sess.highlighted, "#confirm-changes")
	assert.NotContains(t, sess.clicks, "#confirm-changes")
}

func TestLicenceTypedCharacterByCharacter(t *testing.T) {
	sess := happyPathSession(t)
	eng := New(sess, behavior.Instant{})

	_, err := eng.PerformAutoBooking(context.Background(), aprilSlot(), testMonitor())
	require.NoError(t, err)
	assert.Equal(t, "SMITH751025AB9CD", sess.typed["#driving-licence-number"])
}

func TestCentreFuzzyMatchSelectsOption(t *testing.T) {
	sess := happyPathSession(t)
	eng := New(sess, behavior.Instant{})

	// "Manchester" has no exact option; the fuzzy match must land on the
	// Bredbury entry rather than fail.
	_, err := eng.PerformAutoBooking(context.Background(), aprilSlot(), testMonitor())
	require.NoError(t, err)
	assert.Equal(t, "c-101", sess.selected["#test-centre"])
}

func TestCentreNotFound(t *testing.T) {
	sess := happyPathSession(t)
	eng := New(sess, behavior.Instant{})

	slot := aprilSlot()
	slot.Centre = "Zzzqx"
	_, err := eng.PerformAutoBooking(context.Background(), slot, testMonitor())
	assert.ErrorIs(t, err, ErrCentreNotFound)
}

func TestDateNotAvailable(t *testing.T) {
	sess := happyPathSession(t)
	eng := New(sess, behavior.Instant{})

	slot := aprilSlot()
	slot.Date = time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)
	_, err := eng.PerformAutoBooking(context.Background(), slot, testMonitor())
	assert.ErrorIs(t, err, ErrDateNotAvailable)
}

func TestTimeNotFound(t *testing.T) {
	sess := happyPathSession(t)
	eng := New(sess, behavior.Instant{})

	slot := aprilSlot()
	slot.Time = "16:00"
	_, err := eng.PerformAutoBooking(context.Background(), slot, testMonitor())
	assert.ErrorIs(t, err, ErrTimeNotFound)
}

func TestMonthNavigationGivesUpAfterBoundedSteps(t *testing.T) {
	// The next control never advances the calendar.
	sess := newScriptSession(t, bookingURL, licencePage)
	sess.script("#licence-submit", centrePage)
	sess.script("#test-centre-submit", calMarch)
	eng := New(sess, behavior.Instant{})

	_, err := eng.PerformAutoBooking(context.Background(), aprilSlot(), testMonitor())
	assert.ErrorIs(t, err, models.ErrNavigationTimeout)
}

func TestMonthNavigationStepsBackwards(t *testing.T) {
	may := `
	<div class="BookingCalendar">
	  <span class="BookingCalendar-currentMonth">May 2026</span>
	  <a class="BookingCalendar-nav--prev" href="#">prev</a>
	  <a class="BookingCalendar-nav--next" href="#">next</a>
	</div>`
	sess := newScriptSession(t, bookingURL, licencePage)
	sess.script("#licence-submit", centrePage)
	sess.script("#test-centre-submit", may)
	sess.script(".BookingCalendar-nav--prev", calApril)
	sess.script("a.BookingCalendar-dateLink[data-date='2026-04-15']", calAprilSlots)
	eng := New(sess, behavior.Instant{})

	_, err := eng.PerformAutoBooking(context.Background(), aprilSlot(), testMonitor())
	require.NoError(t, err)
	assert.Contains(t, sess.clicks, ".BookingCalendar-nav--prev")
	assert.NotContains(t, sess.clicks, ".BookingCalendar-nav--next")
}

func TestDisplayedMonth(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		want    time.Time
		wantErr error
	}{
		{
			"parses header",
			`<span class="BookingCalendar-currentMonth">November 2026</span>`,
			time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
			nil,
		},
		{
			"missing header",
			`<div></div>`,
			time.Time{},
			models.ErrElementNotFound,
		},
		{
			"garbled header",
			`<span class="BookingCalendar-currentMonth">Späterhalbjahr</span>`,
			time.Time{},
			models.ErrParseFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := page.NewSnapshot("https://example.test/", tt.html)
			require.NoError(t, err)
			m, err := displayedMonth(snap)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Month(), m.Month())
			assert.Equal(t, tt.want.Year(), m.Year())
		})
	}
}

func TestFindTimeControlFallsBackToDataSlot(t *testing.T) {
	html := `<ul class="SlotPicker">
	  <li><a class="SlotPicker-time" data-slot="1415">14:15</a></li>
	</ul>`
	snap, err := page.NewSnapshot("https://example.test/", html)
	require.NoError(t, err)

	sel, ok := findTimeControl(snap, "14:15")
	require.True(t, ok)
	assert.Equal(t, ".SlotPicker-time[data-slot='1415']", sel)

	_, ok = findTimeControl(snap, "09:00")
	assert.False(t, ok)
}
