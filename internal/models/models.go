package models

import (
	"fmt"
	"time"
)

// MonitorStatus is the lifecycle state of a monitor.
type MonitorStatus string

const (
	StatusActive MonitorStatus = "active"
	StatusPaused MonitorStatus = "paused"
)

// SlotKind distinguishes freshly released slots from cancellations.
type SlotKind string

const (
	SlotNew          SlotKind = "new"
	SlotCancellation SlotKind = "cancellation"
)

// Monitor is a named watch request bound to one licence and a set of
// target test centres.
type Monitor struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	LicenceNumber string        `json:"licence_number"`
	EarliestDate  time.Time     `json:"earliest_date"`
	LatestDate    time.Time     `json:"latest_date"`
	TestCentres   []string      `json:"test_centres"`
	Notify        NotifyPrefs   `json:"notify"`
	Status        MonitorStatus `json:"status"`
	FoundSlots    []Slot        `json:"found_slots"`
	SlotsFound    int           `json:"slots_found"`
	LastUpdate    time.Time     `json:"last_update"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NotifyPrefs selects the channels a monitor's alerts go to.
type NotifyPrefs struct {
	Telegram bool  `json:"telegram"`
	ChatID   int64 `json:"chat_id,omitempty"`
	Sound    bool  `json:"sound"`
}

// InDateWindow reports whether d falls inside the monitor's target window.
// A zero bound is open-ended.
func (m *Monitor) InDateWindow(d time.Time) bool {
	if !m.EarliestDate.IsZero() && d.Before(m.EarliestDate) {
		return false
	}
	if !m.LatestDate.IsZero() && d.After(m.LatestDate) {
		return false
	}
	return true
}

// Slot is a concrete appointment opportunity discovered on the target site.
// Immutable once created; identity is (date, time, centre).
type Slot struct {
	Date    time.Time `json:"date"`
	Time    string    `json:"time"` // "HH:MM"
	Centre  string    `json:"centre"`
	Kind    SlotKind  `json:"kind"`
	FoundAt time.Time `json:"found_at"`
}

// Key returns the dedup identity of the slot.
func (s Slot) Key() string {
	return fmt.Sprintf("%s|%s|%s", s.Date.Format("2006-01-02"), s.Time, s.Centre)
}

// Settings is the singleton monitoring configuration.
type Settings struct {
	AutoCheck            bool `json:"auto_check"`
	CheckIntervalSec     int  `json:"check_interval_sec"`
	SoundAlerts          bool `json:"sound_alerts"`
	BrowserNotifications bool `json:"browser_notifications"`
}

// SettingsPatch carries a partial settings update; nil fields are untouched.
type SettingsPatch struct {
	AutoCheck            *bool `json:"auto_check,omitempty"`
	CheckIntervalSec     *int  `json:"check_interval_sec,omitempty"`
	SoundAlerts          *bool `json:"sound_alerts,omitempty"`
	BrowserNotifications *bool `json:"browser_notifications,omitempty"`
}

// MonitorPatch carries a partial monitor update; nil fields are untouched.
type MonitorPatch struct {
	Name          *string      `json:"name,omitempty"`
	LicenceNumber *string      `json:"licence_number,omitempty"`
	EarliestDate  *time.Time   `json:"earliest_date,omitempty"`
	LatestDate    *time.Time   `json:"latest_date,omitempty"`
	TestCentres   *[]string    `json:"test_centres,omitempty"`
	Notify        *NotifyPrefs `json:"notify,omitempty"`
}

// Stats is the aggregate counter block shown on the dashboard.
type Stats struct {
	MonitorsCount int       `json:"monitors_count"`
	SlotsFound    int       `json:"slots_found"`
	RebooksUsed   int       `json:"rebooks_used"`
	RebooksTotal  int       `json:"rebooks_total"`
	LastCheck     time.Time `json:"last_check"`
}

// RiskLevel buckets the detection-risk percentage.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskState is the derived risk snapshot persisted and shown to the user.
type RiskState struct {
	Level              RiskLevel `json:"level"`
	Percentage         int       `json:"percentage"`
	TotalChecks        int       `json:"total_checks"`
	SuccessChecks      int       `json:"success_checks"`
	FailedChecks       int       `json:"failed_checks"`
	ChecksLastHour     int       `json:"checks_last_hour"`
	SuspiciousPatterns int       `json:"suspicious_patterns"`
	LastCheck          time.Time `json:"last_check"`
}

// Subscription is the tier gating booking attempts.
type Subscription struct {
	Tier         string `json:"tier"`
	RebooksTotal int    `json:"rebooks_total"`
	Unlimited    bool   `json:"unlimited"`
}

// Remaining returns the rebook allowance left, given used attempts.
func (s Subscription) Remaining(used int) int {
	if s.Unlimited {
		return 1
	}
	return s.RebooksTotal - used
}
