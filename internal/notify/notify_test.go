package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"slotwatch/internal/models"
)

func TestSlotFoundMessage(t *testing.T) {
	monitor := models.Monitor{Name: "Sarah & co"}
	slot := models.Slot{
		Date:   time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC),
		Time:   "08:15",
		Centre: "Manchester",
		Kind:   models.SlotCancellation,
	}
	basic := models.Subscription{Tier: "basic", RebooksTotal: 3}

	msg := slotFoundMessage(monitor, slot, basic, 2)
	assert.Contains(t, msg, "Sarah &amp; co", "names are HTML-escaped")
	assert.Contains(t, msg, "08:15")
	assert.Contains(t, msg, "cancellation")
	assert.NotContains(t, msg, "Upgrade", "allowance left, no nudge")
}

func TestSlotFoundMessageUpgradeNudge(t *testing.T) {
	monitor := models.Monitor{Name: "Sarah"}
	slot := models.Slot{Date: time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), Time: "08:15", Centre: "Leeds"}
	basic := models.Subscription{Tier: "basic", RebooksTotal: 3}

	// Exhausted allowance on a limited tier nudges; an unlimited tier with
	// the same count never does.
	assert.Contains(t, slotFoundMessage(monitor, slot, basic, 0), "basic plan has used all rebook attempts")
	assert.NotContains(t,
		slotFoundMessage(monitor, slot, models.Subscription{Tier: "pro", Unlimited: true}, 0),
		"rebook attempts")
}
