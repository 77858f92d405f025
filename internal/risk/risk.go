// Package risk scores how likely the automation is to be flagged by the
// target site, from the recent check history. The score is additive over
// capped inputs and always lands in [0,100].
package risk

import (
	"context"
	"log"
	"sync"
	"time"

	"slotwatch/internal/models"
)

const (
	// suspiciousIntervalFloor is the average inter-check gap below which a
	// suspicious-pattern sample is recorded (checks faster than configured).
	suspiciousIntervalFloor = 15 * time.Second
	// intervalWindow is how many inter-check gaps the rolling average keeps.
	intervalWindow = 20
	// minIntervalSamples is how many gaps are needed before the average
	// is trusted.
	minIntervalSamples = 3
)

// Model accumulates check samples and derives the current risk state.
type Model struct {
	mu         sync.Mutex
	total      int
	success    int
	failed     int
	suspicious int
	lastCheck  time.Time
	recent     []time.Time     // check times inside the trailing hour
	intervals  []time.Duration // rolling inter-check gaps
	state      models.RiskState

	now func() time.Time
}

func New() *Model {
	m := &Model{now: time.Now}
	m.state = m.compute(m.now())
	return m
}

// SetClock replaces the wall clock, for tests.
func (m *Model) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// RecordCheck feeds one check outcome into the model and recomputes.
func (m *Model) RecordCheck(ok bool) models.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.total++
	if ok {
		m.success++
	} else {
		m.failed++
	}

	// Capture the previous check time before advancing it, so the gap is
	// the real one and not near-zero.
	prev := m.lastCheck
	m.lastCheck = now
	if !prev.IsZero() {
		m.intervals = append(m.intervals, now.Sub(prev))
		if len(m.intervals) > intervalWindow {
			m.intervals = m.intervals[1:]
		}
		if avg, ok := m.averageInterval(); ok && avg < suspiciousIntervalFloor {
			m.suspicious++
			log.Printf("[risk] suspicious pattern: average check interval %s below %s floor", avg.Round(time.Second), suspiciousIntervalFloor)
		}
	}

	m.recent = append(m.recent, now)
	m.pruneRecent(now)

	m.state = m.compute(now)
	return m.state
}

// Recompute refreshes the derived state without a new sample, so the level
// decays toward baseline while idle.
func (m *Model) Recompute() models.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.pruneRecent(now)
	m.state = m.compute(now)
	return m.state
}

// State returns the last derived state.
func (m *Model) State() models.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start recomputes on a fixed cadence until ctx is cancelled.
func (m *Model) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Recompute()
		}
	}
}

func (m *Model) pruneRecent(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(m.recent) && m.recent[i].Before(cutoff) {
		i++
	}
	m.recent = m.recent[i:]
}

func (m *Model) averageInterval() (time.Duration, bool) {
	if len(m.intervals) < minIntervalSamples {
		return 0, false
	}
	var sum time.Duration
	for _, d := range m.intervals {
		sum += d
	}
	return sum / time.Duration(len(m.intervals)), true
}

// compute derives the score; caller holds the lock.
func (m *Model) compute(now time.Time) models.RiskState {
	score := 0

	// Recency: tighter gaps score higher.
	if !m.lastCheck.IsZero() {
		switch gap := now.Sub(m.lastCheck); {
		case gap < 10*time.Second:
			score += 30
		case gap < 20*time.Second:
			score += 20
		case gap < 30*time.Second:
			score += 10
		}
	}

	// Success ratio: both extremes look anomalous.
	if m.total > 0 {
		ratio := float64(m.success) / float64(m.total)
		switch {
		case ratio > 0.9:
			score += 15
		case ratio < 0.1:
			score += 20
		}
	}

	// Trailing-hour volume.
	switch n := len(m.recent); {
	case n > 120:
		score += 30
	case n > 60:
		score += 20
	case n > 30:
		score += 10
	}

	// Suspicious patterns, capped.
	if s := m.suspicious * 5; s > 20 {
		score += 20
	} else {
		score += s
	}

	// Late-night activity.
	if h := now.Hour(); h >= 0 && h < 5 {
		score += 5
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return models.RiskState{
		Level:              levelFor(score),
		Percentage:         score,
		TotalChecks:        m.total,
		SuccessChecks:      m.success,
		FailedChecks:       m.failed,
		ChecksLastHour:     len(m.recent),
		SuspiciousPatterns: m.suspicious,
		LastCheck:          m.lastCheck,
	}
}

func levelFor(score int) models.RiskLevel {
	switch {
	case score >= 70:
		return models.RiskHigh
	case score >= 40:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
