// Package orchestrator coordinates monitors, the periodic check loop, the
// risk model, quotas and notifications. It owns all mutable state and is the
// only writer to the store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"slotwatch/internal/behavior"
	"slotwatch/internal/models"
	"slotwatch/internal/risk"
	"slotwatch/internal/store"
)

// State is the orchestrator lifecycle state.
type State int

const (
	StateIdle State = iota
	StateMonitoring
	StateEmergencyStopped
)

func (s State) String() string {
	switch s {
	case StateMonitoring:
		return "monitoring"
	case StateEmergencyStopped:
		return "emergency_stopped"
	default:
		return "idle"
	}
}

// Agent is the detector/booking context reached over the message channel.
type Agent interface {
	Check(ctx context.Context, monitors []models.Monitor) (map[string][]models.Slot, error)
	Book(ctx context.Context, slot models.Slot, monitor models.Monitor) (string, error)
}

// Notifier dispatches user-facing alerts. remaining is the rebook allowance
// left at send time, so the dispatcher can nudge an exhausted tier.
type Notifier interface {
	SendSlotFound(monitor models.Monitor, slot models.Slot, sub models.Subscription, remaining int) error
	SendBookingConfirmation(monitor models.Monitor, slotSummary string, sub models.Subscription) error
	SendSystem(message string) error
}

// Prober reports whether the target host is reachable; nil disables gating.
type Prober func(host string) bool

// Orchestrator is the long-lived coordinator.
type Orchestrator struct {
	store     store.Store
	agent     Agent
	notifier  Notifier
	risk      *risk.Model
	policy    behavior.Policy
	probe     Prober
	probeHost string

	mu       sync.Mutex
	state    State
	monitors []models.Monitor
	settings models.Settings
	stats    models.Stats
	sub      models.Subscription
	stopLoop chan struct{}
	bookings map[string]bool // monitor id -> booking in flight

	inFlight atomic.Bool // single-flight guard for check ticks
}

// New wires an orchestrator; call Load before Start.
func New(st store.Store, agent Agent, notifier Notifier, model *risk.Model, policy behavior.Policy, sub models.Subscription) *Orchestrator {
	return &Orchestrator{
		store:    st,
		agent:    agent,
		notifier: notifier,
		risk:     model,
		policy:   policy,
		sub:      sub,
		settings: models.Settings{
			AutoCheck:            true,
			CheckIntervalSec:     30,
			SoundAlerts:          true,
			BrowserNotifications: true,
		},
		stats:    models.Stats{RebooksTotal: sub.RebooksTotal},
		bookings: make(map[string]bool),
	}
}

// SetProbe installs a reachability gate consulted before each tick.
func (o *Orchestrator) SetProbe(p Prober, host string) {
	o.probe = p
	o.probeHost = host
}

// Load restores persisted state; missing keys keep defaults.
func (o *Orchestrator) Load(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, v := range map[string]any{
		store.KeyMonitors: &o.monitors,
		store.KeySettings: &o.settings,
		store.KeyStats:    &o.stats,
	} {
		if err := o.store.Load(ctx, key, v); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load %s: %w", key, err)
		}
	}
	o.stats.MonitorsCount = len(o.monitors)
	if !o.sub.Unlimited {
		o.stats.RebooksTotal = o.sub.RebooksTotal
	}
	log.Printf("[orchestrator] loaded %d monitors, interval %ds", len(o.monitors), o.settings.CheckIntervalSec)
	return nil
}

// ── Scheduler ────────────────────────────────────────────────────────

// Start moves to Monitoring: one immediate check, then one per interval.
// Idempotent while already monitoring. An explicit Start clears an
// emergency stop; nothing else does.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.state == StateMonitoring {
		o.mu.Unlock()
		return
	}
	o.state = StateMonitoring
	stop := make(chan struct{})
	o.stopLoop = stop
	o.mu.Unlock()

	log.Printf("[orchestrator] monitoring started")
	go o.loop(stop)
}

// Stop halts the check loop and returns to Idle.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state != StateMonitoring {
		o.mu.Unlock()
		return
	}
	o.state = StateIdle
	close(o.stopLoop)
	o.stopLoop = nil
	o.mu.Unlock()
	log.Printf("[orchestrator] monitoring stopped")
}

// loop runs checks until its stop channel closes. The interval is re-read
// every iteration so a settings restart is cheap and immediate.
func (o *Orchestrator) loop(stop chan struct{}) {
	o.performCheck(context.Background())
	for {
		select {
		case <-stop:
			return
		case <-time.After(o.interval()):
			select {
			case <-stop:
				return
			default:
			}
			o.performCheck(context.Background())
		}
	}
}

// interval derives the current tick spacing: the configured base stretched
// by the behavior policy when recent checks are failing.
func (o *Orchestrator) interval() time.Duration {
	o.mu.Lock()
	base := time.Duration(o.settings.CheckIntervalSec) * time.Second
	o.mu.Unlock()

	st := o.risk.State()
	rate := 1.0
	if st.TotalChecks > 0 {
		rate = float64(st.SuccessChecks) / float64(st.TotalChecks)
	}
	return o.policy.AdaptiveInterval(rate, base)
}

// restartLoop applies a new interval immediately rather than at the next
// tick boundary.
func (o *Orchestrator) restartLoop() {
	o.mu.Lock()
	if o.state != StateMonitoring {
		o.mu.Unlock()
		return
	}
	close(o.stopLoop)
	stop := make(chan struct{})
	o.stopLoop = stop
	o.mu.Unlock()
	go o.loopWithoutImmediateCheck(stop)
}

// loopWithoutImmediateCheck is the restart variant: the next check happens
// after one full new interval, not right away.
func (o *Orchestrator) loopWithoutImmediateCheck(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-time.After(o.interval()):
			select {
			case <-stop:
				return
			default:
			}
			o.performCheck(context.Background())
		}
	}
}

// ── Check tick ───────────────────────────────────────────────────────

// performCheck runs one tick. It never raises: every failure is recorded
// and the loop continues on schedule. Overlapping ticks are skipped.
func (o *Orchestrator) performCheck(ctx context.Context) {
	if !o.inFlight.CompareAndSwap(false, true) {
		log.Printf("[orchestrator] previous check still running, skipping tick")
		return
	}
	defer o.inFlight.Store(false)

	o.mu.Lock()
	active := make([]models.Monitor, 0, len(o.monitors))
	for _, m := range o.monitors {
		if m.Status == models.StatusActive {
			active = append(active, m)
		}
	}
	o.mu.Unlock()

	if len(active) == 0 {
		return
	}

	if o.probe != nil && o.probeHost != "" && !o.probe(o.probeHost) {
		log.Printf("[orchestrator] %s unreachable, skipping tick", o.probeHost)
		return
	}

	found, err := o.agent.Check(ctx, active)
	now := time.Now()

	o.mu.Lock()
	o.stats.LastCheck = now
	o.mu.Unlock()

	if err != nil {
		o.risk.RecordCheck(false)
		log.Printf("[orchestrator] check failed: %v", err)
		o.persist(ctx)
		return
	}
	o.risk.RecordCheck(true)

	fresh := o.mergeResults(found, now)
	o.mu.Lock()
	remaining := o.sub.Remaining(o.stats.RebooksUsed)
	o.mu.Unlock()
	for _, f := range fresh {
		if err := o.notifier.SendSlotFound(f.monitor, f.slot, o.sub, remaining); err != nil {
			log.Printf("[orchestrator] notify failed: %v", err)
			o.fallbackNotify(fmt.Sprintf("slot found for %s: %s %s at %s",
				f.monitor.Name, f.slot.Date.Format("2006-01-02"), f.slot.Time, f.slot.Centre))
		}
	}
	if len(fresh) > 0 {
		log.Printf("[orchestrator] %d new slots", len(fresh))
	}
	o.persist(ctx)
}

type foundSlot struct {
	monitor models.Monitor
	slot    models.Slot
}

// mergeResults folds check results into each monitor's found-slot list,
// deduplicated by (date, time, centre), and returns only the new ones.
func (o *Orchestrator) mergeResults(found map[string][]models.Slot, now time.Time) []foundSlot {
	o.mu.Lock()
	defer o.mu.Unlock()

	var fresh []foundSlot
	for i := range o.monitors {
		m := &o.monitors[i]
		slots, ok := found[m.ID]
		if !ok {
			continue
		}
		seen := make(map[string]bool, len(m.FoundSlots))
		for _, s := range m.FoundSlots {
			seen[s.Key()] = true
		}
		for _, s := range slots {
			if seen[s.Key()] {
				continue
			}
			seen[s.Key()] = true
			m.FoundSlots = append(m.FoundSlots, s)
			m.SlotsFound++
			m.LastUpdate = now
			o.stats.SlotsFound++
			fresh = append(fresh, foundSlot{monitor: *m, slot: s})
		}
	}
	return fresh
}

// ── Booking ──────────────────────────────────────────────────────────

// BookSlot gates on quota and per-monitor serialization, then hands the
// workflow to the agent. Usage is charged only on a successful hand-off.
func (o *Orchestrator) BookSlot(ctx context.Context, slot models.Slot, monitorID string) (string, error) {
	o.mu.Lock()
	var monitor *models.Monitor
	for i := range o.monitors {
		if o.monitors[i].ID == monitorID {
			monitor = &o.monitors[i]
			break
		}
	}
	if monitor == nil {
		o.mu.Unlock()
		return "", models.ErrMonitorNotFound
	}
	if o.bookings[monitorID] {
		o.mu.Unlock()
		return "", models.ErrBookingInProgress
	}
	if o.sub.Remaining(o.stats.RebooksUsed) <= 0 {
		o.mu.Unlock()
		return "", models.ErrQuotaExceeded
	}
	o.bookings[monitorID] = true
	m := *monitor
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.bookings, monitorID)
		o.mu.Unlock()
	}()

	msg, err := o.agent.Book(ctx, slot, m)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	o.stats.RebooksUsed++
	o.mu.Unlock()
	o.persist(ctx)

	summary := fmt.Sprintf("%s %s at %s", slot.Date.Format("2006-01-02"), slot.Time, slot.Centre)
	if err := o.notifier.SendBookingConfirmation(m, summary, o.sub); err != nil {
		log.Printf("[orchestrator] booking confirmation notify failed: %v", err)
	}
	return msg, nil
}

// ── Emergency stop ───────────────────────────────────────────────────

// EmergencyStop cancels the loop and pauses every monitor atomically.
// Idempotent: a second call reports success and changes nothing.
func (o *Orchestrator) EmergencyStop(ctx context.Context) {
	o.mu.Lock()
	already := o.state == StateEmergencyStopped
	if o.state == StateMonitoring {
		close(o.stopLoop)
		o.stopLoop = nil
	}
	o.state = StateEmergencyStopped
	for i := range o.monitors {
		o.monitors[i].Status = models.StatusPaused
	}
	o.mu.Unlock()

	o.persist(ctx)
	if !already {
		log.Printf("[orchestrator] EMERGENCY STOP: all monitors paused")
		o.fallbackNotify("emergency stop: monitoring halted, all monitors paused")
	}
}

// ── Monitor CRUD ─────────────────────────────────────────────────────

// AddMonitor registers a monitor; a missing id is generated.
func (o *Orchestrator) AddMonitor(ctx context.Context, m models.Monitor) (models.Monitor, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = models.StatusActive
	}
	if m.Status != models.StatusActive && m.Status != models.StatusPaused {
		return models.Monitor{}, fmt.Errorf("invalid status %q", m.Status)
	}
	m.CreatedAt = time.Now()
	m.SlotsFound = len(m.FoundSlots)

	o.mu.Lock()
	o.monitors = append(o.monitors, m)
	o.stats.MonitorsCount = len(o.monitors)
	o.mu.Unlock()
	o.persist(ctx)
	log.Printf("[orchestrator] monitor %s (%s) added", m.ID, m.Name)
	return m, nil
}

// UpdateMonitor applies a partial update.
func (o *Orchestrator) UpdateMonitor(ctx context.Context, id string, patch models.MonitorPatch) error {
	o.mu.Lock()
	var m *models.Monitor
	for i := range o.monitors {
		if o.monitors[i].ID == id {
			m = &o.monitors[i]
			break
		}
	}
	if m == nil {
		o.mu.Unlock()
		return models.ErrMonitorNotFound
	}
	if patch.Name != nil {
		m.Name = *patch.Name
	}
	if patch.LicenceNumber != nil {
		m.LicenceNumber = *patch.LicenceNumber
	}
	if patch.EarliestDate != nil {
		m.EarliestDate = *patch.EarliestDate
	}
	if patch.LatestDate != nil {
		m.LatestDate = *patch.LatestDate
	}
	if patch.TestCentres != nil {
		m.TestCentres = *patch.TestCentres
	}
	if patch.Notify != nil {
		m.Notify = *patch.Notify
	}
	m.LastUpdate = time.Now()
	o.mu.Unlock()
	o.persist(ctx)
	return nil
}

// DeleteMonitor removes a monitor.
func (o *Orchestrator) DeleteMonitor(ctx context.Context, id string) error {
	o.mu.Lock()
	idx := -1
	for i := range o.monitors {
		if o.monitors[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		o.mu.Unlock()
		return models.ErrMonitorNotFound
	}
	o.monitors = append(o.monitors[:idx], o.monitors[idx+1:]...)
	o.stats.MonitorsCount = len(o.monitors)
	o.mu.Unlock()
	o.persist(ctx)
	return nil
}

// ToggleMonitor sets a monitor active or paused.
func (o *Orchestrator) ToggleMonitor(ctx context.Context, id string, status models.MonitorStatus) error {
	if status != models.StatusActive && status != models.StatusPaused {
		return fmt.Errorf("invalid status %q", status)
	}
	o.mu.Lock()
	found := false
	for i := range o.monitors {
		if o.monitors[i].ID == id {
			o.monitors[i].Status = status
			o.monitors[i].LastUpdate = time.Now()
			found = true
			break
		}
	}
	o.mu.Unlock()
	if !found {
		return models.ErrMonitorNotFound
	}
	o.persist(ctx)
	return nil
}

// UpdateSettings applies a partial settings update; while monitoring, the
// timer is stopped and restarted so the new interval takes effect now.
func (o *Orchestrator) UpdateSettings(ctx context.Context, patch models.SettingsPatch) {
	o.mu.Lock()
	if patch.AutoCheck != nil {
		o.settings.AutoCheck = *patch.AutoCheck
	}
	if patch.CheckIntervalSec != nil && *patch.CheckIntervalSec > 0 {
		o.settings.CheckIntervalSec = *patch.CheckIntervalSec
	}
	if patch.SoundAlerts != nil {
		o.settings.SoundAlerts = *patch.SoundAlerts
	}
	if patch.BrowserNotifications != nil {
		o.settings.BrowserNotifications = *patch.BrowserNotifications
	}
	monitoring := o.state == StateMonitoring
	o.mu.Unlock()

	if monitoring {
		o.restartLoop()
		log.Printf("[orchestrator] settings updated, timer restarted")
	}
	o.persist(ctx)
}

// ── Accessors ────────────────────────────────────────────────────────

// Monitors returns a copy of the monitor list.
func (o *Orchestrator) Monitors() []models.Monitor {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Monitor, len(o.monitors))
	copy(out, o.monitors)
	return out
}

// Stats returns the aggregate counters.
func (o *Orchestrator) Stats() models.Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.stats
	s.MonitorsCount = len(o.monitors)
	return s
}

// Risk returns the current risk state.
func (o *Orchestrator) Risk() models.RiskState {
	return o.risk.State()
}

// Settings returns the current settings.
func (o *Orchestrator) Settings() models.Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// CurrentState returns the lifecycle state.
func (o *Orchestrator) CurrentState() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ── Persistence ──────────────────────────────────────────────────────

// persist writes the whole state; a store failure is logged, never raised,
// so the scheduler loop keeps running.
func (o *Orchestrator) persist(ctx context.Context) {
	o.mu.Lock()
	monitors := make([]models.Monitor, len(o.monitors))
	copy(monitors, o.monitors)
	settings := o.settings
	stats := o.stats
	stats.MonitorsCount = len(monitors)
	o.mu.Unlock()

	for key, v := range map[string]any{
		store.KeyMonitors:  monitors,
		store.KeySettings:  settings,
		store.KeyStats:     stats,
		store.KeyRiskLevel: o.risk.State(),
	} {
		if err := o.store.Save(ctx, key, v); err != nil {
			log.Printf("[orchestrator] persist %s: %v", key, err)
		}
	}
}

// fallbackNotify routes a message to the system notification surface.
func (o *Orchestrator) fallbackNotify(message string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.SendSystem(message); err != nil {
		log.Printf("[orchestrator] system notification failed: %v", err)
	}
}
