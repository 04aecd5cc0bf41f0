// Package pool manages the slot pool: non-blocking acquire with a FIFO
// waiting queue, release with atomic queue handoff, send dispatch, status
// snapshots, and reset operations. Background monitors enforce the
// inactivity timeout and watch browser health.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/use-agent/gempool/config"
	"github.com/use-agent/gempool/models"
	"github.com/use-agent/gempool/slot"
)

// Driver is the browser surface the pool depends on. Implemented by
// browser.Browser; faked in tests.
type Driver interface {
	CreateSlotPage(ctx context.Context) (*rod.Page, error)
	RestartSlotPage(ctx context.Context, old *rod.Page) (*rod.Page, error)
	NavigateToNewChat(ctx context.Context, page *rod.Page) error
	DetectErrors(page *rod.Page) error
	CheckContextAlive(ctx context.Context) bool
	CheckPageAlive(page *rod.Page) bool
	IsLoggedIn(page *rod.Page) bool
	IsEnterprise(page *rod.Page) bool
	RestartBrowser(ctx context.Context) error
	Close()
}

type queueEntry struct {
	owner      string
	enqueuedAt time.Time
}

// statusPingTimeout bounds the browser liveness probe in Status. The probe
// runs outside the pool mutex; a wedged Chrome must never stall acquire or
// release behind a status request.
const statusPingTimeout = 2 * time.Second

// Pool owns N slots and the waiting queue. All queue and assignment
// decisions happen under one mutex, so release-and-handoff is atomic:
// a freed slot goes to the queue head before any new acquire can see it.
type Pool struct {
	mu    sync.Mutex
	slots map[int]*slot.Slot
	order []int
	queue []queueEntry

	poolCfg    config.PoolConfig
	healthCfg  config.HealthConfig
	browserCfg config.BrowserConfig
	driver     Driver

	startTime       time.Time
	lastHealthCheck time.Time
	loginOK         bool
	enterprise      bool

	monitorCancel context.CancelFunc
}

// New creates a pool over pre-built slots. Monitors start separately.
func New(slots []*slot.Slot, poolCfg config.PoolConfig, healthCfg config.HealthConfig, browserCfg config.BrowserConfig, driver Driver) *Pool {
	p := &Pool{
		slots:           make(map[int]*slot.Slot, len(slots)),
		order:           make([]int, 0, len(slots)),
		poolCfg:         poolCfg,
		healthCfg:       healthCfg,
		browserCfg:      browserCfg,
		driver:          driver,
		startTime:       time.Now(),
		lastHealthCheck: time.Now(),
		loginOK:         true,
	}
	for _, s := range slots {
		p.slots[s.ID()] = s
		p.order = append(p.order, s.ID())
	}
	return p
}

// SetEnterprise records the enterprise telemetry flag for status reports.
func (p *Pool) SetEnterprise(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enterprise = v
}

// Acquire attempts to lease a slot for owner. Non-blocking; the outcome is
// acquired (fresh or reattached), queued, or rejected.
func (p *Pool) Acquire(owner string) models.AcquireOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Reattach: the owner already holds a slot. Same token, idempotent.
	for _, id := range p.order {
		s := p.slots[id]
		if s.State() == slot.StateBusy && s.Owner() == owner {
			slog.Info("reattach", "owner", owner, "slot", id)
			return models.NewAcquired(id, s.LeaseToken(), true, p.poolCfg.InactivityTimeoutS)
		}
	}

	// Already waiting: report the current position, do not enqueue twice.
	for idx, entry := range p.queue {
		if entry.owner == owner {
			return models.NewQueued(idx + 1)
		}
	}

	for _, id := range p.order {
		s := p.slots[id]
		if s.State() != slot.StateFree {
			continue
		}
		token, err := s.Acquire(owner)
		if err != nil {
			continue
		}
		return models.NewAcquired(id, token, false, p.poolCfg.InactivityTimeoutS)
	}

	if len(p.queue) < p.poolCfg.MaxQueueDepth {
		p.queue = append(p.queue, queueEntry{owner: owner, enqueuedAt: time.Now()})
		position := len(p.queue)
		slog.Info("owner queued", "owner", owner, "position", position)
		return models.NewQueued(position)
	}

	return models.NewRejected(len(p.slots), len(p.queue), p.poolCfg.MaxQueueDepth)
}

// Release frees a slot and hands it to the next queued client, atomically.
func (p *Pool) Release(slotID int, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.slots[slotID]
	if !ok {
		return models.NewPoolError(models.KindNotFound, "slot does not exist", nil)
	}
	if err := s.ValidateLease(token); err != nil {
		return err
	}
	s.Release()
	p.assignNextLocked(s)
	return nil
}

// Send runs one send cycle on the slot. The lease check happens inside
// SendMessage, atomically with raising the sending flag; the send itself
// runs outside the pool lock and can take minutes.
func (p *Pool) Send(ctx context.Context, slotID int, token, message string, filePaths []string) (*slot.SendResult, error) {
	p.mu.Lock()
	s, ok := p.slots[slotID]
	p.mu.Unlock()
	if !ok {
		return nil, models.NewPoolError(models.KindNotFound, "slot does not exist", nil)
	}
	return s.SendMessage(ctx, token, message, filePaths)
}

// Status returns a full snapshot for orchestrator visibility. The browser
// liveness probe is bounded and runs before the pool lock is taken.
func (p *Pool) Status() models.PoolStatus {
	chrome := "running"
	if p.driver == nil {
		chrome = "dead"
	} else {
		pingCtx, cancel := context.WithTimeout(context.Background(), statusPingTimeout)
		if !p.driver.CheckContextAlive(pingCtx) {
			chrome = "dead"
		}
		cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	status := models.PoolStatus{
		TotalSlots: len(p.slots),
		Slots:      make([]models.SlotStatus, 0, len(p.slots)),
		Queue:      make([]models.QueueStatus, 0, len(p.queue)),
	}

	for _, id := range p.order {
		s := p.slots[id]
		state := s.State()
		info := models.SlotStatus{ID: id, State: string(state)}
		switch state {
		case slot.StateFree:
			status.Free++
		case slot.StateBusy:
			status.Busy++
			owner := s.Owner()
			idle := int(s.IdleSeconds())
			count := s.MessageCount()
			preview := s.MessagePreview()
			info.Owner = &owner
			info.IdleS = &idle
			info.MessageCount = &count
			info.MessagePreview = &preview
		case slot.StateError:
			status.Error++
		}
		status.Slots = append(status.Slots, info)
	}

	for idx, entry := range p.queue {
		status.Queue = append(status.Queue, models.QueueStatus{
			Owner:         entry.owner,
			WaitingSinceS: int(now.Sub(entry.enqueuedAt).Seconds()),
			Position:      idx + 1,
		})
	}
	status.QueueDepth = len(p.queue)

	login := "ok"
	if !p.loginOK {
		login = "expired"
	}
	status.System = models.SystemStatus{
		Chrome:           chrome,
		Login:            login,
		Enterprise:       p.enterprise,
		LastHealthCheckS: int(now.Sub(p.lastHealthCheck).Seconds()),
		UptimeS:          int(now.Sub(p.startTime).Seconds()),
	}
	return status
}

// ResetAll stops the monitors, voids all leases, restarts the browser,
// recreates every slot tab and restarts the monitors. Returns the number
// of FREE slots afterwards.
func (p *Pool) ResetAll(ctx context.Context) (int, error) {
	slog.Warn("full pool reset initiated")
	p.StopMonitors()

	p.mu.Lock()
	for _, id := range p.order {
		if s := p.slots[id]; s.State() == slot.StateBusy {
			s.Release()
		}
	}
	p.queue = p.queue[:0]
	p.mu.Unlock()

	if err := p.driver.RestartBrowser(ctx); err != nil {
		return 0, err
	}

	available := 0
	for _, id := range p.order {
		s := p.slots[id]
		page, err := p.driver.CreateSlotPage(ctx)
		if err != nil {
			slog.Error("failed to recreate slot", "slot", id, "error", err)
			s.MarkError()
			continue
		}
		s.MarkFree(page)
		available++
	}

	p.StartMonitors()
	slog.Info("pool reset complete", "available", available)
	return available, nil
}

// ResetSlot replaces one slot's tab and marks it FREE, voiding any lease.
func (p *Pool) ResetSlot(ctx context.Context, slotID int) error {
	p.mu.Lock()
	s, ok := p.slots[slotID]
	p.mu.Unlock()
	if !ok {
		return models.NewPoolError(models.KindNotFound, "slot does not exist", nil)
	}

	slog.Info("resetting slot", "slot", slotID)
	newPage, err := p.driver.RestartSlotPage(ctx, s.Page())
	if err != nil {
		s.MarkError()
		return models.NewPoolError(models.KindDriverError, "slot page restart failed", err)
	}
	s.MarkFree(newPage)

	p.mu.Lock()
	p.assignNextLocked(s)
	p.mu.Unlock()
	return nil
}

// FreshenSlot navigates a FREE, ownerless slot to a new conversation so
// the next lease starts clean. Called asynchronously after a release; a
// slot that was immediately handed to a queued owner is left alone.
func (p *Pool) FreshenSlot(ctx context.Context, slotID int) {
	p.mu.Lock()
	s, ok := p.slots[slotID]
	p.mu.Unlock()
	if !ok {
		return
	}
	if s.State() != slot.StateFree || s.Owner() != "" {
		return
	}
	if err := p.driver.NavigateToNewChat(ctx, s.Page()); err != nil {
		slog.Warn("post-release navigation failed", "slot", slotID, "error", err)
	}
}

// StartMonitors launches the inactivity and health monitor goroutines.
func (p *Pool) StartMonitors() {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.monitorCancel != nil {
		p.monitorCancel()
	}
	p.monitorCancel = cancel
	p.mu.Unlock()

	go p.runTicker(ctx, time.Duration(p.healthCfg.InactivityCheckIntervalS)*time.Second, p.inactivitySweep)
	go p.runTicker(ctx, time.Duration(p.healthCfg.CheckIntervalS)*time.Second, p.healthSweep)
	slog.Info("monitors started",
		"inactivity_interval_s", p.healthCfg.InactivityCheckIntervalS,
		"health_interval_s", p.healthCfg.CheckIntervalS)
}

// StopMonitors cancels the monitor goroutines. It does not wait for them:
// ResetAll is reachable from inside the health monitor itself.
func (p *Pool) StopMonitors() {
	p.mu.Lock()
	cancel := p.monitorCancel
	p.monitorCancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		slog.Info("monitors stopped")
	}
}

func (p *Pool) runTicker(ctx context.Context, interval time.Duration, sweep func(ctx context.Context)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

// inactivitySweep auto-releases BUSY slots idle past the timeout. The
// check-and-release is a single slot critical section, so a send that is
// already validating its lease cannot lose the slot mid-flight. The
// navigation to a fresh conversation happens outside the pool lock; queue
// handoff re-locks afterwards.
func (p *Pool) inactivitySweep(ctx context.Context) {
	timeout := p.poolCfg.InactivityTimeout().Seconds()

	p.mu.Lock()
	var reclaimed []*slot.Slot
	for _, id := range p.order {
		s := p.slots[id]
		if s.ReleaseIfIdle(timeout) {
			reclaimed = append(reclaimed, s)
		}
	}
	p.mu.Unlock()

	for _, s := range reclaimed {
		if err := p.driver.NavigateToNewChat(ctx, s.Page()); err != nil {
			slog.Warn("new chat navigation after inactivity release failed",
				"slot", s.ID(), "error", err)
		}
		p.mu.Lock()
		p.assignNextLocked(s)
		p.mu.Unlock()
	}
}

// healthSweep checks browser and page liveness. It only runs while at
// least one slot is BUSY: an idle pool gets zero browser interaction, so
// no tab creation can steal window focus.
func (p *Pool) healthSweep(ctx context.Context) {
	p.mu.Lock()
	hasBusy := false
	for _, id := range p.order {
		if p.slots[id].State() == slot.StateBusy {
			hasBusy = true
			break
		}
	}
	if !hasBusy {
		p.mu.Unlock()
		return
	}
	p.lastHealthCheck = time.Now()
	p.mu.Unlock()

	if !p.driver.CheckContextAlive(ctx) {
		slog.Error("browser context is dead, initiating full reset")
		if _, err := p.ResetAll(ctx); err != nil {
			slog.Error("full reset failed", "error", err)
		}
		return
	}

	for _, id := range p.order {
		s := p.slots[id]
		if s.State() == slot.StateError || s.Sending() {
			continue
		}
		if p.driver.CheckPageAlive(s.Page()) {
			// Alive: scan for bot-detection / expired-session pages and
			// click away recoverable error dialogs.
			if derr := p.driver.DetectErrors(s.Page()); derr != nil {
				slog.Warn("page error state detected", "slot", id, "error", derr)
			}
			continue
		}
		slog.Warn("slot page is dead, attempting recovery", "slot", id)
		s.MarkError()
		newPage, err := p.driver.RestartSlotPage(ctx, s.Page())
		if err != nil {
			slog.Error("slot recovery failed", "slot", id, "error", err)
			continue
		}
		s.MarkFree(newPage)
		p.mu.Lock()
		p.assignNextLocked(s)
		p.mu.Unlock()
	}

	// Login probe on the first FREE slot; an expired session flips the
	// status flag so orchestrators notice without sending.
	for _, id := range p.order {
		s := p.slots[id]
		if s.State() != slot.StateFree {
			continue
		}
		ok := p.driver.IsLoggedIn(s.Page())
		p.mu.Lock()
		p.loginOK = ok
		p.mu.Unlock()
		if !ok {
			slog.Warn("login check failed, session may have expired")
		}
		break
	}
}

// assignNextLocked hands a freed slot to the queue head. Caller holds p.mu.
func (p *Pool) assignNextLocked(s *slot.Slot) {
	if s.State() != slot.StateFree || len(p.queue) == 0 {
		return
	}
	entry := p.queue[0]
	p.queue = p.queue[1:]
	if _, err := s.Acquire(entry.owner); err != nil {
		slog.Error("queue handoff failed", "slot", s.ID(), "owner", entry.owner, "error", err)
		p.queue = append([]queueEntry{entry}, p.queue...)
		return
	}
	slog.Info("queue handoff", "owner", entry.owner, "slot", s.ID(),
		"waited_s", int(time.Since(entry.enqueuedAt).Seconds()))
}

// Shutdown stops the monitors and closes the browser.
func (p *Pool) Shutdown() {
	p.StopMonitors()
	p.driver.Close()
}
