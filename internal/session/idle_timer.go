package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	DefaultMaxIdle       = 30 * time.Minute
	DefaultWarningLead   = 2 * time.Minute
	DefaultFallbackCheck = 5 * time.Minute

	// warning timers may fire slightly early
	warnTolerance = 250 * time.Millisecond
)

// Phase is the idle state of the current session
type Phase string

const (
	PhaseActive  Phase = "active"
	PhaseWarning Phase = "warning"
	PhaseExpired Phase = "expired"
)

// Event drives Next
type Event int

const (
	EventLogin Event = iota
	EventActivity
	EventWarnDue
	EventIdleDue
	EventLogout
)

func (e Event) String() string {
	switch e {
	case EventLogin:
		return "login"
	case EventActivity:
		return "activity"
	case EventWarnDue:
		return "warn_due"
	case EventIdleDue:
		return "idle_due"
	case EventLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// Next is the phase transition function. Expired only leaves through a login.
func Next(p Phase, e Event) Phase {
	switch e {
	case EventLogin:
		return PhaseActive
	case EventLogout:
		return PhaseExpired
	}

	switch p {
	case PhaseActive:
		switch e {
		case EventWarnDue:
			return PhaseWarning
		case EventIdleDue:
			return PhaseExpired
		}
	case PhaseWarning:
		switch e {
		case EventActivity:
			return PhaseActive
		case EventIdleDue:
			return PhaseExpired
		}
	}
	return p
}

type TimerConfig struct {
	MaxIdle       time.Duration
	WarningLead   time.Duration
	FallbackCheck time.Duration
}

func (c TimerConfig) withDefaults() TimerConfig {
	if c.MaxIdle <= 0 {
		c.MaxIdle = DefaultMaxIdle
	}
	if c.WarningLead < 0 || c.WarningLead >= c.MaxIdle {
		c.WarningLead = DefaultWarningLead
		if c.WarningLead >= c.MaxIdle {
			c.WarningLead = c.MaxIdle / 2
		}
	}
	if c.FallbackCheck <= 0 {
		c.FallbackCheck = DefaultFallbackCheck
	}
	return c
}

// armed is one scheduled deadline
type armed struct {
	timer  clockwork.Timer
	cancel chan struct{}
}

func (a *armed) stop() {
	if a == nil {
		return
	}
	a.timer.Stop()
	close(a.cancel)
}

// IdleTimer tracks driver activity and expires the session after MaxIdle of
// inactivity, with a warning WarningLead before. All decisions read the
// current lastActivityAt under the lock.
type IdleTimer struct {
	cfg    TimerConfig
	clock  clockwork.Clock
	logger *zap.Logger

	mu             sync.Mutex
	phase          Phase
	lastActivityAt time.Time
	generation     uint64
	warnTimer      *armed
	expiryTimer    *armed
	fallbackStop   chan struct{}

	onWarning []func(remaining time.Duration)
	onActive  []func()
	onExpire  []func()

	wg sync.WaitGroup
}

// NewIdleTimer creates a stopped timer in PhaseExpired; Start begins a session
func NewIdleTimer(cfg TimerConfig, clock clockwork.Clock, logger *zap.Logger) *IdleTimer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IdleTimer{
		cfg:    cfg.withDefaults(),
		clock:  clock,
		logger: logger,
		phase:  PhaseExpired,
	}
}

// OnWarning registers a callback for entering the warning phase
func (t *IdleTimer) OnWarning(fn func(remaining time.Duration)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onWarning = append(t.onWarning, fn)
}

// OnActive registers a callback for activity clearing a warning
func (t *IdleTimer) OnActive(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onActive = append(t.onActive, fn)
}

// OnExpire registers the callback run, in its own goroutine, when the session expires
func (t *IdleTimer) OnExpire(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpire = append(t.onExpire, fn)
}

// Start begins a fresh session: new activity timestamp, fresh deadlines, fallback check
func (t *IdleTimer) Start() {
	t.mu.Lock()
	t.cancelTimersLocked()
	stop := t.fallbackStop
	t.fallbackStop = nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		t.wg.Wait()
	}

	t.mu.Lock()
	t.phase = Next(t.phase, EventLogin)
	t.lastActivityAt = t.clock.Now()
	t.armLocked()

	t.fallbackStop = make(chan struct{})
	ticker := t.clock.NewTicker(t.cfg.FallbackCheck)
	t.wg.Add(1)
	go t.fallbackLoop(ticker, t.fallbackStop)
	t.mu.Unlock()

	t.logger.Info("Idle timer started",
		zap.Duration("max_idle", t.cfg.MaxIdle),
		zap.Duration("warning_lead", t.cfg.WarningLead),
		zap.Duration("fallback_check", t.cfg.FallbackCheck),
	)
}

// TouchActivity records activity now and re-arms both deadlines from it.
// It does nothing once the session expired.
func (t *IdleTimer) TouchActivity() {
	t.mu.Lock()
	if t.phase == PhaseExpired {
		t.mu.Unlock()
		return
	}
	wasWarning := t.phase == PhaseWarning
	t.lastActivityAt = t.clock.Now()
	t.phase = Next(t.phase, EventActivity)
	t.cancelTimersLocked()
	t.armLocked()
	listeners := append([]func(){}, t.onActive...)
	t.mu.Unlock()

	if wasWarning {
		t.logger.Info("Idle warning cleared by activity")
		for _, fn := range listeners {
			fn()
		}
	}
}

// DismissWarning is the driver choosing to stay signed in
func (t *IdleTimer) DismissWarning() {
	t.TouchActivity()
}

// Stop ends the session without running expiry callbacks
func (t *IdleTimer) Stop() {
	t.mu.Lock()
	t.phase = Next(t.phase, EventLogout)
	t.cancelTimersLocked()
	stop := t.fallbackStop
	t.fallbackStop = nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		t.wg.Wait()
		t.logger.Info("Idle timer stopped")
	}
}

func (t *IdleTimer) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

func (t *IdleTimer) WarningActive() bool {
	return t.Phase() == PhaseWarning
}

// IdleFor is the time since the last activity
func (t *IdleTimer) IdleFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock.Since(t.lastActivityAt)
}

// Remaining is the time left before expiry, zero once expired
func (t *IdleTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase == PhaseExpired {
		return 0
	}
	left := t.cfg.MaxIdle - t.clock.Since(t.lastActivityAt)
	if left < 0 {
		return 0
	}
	return left
}

func (t *IdleTimer) warnAt() time.Duration {
	return t.cfg.MaxIdle - t.cfg.WarningLead
}

// armLocked schedules both deadlines relative to lastActivityAt
func (t *IdleTimer) armLocked() {
	t.generation++
	idle := t.clock.Since(t.lastActivityAt)
	t.warnTimer = t.schedule(t.warnAt()-idle, t.generation, t.warningDue)
	t.expiryTimer = t.schedule(t.cfg.MaxIdle-idle, t.generation, t.expiryDue)
}

func (t *IdleTimer) schedule(d time.Duration, gen uint64, fire func(uint64)) *armed {
	if d < 0 {
		d = 0
	}
	a := &armed{timer: t.clock.NewTimer(d), cancel: make(chan struct{})}
	go func() {
		select {
		case <-a.timer.Chan():
			fire(gen)
		case <-a.cancel:
		}
	}()
	return a
}

func (t *IdleTimer) cancelTimersLocked() {
	t.warnTimer.stop()
	t.expiryTimer.stop()
	t.warnTimer = nil
	t.expiryTimer = nil
	t.generation++
}

func (t *IdleTimer) warningDue(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || t.phase != PhaseActive {
		t.mu.Unlock()
		return
	}

	idle := t.clock.Since(t.lastActivityAt)
	if idle < t.warnAt()-warnTolerance {
		t.warnTimer = t.schedule(t.warnAt()-idle, gen, t.warningDue)
		t.mu.Unlock()
		return
	}
	if idle >= t.cfg.MaxIdle {
		// expiry is due; leave it to the expiry deadline or the fallback check
		t.mu.Unlock()
		return
	}

	t.phase = Next(t.phase, EventWarnDue)
	t.warnTimer = nil
	remaining := t.cfg.MaxIdle - idle
	listeners := append([]func(time.Duration){}, t.onWarning...)
	t.mu.Unlock()

	t.logger.Info("Idle warning", zap.Duration("remaining", remaining))
	for _, fn := range listeners {
		fn(remaining)
	}
}

// expiryDue re-checks against the latest activity; if the driver was active
// since the deadline was set, the deadline moves instead of expiring
func (t *IdleTimer) expiryDue(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || t.phase == PhaseExpired {
		t.mu.Unlock()
		return
	}

	idle := t.clock.Since(t.lastActivityAt)
	if idle < t.cfg.MaxIdle {
		t.expiryTimer = t.schedule(t.cfg.MaxIdle-idle, gen, t.expiryDue)
		t.mu.Unlock()
		t.logger.Debug("Expiry deadline moved", zap.Duration("remaining", t.cfg.MaxIdle-idle))
		return
	}

	t.expireLocked(idle, "deadline")
}

// checkIdle is the coarse fallback for deadlines that never fired
func (t *IdleTimer) checkIdle() {
	t.mu.Lock()
	if t.phase == PhaseExpired {
		t.mu.Unlock()
		return
	}
	idle := t.clock.Since(t.lastActivityAt)
	if idle < t.cfg.MaxIdle {
		t.mu.Unlock()
		return
	}
	t.expireLocked(idle, "fallback")
}

// expireLocked moves to expired and unlocks. The fallback loop keeps ticking
// as a no-op until Stop or the next Start.
func (t *IdleTimer) expireLocked(idle time.Duration, source string) {
	t.phase = Next(t.phase, EventIdleDue)
	t.cancelTimersLocked()
	listeners := append([]func(){}, t.onExpire...)
	t.mu.Unlock()

	t.logger.Info("Session expired after inactivity",
		zap.Duration("idle", idle),
		zap.String("source", source),
	)
	for _, fn := range listeners {
		go fn()
	}
}

func (t *IdleTimer) fallbackLoop(ticker clockwork.Ticker, stop chan struct{}) {
	defer t.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			t.checkIdle()
		case <-stop:
			return
		}
	}
}
