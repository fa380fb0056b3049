package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	eventually = 2 * time.Second
	tick       = 5 * time.Millisecond
)

func newTimer(t *testing.T) (*IdleTimer, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	timer := NewIdleTimer(TimerConfig{
		MaxIdle:       30 * time.Minute,
		WarningLead:   2 * time.Minute,
		FallbackCheck: 5 * time.Minute,
	}, clock, zap.NewNop())
	t.Cleanup(timer.Stop)
	return timer, clock
}

func TestNext(t *testing.T) {
	cases := []struct {
		from Phase
		ev   Event
		want Phase
	}{
		{PhaseExpired, EventLogin, PhaseActive},
		{PhaseWarning, EventLogin, PhaseActive},
		{PhaseActive, EventActivity, PhaseActive},
		{PhaseWarning, EventActivity, PhaseActive},
		{PhaseExpired, EventActivity, PhaseExpired},
		{PhaseActive, EventWarnDue, PhaseWarning},
		{PhaseWarning, EventWarnDue, PhaseWarning},
		{PhaseExpired, EventWarnDue, PhaseExpired},
		{PhaseActive, EventIdleDue, PhaseExpired},
		{PhaseWarning, EventIdleDue, PhaseExpired},
		{PhaseActive, EventLogout, PhaseExpired},
		{PhaseWarning, EventLogout, PhaseExpired},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Next(tc.from, tc.ev), "%s + %s", tc.from, tc.ev)
	}
}

func TestIdleTimer_StartsExpired(t *testing.T) {
	timer, _ := newTimer(t)
	assert.Equal(t, PhaseExpired, timer.Phase())

	// activity before login is ignored
	timer.TouchActivity()
	assert.Equal(t, PhaseExpired, timer.Phase())
}

func TestIdleTimer_ResetMeasuresFromActivity(t *testing.T) {
	timer, clock := newTimer(t)

	var warnings atomic.Int32
	var remaining atomic.Int64
	expired := make(chan struct{}, 1)
	timer.OnWarning(func(left time.Duration) {
		warnings.Add(1)
		remaining.Store(int64(left))
	})
	timer.OnExpire(func() { expired <- struct{}{} })

	timer.Start()
	clock.Advance(1_000_000 * time.Millisecond)
	assert.Equal(t, PhaseActive, timer.Phase())

	timer.TouchActivity()
	assert.Equal(t, time.Duration(0), timer.IdleFor())

	// 28m after login: the cancelled original warning deadline
	clock.Advance(28*time.Minute - 1_000_000*time.Millisecond)
	assert.Equal(t, PhaseActive, timer.Phase())

	// 28m minus 1ms after the reset
	clock.Advance(1_000_000*time.Millisecond - time.Millisecond)
	assert.Equal(t, PhaseActive, timer.Phase())
	assert.Equal(t, int32(0), warnings.Load())

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return timer.Phase() == PhaseWarning }, eventually, tick)
	assert.True(t, timer.WarningActive())
	assert.Equal(t, int32(1), warnings.Load())
	assert.Equal(t, int64(2*time.Minute), remaining.Load())

	clock.Advance(2*time.Minute - time.Millisecond)
	assert.Equal(t, PhaseWarning, timer.Phase())

	clock.Advance(time.Millisecond)
	select {
	case <-expired:
	case <-time.After(eventually):
		t.Fatal("session did not expire")
	}
	assert.Equal(t, PhaseExpired, timer.Phase())
}

func TestIdleTimer_ActivityClearsWarning(t *testing.T) {
	timer, clock := newTimer(t)
	var cleared atomic.Int32
	var expiredCalls atomic.Int32
	timer.OnActive(func() { cleared.Add(1) })
	timer.OnExpire(func() { expiredCalls.Add(1) })

	timer.Start()
	clock.Advance(28 * time.Minute)
	require.Eventually(t, func() bool { return timer.Phase() == PhaseWarning }, eventually, tick)

	timer.DismissWarning()
	assert.Equal(t, PhaseActive, timer.Phase())
	assert.Equal(t, int32(1), cleared.Load())

	// the old expiry deadline (30m from start) no longer applies
	clock.Advance(2 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.NotEqual(t, PhaseExpired, timer.Phase())
	assert.Equal(t, int32(0), expiredCalls.Load())
	assert.Equal(t, 28*time.Minute, timer.Remaining())
}

func TestIdleTimer_ExpiryRearmsAfterLateActivity(t *testing.T) {
	timer, clock := newTimer(t)
	timer.Start()

	// an expiry deadline firing after activity it has not seen
	timer.mu.Lock()
	gen := timer.generation
	timer.lastActivityAt = clock.Now().Add(-10 * time.Minute)
	timer.mu.Unlock()

	timer.expiryDue(gen)
	assert.Equal(t, PhaseActive, timer.Phase())
	assert.Equal(t, 20*time.Minute, timer.Remaining())
}

func TestIdleTimer_StaleGenerationIgnored(t *testing.T) {
	timer, clock := newTimer(t)
	timer.Start()

	timer.mu.Lock()
	stale := timer.generation - 1
	timer.lastActivityAt = clock.Now().Add(-time.Hour)
	timer.mu.Unlock()

	timer.expiryDue(stale)
	timer.warningDue(stale)
	assert.Equal(t, PhaseActive, timer.Phase())
}

func TestIdleTimer_EarlyWarningRearms(t *testing.T) {
	timer, clock := newTimer(t)
	timer.Start()

	timer.mu.Lock()
	gen := timer.generation
	timer.mu.Unlock()

	// 1s early is outside the tolerance
	clock.Advance(28*time.Minute - time.Second)
	timer.warningDue(gen)
	assert.Equal(t, PhaseActive, timer.Phase())
}

func TestIdleTimer_FallbackExpiresWhenDeadlinesDropped(t *testing.T) {
	timer, clock := newTimer(t)
	expired := make(chan struct{}, 1)
	timer.OnExpire(func() { expired <- struct{}{} })
	timer.Start()

	// simulate the process being suspended through both deadlines
	timer.mu.Lock()
	timer.cancelTimersLocked()
	timer.mu.Unlock()

	clock.Advance(30 * time.Minute)
	require.Eventually(t, func() bool {
		if timer.Phase() == PhaseExpired {
			return true
		}
		clock.Advance(timer.cfg.FallbackCheck)
		return false
	}, eventually, tick)

	select {
	case <-expired:
	case <-time.After(eventually):
		t.Fatal("expiry callback not called")
	}
}

func TestIdleTimer_CheckIdle(t *testing.T) {
	timer, clock := newTimer(t)
	timer.Start()

	timer.mu.Lock()
	timer.cancelTimersLocked()
	timer.mu.Unlock()

	clock.Advance(29 * time.Minute)
	timer.checkIdle()
	assert.NotEqual(t, PhaseExpired, timer.Phase())

	clock.Advance(time.Minute)
	timer.checkIdle()
	assert.Equal(t, PhaseExpired, timer.Phase())
}

func TestIdleTimer_StopIsTerminalUntilStart(t *testing.T) {
	timer, clock := newTimer(t)
	var expiredCalls atomic.Int32
	timer.OnExpire(func() { expiredCalls.Add(1) })

	timer.Start()
	timer.Stop()
	assert.Equal(t, PhaseExpired, timer.Phase())

	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), expiredCalls.Load(), "logout does not fire expiry callbacks")

	timer.Start()
	assert.Equal(t, PhaseActive, timer.Phase())
	assert.Equal(t, 30*time.Minute, timer.Remaining())

	// Stop twice is fine
	timer.Stop()
	timer.Stop()
}
