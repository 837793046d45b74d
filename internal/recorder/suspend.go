package recorder

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Grant represents host-granted extra run time before suspension.
// Ending an already-ended grant is a no-op.
type Grant interface {
	End()
}

// GrantSource issues time-limited grants with an expiration callback
type GrantSource interface {
	Begin(grace time.Duration, onExpire func()) Grant
}

// timerGrantSource backs grants with a plain timer
type timerGrantSource struct{}

func (timerGrantSource) Begin(grace time.Duration, onExpire func()) Grant {
	return &timerGrant{timer: time.AfterFunc(grace, onExpire)}
}

type timerGrant struct {
	timer *time.Timer
	once  sync.Once
}

func (g *timerGrant) End() {
	g.once.Do(func() { g.timer.Stop() })
}

// SuspensionGuard watches for "about to suspend" notifications from the host
// and requests a run-time grant so an in-flight recording can finalize before
// the process is paused. If the grant expires first, onExpire forces the
// finalize path.
type SuspensionGuard struct {
	source   GrantSource
	grace    time.Duration
	onExpire func()
	logger   *slog.Logger

	mu       sync.Mutex
	grant    Grant
	released bool
	stop     chan struct{}
	stopped  bool
}

func newSuspensionGuard(signals <-chan struct{}, source GrantSource, grace time.Duration, onExpire func(), logger *slog.Logger) *SuspensionGuard {
	if source == nil {
		source = timerGrantSource{}
	}
	g := &SuspensionGuard{
		source:   source,
		grace:    grace,
		onExpire: onExpire,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	if signals != nil {
		go g.watch(signals)
	}
	return g
}

func (g *SuspensionGuard) watch(signals <-chan struct{}) {
	for {
		select {
		case <-g.stop:
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			g.begin()
		}
	}
}

func (g *SuspensionGuard) begin() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released || g.grant != nil {
		return
	}

	g.logger.Warn("Suspension imminent, requesting run-time grant", "grace", g.grace)
	g.grant = g.source.Begin(g.grace, func() {
		g.logger.Warn("Run-time grant expired, forcing finalize")
		g.onExpire()
	})
}

// Release ends the grant exactly once. Releasing an absent or already-released
// grant is a no-op.
func (g *SuspensionGuard) Release() {
	g.mu.Lock()
	grant := g.grant
	g.grant = nil
	g.released = true
	if !g.stopped {
		close(g.stop)
		g.stopped = true
	}
	g.mu.Unlock()

	if grant != nil {
		grant.End()
	}
}

// NotifySuspend adapts OS signals into suspend notifications. With no
// arguments it watches SIGTERM.
func NotifySuspend(sigs ...os.Signal) <-chan struct{} {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGTERM}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	out := make(chan struct{}, 1)
	go func() {
		for range ch {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}
