package recorder

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuspensionGuardGrantOnSignal(t *testing.T) {
	signals := make(chan struct{}, 1)
	source := &fakeGrantSource{}
	g := newSuspensionGuard(signals, source, time.Second, func() {}, quietLogger())

	signals <- struct{}{}
	require.Eventually(t, func() bool {
		grant, _ := source.current()
		return grant != nil
	}, time.Second, time.Millisecond)

	g.Release()
	grant, _ := source.current()
	assert.Equal(t, int32(1), grant.ends.Load())
}

func TestSuspensionGuardReleaseIdempotent(t *testing.T) {
	signals := make(chan struct{}, 1)
	source := &fakeGrantSource{}
	g := newSuspensionGuard(signals, source, time.Second, func() {}, quietLogger())

	signals <- struct{}{}
	require.Eventually(t, func() bool {
		grant, _ := source.current()
		return grant != nil
	}, time.Second, time.Millisecond)

	g.Release()
	g.Release()
	g.Release()

	grant, _ := source.current()
	assert.Equal(t, int32(1), grant.ends.Load())
}

func TestSuspensionGuardReleaseWithoutGrant(t *testing.T) {
	g := newSuspensionGuard(nil, &fakeGrantSource{}, time.Second, func() {}, quietLogger())

	// Must not panic or block when no signal ever arrived
	g.Release()
	g.Release()
}

func TestSuspensionGuardSingleGrant(t *testing.T) {
	signals := make(chan struct{}, 2)
	source := &fakeGrantSource{}
	g := newSuspensionGuard(signals, source, time.Second, func() {}, quietLogger())

	signals <- struct{}{}
	require.Eventually(t, func() bool {
		grant, _ := source.current()
		return grant != nil
	}, time.Second, time.Millisecond)
	first, _ := source.current()

	// Repeated notifications ride the existing grant
	signals <- struct{}{}
	time.Sleep(10 * time.Millisecond)
	second, _ := source.current()
	assert.Same(t, first, second)

	g.Release()
}

func TestTimerGrantExpires(t *testing.T) {
	var fired atomic.Bool
	g := timerGrantSource{}.Begin(5*time.Millisecond, func() { fired.Store(true) })

	require.Eventually(t, func() bool { return fired.Load() }, time.Second, time.Millisecond)
	g.End()
}

func TestTimerGrantEndStopsTimer(t *testing.T) {
	var fired atomic.Bool
	g := timerGrantSource{}.Begin(50*time.Millisecond, func() { fired.Store(true) })

	g.End()
	g.End()

	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load(), "ended grant must not fire its callback")
}
