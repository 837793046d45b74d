package recorder

import "time"

// minInterval is the smallest accepted gap between two synthesized timestamps
const minInterval = time.Millisecond

// defaultStallThreshold is the wall-clock gap treated as a stall
const defaultStallThreshold = 100 * time.Millisecond

// timeline converts wall-clock call timing into a single monotonic media
// timeline shared by all tracks. Producer-supplied timestamps are unreliable
// relative to each other, so the timeline is advanced once per inbound buffer
// using elapsed wall time, and the synthesized position replaces the buffer's
// native timestamp.
type timeline struct {
	stallThreshold time.Duration

	lastWall     time.Time
	accumulated  time.Duration
	lastInterval time.Duration
}

func newTimeline(stallThreshold time.Duration) *timeline {
	if stallThreshold <= 0 {
		stallThreshold = defaultStallThreshold
	}
	return &timeline{stallThreshold: stallThreshold}
}

// synthesize advances the timeline by the elapsed wall time since the previous
// call and returns the new position. Gaps above the stall threshold are
// replaced by the previous accepted interval so a suspension or scheduling
// stall does not inflate the recording.
func (t *timeline) synthesize(now time.Time) time.Duration {
	delta := minInterval
	if !t.lastWall.IsZero() {
		if d := now.Sub(t.lastWall); d > delta {
			delta = d
		}
	}

	if delta > t.stallThreshold {
		if t.lastInterval > 0 {
			delta = t.lastInterval
		} else {
			delta = minInterval
		}
	}

	t.accumulated += delta
	t.lastWall = now
	t.lastInterval = delta
	return t.accumulated
}

// position returns the current timeline position without advancing it
func (t *timeline) position() time.Duration {
	return t.accumulated
}
