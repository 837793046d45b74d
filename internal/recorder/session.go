package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/recbox/recbox/internal/muxer"
	"github.com/recbox/recbox/internal/util"
)

// State is the session lifecycle state
type State int

const (
	StateIdle State = iota
	StateWriting
	StateFinalizing
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWriting:
		return "writing"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Muxer is the container collaborator a Session writes into.
// *muxer.Muxer satisfies it; tests substitute fakes.
type Muxer interface {
	AddTrack(kind muxer.TrackKind, cfg muxer.TrackConfig) (muxer.TrackHandle, error)
	StartSession(at time.Duration) error
	TrackReady(h muxer.TrackHandle) bool
	Append(h muxer.TrackHandle, payload []byte, ts time.Duration, keyFrame bool) bool
	MarkFinished(h muxer.TrackHandle)
	EndSession(at time.Duration)
	Finalize(ctx context.Context) (string, error)
	Status() muxer.Status
}

// Config describes a recording session
type Config struct {
	// OutputPath is the container file location; empty generates a unique
	// path under the configured output directory.
	OutputPath string
	Format     muxer.Format

	Video    muxer.VideoConfig
	AppAudio muxer.AudioConfig
	MicAudio muxer.AudioConfig

	// StallThreshold is the wall-clock gap treated as a stall by the
	// synthetic timeline; zero selects the 100ms default.
	StallThreshold time.Duration

	// SuspendSignals delivers "about to suspend" notifications from the
	// host. Nil disables the suspension guard's watcher.
	SuspendSignals <-chan struct{}
	// SuspendGrace is the run-time grant duration requested on suspend;
	// zero selects 5s.
	SuspendGrace time.Duration
	// Grants overrides how run-time grants are obtained; nil uses a timer
	Grants GrantSource

	Logger *slog.Logger
}

const defaultSuspendGrace = 5 * time.Second

// Session multiplexes independently produced video and audio buffers into
// one time-synchronized container file. Producers call the Write methods
// from their own delivery goroutines; writes are fire-and-forget and never
// block. FinishWriting runs the finalize protocol and is the only call that
// suspends.
type Session struct {
	mux    Muxer
	logger *slog.Logger
	guard  *SuspensionGuard
	now    func() time.Time

	mu             sync.Mutex
	state          State
	timeline       *timeline
	tracks         map[Kind]muxer.TrackHandle
	lastSourceTime time.Duration
	thumbnail      *Thumbnail
	result         *Result

	finishOnce sync.Once
	finished   chan struct{}
}

// New registers the three tracks on an already-open muxer and returns an
// idle session.
func New(mux Muxer, cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = util.ComponentLogger("recorder")
	}

	s := &Session{
		mux:      mux,
		logger:   logger,
		now:      time.Now,
		state:    StateIdle,
		timeline: newTimeline(cfg.StallThreshold),
		tracks:   make(map[Kind]muxer.TrackHandle, 3),
		finished: make(chan struct{}),
	}

	trackPlan := []struct {
		kind Kind
		mk   muxer.TrackKind
		cfg  muxer.TrackConfig
	}{
		{KindVideo, muxer.TrackVideo, cfg.Video},
		{KindAudioApp, muxer.TrackAudioApp, cfg.AppAudio},
		{KindAudioMic, muxer.TrackAudioMic, cfg.MicAudio},
	}
	for _, p := range trackPlan {
		h, err := mux.AddTrack(p.mk, p.cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to register %s track: %w", p.kind, err)
		}
		s.tracks[p.kind] = h
	}

	grace := cfg.SuspendGrace
	if grace <= 0 {
		grace = defaultSuspendGrace
	}
	s.guard = newSuspensionGuard(cfg.SuspendSignals, cfg.Grants, grace, func() {
		// Expiration re-enters the finalize path from the timer goroutine;
		// FinishWriting serializes against concurrent writes itself.
		if _, err := s.FinishWriting(context.Background()); err != nil {
			s.logger.Error("Forced finalize failed", "error", err)
		}
	}, logger)

	return s, nil
}

// Open creates the container muxer for cfg and a session on top of it
func Open(cfg Config) (*Session, error) {
	m, err := muxer.Open(cfg.OutputPath, cfg.Format, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return New(m, cfg)
}

// WriteVideo submits one encoded video sample
func (s *Session) WriteVideo(b Buffer) {
	s.write(KindVideo, b.Payload, b.KeyFrame, nil)
}

// WriteAppAudio submits one application-audio sample
func (s *Session) WriteAppAudio(b Buffer) {
	s.write(KindAudioApp, b.Payload, true, nil)
}

// WriteMicAudio submits one microphone-audio sample
func (s *Session) WriteMicAudio(b Buffer) {
	s.write(KindAudioMic, b.Payload, true, nil)
}

// WriteRawFrame submits an unencoded pixel frame. It advances the timeline
// and feeds the thumbnail latch but appends nothing to the container.
func (s *Session) WriteRawFrame(f RawFrame) {
	s.write(KindVideo, nil, false, &f)
}

// write runs the shared state transition for every inbound buffer. It holds
// the session mutex for the whole transition so writes never interleave with
// the finalize protocol.
func (s *Session) write(kind Kind, payload []byte, keyFrame bool, raw *RawFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Terminal outcome already recorded: writes are silent no-ops
	if s.result != nil {
		return
	}
	if s.state == StateFinalizing {
		return
	}

	// A failure reported by the muxer becomes the terminal result; no
	// further buffers will be accepted, so the run-time grant can go.
	if st := s.mux.Status(); st.State == muxer.StateFailed && st.Err != nil {
		s.resolveLocked(Result{Err: fmt.Errorf("%w: %w", ErrMuxerWrite, st.Err)}, StateFailed)
		s.guard.Release()
		return
	}

	sourceTime := s.timeline.synthesize(s.now())

	if s.state == StateIdle {
		if err := s.mux.StartSession(sourceTime); err != nil {
			s.resolveLocked(Result{Err: fmt.Errorf("%w: %w", ErrMuxerStart, err)}, StateFailed)
			s.guard.Release()
			return
		}
		s.state = StateWriting
		s.logger.Info("Recording started", "source_time", sourceTime)
	}

	if s.state != StateWriting {
		return
	}
	s.lastSourceTime = sourceTime

	if kind == KindVideo && s.thumbnail == nil {
		s.latchThumbnail(payload, raw, sourceTime)
	}

	if len(payload) == 0 {
		return
	}

	h, ok := s.tracks[kind]
	if !ok {
		return
	}
	if !s.mux.TrackReady(h) {
		// Backpressure drops rather than queues; bounded latency wins
		// over completeness.
		s.logger.Debug("Track not ready, dropping buffer", "kind", kind.String(), "size", len(payload))
		return
	}
	s.mux.Append(h, payload, sourceTime, keyFrame)
}

func (s *Session) latchThumbnail(payload []byte, raw *RawFrame, at time.Duration) {
	var thumb *Thumbnail
	if raw != nil {
		thumb = thumbnailFromRawFrame(*raw, at)
	} else {
		thumb = thumbnailFromSample(payload, at)
	}
	if thumb != nil {
		s.thumbnail = thumb
		s.logger.Debug("Thumbnail captured", "at", at)
	}
}

// resolveLocked records the write-once terminal result. Callers hold s.mu.
func (s *Session) resolveLocked(r Result, state State) {
	if s.result != nil {
		return
	}
	s.result = &r
	s.state = state
	if r.Err != nil {
		s.logger.Error("Session resolved", "state", state.String(), "error", r.Err)
	} else {
		s.logger.Info("Session resolved", "state", state.String(), "path", r.Path)
	}
}

// FinishWriting drains the tracks, finalizes the container and returns the
// output location. It is safe to call concurrently from a producer-facing
// caller and from the suspension guard's expiration callback: the finalize
// protocol runs once and every caller receives the identical outcome.
// An empty path with a nil error means no output was produced.
func (s *Session) FinishWriting(ctx context.Context) (string, error) {
	s.finishOnce.Do(func() { s.finish(ctx) })
	<-s.finished

	s.mu.Lock()
	r := *s.result
	s.mu.Unlock()
	return r.Path, r.Err
}

func (s *Session) finish(ctx context.Context) {
	defer close(s.finished)
	// Grant release is the final step regardless of outcome
	defer s.guard.Release()

	s.mu.Lock()

	// A terminal error recorded during write propagates as-is
	if s.result != nil {
		s.mu.Unlock()
		return
	}

	if s.state == StateIdle {
		// Nothing was ever started
		s.resolveLocked(Result{}, StateCancelled)
		s.mu.Unlock()
		return
	}

	s.state = StateFinalizing
	for _, h := range s.tracks {
		s.mux.MarkFinished(h)
	}
	end := s.lastSourceTime
	s.mux.EndSession(end)
	s.logger.Info("Finalizing recording", "duration", end)
	s.mu.Unlock()

	// The flush is asynchronous with respect to the session lock so late
	// writes observe Finalizing and drop out immediately.
	path, err := s.mux.Finalize(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil:
		if s.mux.Status().State == muxer.StateCancelled {
			s.resolveLocked(Result{}, StateCancelled)
		} else {
			s.resolveLocked(Result{Err: fmt.Errorf("%w: %w", ErrMuxerFinalize, err)}, StateFailed)
		}
	case path == "":
		// Muxer was cancelled externally; a null result, not an error
		s.resolveLocked(Result{}, StateCancelled)
	default:
		s.resolveLocked(Result{Path: path}, StateCompleted)
	}
}

// RequestThumbnail returns the latched snapshot, or nil before the first
// video-bearing buffer has been processed
func (s *Session) RequestThumbnail() *Thumbnail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thumbnail
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Duration returns the current synthetic timeline position
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.position()
}
