package muxer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/recbox/recbox/config"
)

// Format selects the output container
type Format int

const (
	FormatWebM Format = iota
	FormatMP4
)

// ParseFormat maps a user-facing format name to a Format
func ParseFormat(name string) (Format, error) {
	switch name {
	case "webm":
		return FormatWebM, nil
	case "mp4", "fmp4":
		return FormatMP4, nil
	}
	return 0, fmt.Errorf("unknown container format %q", name)
}

func (f Format) extension() string {
	if f == FormatMP4 {
		return "mp4"
	}
	return "webm"
}

// State is the muxer lifecycle state
type State int

const (
	StateIdle State = iota
	StateWriting
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
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Status is a snapshot of the muxer state and its last error
type Status struct {
	State State
	Err   error
}

// TrackKind identifies one of the three muxer inputs
type TrackKind int

const (
	TrackVideo TrackKind = iota
	TrackAudioApp
	TrackAudioMic
)

func (k TrackKind) String() string {
	switch k {
	case TrackVideo:
		return "video"
	case TrackAudioApp:
		return "app_audio"
	case TrackAudioMic:
		return "mic_audio"
	}
	return "unknown"
}

// TrackHandle refers to a registered track
type TrackHandle int

// NoTrack is the zero value returned when track registration is refused
const NoTrack TrackHandle = -1

// TrackConfig is implemented by VideoConfig and AudioConfig
type TrackConfig interface {
	trackConfig()
}

// VideoConfig describes the video track
type VideoConfig struct {
	Width               int
	Height              int
	BitsPerPixel        int
	MaxKeyFrameInterval int
}

func (VideoConfig) trackConfig() {}

// AverageBitrate derives the target bitrate from frame geometry
func (c VideoConfig) AverageBitrate() int {
	return c.Width * c.Height * c.BitsPerPixel
}

// AudioConfig describes one audio track
type AudioConfig struct {
	SampleRate        int
	Channels          int
	BitRatePerChannel int
}

func (AudioConfig) trackConfig() {}

// Bitrate returns the total audio bitrate across channels
func (c AudioConfig) Bitrate() int {
	return c.Channels * c.BitRatePerChannel
}

// sample is one time-stamped payload queued for the container
type sample struct {
	payload  []byte
	ts       time.Duration
	keyFrame bool
}

type appendOp struct {
	track int
	s     sample
}

// trackQueueDepth bounds the per-track in-flight samples; a full queue means
// the track reports not-ready and appends are dropped
const trackQueueDepth = 64

type track struct {
	kind     TrackKind
	config   TrackConfig
	pending  atomic.Int32
	finished atomic.Bool
	appended atomic.Int64
	dropped  atomic.Int64
}

// container is the format-specific backend behind the Muxer
type container interface {
	begin(tracks []*track) error
	writeSample(trackIndex int, s sample) error
	finish() error
}

// Muxer writes time-stamped track payloads into a single container file.
// All exported methods are safe for concurrent use.
type Muxer struct {
	path      string
	file      io.WriteCloser
	format    Format
	container container
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	err       error
	ended     bool
	finalized bool
	tracks    []*track

	ops  chan appendOp
	done chan struct{}
}

// Open creates the output file and an idle muxer for the given format.
// An empty path generates a unique file under the configured output directory.
func Open(path string, format Format, logger *slog.Logger) (*Muxer, error) {
	if logger == nil {
		logger = slog.With("component", "muxer")
	}

	if path == "" {
		dir := config.GetOutputDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output dir: %w", err)
		}
		path = filepath.Join(dir, fmt.Sprintf("rec-%s.%s", uuid.NewString(), format.extension()))
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	m := &Muxer{
		path:   path,
		file:   file,
		format: format,
		logger: logger,
		state:  StateIdle,
	}

	switch format {
	case FormatMP4:
		m.container = newFMP4Container(file, logger)
	default:
		m.container = newWebMContainer(file, logger)
	}

	m.logger.Debug("Muxer opened", "path", path, "format", format.extension())
	return m, nil
}

// Path returns the output location
func (m *Muxer) Path() string {
	return m.path
}

// AddTrack registers a muxer input. Registration is refused once the session
// has started or after a terminal state.
func (m *Muxer) AddTrack(kind TrackKind, cfg TrackConfig) (TrackHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return NoTrack, fmt.Errorf("cannot add track in state %s", m.state)
	}

	switch kind {
	case TrackVideo:
		if _, ok := cfg.(VideoConfig); !ok {
			return NoTrack, fmt.Errorf("video track requires a VideoConfig")
		}
	case TrackAudioApp, TrackAudioMic:
		if _, ok := cfg.(AudioConfig); !ok {
			return NoTrack, fmt.Errorf("audio track requires an AudioConfig")
		}
	default:
		return NoTrack, fmt.Errorf("unknown track kind %d", kind)
	}

	m.tracks = append(m.tracks, &track{kind: kind, config: cfg})
	return TrackHandle(len(m.tracks) - 1), nil
}

// StartSession writes the container preamble and starts accepting appends.
// at is the timeline position of the first sample.
func (m *Muxer) StartSession(at time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return fmt.Errorf("cannot start session in state %s", m.state)
	}
	if len(m.tracks) == 0 {
		return fmt.Errorf("no tracks registered")
	}

	if err := m.container.begin(m.tracks); err != nil {
		m.state = StateFailed
		m.err = err
		return err
	}

	m.ops = make(chan appendOp, len(m.tracks)*trackQueueDepth)
	m.done = make(chan struct{})
	go m.writeLoop()

	m.state = StateWriting
	m.logger.Info("Muxer session started", "at", at, "tracks", len(m.tracks))
	return nil
}

// writeLoop drains queued samples into the container on a single goroutine
func (m *Muxer) writeLoop() {
	defer close(m.done)

	for op := range m.ops {
		t := m.tracks[op.track]

		m.mu.Lock()
		failed := m.state == StateFailed || m.state == StateCancelled
		m.mu.Unlock()

		if !failed {
			if err := m.container.writeSample(op.track, op.s); err != nil {
				m.fail(fmt.Errorf("append to %s track: %w", t.kind, err))
			}
		}

		t.pending.Add(-1)
	}
}

func (m *Muxer) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateFailed || m.state == StateCancelled {
		return
	}
	m.state = StateFailed
	m.err = err
	m.logger.Error("Muxer entered failed state", "error", err)
}

// TrackReady reports whether the track can accept another append right now
func (m *Muxer) TrackReady(h TrackHandle) bool {
	if h < 0 || int(h) >= len(m.tracks) {
		return false
	}
	t := m.tracks[h]

	m.mu.Lock()
	writing := m.state == StateWriting && !m.ended
	m.mu.Unlock()

	return writing && !t.finished.Load() && t.pending.Load() < trackQueueDepth
}

// Append queues a payload for the track. Returns false when the sample was
// dropped: track not ready, already finished, or the session is not writing.
func (m *Muxer) Append(h TrackHandle, payload []byte, ts time.Duration, keyFrame bool) bool {
	if h < 0 || int(h) >= len(m.tracks) || len(payload) == 0 {
		return false
	}
	t := m.tracks[h]

	m.mu.Lock()
	if m.state != StateWriting || m.ended || t.finished.Load() {
		m.mu.Unlock()
		t.dropped.Add(1)
		return false
	}
	if t.pending.Add(1) > trackQueueDepth {
		t.pending.Add(-1)
		m.mu.Unlock()
		t.dropped.Add(1)
		return false
	}
	// Channel capacity covers trackQueueDepth per track, so this send cannot
	// block while the lock is held.
	m.ops <- appendOp{track: int(h), s: sample{payload: payload, ts: ts, keyFrame: keyFrame}}
	m.mu.Unlock()

	t.appended.Add(1)
	return true
}

// MarkFinished stops the track from accepting further appends
func (m *Muxer) MarkFinished(h TrackHandle) {
	if h < 0 || int(h) >= len(m.tracks) {
		return
	}
	m.tracks[h].finished.Store(true)
}

// EndSession stops accepting appends on all tracks. at is the timeline
// position of the session end.
func (m *Muxer) EndSession(at time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended || m.ops == nil {
		return
	}
	m.ended = true
	close(m.ops)

	for _, t := range m.tracks {
		m.logger.Debug("Track closed",
			"kind", t.kind.String(),
			"appended", t.appended.Load(),
			"dropped", t.dropped.Load())
	}
	m.logger.Info("Muxer session ended", "at", at)
}

// Finalize flushes queued samples, closes the container structures and the
// output file, and returns the output location. It blocks until the flush
// completes or ctx is cancelled; cancellation leaves the muxer in the
// cancelled state.
func (m *Muxer) Finalize(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.finalized {
		path, err := m.path, m.err
		state := m.state
		m.mu.Unlock()
		if state == StateCompleted {
			return path, nil
		}
		return "", err
	}
	// Stop the write loop if EndSession was skipped (cancellation paths)
	if m.ops != nil && !m.ended {
		m.ended = true
		close(m.ops)
	}
	done := m.done
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			m.mu.Lock()
			m.state = StateCancelled
			m.err = ctx.Err()
			m.finalized = true
			m.mu.Unlock()
			m.file.Close()
			return "", ctx.Err()
		}
	}

	finishErr := m.container.finish()
	closeErr := m.file.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = true

	if m.state == StateFailed || m.state == StateCancelled {
		return "", m.err
	}
	if finishErr != nil {
		m.state = StateFailed
		m.err = fmt.Errorf("container finalize: %w", finishErr)
		return "", m.err
	}
	if closeErr != nil {
		m.state = StateFailed
		m.err = fmt.Errorf("output close: %w", closeErr)
		return "", m.err
	}

	m.state = StateCompleted
	m.logger.Info("Muxer finalized", "path", m.path)
	return m.path, nil
}

// Cancel moves the muxer to the cancelled state. Appends are discarded from
// this point on; Finalize reports no output. Cancelling a terminal muxer is
// a no-op.
func (m *Muxer) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateCompleted, StateFailed, StateCancelled:
		return
	}
	m.state = StateCancelled
	m.logger.Warn("Muxer cancelled")
}

// Status returns the current state and last error
func (m *Muxer) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Err: m.err}
}
