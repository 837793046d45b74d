package muxer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSPS = []byte{
	0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
	0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
	0x20,
}

var testPPS = []byte{0x68, 0xce, 0x38, 0x80}

var testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x10}

var testPFrame = []byte{0x41, 0x9a, 0x24, 0x8c, 0x09}

var testOpusFrame = []byte{0xfc, 0xff, 0xfe, 0x00, 0x01, 0x02, 0x03}

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testVideoConfig() VideoConfig {
	return VideoConfig{Width: 1280, Height: 720, BitsPerPixel: 2, MaxKeyFrameInterval: 60}
}

func testAudioConfig() AudioConfig {
	return AudioConfig{SampleRate: 48000, Channels: 2, BitRatePerChannel: 32000}
}

func openTestMuxer(t *testing.T, format Format) *Muxer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out."+format.extension())
	m, err := Open(path, format, testLogger())
	require.NoError(t, err)
	return m
}

func addAllTracks(t *testing.T, m *Muxer) (video, app, mic TrackHandle) {
	t.Helper()
	video, err := m.AddTrack(TrackVideo, testVideoConfig())
	require.NoError(t, err)
	app, err = m.AddTrack(TrackAudioApp, testAudioConfig())
	require.NoError(t, err)
	mic, err = m.AddTrack(TrackAudioMic, testAudioConfig())
	require.NoError(t, err)
	return video, app, mic
}

func TestMuxerLifecycle(t *testing.T) {
	tests := []struct {
		name   string
		format Format
	}{
		{name: "WebM", format: FormatWebM},
		{name: "FMP4", format: FormatMP4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := openTestMuxer(t, tt.format)
			video, app, mic := addAllTracks(t, m)

			require.Equal(t, StateIdle, m.Status().State)
			require.NoError(t, m.StartSession(0))
			require.Equal(t, StateWriting, m.Status().State)

			keyframe := annexB(testSPS, testPPS, testIDR)
			assert.True(t, m.Append(video, keyframe, time.Millisecond, true))
			assert.True(t, m.Append(app, testOpusFrame, 2*time.Millisecond, true))
			assert.True(t, m.Append(mic, testOpusFrame, 3*time.Millisecond, true))
			assert.True(t, m.Append(video, annexB(testPFrame), 34*time.Millisecond, false))

			m.MarkFinished(video)
			m.MarkFinished(app)
			m.MarkFinished(mic)
			m.EndSession(34 * time.Millisecond)

			path, err := m.Finalize(context.Background())
			require.NoError(t, err)
			require.Equal(t, m.Path(), path)
			assert.Equal(t, StateCompleted, m.Status().State)

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Greater(t, info.Size(), int64(0), "container should not be empty")
		})
	}
}

func TestMuxerFinalizeIdempotent(t *testing.T) {
	m := openTestMuxer(t, FormatWebM)
	video, _, _ := addAllTracks(t, m)

	require.NoError(t, m.StartSession(0))
	m.Append(video, annexB(testSPS, testPPS, testIDR), time.Millisecond, true)
	m.EndSession(time.Millisecond)

	first, err := m.Finalize(context.Background())
	require.NoError(t, err)

	second, err := m.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMuxerGeneratedOutputPath(t *testing.T) {
	t.Setenv("RECBOX_OUTPUT_DIR", t.TempDir())

	m, err := Open("", FormatWebM, testLogger())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(m.Path(), ".webm"))

	_, err = os.Stat(m.Path())
	require.NoError(t, err)
}

func TestMuxerAddTrackRefusedAfterStart(t *testing.T) {
	m := openTestMuxer(t, FormatWebM)
	addAllTracks(t, m)

	require.NoError(t, m.StartSession(0))

	h, err := m.AddTrack(TrackVideo, testVideoConfig())
	assert.Error(t, err)
	assert.Equal(t, NoTrack, h)
}

func TestMuxerAddTrackConfigMismatch(t *testing.T) {
	m := openTestMuxer(t, FormatWebM)

	_, err := m.AddTrack(TrackVideo, testAudioConfig())
	assert.Error(t, err)

	_, err = m.AddTrack(TrackAudioApp, testVideoConfig())
	assert.Error(t, err)
}

func TestMuxerAppendGating(t *testing.T) {
	m := openTestMuxer(t, FormatWebM)
	video, app, _ := addAllTracks(t, m)

	// Not writing yet
	assert.False(t, m.TrackReady(video))
	assert.False(t, m.Append(video, testIDR, 0, true))

	require.NoError(t, m.StartSession(0))
	assert.True(t, m.TrackReady(video))

	// A finished track drops appends while the others keep accepting
	m.MarkFinished(video)
	assert.False(t, m.TrackReady(video))
	assert.False(t, m.Append(video, testIDR, time.Millisecond, true))
	assert.True(t, m.Append(app, testOpusFrame, time.Millisecond, true))

	m.EndSession(time.Millisecond)
	assert.False(t, m.Append(app, testOpusFrame, 2*time.Millisecond, true))
}

func TestMuxerCancel(t *testing.T) {
	m := openTestMuxer(t, FormatWebM)
	video, _, _ := addAllTracks(t, m)

	require.NoError(t, m.StartSession(0))
	m.Cancel()

	assert.Equal(t, StateCancelled, m.Status().State)
	assert.False(t, m.Append(video, testIDR, time.Millisecond, true))

	path, err := m.Finalize(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, path)
}

func TestMuxerConcurrentAppends(t *testing.T) {
	m := openTestMuxer(t, FormatWebM)
	video, app, mic := addAllTracks(t, m)
	require.NoError(t, m.StartSession(0))

	done := make(chan struct{})
	for i, h := range []TrackHandle{video, app, mic} {
		go func(id int, h TrackHandle) {
			defer func() { done <- struct{}{} }()
			payload := testOpusFrame
			key := false
			if h == video {
				payload = annexB(testSPS, testPPS, testIDR)
				key = true
			}
			for j := 0; j < 50; j++ {
				m.Append(h, payload, time.Duration(id*50+j)*time.Millisecond, key)
			}
		}(i, h)
	}
	for range 3 {
		<-done
	}

	m.EndSession(200 * time.Millisecond)
	path, err := m.Finalize(context.Background())
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("webm")
	require.NoError(t, err)
	assert.Equal(t, FormatWebM, f)

	f, err = ParseFormat("mp4")
	require.NoError(t, err)
	assert.Equal(t, FormatMP4, f)

	_, err = ParseFormat("mkv")
	assert.Error(t, err)
}

func TestVideoConfigAverageBitrate(t *testing.T) {
	cfg := VideoConfig{Width: 1920, Height: 1080, BitsPerPixel: 2}
	assert.Equal(t, 1920*1080*2, cfg.AverageBitrate())
}

func TestAudioConfigBitrate(t *testing.T) {
	cfg := AudioConfig{SampleRate: 48000, Channels: 2, BitRatePerChannel: 32000}
	assert.Equal(t, 64000, cfg.Bitrate())
}
