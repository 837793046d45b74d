package muxer

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
)

// webmContainer writes H.264 video and Opus audio into a WebM file
type webmContainer struct {
	writer  io.Writer
	logger  *slog.Logger
	writers []webm.BlockWriteCloser
}

func newWebMContainer(writer io.Writer, logger *slog.Logger) *webmContainer {
	return &webmContainer{
		writer: writer,
		logger: logger.With("container", "webm"),
	}
}

// writerCloser wraps an io.Writer with basic error handling. Closing it only
// marks the wrapper closed; the muxer owns the underlying file handle.
type writerCloser struct {
	writer io.Writer
	logger *slog.Logger
	closed bool
}

func (wc *writerCloser) Write(p []byte) (n int, err error) {
	if wc.closed {
		return 0, io.ErrClosedPipe
	}

	n, err = wc.writer.Write(p)
	if err != nil {
		wc.logger.Warn("Write error detected, marking writer as closed",
			"error", err,
			"data_size", len(p),
			"bytes_written", n)
		wc.closed = true
	}
	return n, err
}

func (wc *writerCloser) Close() error {
	wc.closed = true
	return nil
}

func (c *webmContainer) begin(tracks []*track) error {
	entries := make([]webm.TrackEntry, 0, len(tracks))
	for i, t := range tracks {
		num := uint64(i + 1)
		switch cfg := t.config.(type) {
		case VideoConfig:
			entries = append(entries, webm.TrackEntry{
				Name:            "Video",
				TrackNumber:     num,
				TrackUID:        num,
				CodecID:         "V_MPEG4/ISO/AVC", // H.264
				TrackType:       1,                 // Video track type
				DefaultDuration: 33333333,          // ~30fps in nanoseconds
				Video: &webm.Video{
					PixelWidth:  uint64(cfg.Width),
					PixelHeight: uint64(cfg.Height),
				},
			})
			c.logger.Debug("Video track configured",
				"width", cfg.Width,
				"height", cfg.Height,
				"avg_bitrate", cfg.AverageBitrate(),
				"max_keyframe_interval", cfg.MaxKeyFrameInterval)
		case AudioConfig:
			entries = append(entries, webm.TrackEntry{
				Name:            trackDisplayName(t.kind),
				TrackNumber:     num,
				TrackUID:        num,
				CodecID:         "A_OPUS",
				TrackType:       2,        // Audio track type
				DefaultDuration: 20000000, // 20ms in nanoseconds (typical Opus frame duration)
				Audio: &webm.Audio{
					SamplingFrequency: float64(cfg.SampleRate),
					Channels:          uint64(cfg.Channels),
				},
			})
		default:
			return fmt.Errorf("track %d has unsupported config %T", i, t.config)
		}
	}

	writeCloser := &writerCloser{
		writer: c.writer,
		logger: c.logger,
	}

	writers, err := webm.NewSimpleBlockWriter(writeCloser, entries,
		mkvcore.WithOnFatalHandler(func(err error) {
			c.logger.Warn("WebM fatal error", "error", err)
		}))
	if err != nil {
		return fmt.Errorf("failed to create WebM writer: %w", err)
	}

	c.writers = writers
	c.logger.Info("WebM container initialized", "tracks", len(entries))
	return nil
}

func (c *webmContainer) writeSample(trackIndex int, s sample) error {
	if c.writers == nil || trackIndex >= len(c.writers) {
		return fmt.Errorf("WebM container not initialized")
	}

	// Block timecodes use the default 1ms timecode scale
	_, err := c.writers[trackIndex].Write(s.keyFrame, s.ts.Milliseconds(), s.payload)
	if err != nil {
		return fmt.Errorf("WebM block write: %w", err)
	}
	return nil
}

func (c *webmContainer) finish() error {
	if c.writers == nil {
		return nil
	}

	for i, w := range c.writers {
		if err := w.Close(); err != nil {
			c.logger.Warn("WebM track close error", "track", i, "error", err)
		}
	}
	c.writers = nil

	c.logger.Info("WebM container finalized")
	return nil
}

func trackDisplayName(kind TrackKind) string {
	switch kind {
	case TrackVideo:
		return "Video"
	case TrackAudioApp:
		return "App Audio"
	case TrackAudioMic:
		return "Mic Audio"
	}
	return "Track"
}
