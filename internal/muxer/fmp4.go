package muxer

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/recbox/recbox/internal/h264"
)

const (
	videoTimeScale     = 90000
	defaultVideoFPS    = 30
	aacSamplesPerFrame = 1024
)

// fmp4Track carries per-track mux state in container timescale units
type fmp4Track struct {
	id        int
	isVideo   bool
	timeScale uint32
	codec     mp4.Codec
	lastDTS   int64
	firstDTS  int64
	hasFirst  bool
	sampleNum uint32
}

// fmp4Container writes H.264 video and AAC audio as fragmented MP4.
// The init segment is written lazily from the first keyframe, once SPS/PPS
// can be extracted from the stream.
type fmp4Container struct {
	writer         io.Writer
	logger         *slog.Logger
	tracks         []*fmp4Track
	initSent       bool
	sequenceNumber uint32
	sps            []byte
	pps            []byte
}

func newFMP4Container(writer io.Writer, logger *slog.Logger) *fmp4Container {
	return &fmp4Container{
		writer:         writer,
		logger:         logger.With("container", "fmp4"),
		sequenceNumber: 1,
	}
}

// scaleToTimescale converts a timeline position into track timescale units
func scaleToTimescale(ts time.Duration, timeScale uint32) int64 {
	if ts <= 0 {
		return 0
	}
	// 64-bit math to avoid overflow
	return ts.Nanoseconds() * int64(timeScale) / int64(time.Second)
}

// stripADTSHeader removes the ADTS header if present and returns the raw AAC
// payload. MP4 samples must be raw AAC.
func stripADTSHeader(data []byte) []byte {
	if len(data) < 7 {
		return data
	}
	// ADTS syncword 12 bits: 0xFFF
	if data[0] == 0xFF && (data[1]&0xF0) == 0xF0 {
		headerLen := 7
		if (data[1] & 0x01) == 0 { // CRC present => 2 extra bytes
			headerLen = 9
		}
		if len(data) > headerLen {
			return data[headerLen:]
		}
	}
	return data
}

func (c *fmp4Container) begin(tracks []*track) error {
	for i, t := range tracks {
		ft := &fmp4Track{id: i + 1}
		switch cfg := t.config.(type) {
		case VideoConfig:
			ft.isVideo = true
			ft.timeScale = videoTimeScale
		case AudioConfig:
			ft.timeScale = uint32(cfg.SampleRate)
			ft.codec = &mp4.CodecMPEG4Audio{
				Config: mpeg4audio.AudioSpecificConfig{
					Type:         2, // AAC-LC
					SampleRate:   cfg.SampleRate,
					ChannelCount: cfg.Channels,
				},
			}
		default:
			return fmt.Errorf("track %d has unsupported config %T", i, t.config)
		}
		c.tracks = append(c.tracks, ft)
	}
	return nil
}

// writeInitSegment marshals and writes the fMP4 init segment once SPS/PPS
// are known
func (c *fmp4Container) writeInitSegment(sps, pps []byte) error {
	if c.initSent {
		return nil
	}

	init := &fmp4.Init{}
	for _, t := range c.tracks {
		if t.isVideo {
			t.codec = &mp4.CodecH264{SPS: sps, PPS: pps}
		}
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.id,
			TimeScale: t.timeScale,
			Codec:     t.codec,
		})
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("failed to marshal init segment: %w", err)
	}
	if _, err := c.writer.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write init segment: %w", err)
	}

	c.sps = sps
	c.pps = pps
	c.initSent = true
	c.logger.Info("fMP4 init segment written", "size", buf.Len())
	return nil
}

func (c *fmp4Container) writeSample(trackIndex int, s sample) error {
	if trackIndex >= len(c.tracks) {
		return fmt.Errorf("fMP4 container not initialized")
	}
	t := c.tracks[trackIndex]

	if !c.initSent {
		if !t.isVideo || !s.keyFrame {
			// Samples preceding the init segment cannot be represented;
			// discard until the first keyframe arrives.
			c.logger.Debug("Dropping sample before init segment", "track", t.id)
			return nil
		}
		sps, pps := h264.ExtractParameterSets(s.payload)
		if sps == nil || pps == nil {
			return fmt.Errorf("keyframe carries no SPS/PPS, cannot write init segment")
		}
		if err := c.writeInitSegment(sps, pps); err != nil {
			return err
		}
	}

	payload := s.payload
	if t.isVideo {
		avcc, err := h264.ConvertAnnexBToAVC(payload)
		if err != nil {
			return fmt.Errorf("failed to convert AnnexB to AVCC: %w", err)
		}
		if len(avcc) == 0 {
			return nil
		}
		if s.keyFrame && len(c.sps) > 0 && len(c.pps) > 0 {
			avcc = h264.PrependParameterSetsAVCC(avcc, c.sps, c.pps)
		}
		payload = avcc
	} else {
		payload = stripADTSHeader(payload)
		if len(payload) == 0 {
			return nil
		}
	}

	fs := &fmp4.Sample{
		IsNonSyncSample: t.isVideo && !s.keyFrame,
		Payload:         payload,
	}

	dts := scaleToTimescale(s.ts, t.timeScale)
	if !t.hasFirst {
		t.firstDTS = dts
		t.hasFirst = true
	}

	if t.lastDTS != 0 {
		if duration := dts - t.lastDTS; duration > 0 {
			fs.Duration = uint32(duration)
		}
	}
	if fs.Duration == 0 {
		if t.isVideo {
			fs.Duration = videoTimeScale / defaultVideoFPS
		} else {
			fs.Duration = aacSamplesPerFrame
		}
	}

	baseTime := dts - t.firstDTS
	if baseTime < 0 {
		baseTime = 0
	}

	part := &fmp4.Part{
		SequenceNumber: c.sequenceNumber,
		Tracks: []*fmp4.PartTrack{
			{
				ID:       t.id,
				BaseTime: uint64(baseTime),
				Samples:  []*fmp4.Sample{fs},
			},
		},
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("failed to marshal media part: %w", err)
	}
	if _, err := c.writer.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write media part: %w", err)
	}

	t.lastDTS = dts
	t.sampleNum++
	c.sequenceNumber++
	return nil
}

func (c *fmp4Container) finish() error {
	for _, t := range c.tracks {
		c.logger.Debug("fMP4 track finished", "id", t.id, "samples", t.sampleNum)
	}
	// Fragmented MP4 needs no trailer
	return nil
}
