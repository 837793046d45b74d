package cmd

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/recbox/recbox/config"
	"github.com/recbox/recbox/internal/h264"
	"github.com/recbox/recbox/internal/muxer"
	"github.com/recbox/recbox/internal/recorder"
)

const audioFrameInterval = 20 * time.Millisecond

// NewRecordCommand muxes pre-encoded elementary streams through a live
// recording session
func NewRecordCommand() *cobra.Command {
	var (
		videoPath    string
		appAudioPath string
		micAudioPath string
		outputPath   string
		formatName   string
		fps          int
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record elementary streams into one container file",
		Long: `Record plays back pre-encoded elementary streams in real time and muxes
them into a single container file through a recording session.

Inputs:
  --video      H.264 Annex-B elementary stream (.h264)
  --app-audio  packet file: big-endian uint16 length before each packet
  --mic-audio  packet file, same framing

Audio packets must be Opus for webm output and ADTS AAC for mp4 output.
Interrupt (Ctrl-C) stops the recording and finalizes the file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(videoPath, appAudioPath, micAudioPath, outputPath, formatName, fps)
		},
	}

	cmd.Flags().StringVar(&videoPath, "video", "", "H.264 Annex-B input file (required)")
	cmd.Flags().StringVar(&appAudioPath, "app-audio", "", "Application audio packet file")
	cmd.Flags().StringVar(&micAudioPath, "mic-audio", "", "Microphone audio packet file")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default: generated under the output dir)")
	cmd.Flags().StringVar(&formatName, "format", config.GetOutputFormat(), "Container format: webm or mp4")
	cmd.Flags().IntVar(&fps, "fps", 30, "Video playback rate")
	cmd.MarkFlagRequired("video")

	return cmd
}

func runRecord(videoPath, appAudioPath, micAudioPath, outputPath, formatName string, fps int) error {
	log := logrus.WithField("command", "record")

	format, err := muxer.ParseFormat(formatName)
	if err != nil {
		return err
	}
	if fps <= 0 {
		fps = 30
	}

	videoData, err := os.ReadFile(videoPath)
	if err != nil {
		return errors.Wrap(err, "failed to read video stream")
	}
	frames, err := h264.SplitAccessUnits(videoData)
	if err != nil {
		return errors.Wrap(err, "failed to parse video stream")
	}
	if len(frames) == 0 {
		return errors.New("video stream contains no frames")
	}

	appPackets, err := readPacketFile(appAudioPath)
	if err != nil {
		return errors.Wrap(err, "failed to read app audio")
	}
	micPackets, err := readPacketFile(micAudioPath)
	if err != nil {
		return errors.Wrap(err, "failed to read mic audio")
	}

	sess, err := recorder.Open(recorder.Config{
		OutputPath: outputPath,
		Format:     format,
		Video: muxer.VideoConfig{
			Width:               config.GetVideoWidth(),
			Height:              config.GetVideoHeight(),
			BitsPerPixel:        config.GetVideoBitsPerPixel(),
			MaxKeyFrameInterval: config.GetVideoMaxKeyFrameInterval(),
		},
		AppAudio: muxer.AudioConfig{
			SampleRate:        config.GetAudioSampleRate(),
			Channels:          config.GetAudioChannels(),
			BitRatePerChannel: config.GetAudioBitRatePerChannel(),
		},
		MicAudio: muxer.AudioConfig{
			SampleRate:        config.GetAudioSampleRate(),
			Channels:          config.GetAudioChannels(),
			BitRatePerChannel: config.GetAudioBitRatePerChannel(),
		},
		StallThreshold: config.GetStallThreshold(),
		SuspendSignals: recorder.NotifySuspend(),
		SuspendGrace:   config.GetSuspendGrace(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to open recording session")
	}

	log.WithFields(logrus.Fields{
		"frames": len(frames),
		"fps":    fps,
		"format": formatName,
	}).Info("Starting recording")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()
		for _, frame := range frames {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			sess.WriteVideo(recorder.Buffer{
				Payload:  frame,
				KeyFrame: h264.IsKeyFrame(frame),
			})
		}
	}()

	feedAudio := func(packets [][]byte, write func(recorder.Buffer)) {
		defer wg.Done()
		ticker := time.NewTicker(audioFrameInterval)
		defer ticker.Stop()
		for _, pkt := range packets {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			write(recorder.Buffer{Payload: pkt})
		}
	}
	if len(appPackets) > 0 {
		wg.Add(1)
		go feedAudio(appPackets, sess.WriteAppAudio)
	}
	if len(micPackets) > 0 {
		wg.Add(1)
		go feedAudio(micPackets, sess.WriteMicAudio)
	}

	wg.Wait()
	stop()

	path, err := sess.FinishWriting(context.Background())
	if err != nil {
		return errors.Wrap(err, "recording failed")
	}
	if path == "" {
		fmt.Println(color.YellowString("No output produced"))
		return nil
	}

	log.WithField("duration", sess.Duration()).Info("Recording finished")
	fmt.Println(color.GreenString("Recording written to %s", path))
	return nil
}

// readPacketFile reads a length-prefixed packet file: each packet preceded
// by its big-endian uint16 byte length. An empty path yields no packets.
func readPacketFile(path string) ([][]byte, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var packets [][]byte
	for off := 0; off < len(data); {
		if off+2 > len(data) {
			return nil, fmt.Errorf("truncated packet header at offset %d", off)
		}
		n := int(binary.BigEndian.Uint16(data[off:]))
		off += 2
		if off+n > len(data) {
			return nil, fmt.Errorf("truncated packet at offset %d", off)
		}
		packets = append(packets, data[off:off+n])
		off += n
	}
	return packets, nil
}
