package recorder

import "time"

// Kind identifies the stream a buffer belongs to
type Kind int

const (
	KindVideo Kind = iota
	KindAudioApp
	KindAudioMic
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudioApp:
		return "app_audio"
	case KindAudioMic:
		return "mic_audio"
	}
	return "unknown"
}

// Buffer is one encoded media sample delivered by a producer. Timestamp is
// the producer's native presentation time; it is informational only and is
// replaced by the session's synthetic timeline before muxing.
type Buffer struct {
	Payload   []byte
	Timestamp time.Duration
	KeyFrame  bool
}

// RawFrame is an unencoded pixel buffer, 4 bytes per pixel in RGBA order.
// Raw frames advance the timeline and feed the thumbnail latch but carry no
// muxer-ready payload.
type RawFrame struct {
	Width  int
	Height int
	Stride int
	Pix    []byte
}
