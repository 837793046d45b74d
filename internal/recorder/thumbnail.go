package recorder

import (
	"image"
	"time"
)

// Thumbnail is the still snapshot latched from the first video-bearing
// buffer of a session. Exactly one of Image or Encoded is set: raw pixel
// frames yield a decoded image, encoded samples retain their payload bytes.
// Immutable once captured.
type Thumbnail struct {
	Image      image.Image
	Encoded    []byte
	CapturedAt time.Duration
}

func thumbnailFromRawFrame(f RawFrame, at time.Duration) *Thumbnail {
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) == 0 {
		return nil
	}

	stride := f.Stride
	if stride <= 0 {
		stride = f.Width * 4
	}
	if len(f.Pix) < stride*f.Height {
		return nil
	}

	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+f.Width*4], f.Pix[y*stride:])
	}

	return &Thumbnail{Image: img, CapturedAt: at}
}

func thumbnailFromSample(payload []byte, at time.Duration) *Thumbnail {
	if len(payload) == 0 {
		return nil
	}
	return &Thumbnail{
		Encoded:    append([]byte{}, payload...),
		CapturedAt: at,
	}
}
