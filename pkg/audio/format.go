// Package audio carries raw PCM between the local sound devices and the
// speech providers.
//
// All audio in this package is signed 16-bit little-endian PCM. A [Format]
// describes its sample rate and channel count; [Converter] changes one format
// into another. [Capture] reads microphone audio from any [io.Reader] and
// hands it to one subscriber at a time, and [Player] implementations write
// synthesised speech to an [io.Writer] one [Segment] at a time.
//
// Device I/O is delegated to external recorder and player processes (see
// [OpenInput] and [OpenOutput]) so the package stays free of cgo.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Validate reports whether the format can be handled by this package.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", f.SampleRate))
	}
	if f.Channels != 1 && f.Channels != 2 {
		errs = append(errs, fmt.Errorf("channels must be 1 or 2, got %d", f.Channels))
	}
	return errors.Join(errs...)
}

// FrameSize returns the number of bytes holding one sample for every channel.
func (f Format) FrameSize() int { return 2 * f.Channels }

// BytesPerSecond returns the byte rate of the stream.
func (f Format) BytesPerSecond() int { return f.SampleRate * f.FrameSize() }

// Duration returns the playback time of n bytes.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Bytes returns the number of bytes covering d, rounded down to whole frames.
func (f Format) Bytes(d time.Duration) int {
	frames := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return int(frames) * f.FrameSize()
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
