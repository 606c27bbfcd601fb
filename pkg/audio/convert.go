package audio

import (
	"log/slog"
	"sync"
)

// Converter converts a stream of PCM chunks from one format to another.
//
// Chunks from the network are not guaranteed to end on a frame boundary, so
// a trailing partial frame is held back and prepended to the next chunk.
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	From Format
	To   Format

	carry          []byte
	warnedMismatch sync.Once
}

// NewConverter returns a converter from one format to another.
func NewConverter(from, to Format) *Converter {
	return &Converter{From: from, To: to}
}

// Convert converts chunk. It returns nil when chunk holds less than one full
// frame. If the formats match, whole frames are returned unchanged.
//
// Conversion order: downmix, resample, upmix, so that resampling always runs
// on the smaller channel count.
func (c *Converter) Convert(chunk []byte) []byte {
	pcm := chunk
	if len(c.carry) > 0 {
		pcm = append(c.carry, chunk...)
		c.carry = nil
	}
	frame := c.From.FrameSize()
	if frame <= 0 {
		return nil
	}
	if rem := len(pcm) % frame; rem != 0 {
		c.carry = append([]byte(nil), pcm[len(pcm)-rem:]...)
		pcm = pcm[:len(pcm)-rem]
	}
	if len(pcm) == 0 {
		return nil
	}

	if c.From == c.To {
		return pcm
	}

	c.warnedMismatch.Do(func() {
		slog.Debug("audio: converting", "from", c.From.String(), "to", c.To.String())
	})

	channels := c.From.Channels
	if channels == 2 && c.To.Channels == 1 {
		pcm = StereoToMono(pcm)
		channels = 1
	}
	if c.From.SampleRate != c.To.SampleRate {
		pcm = Resample16(pcm, channels, c.From.SampleRate, c.To.SampleRate)
	}
	if channels == 1 && c.To.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm
}

// ConvertStream wraps an input channel with a conversion goroutine. It closes
// the returned channel when in closes. Chunks that convert to nothing are
// dropped.
func ConvertStream(in <-chan []byte, from, to Format) <-chan []byte {
	out := make(chan []byte, cap(in))
	go func() {
		defer close(out)
		conv := NewConverter(from, to)
		for chunk := range in {
			converted := conv.Convert(chunk)
			if len(converted) == 0 {
				continue
			}
			out <- converted
		}
	}()
	return out
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sample(pcm, i*2))
		r := int32(sample(pcm, i*2+1))
		putSample(out, i, clamp16((l+r)/2))
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate using linear interpolation. If the rates match or
// either is non-positive, the input is returned unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	frameSize := 2 * channels
	srcFrames := len(pcm) / frameSize
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameSize)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(sample(pcm, idx*channels+ch))
			s1 := float64(sample(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int32(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

// sample reads the i-th int16 sample.
func sample(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, v int32) {
	pcm[i*2] = byte(v)
	pcm[i*2+1] = byte(v >> 8)
}

func clamp16(v int32) int32 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}
