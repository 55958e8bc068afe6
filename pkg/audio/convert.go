package audio

import (
	"fmt"
	"log/slog"
)

// Convert returns c in the target format. Multi-channel audio is downmixed
// to mono before resampling; upmixing is not supported and leaves the
// channel count unchanged. A clip already in the target format is returned
// as is. A trailing odd byte is dropped with a warning.
func Convert(c Clip, target Format) Clip {
	if len(c.Data)%2 != 0 {
		slog.Warn("audio: odd byte count in PCM data, dropping last byte",
			"bytes", len(c.Data), "format", c.Format.String())
		c.Data = c.Data[:len(c.Data)-1]
	}
	if c.Format == target {
		return c
	}

	pcm := c.Data
	channels := c.Channels
	if channels > 1 && target.Channels == 1 {
		pcm = DownmixToMono(pcm, channels)
		channels = 1
	}
	rate := c.SampleRate
	if channels == 1 && rate != target.SampleRate {
		pcm = ResampleMono16(pcm, rate, target.SampleRate)
		rate = target.SampleRate
	}
	return Clip{Data: pcm, Format: Format{SampleRate: rate, Channels: channels}}
}

// DownmixToMono averages all channels of each frame. Input must be
// interleaved little-endian int16 PCM.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += int32(int16(pcm[idx]) | int16(pcm[idx+1])<<8)
		}
		avg := int16(sum / int32(channels))
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Float32 converts 16-bit PCM samples to float32 in [-1.0, 1.0]. A trailing
// odd byte is ignored.
func Float32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
