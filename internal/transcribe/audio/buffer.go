package audio

import (
	"math"

	goaudio "github.com/go-audio/audio"
)

// Silence is the loudness reported for a buffer with no signal.
var Silence = math.Inf(-1)

// Buffer holds interleaved samples scaled to [-1, 1].
type Buffer struct {
	Samples    []float64
	Channels   int
	SampleRate int
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// FromIntBuffer converts a decoded PCM buffer of the given bit depth.
func FromIntBuffer(ib *goaudio.IntBuffer, bitDepth int) *Buffer {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	full := math.Pow(2, float64(bitDepth-1))

	out := &Buffer{
		Samples:    make([]float64, len(ib.Data)),
		Channels:   ib.Format.NumChannels,
		SampleRate: ib.Format.SampleRate,
	}
	for i, v := range ib.Data {
		if bitDepth == 8 {
			// 8-bit WAV is unsigned
			out.Samples[i] = (float64(v) - 128) / 128
			continue
		}
		out.Samples[i] = float64(v) / full
	}
	return out
}

// int16Scale matches the 2^(n-1) divisor FromIntBuffer uses for 16-bit input.
const int16Scale = 32768

// IntBuffer converts to 16-bit PCM, clamping anything outside full scale.
func (b *Buffer) IntBuffer() *goaudio.IntBuffer {
	data := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		v := math.Round(s * int16Scale)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		data[i] = int(v)
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: b.Channels, SampleRate: b.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
}

// Downmix averages all channels into one.
func (b *Buffer) Downmix() {
	if b.Channels <= 1 {
		return
	}
	frames := b.Frames()
	mono := make([]float64, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < b.Channels; c++ {
			sum += b.Samples[f*b.Channels+c]
		}
		mono[f] = sum / float64(b.Channels)
	}
	b.Samples = mono
	b.Channels = 1
}

// Resample converts to rate using linear interpolation per channel.
func (b *Buffer) Resample(rate int) {
	if rate <= 0 || b.SampleRate <= 0 || rate == b.SampleRate {
		return
	}
	frames := b.Frames()
	outFrames := int(math.Round(float64(frames) * float64(rate) / float64(b.SampleRate)))
	out := make([]float64, outFrames*b.Channels)
	step := float64(b.SampleRate) / float64(rate)

	for f := 0; f < outFrames; f++ {
		pos := float64(f) * step
		i0 := int(pos)
		frac := pos - float64(i0)
		i1 := i0 + 1
		if i0 >= frames {
			i0 = frames - 1
		}
		if i1 >= frames {
			i1 = frames - 1
		}
		for c := 0; c < b.Channels; c++ {
			a := b.Samples[i0*b.Channels+c]
			z := b.Samples[i1*b.Channels+c]
			out[f*b.Channels+c] = a + (z-a)*frac
		}
	}
	b.Samples = out
	b.SampleRate = rate
}

// LoudnessDBFS returns the RMS level relative to full scale.
// An empty or all-zero buffer reports Silence.
func (b *Buffer) LoudnessDBFS() float64 {
	if len(b.Samples) == 0 {
		return Silence
	}
	var sum float64
	for _, s := range b.Samples {
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(len(b.Samples)))
	if rms == 0 {
		return Silence
	}
	return 20 * math.Log10(rms)
}

// ApplyGain scales every sample by gain decibels.
func (b *Buffer) ApplyGain(db float64) {
	factor := math.Pow(10, db/20)
	for i := range b.Samples {
		b.Samples[i] *= factor
	}
}

// Peak returns the largest absolute sample value.
func (b *Buffer) Peak() float64 {
	var peak float64
	for _, s := range b.Samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// Normalize shifts the level to target dBFS with one uniform gain.
// Peaks may end up above full scale, so the result needs a float encoding.
// It reports false and leaves the buffer untouched when there is no signal.
func (b *Buffer) Normalize(target float64) bool {
	current := b.LoudnessDBFS()
	if math.IsInf(current, -1) {
		return false
	}
	b.ApplyGain(target - current)
	return true
}
