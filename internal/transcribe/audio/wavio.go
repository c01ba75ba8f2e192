package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/wav"
)

const (
	// wavFormatPCM is the WAVE_FORMAT_PCM tag.
	wavFormatPCM = 1
	// wavFormatFloat is the WAVE_FORMAT_IEEE_FLOAT tag.
	wavFormatFloat = 3

	// dataSizeOffset is where the data chunk length sits in the canonical
	// 44-byte header the encoder writes.
	dataSizeOffset = 40
)

var errUnsupportedWAV = errors.New("unsupported WAV encoding")

// ReadWAV decodes an integer PCM or 32-bit float WAV file.
func ReadWAV(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: %w", path, errUnsupportedWAV)
	}

	switch {
	case dec.WavAudioFormat == wavFormatFloat && dec.BitDepth == 32:
		return readFloatPCM(path, dec)
	case dec.WavAudioFormat != wavFormatPCM:
		return nil, fmt.Errorf("%s: format tag %d: %w", path, dec.WavAudioFormat, errUnsupportedWAV)
	}

	ib, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode PCM: %w", err)
	}
	if ib.Format == nil || ib.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("%s: missing format chunk: %w", path, errUnsupportedWAV)
	}

	return FromIntBuffer(ib, int(dec.BitDepth)), nil
}

// readFloatPCM reads the data chunk of an IEEE float WAV. go-audio only
// decodes integer samples, so the chunk is read directly.
func readFloatPCM(path string, dec *wav.Decoder) (*Buffer, error) {
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("decode PCM: %w", err)
	}
	if dec.PCMChunk == nil {
		return nil, fmt.Errorf("%s: %w", path, wav.ErrPCMChunkNotFound)
	}

	raw := make([]float32, dec.PCMSize/4)
	if err := binary.Read(io.LimitReader(dec.PCMChunk, int64(len(raw)*4)), binary.LittleEndian, raw); err != nil {
		return nil, fmt.Errorf("decode float PCM: %w", err)
	}

	buf := &Buffer{
		Samples:    make([]float64, len(raw)),
		Channels:   int(dec.NumChans),
		SampleRate: int(dec.SampleRate),
	}
	for i, v := range raw {
		buf.Samples[i] = float64(v)
	}
	return buf, nil
}

// WriteWAV encodes buf as 16-bit PCM at path.
func WriteWAV(path string, buf *Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encodeWAV(f, buf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encodeWAV(f *os.File, buf *Buffer) error {
	enc := wav.NewEncoder(f, buf.SampleRate, 16, buf.Channels, wavFormatPCM)
	if err := enc.Write(buf.IntBuffer()); err != nil {
		return fmt.Errorf("encode WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize WAV: %w", err)
	}
	return nil
}

// WriteFloatWAV encodes buf as 32-bit IEEE float at path. Samples beyond
// full scale are kept as they are.
func WriteFloatWAV(path string, buf *Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encodeFloatWAV(f, buf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encodeFloatWAV(f *os.File, buf *Buffer) error {
	samples := make([]float32, len(buf.Samples))
	for i, s := range buf.Samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			s = 0
		}
		samples[i] = float32(s)
	}

	enc := wav.NewEncoder(f, buf.SampleRate, 32, buf.Channels, wavFormatFloat)
	if err := enc.WriteFrame(samples); err != nil {
		return fmt.Errorf("encode WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize WAV: %w", err)
	}

	// The encoder sizes the data chunk from its frame count, which is one
	// here because every sample went through a single WriteFrame call.
	if _, err := f.Seek(dataSizeOffset, io.SeekStart); err != nil {
		return fmt.Errorf("finalize WAV: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(samples)*4)); err != nil {
		return fmt.Errorf("finalize WAV: %w", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("finalize WAV: %w", err)
	}
	return nil
}
