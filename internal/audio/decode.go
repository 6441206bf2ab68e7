package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Track is a fully decoded mono PCM buffer.
type Track struct {
	PCM *goaudio.Float32Buffer
}

func (t *Track) SampleRate() int { return t.PCM.Format.SampleRate }

func (t *Track) Samples() []float32 { return t.PCM.Data }

func (t *Track) Duration() float64 {
	if t.PCM.Format.SampleRate == 0 {
		return 0
	}
	return float64(len(t.PCM.Data)) / float64(t.PCM.Format.SampleRate)
}

// Decode sniffs the container and decodes WAV or MP3 into mono float32.
func Decode(data []byte) (*Track, error) {
	switch {
	case isWAV(data):
		return decodeWAV(data)
	case isMP3(data):
		return decodeMP3(data)
	default:
		return nil, fmt.Errorf("%w: unrecognised audio container", ErrDecode)
	}
}

func isWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

func isMP3(b []byte) bool {
	if len(b) >= 3 && string(b[0:3]) == "ID3" {
		return true
	}
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0
}

func decodeWAV(data []byte) (*Track, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid wav", ErrDecode)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: wav has no format", ErrDecode)
	}

	depth := int(d.BitDepth)
	if depth == 0 {
		depth = buf.SourceBitDepth
	}
	if depth <= 0 || depth > 32 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrDecode, depth)
	}
	scale := float32(int64(1) << (depth - 1))
	offset := 0
	if depth == 8 {
		// 8-bit wav is unsigned.
		offset = 128
	}

	ch := buf.Format.NumChannels
	frames := len(buf.Data) / ch
	if frames == 0 {
		return nil, fmt.Errorf("%w: wav has no samples", ErrDecode)
	}
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < ch; c++ {
			sum += float32(buf.Data[i*ch+c]-offset) / scale
		}
		mono[i] = sum / float32(ch)
	}
	return newTrack(mono, buf.Format.SampleRate), nil
}

func decodeMP3(data []byte) (*Track, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	raw, err := io.ReadAll(d)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	// go-mp3 always yields 16-bit little-endian stereo.
	frames := len(raw) / 4
	if frames == 0 {
		return nil, fmt.Errorf("%w: empty mp3 stream", ErrDecode)
	}
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		l := int16(uint16(raw[i*4]) | uint16(raw[i*4+1])<<8)
		r := int16(uint16(raw[i*4+2]) | uint16(raw[i*4+3])<<8)
		mono[i] = (float32(l) + float32(r)) / 65536
	}
	return newTrack(mono, d.SampleRate()), nil
}

func newTrack(samples []float32, rate int) *Track {
	return &Track{PCM: &goaudio.Float32Buffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 32,
	}}
}
