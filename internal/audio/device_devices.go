//go:build devices

package audio

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	mdaudio "github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
)

// DefaultOutput plays the mixer through the system sound device.
func DefaultOutput() (Output, error) { return &otoOutput{}, nil }

// DefaultMicrophone captures through pion/mediadevices.
func DefaultMicrophone() (Microphone, error) { return mdMicrophone{}, nil }

type otoOutput struct {
	mu     sync.Mutex
	ctx    *oto.Context
	player *oto.Player
}

func (o *otoOutput) Start(src io.Reader, sampleRate int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		return nil
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
		BufferSize:   20 * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	<-ready
	o.ctx = ctx
	o.player = ctx.NewPlayer(src)
	o.player.Play()
	return nil
}

func (o *otoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil {
		return nil
	}
	err := o.player.Close()
	o.player = nil
	return err
}

type mdMicrophone struct{}

func (mdMicrophone) Open(sampleRate int) (CaptureStream, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(sampleRate)
			c.ChannelCount = prop.Int(1)
		},
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "permission") {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no audio track", ErrDeviceUnavailable)
	}
	track, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		tracks[0].Close()
		return nil, fmt.Errorf("%w: unexpected track type", ErrDeviceUnavailable)
	}
	return &mdStream{track: track, reader: track.NewReader(false)}, nil
}

type mdStream struct {
	track  *mediadevices.AudioTrack
	reader mdaudio.Reader
}

var errUnsupportedChunk = errors.New("unsupported capture sample format")

func (s *mdStream) Read() ([]float32, int, error) {
	chunk, release, err := s.reader.Read()
	if err != nil {
		return nil, 0, err
	}
	defer release()

	info := chunk.ChunkInfo()
	out := make([]float32, info.Len)
	switch c := chunk.(type) {
	case *wave.Float32Interleaved:
		for i := 0; i < info.Len; i++ {
			var sum float32
			for ch := 0; ch < info.Channels; ch++ {
				sum += c.Data[i*info.Channels+ch]
			}
			out[i] = sum / float32(info.Channels)
		}
	case *wave.Int16Interleaved:
		for i := 0; i < info.Len; i++ {
			var sum float32
			for ch := 0; ch < info.Channels; ch++ {
				sum += float32(c.Data[i*info.Channels+ch]) / 32768
			}
			out[i] = sum / float32(info.Channels)
		}
	default:
		return nil, 0, errUnsupportedChunk
	}
	return out, info.SamplingRate, nil
}

func (s *mdStream) Close() error {
	return s.track.Close()
}
