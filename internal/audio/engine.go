// Package audio is the synchronization engine: it decodes and plays file
// audio against a playback clock, corrects drift against the host, frames
// microphone capture into chunks and schedules received chunks gaplessly.
package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrDecode            = errors.New("audio decode failed")
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrNoTrack           = errors.New("no track loaded")
)

type Options struct {
	Clock          clock.Clock
	Mixer          *Mixer
	Microphone     Microphone
	DriftThreshold time.Duration
	SampleRate     int
	ChunkSize      int
}

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 44100
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 4096
	}
	if o.DriftThreshold <= 0 {
		o.DriftThreshold = 50 * time.Millisecond
	}
	if o.Mixer == nil {
		o.Mixer = NewMixer(o.SampleRate, 30*time.Millisecond)
	}
}

type Engine struct {
	clk       clock.Clock
	playback  *PlaybackClock
	mixer     *Mixer
	chunks    *ChunkScheduler
	mic       Microphone
	threshold float64
	rate      int
	chunkSize int

	mu      sync.Mutex
	track   *Track
	voice   uint64
	capture *captureRun
}

type captureRun struct {
	stream CaptureStream
	done   chan struct{}
	once   sync.Once
}

func NewEngine(opts Options) *Engine {
	opts.setDefaults()
	return &Engine{
		clk:       opts.Clock,
		playback:  NewPlaybackClock(opts.Clock),
		mixer:     opts.Mixer,
		chunks:    NewChunkScheduler(opts.Mixer),
		mic:       opts.Microphone,
		threshold: opts.DriftThreshold.Seconds(),
		rate:      opts.SampleRate,
		chunkSize: opts.ChunkSize,
	}
}

// NowMillis is the reference clock in milliseconds, used for sync and chunk
// timestamps.
func (e *Engine) NowMillis() float64 {
	return float64(e.clk.Now().UnixNano()) / float64(time.Millisecond)
}

// LoadFile decodes data and replaces the current track. On failure the
// current track and playback state are untouched.
func (e *Engine) LoadFile(data []byte) (float64, error) {
	t, err := Decode(data)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.stopVoiceLocked()
	e.track = t
	e.mu.Unlock()

	e.playback.Pause()
	e.playback.Seek(0)
	log.Info().Str("module", "audio").Float64("duration", t.Duration()).Int("rate", t.SampleRate()).Msg("track loaded")
	return t.Duration(), nil
}

func (e *Engine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.track == nil {
		return 0
	}
	return e.track.Duration()
}

// Play restarts playback at offset seconds, replacing any sounding voice.
func (e *Engine) Play(offset float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopVoiceLocked()
	e.playback.Play(offset)
	if e.track != nil {
		e.voice = e.mixer.Schedule(e.track.Samples(), e.track.SampleRate(), offset, e.mixer.Now())
	}
}

func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playback.Playing() {
		return
	}
	e.playback.Pause()
	e.stopVoiceLocked()
}

// Seek does not clamp offset.
func (e *Engine) Seek(offset float64) {
	if e.playback.Playing() {
		e.Play(offset)
		return
	}
	e.playback.Seek(offset)
}

func (e *Engine) CurrentPosition() float64 { return e.playback.Position() }

func (e *Engine) IsPlaying() bool { return e.playback.Playing() }

func (e *Engine) SetVolume(level float64) { e.mixer.SetVolume(level) }

// Project estimates where the host is now: one-way latency is taken as half
// of localNow - hostTimestamp.
func (e *Engine) Project(hostPosition, hostTimestamp float64) float64 {
	latency := (e.NowMillis() - hostTimestamp) / 2 / 1000
	return hostPosition + latency
}

// CorrectAgainstHost reseeks to the projected host position when local drift
// exceeds the threshold, and reports whether it did.
func (e *Engine) CorrectAgainstHost(hostPosition, hostTimestamp float64) bool {
	projected := e.Project(hostPosition, hostTimestamp)
	drift := math.Abs(projected - e.CurrentPosition())
	if drift <= e.threshold {
		return false
	}
	log.Debug().Str("module", "audio").Float64("drift", drift).Float64("target", projected).Msg("reseek")
	e.Seek(projected)
	return true
}

// BeginCapture opens the microphone and emits fixed-size chunks until
// EndCapture. Only one capture may run per process.
func (e *Engine) BeginCapture(onChunk func(domain.Chunk)) error {
	if e.mic == nil {
		return ErrDeviceUnavailable
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.capture != nil {
		return fmt.Errorf("%w: capture already running", ErrDeviceUnavailable)
	}
	if !acquireMic() {
		return fmt.Errorf("%w: microphone in use", ErrDeviceUnavailable)
	}
	stream, err := e.mic.Open(e.rate)
	if err != nil {
		releaseMic()
		return err
	}

	run := &captureRun{stream: stream, done: make(chan struct{})}
	e.capture = run
	go e.captureLoop(run, onChunk)
	log.Info().Str("module", "audio").Int("rate", e.rate).Int("chunk", e.chunkSize).Msg("capture started")
	return nil
}

func (e *Engine) captureLoop(run *captureRun, onChunk func(domain.Chunk)) {
	defer func() {
		e.stopCapture(run)
	}()
	framer := NewFramer(e.chunkSize)
	for {
		samples, rate, err := run.stream.Read()
		select {
		case <-run.done:
			return
		default:
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "audio").Msg("capture read")
			return
		}
		if rate <= 0 {
			rate = e.rate
		}
		framer.Push(samples, func(frame []float32) {
			onChunk(domain.Chunk{Samples: frame, Timestamp: e.NowMillis(), SampleRate: rate})
		})
	}
}

// EndCapture releases the microphone; it is idempotent.
func (e *Engine) EndCapture() {
	e.mu.Lock()
	run := e.capture
	e.mu.Unlock()
	if run != nil {
		e.stopCapture(run)
	}
}

func (e *Engine) stopCapture(run *captureRun) {
	run.once.Do(func() {
		close(run.done)
		if err := run.stream.Close(); err != nil {
			log.Warn().Err(err).Str("module", "audio").Msg("capture close")
		}
		releaseMic()
		e.mu.Lock()
		if e.capture == run {
			e.capture = nil
		}
		e.mu.Unlock()
		log.Info().Str("module", "audio").Msg("capture stopped")
	})
}

func (e *Engine) Capturing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capture != nil
}

// IngestChunk queues a received chunk for gapless playback and returns its
// start time on the output clock.
func (e *Engine) IngestChunk(samples []float32, timestamp float64, sampleRate int) (float64, bool) {
	return e.chunks.Ingest(domain.Chunk{Samples: samples, Timestamp: timestamp, SampleRate: sampleRate})
}

func (e *Engine) Mixer() *Mixer { return e.mixer }

// Close stops playback and capture.
func (e *Engine) Close() {
	e.EndCapture()
	e.Pause()
}

func (e *Engine) stopVoiceLocked() {
	if e.voice != 0 {
		e.mixer.Stop(e.voice)
		e.voice = 0
	}
}
