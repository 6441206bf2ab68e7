package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// Mixer is the single output stage of a process. Every sound is scheduled as
// a voice on it, and one gain stage applies to all of them. The number of
// frames rendered so far is the output clock.
type Mixer struct {
	rate int

	mu       sync.Mutex
	frames   int64
	voices   []*voice
	nextID   uint64
	gain     float32
	target   float32
	rampStep float32
	scratch  []float32
}

type voice struct {
	id    uint64
	src   []float32
	start int64   // output frame at which the voice begins
	pos   float64 // read head in source samples
	step  float64 // source samples per output frame
}

func NewMixer(rate int, ramp time.Duration) *Mixer {
	rampFrames := float64(rate) * ramp.Seconds()
	if rampFrames < 1 {
		rampFrames = 1
	}
	return &Mixer{
		rate:     rate,
		gain:     1,
		target:   1,
		rampStep: float32(1 / rampFrames),
	}
}

func (m *Mixer) SampleRate() int { return m.rate }

// Now is the output clock in seconds.
func (m *Mixer) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.frames) / float64(m.rate)
}

// Schedule queues src (at srcRate) to start at output time at, reading from
// source offset skip seconds. It returns a handle for Stop.
func (m *Mixer) Schedule(src []float32, srcRate int, skip, at float64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	start := int64(math.Round(at * float64(m.rate)))
	if start < m.frames {
		start = m.frames
	}
	pos := skip * float64(srcRate)
	if pos < 0 {
		// Negative offsets start late instead of reading before the buffer.
		start += int64(math.Round(-skip * float64(m.rate)))
		pos = 0
	}
	m.voices = append(m.voices, &voice{
		id:    m.nextID,
		src:   src,
		start: start,
		pos:   pos,
		step:  float64(srcRate) / float64(m.rate),
	})
	return m.nextID
}

func (m *Mixer) Stop(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range m.voices {
		if v.id == id {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			return
		}
	}
}

// Active reports how many voices are queued or sounding.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// SetVolume moves the shared gain toward level over the ramp time.
func (m *Mixer) SetVolume(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.target = float32(level)
}

func (m *Mixer) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.target)
}

// Render fills out with mono frames and advances the output clock.
func (m *Mixer) Render(out []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range out {
		frame := m.frames + int64(i)
		var s float32
		for _, v := range m.voices {
			if frame < v.start {
				continue
			}
			idx := int(v.pos)
			if idx >= len(v.src) {
				continue
			}
			frac := float32(v.pos - float64(idx))
			next := v.src[idx]
			if idx+1 < len(v.src) {
				next = v.src[idx+1]
			}
			s += v.src[idx] + (next-v.src[idx])*frac
			v.pos += v.step
		}

		switch {
		case m.gain < m.target:
			m.gain = min(m.gain+m.rampStep, m.target)
		case m.gain > m.target:
			m.gain = max(m.gain-m.rampStep, m.target)
		}
		out[i] = clamp(s * m.gain)
	}
	m.frames += int64(len(out))

	live := m.voices[:0]
	for _, v := range m.voices {
		if int(v.pos) < len(v.src) {
			live = append(live, v)
		}
	}
	m.voices = live
}

// Read renders float32 little-endian mono frames for an output device.
func (m *Mixer) Read(p []byte) (int, error) {
	n := len(p) / 4
	if n == 0 {
		return 0, nil
	}
	if cap(m.scratch) < n {
		m.scratch = make([]float32, n)
	}
	buf := m.scratch[:n]
	m.Render(buf)
	for i, s := range buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return n * 4, nil
}

func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
