package audio

import (
	"sync"
)

// Microphone opens a capture stream. Implementations apply echo
// cancellation, noise suppression and gain control when the backend offers
// them.
type Microphone interface {
	Open(sampleRate int) (CaptureStream, error)
}

// CaptureStream yields mono samples in whatever batch size the backend uses.
// Read blocks until samples are available; it returns an error once closed.
type CaptureStream interface {
	Read() ([]float32, int, error)
	Close() error
}

// Framer regroups arbitrary sample batches into fixed-size frames.
type Framer struct {
	size int
	buf  []float32
}

func NewFramer(size int) *Framer {
	return &Framer{size: size, buf: make([]float32, 0, size)}
}

// Push appends samples and calls emit for every completed frame. Frames
// handed to emit are freshly allocated.
func (f *Framer) Push(samples []float32, emit func([]float32)) {
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			frame := make([]float32, f.size)
			copy(frame, f.buf)
			f.buf = f.buf[:0]
			emit(frame)
		}
	}
}

func (f *Framer) Pending() int { return len(f.buf) }

// micLock enforces one active capture per process.
var micLock struct {
	sync.Mutex
	busy bool
}

func acquireMic() bool {
	micLock.Lock()
	defer micLock.Unlock()
	if micLock.busy {
		return false
	}
	micLock.busy = true
	return true
}

func releaseMic() {
	micLock.Lock()
	micLock.busy = false
	micLock.Unlock()
}
