package audio

import (
	"sync"

	"github.com/dkeye/AudioSync/internal/domain"
)

// Sink is the part of the mixer the chunk scheduler needs.
type Sink interface {
	Now() float64
	Schedule(src []float32, srcRate int, skip, at float64) uint64
}

// ChunkScheduler lays received chunks end to end on the output clock.
// A chunk starts at max(now, nextFree); nextFree then moves past it.
type ChunkScheduler struct {
	sink Sink

	mu       sync.Mutex
	nextFree float64
}

func NewChunkScheduler(sink Sink) *ChunkScheduler {
	return &ChunkScheduler{sink: sink}
}

// Ingest schedules c and returns its start time on the output clock.
// Empty chunks and chunks without a sample rate are ignored.
func (s *ChunkScheduler) Ingest(c domain.Chunk) (start float64, ok bool) {
	if len(c.Samples) == 0 || c.SampleRate <= 0 {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start = max(s.sink.Now(), s.nextFree)
	s.nextFree = start + float64(len(c.Samples))/float64(c.SampleRate)
	s.sink.Schedule(c.Samples, c.SampleRate, 0, start)
	return start, true
}

func (s *ChunkScheduler) NextFree() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFree
}

func (s *ChunkScheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFree = 0
}
