package audio

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// PlaybackClock tracks media time against a reference clock.
//
// Invariant: Position() == (playing ? now - startWall : pausedOffset).
type PlaybackClock struct {
	clk clock.Clock

	mu           sync.Mutex
	startWall    time.Time
	pausedOffset float64
	playing      bool
}

func NewPlaybackClock(clk clock.Clock) *PlaybackClock {
	return &PlaybackClock{clk: clk}
}

func (c *PlaybackClock) Play(offset float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startWall = c.clk.Now().Add(-seconds(offset))
	c.playing = true
}

// Pause is a no-op when already paused.
func (c *PlaybackClock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return
	}
	c.pausedOffset = c.clk.Since(c.startWall).Seconds()
	c.playing = false
}

func (c *PlaybackClock) Seek(offset float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		c.startWall = c.clk.Now().Add(-seconds(offset))
		return
	}
	c.pausedOffset = offset
}

func (c *PlaybackClock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		return c.clk.Since(c.startWall).Seconds()
	}
	return c.pausedOffset
}

func (c *PlaybackClock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
