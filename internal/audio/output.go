package audio

import (
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Output drains a mixer into a sound device.
type Output interface {
	Start(src io.Reader, sampleRate int) error
	Close() error
}

// NullOutput consumes the mixer in real time without a sound device, so the
// output clock keeps moving on headless hosts.
type NullOutput struct {
	clk    clock.Clock
	period time.Duration

	mu     sync.Mutex
	ticker *clock.Ticker
	done   chan struct{}
}

func NewNullOutput(clk clock.Clock) *NullOutput {
	return &NullOutput{clk: clk, period: 10 * time.Millisecond}
}

func (o *NullOutput) Start(src io.Reader, sampleRate int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done != nil {
		return nil
	}
	o.ticker = o.clk.Ticker(o.period)
	o.done = make(chan struct{})
	buf := make([]byte, int(float64(sampleRate)*o.period.Seconds())*4)
	go func(t *clock.Ticker, done chan struct{}) {
		for {
			select {
			case <-done:
				return
			case <-t.C:
				_, _ = src.Read(buf)
			}
		}
	}(o.ticker, o.done)
	return nil
}

func (o *NullOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done == nil {
		return nil
	}
	o.ticker.Stop()
	close(o.done)
	o.done = nil
	return nil
}
