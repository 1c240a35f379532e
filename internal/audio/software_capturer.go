package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// SoftwareCapturer is a software reference Capturer that generates silent
// PCM frames on a fixed tick, exercising the capture->encode path without a
// platform audio backend. Uses an atomic.Bool enable flag for Start/Stop
// idempotency.
type SoftwareCapturer struct {
	running    atomic.Bool
	sampleRate int
	channels   int

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSoftwareCapturer builds a capturer that emits frames of the given
// size at sampleRate/channels every 20ms.
func NewSoftwareCapturer(sampleRate, channels int) *SoftwareCapturer {
	return &SoftwareCapturer{sampleRate: sampleRate, channels: channels}
}

func (c *SoftwareCapturer) Start(callback func(PCMFrame)) error {
	if !c.running.CompareAndSwap(false, true) {
		return errAudioUnsupported
	}

	c.mu.Lock()
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	frameSamples := c.sampleRate / 50 * c.channels

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				callback(PCMFrame{
					SampleRate: c.sampleRate,
					Channels:   c.channels,
					Samples:    make([]float32, frameSamples),
				})
			}
		}
	}()
	return nil
}

func (c *SoftwareCapturer) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.mu.Lock()
	stop := c.stop
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	c.wg.Wait()
}
