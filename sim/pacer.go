// Package sim models the timer and DMA pair of a microcontroller in
// software so the transfer engine can run, and be observed, on a host.
//
// The model follows a timer with a preloaded compare register fed by an
// update DMA request: on every period boundary the timer emits a pulse
// using the compare value latched at the previous boundary, then the DMA
// engine loads the next buffer entry for the period that follows.
package sim

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

// Handler receives the pacer notifications. *transfer.Engine implements it.
type Handler interface {
	HalfTransfer()
	FullTransfer()
	PeriodElapsed()
	TransferError()
}

type mode int

const (
	stopped mode = iota
	streaming
	delaying
)

// Pacer is a software timer + circular DMA channel.
type Pacer struct {
	clock  physic.Frequency
	period uint32
	rec    *Recorder
	wake   chan struct{}

	mu      sync.Mutex
	h       Handler
	mode    mode
	buf     []byte
	cursor  int
	compare byte
	idle    bool
	fail    bool
	ticks   uint64
}

// New returns a halted Pacer whose timer runs at clock and whose period
// spans one bit at bitRate. rec may be nil.
func New(clock, bitRate physic.Frequency, rec *Recorder) (*Pacer, error) {
	if clock <= 0 || bitRate <= 0 {
		return nil, errors.Errorf("sim: invalid clock %s or bit rate %s", clock, bitRate)
	}
	period := clock / bitRate
	if period < 1 {
		return nil, errors.Errorf("sim: clock %s is slower than bit rate %s", clock, bitRate)
	}
	return &Pacer{
		clock:  clock,
		period: uint32(period),
		rec:    rec,
		wake:   make(chan struct{}, 1),
		idle:   true,
	}, nil
}

// Attach sets the notification handler.
func (p *Pacer) Attach(h Handler) {
	p.mu.Lock()
	p.h = h
	p.mu.Unlock()
}

// Clock returns the timer tick frequency.
func (p *Pacer) Clock() physic.Frequency {
	return p.clock
}

// Period implements transfer.Pacer.
func (p *Pacer) Period() uint32 {
	return p.period
}

// Arm implements transfer.Pacer.
func (p *Pacer) Arm(buf []byte) {
	p.mu.Lock()
	p.buf = buf
	p.cursor = 0
	p.compare = 0
	p.idle = true
	p.mode = streaming
	p.mu.Unlock()
	p.kick()
}

// Delay implements transfer.Pacer. The compare value already latched is
// still emitted for one period; after that the line stays low. The first
// PeriodElapsed therefore follows a data period, so n notifications cover
// n-1 fully idle periods.
func (p *Pacer) Delay() {
	p.mu.Lock()
	p.mode = delaying
	p.mu.Unlock()
	p.kick()
}

// Halt implements transfer.Pacer.
func (p *Pacer) Halt() {
	p.mu.Lock()
	p.mode = stopped
	p.compare = 0
	p.idle = true
	p.mu.Unlock()
}

// Fail makes the next DMA transfer report an error.
func (p *Pacer) Fail() {
	p.mu.Lock()
	p.fail = true
	p.mu.Unlock()
}

// Running reports whether the timer is enabled.
func (p *Pacer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode != stopped
}

// Ticks returns the number of periods elapsed since creation.
func (p *Pacer) Ticks() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks
}

// Step advances the timer by one period and delivers the resulting
// notifications. It returns false when the timer is stopped.
//
// Notifications are delivered after the pacer lock is released, on the
// caller's goroutine, so the handler may call Delay or Halt.
func (p *Pacer) Step() bool {
	var half, full, elapsed, fault bool

	p.mu.Lock()
	if p.mode == stopped {
		p.mu.Unlock()
		return false
	}
	if p.rec != nil {
		p.rec.add(Sample{Idle: p.idle, Value: p.compare})
	}
	switch p.mode {
	case streaming:
		p.compare = p.buf[p.cursor]
		p.idle = false
		p.cursor++
		if p.cursor == len(p.buf)/2 {
			half = true
		}
		if p.cursor == len(p.buf) {
			p.cursor = 0
			full = true
		}
		fault, p.fail = p.fail, false
	case delaying:
		p.compare = 0
		p.idle = true
		elapsed = true
	}
	p.ticks++
	h := p.h
	p.mu.Unlock()

	if h == nil {
		return true
	}
	if fault {
		h.TransferError()
	}
	if half {
		h.HalfTransfer()
	}
	if full {
		h.FullTransfer()
	}
	if elapsed {
		h.PeriodElapsed()
	}
	return true
}

// Run steps the pacer as fast as possible until ctx is done, sleeping
// while the timer is stopped.
func (p *Pacer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Step() {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		}
	}
}

func (p *Pacer) kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}
