// Package transfer drives a WS2812B chain through a two pixel ping-pong
// buffer.
//
// An Engine is shared between two execution contexts. The foreground calls
// RequestTransfer, Poll and IsTransferComplete. The pacer context (the timer
// and DMA interrupt handlers on hardware, the stepping goroutine in package
// sim) calls HalfTransfer, FullTransfer, PeriodElapsed and TransferError.
// The pacer handlers never run concurrently with each other.
package transfer

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/coreman2200/ws2812stream/gamma"
	"github.com/coreman2200/ws2812stream/txbuf"
)

// ErrConfig is returned by New for an unusable configuration.
var ErrConfig = errors.New("transfer: invalid configuration")

// Pacer is the timer and DMA pair that replays the transmit buffer.
//
// Implementations own all register level work. Arm is called from the
// foreground while the pacer is halted. Delay and Halt are called from the
// pacer's own notification handlers, except that an empty chain is closed
// out with Delay straight from the foreground.
type Pacer interface {
	// Period is the timer period in ticks for one protocol bit.
	Period() uint32
	// Arm clears pending notifications, starts a circular DMA transfer of
	// buf into the compare register and starts the timer. The first
	// period has zero pulse width.
	Arm(buf []byte)
	// Delay stops DMA and DMA requests, lets the line idle low and raises
	// PeriodElapsed once per timer period.
	Delay()
	// Halt stops the timer and disables its notifications.
	Halt()
}

// Phase is the state of the transfer state machine.
type Phase int32

const (
	Idle Phase = iota
	Draining
	ClosingOut
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	case ClosingOut:
		return "closing-out"
	default:
		return "unknown"
	}
}

// Item binds a caller owned pixel source to an output channel.
//
// Source holds R, G, B triples and is read sequentially, wrapping at its
// end. It must not be written while a transfer is in progress.
type Item struct {
	Source  []byte
	Channel int
}

// Config parameterizes an Engine.
type Config struct {
	// ChainLength is the number of LEDs per channel.
	ChainLength int
	// ResetTicks is the number of idle timer periods emitted after the
	// last pixel.
	ResetTicks int
	// Layout selects single channel compare values or packed bit planes.
	Layout txbuf.Layout
	// Gamma defaults to gamma.Default.
	Gamma *gamma.Table
	// Logger receives foreground events only. Defaults to a no-op logger.
	Logger *zerolog.Logger
}

// Stats are cumulative counters.
type Stats struct {
	Transfers uint64
	Pixels    uint64
	Overruns  uint64
}

type item struct {
	src     []byte
	channel int
	cursor  int
}

func (it *item) next() (r, g, b uint8) {
	r, g, b = it.src[it.cursor], it.src[it.cursor+1], it.src[it.cursor+2]
	it.cursor += 3
	if it.cursor == len(it.src) {
		it.cursor = 0
	}
	return
}

// Engine is the transfer state machine.
type Engine struct {
	pacer Pacer
	enc   *txbuf.Encoder
	buf   txbuf.Buffer
	items []item
	log   zerolog.Logger

	chain      int
	pairs      int
	resetTicks int

	// Pacer context only.
	loaded         int
	repeat         int
	resetRemaining int

	phase          atomic.Int32
	complete       atomic.Bool
	startRequested atomic.Bool

	transfers atomic.Uint64
	pixels    atomic.Uint64
	overruns  atomic.Uint64
}

// New validates cfg and items and returns an idle Engine.
func New(p Pacer, cfg Config, items ...Item) (*Engine, error) {
	if p == nil {
		return nil, errors.Wrap(ErrConfig, "nil pacer")
	}
	period := p.Period()
	// Compare values are bytes and Logic0 must stay non-zero.
	if period < 4 || period > 255 {
		return nil, errors.Wrapf(ErrConfig, "pacer period %d ticks out of range [4, 255]", period)
	}
	if cfg.ChainLength < 0 {
		return nil, errors.Wrapf(ErrConfig, "chain length %d", cfg.ChainLength)
	}
	if cfg.ResetTicks < 1 {
		return nil, errors.Wrapf(ErrConfig, "reset ticks %d", cfg.ResetTicks)
	}
	if len(items) == 0 {
		return nil, errors.Wrap(ErrConfig, "no items")
	}
	if cfg.Layout == txbuf.Compare && len(items) > 1 {
		return nil, errors.Wrapf(ErrConfig, "%d items need the %s layout", len(items), txbuf.Planes)
	}
	var seen [txbuf.MaxChannels]bool
	e := &Engine{
		pacer:      p,
		enc:        txbuf.NewEncoder(period, cfg.Layout, cfg.Gamma),
		items:      make([]item, len(items)),
		chain:      cfg.ChainLength,
		pairs:      (cfg.ChainLength + 1) / 2,
		resetTicks: cfg.ResetTicks,
		log:        zerolog.Nop(),
	}
	if cfg.Logger != nil {
		e.log = *cfg.Logger
	}
	for i, it := range items {
		if it.Channel < 0 || it.Channel >= txbuf.MaxChannels {
			return nil, errors.Wrapf(ErrConfig, "item %d: channel %d out of range", i, it.Channel)
		}
		if seen[it.Channel] {
			return nil, errors.Wrapf(ErrConfig, "item %d: duplicate channel %d", i, it.Channel)
		}
		seen[it.Channel] = true
		if len(it.Source) < 3 || len(it.Source)%3 != 0 {
			return nil, errors.Wrapf(ErrConfig, "item %d: source length %d is not a positive multiple of 3", i, len(it.Source))
		}
		e.items[i] = item{src: it.Source, channel: it.Channel}
	}
	e.complete.Store(true)
	e.log.Debug().
		Int("chain", e.chain).
		Int("items", len(e.items)).
		Uint32("period", period).
		Int("reset_ticks", e.resetTicks).
		Str("layout", cfg.Layout.String()).
		Msg("transfer engine ready")
	return e, nil
}

// RequestTransfer asks for a new transfer. It is a no-op while one is in
// progress.
func (e *Engine) RequestTransfer() {
	if !e.complete.Load() {
		return
	}
	e.startRequested.Store(true)
}

// IsTransferComplete reports whether the engine is idle.
func (e *Engine) IsTransferComplete() bool {
	return e.complete.Load()
}

// Phase returns the current state.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Transfers: e.transfers.Load(),
		Pixels:    e.pixels.Load(),
		Overruns:  e.overruns.Load(),
	}
}

// Encoder returns the encoder used to fill the transmit buffer.
func (e *Engine) Encoder() *txbuf.Encoder {
	return e.enc
}

// Poll is the foreground entry point. It arms a transfer when one was
// requested and the engine is idle.
func (e *Engine) Poll() {
	if !e.startRequested.Load() || e.Phase() != Idle {
		return
	}
	e.startRequested.Store(false)
	e.start()
}

func (e *Engine) start() {
	e.complete.Store(false)
	e.transfers.Add(1)
	if e.chain == 0 {
		e.log.Debug().Msg("empty chain, emitting reset only")
		e.closeOut()
		return
	}
	for i := range e.items {
		e.items[i].cursor = 0
	}
	e.loaded = 0
	e.repeat = 0
	e.fill(txbuf.First)
	e.fill(txbuf.Second)
	e.phase.Store(int32(Draining))
	e.log.Debug().Uint64("transfer", e.transfers.Load()).Msg("transfer armed")
	e.pacer.Arm(e.buf[:])
}

// fill loads the next pixel of every item into s, or the off pixel once
// the whole chain has been fetched.
func (e *Engine) fill(s txbuf.Slot) {
	if e.loaded >= e.chain {
		e.enc.EncodeOff(&e.buf, s)
		return
	}
	for i := range e.items {
		it := &e.items[i]
		r, g, b := it.next()
		e.enc.EncodePixel(&e.buf, s, it.channel, r, g, b)
	}
	e.loaded++
	e.pixels.Add(1)
}

func (e *Engine) closeOut() {
	e.resetRemaining = e.resetTicks
	e.phase.Store(int32(ClosingOut))
	e.pacer.Delay()
}

// HalfTransfer handles the DMA half transfer notification: the first slot
// has been drained and the DMA cursor is reading the second.
func (e *Engine) HalfTransfer() {
	if e.Phase() != Draining {
		return
	}
	e.fill(txbuf.First)
}

// FullTransfer handles the DMA transfer complete notification: the second
// slot has been drained and the DMA cursor wrapped to the first.
func (e *Engine) FullTransfer() {
	if e.Phase() != Draining {
		return
	}
	e.repeat++
	if e.repeat == e.pairs {
		e.closeOut()
		return
	}
	e.fill(txbuf.Second)
}

// PeriodElapsed handles the timer update notification while the reset
// period is emitted.
func (e *Engine) PeriodElapsed() {
	if e.Phase() != ClosingOut {
		return
	}
	e.resetRemaining--
	if e.resetRemaining > 0 {
		return
	}
	e.pacer.Halt()
	e.phase.Store(int32(Idle))
	e.complete.Store(true)
}

// TransferError records a DMA error reported by the platform. The transfer
// is not retried; the caller recovers by requesting a new one.
func (e *Engine) TransferError() {
	e.overruns.Add(1)
}
