package led

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/coreman2200/ws2812stream/transfer"
	"github.com/coreman2200/ws2812stream/txbuf"
)

// EngineOpts configures an Engine driver.
type EngineOpts struct {
	// Channels is the number of parallel strips. More than one requires
	// the Planes layout.
	Channels int
	// Transfer is handed to transfer.New. Transfer.Logger also serves
	// the driver.
	Transfer transfer.Config
	// Timeout bounds a single Write. Defaults to one second.
	Timeout time.Duration
	// PollInterval is how often completion is checked. Defaults to 50µs.
	PollInterval time.Duration
}

// Engine writes frames through a transfer.Engine.
//
// Frames are copied into sources owned by the driver before a transfer
// starts, so callers may reuse their buffer as soon as Write returns.
// Write blocks until the reset gap has been emitted.
type Engine struct {
	mu      sync.Mutex
	eng     *transfer.Engine
	srcs    [][]byte
	chain   int
	timeout time.Duration
	poll    time.Duration
	log     zerolog.Logger
	closed  bool
}

// NewEngine builds the transfer engine over p. The pacer must deliver its
// notifications to Transfer().
func NewEngine(p transfer.Pacer, o *EngineOpts) (*Engine, error) {
	channels := o.Channels
	if channels == 0 {
		channels = 1
	}
	if channels > 1 && o.Transfer.Layout != txbuf.Planes {
		return nil, errors.Errorf("led: %d channels need the %s layout", channels, txbuf.Planes)
	}
	chain := o.Transfer.ChainLength
	n := 3 * chain
	if n == 0 {
		n = 3
	}
	d := &Engine{
		chain:   chain,
		timeout: o.Timeout,
		poll:    o.PollInterval,
		log:     zerolog.Nop(),
	}
	if o.Transfer.Logger != nil {
		d.log = *o.Transfer.Logger
	}
	if d.timeout <= 0 {
		d.timeout = time.Second
	}
	if d.poll <= 0 {
		d.poll = 50 * time.Microsecond
	}
	items := make([]transfer.Item, channels)
	d.srcs = make([][]byte, channels)
	for ch := range items {
		d.srcs[ch] = make([]byte, n)
		items[ch] = transfer.Item{Source: d.srcs[ch], Channel: ch}
	}
	eng, err := transfer.New(p, o.Transfer, items...)
	if err != nil {
		return nil, err
	}
	d.eng = eng
	return d, nil
}

// Transfer returns the state machine, for wiring pacer notifications.
func (d *Engine) Transfer() *transfer.Engine {
	return d.eng
}

// Channels returns the number of strips driven.
func (d *Engine) Channels() int {
	return len(d.srcs)
}

// Write sends one frame. rgb holds the frame of channel 0 followed by the
// frame of every other channel.
func (d *Engine) Write(rgb []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	per := 3 * d.chain
	if err := checkLength(rgb, per*len(d.srcs)); err != nil {
		return err
	}
	// A transfer abandoned by an earlier timeout still owns the sources.
	if err := d.wait(); err != nil {
		return err
	}
	for ch, src := range d.srcs {
		copy(src, rgb[ch*per:(ch+1)*per])
	}
	d.eng.RequestTransfer()
	d.eng.Poll()
	if err := d.wait(); err != nil {
		return err
	}
	if e := d.log.Trace(); e.Enabled() {
		st := d.eng.Stats()
		e.Uint64("transfers", st.Transfers).Uint64("overruns", st.Overruns).Msg("frame latched")
	}
	return nil
}

func (d *Engine) wait() error {
	if d.eng.IsTransferComplete() {
		return nil
	}
	deadline := time.Now().Add(d.timeout)
	t := time.NewTicker(d.poll)
	defer t.Stop()
	for !d.eng.IsTransferComplete() {
		if time.Now().After(deadline) {
			return errors.Wrapf(ErrTimeout, "phase %s after %s", d.eng.Phase(), d.timeout)
		}
		<-t.C
	}
	return nil
}

func (d *Engine) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
