package led

import (
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiostream"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/ws2812stream/gamma"
	"github.com/coreman2200/ws2812stream/sim"
	"github.com/coreman2200/ws2812stream/transfer"
)

// StreamOpts configures a Stream driver.
type StreamOpts struct {
	NumPixels  int
	Clock      physic.Frequency
	BitRate    physic.Frequency
	ResetTicks int
	Gamma      *gamma.Table
}

// Stream renders each frame through the transfer engine on a simulated
// timer and plays the resulting waveform on a GPIO pin, sampled at the
// timer clock.
type Stream struct {
	mu    sync.Mutex
	pin   gpiostream.PinOut
	pacer *sim.Pacer
	rec   *sim.Recorder
	eng   *transfer.Engine
	src   []byte
	n     int
}

// NewStream opens a Stream on p, which must implement gpiostream.PinOut.
func NewStream(p gpio.PinIO, o *StreamOpts) (*Stream, error) {
	if p == nil {
		return nil, errors.New("led: nil pin")
	}
	out, ok := p.(gpiostream.PinOut)
	if !ok {
		return nil, errors.Errorf("led: pin %s must implement gpiostream.PinOut", p)
	}
	rec := &sim.Recorder{}
	pacer, err := sim.New(o.Clock, o.BitRate, rec)
	if err != nil {
		return nil, err
	}
	n := 3 * o.NumPixels
	if n == 0 {
		n = 3
	}
	s := &Stream{pin: out, pacer: pacer, rec: rec, src: make([]byte, n), n: o.NumPixels}
	s.eng, err = transfer.New(pacer, transfer.Config{
		ChainLength: o.NumPixels,
		ResetTicks:  o.ResetTicks,
		Gamma:       o.Gamma,
	}, transfer.Item{Source: s.src})
	if err != nil {
		return nil, err
	}
	pacer.Attach(s.eng)
	return s, nil
}

func (s *Stream) String() string {
	return "stream{" + s.pin.String() + "}"
}

// Render runs one transfer and returns the waveform without playing it.
func (s *Stream) Render(rgb []byte) (*gpiostream.BitStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.render(rgb)
}

func (s *Stream) render(rgb []byte) (*gpiostream.BitStream, error) {
	if s.pin == nil {
		return nil, ErrClosed
	}
	if err := checkLength(rgb, 3*s.n); err != nil {
		return nil, err
	}
	copy(s.src, rgb)
	s.rec.Reset()
	s.eng.RequestTransfer()
	s.eng.Poll()
	for s.pacer.Step() {
	}
	return sim.BitStream(s.rec.Samples(), s.eng.Encoder(), s.pacer.Period(), s.pacer.Clock(), 0), nil
}

func (s *Stream) Write(rgb []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.render(rgb)
	if err != nil {
		return err
	}
	return s.pin.StreamOut(b)
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pin == nil {
		return nil
	}
	err := s.pin.Halt()
	s.pin = nil
	return err
}
