package sim

import (
	"sync"

	"periph.io/x/conn/v3/gpio/gpiostream"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/ws2812stream/pixel"
	"github.com/coreman2200/ws2812stream/txbuf"
)

// Sample is what the output stage did during one timer period.
type Sample struct {
	// Idle is set when no pulse was started.
	Idle bool
	// Value is the latched compare value or bit plane mask.
	Value byte
}

// Recorder captures the samples emitted by a Pacer.
type Recorder struct {
	mu      sync.Mutex
	samples []Sample
}

func (r *Recorder) add(s Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

// Samples returns a copy of everything recorded so far.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

// Len returns the number of recorded periods.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Reset drops the recorded samples.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.samples = r.samples[:0]
	r.mu.Unlock()
}

// Width returns the high time in timer ticks of channel's line during s.
func Width(s Sample, enc *txbuf.Encoder, channel int) byte {
	if s.Idle {
		return 0
	}
	if enc.Layout == txbuf.Planes {
		if enc.Bit(s.Value, channel) {
			return enc.Logic1
		}
		return enc.Logic0
	}
	return s.Value
}

// BitStream renders channel's waveform sampled once per timer tick, MSB
// first, ready for a gpiostream.PinOut.
func BitStream(samples []Sample, enc *txbuf.Encoder, period uint32, clock physic.Frequency, channel int) *gpiostream.BitStream {
	n := len(samples) * int(period)
	bits := make([]byte, (n+7)/8)
	i := 0
	for _, s := range samples {
		w := int(Width(s, enc, channel))
		for t := 0; t < int(period); t++ {
			if t < w {
				bits[i/8] |= 0x80 >> uint(i%8)
			}
			i++
		}
	}
	return &gpiostream.BitStream{Freq: clock, Bits: bits}
}

// Decode turns samples back into the frames channel's LEDs received.
//
// Pulses are read as ones when at least as wide as Logic1. A run of at
// least resetTicks idle periods ends a frame; incomplete trailing pixels
// are dropped. Decoded colours are gamma corrected values.
func Decode(samples []Sample, enc *txbuf.Encoder, channel, resetTicks int) [][]pixel.RGB {
	var (
		frames [][]pixel.RGB
		cur    []pixel.RGB
		grb    uint32
		nbits  int
		idle   int
	)
	flush := func() {
		if len(cur) > 0 {
			frames = append(frames, cur)
		}
		cur = nil
		grb, nbits = 0, 0
	}
	for _, s := range samples {
		if s.Idle {
			idle++
			if idle == resetTicks {
				flush()
			}
			continue
		}
		idle = 0
		grb <<= 1
		if Width(s, enc, channel) >= enc.Logic1 {
			grb |= 1
		}
		nbits++
		if nbits == txbuf.BitsPerPixel {
			cur = append(cur, pixel.FromGRB(grb))
			grb, nbits = 0, 0
		}
	}
	flush()
	return frames
}
