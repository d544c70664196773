// Package txbuf holds the ping-pong transmit buffer and the encoder that
// turns one pixel into the 24 timer compare values the pacer replays.
//
// The buffer is two pixel-times long. While the DMA engine drains one slot
// the encoder refills the other; the half and full transfer notifications
// tell the writer which slot just became free.
package txbuf

import (
	"github.com/coreman2200/ws2812stream/gamma"
)

const (
	// BitsPerPixel is the number of protocol bits per LED (G, R, B).
	BitsPerPixel = 24
	// PixelsInFlight is the number of pixel slots in the buffer.
	PixelsInFlight = 2
	// Size is the buffer length in entries.
	Size = BitsPerPixel * PixelsInFlight
	// MaxChannels is the number of bit planes a Planes entry can carry.
	MaxChannels = 8
)

// Buffer is the circular transmit buffer read by DMA.
type Buffer [Size]byte

// Slot selects one half of the Buffer.
type Slot int

const (
	First  Slot = 0
	Second Slot = 1
)

// Bits returns the 24 entries of slot s.
func (b *Buffer) Bits(s Slot) []byte {
	off := int(s) * BitsPerPixel
	return b[off : off+BitsPerPixel]
}

// Layout selects what a buffer entry means to the pacer.
type Layout int

const (
	// Compare entries are timer compare values for a single output.
	Compare Layout = iota
	// Planes entries are bit masks, one bit per output channel. The
	// platform fans them out to parallel lines sharing one timing source.
	Planes
)

func (l Layout) String() string {
	switch l {
	case Compare:
		return "compare"
	case Planes:
		return "planes"
	default:
		return "unknown"
	}
}

// Encoder writes pixels into a Buffer.
type Encoder struct {
	Layout Layout
	// Logic0 and Logic1 are the compare values for a short and a long
	// high pulse.
	Logic0 byte
	Logic1 byte

	lut *gamma.Table
}

// NewEncoder derives the compare thresholds from the pacer period in timer
// ticks. A nil lut selects gamma.Default.
func NewEncoder(period uint32, layout Layout, lut *gamma.Table) *Encoder {
	if lut == nil {
		lut = &gamma.Default
	}
	return &Encoder{
		Layout: layout,
		Logic0: byte(10 * period / 36),
		Logic1: byte(10 * period / 15),
		lut:    lut,
	}
}

// EncodePixel writes r, g, b into slot s of buf for channel.
//
// Colours are gamma corrected and emitted MSB first in G, R, B order. In
// the Planes layout only the bit belonging to channel is touched.
func (e *Encoder) EncodePixel(buf *Buffer, s Slot, channel int, r, g, b uint8) {
	grb := uint32(e.lut[g])<<16 | uint32(e.lut[r])<<8 | uint32(e.lut[b])
	dst := buf.Bits(s)
	if e.Layout == Planes {
		mask := byte(1) << uint(channel)
		for i := range dst {
			bit := byte(grb>>(BitsPerPixel-1-i)) & 1
			dst[i] = dst[i]&^mask | bit<<uint(channel)
		}
		return
	}
	for i := range dst {
		if grb&(1<<(BitsPerPixel-1-i)) != 0 {
			dst[i] = e.Logic1
		} else {
			dst[i] = e.Logic0
		}
	}
}

// EncodeOff writes the all channels off pixel into slot s.
func (e *Encoder) EncodeOff(buf *Buffer, s Slot) {
	v := e.Logic0
	if e.Layout == Planes {
		v = 0
	}
	dst := buf.Bits(s)
	for i := range dst {
		dst[i] = v
	}
}

// Decode is the inverse of EncodePixel for one slot. It returns the
// corrected G, R, B bytes carried by channel.
func (e *Encoder) Decode(buf *Buffer, s Slot, channel int) (g, r, b uint8) {
	var grb uint32
	for _, v := range buf.Bits(s) {
		grb <<= 1
		if e.Bit(v, channel) {
			grb |= 1
		}
	}
	return uint8(grb >> 16), uint8(grb >> 8), uint8(grb)
}

// Bit reports the data bit entry v carries for channel.
func (e *Encoder) Bit(v byte, channel int) bool {
	if e.Layout == Planes {
		return v&(1<<uint(channel)) != 0
	}
	return v == e.Logic1
}
