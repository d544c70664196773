// Package pixel holds the colour and frame types shared by drivers.
package pixel

import (
	"image"
	"image/color"
)

// Bit offsets of each channel in a packed GRB word, the order the LEDs
// shift their data in.
const (
	GreenOffset = 16
	RedOffset   = 8
	BlueOffset  = 0
)

// RGB is an opaque 8 bit per channel colour.
type RGB struct {
	R, G, B uint8
}

// FromColor converts any colour, dropping alpha after premultiplication.
func FromColor(c color.Color) RGB {
	r, g, b, _ := c.RGBA()
	return RGB{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}
}

// FromGRB unpacks a GRB word.
func FromGRB(v uint32) RGB {
	return RGB{
		R: uint8(v >> RedOffset),
		G: uint8(v >> GreenOffset),
		B: uint8(v >> BlueOffset),
	}
}

// GRB packs p in wire order.
func (p RGB) GRB() uint32 {
	return uint32(p.G)<<GreenOffset | uint32(p.R)<<RedOffset | uint32(p.B)<<BlueOffset
}

// RGBA implements color.Color.
func (p RGB) RGBA() (r, g, b, a uint32) {
	return color.NRGBA{p.R, p.G, p.B, 255}.RGBA()
}

// Frame is a caller owned sequence of R, G, B triples, the layout a
// transfer.Item reads.
type Frame []byte

// NewFrame allocates a black frame of n pixels.
func NewFrame(n int) Frame {
	return make(Frame, 3*n)
}

// Len returns the number of pixels.
func (f Frame) Len() int {
	return len(f) / 3
}

// At returns pixel i.
func (f Frame) At(i int) RGB {
	return RGB{f[3*i], f[3*i+1], f[3*i+2]}
}

// Set sets pixel i.
func (f Frame) Set(i int, p RGB) {
	f[3*i], f[3*i+1], f[3*i+2] = p.R, p.G, p.B
}

// Fill sets every pixel to p.
func (f Frame) Fill(p RGB) {
	for i := 0; i < f.Len(); i++ {
		f.Set(i, p)
	}
}

// Image returns the frame as a one pixel high image.
func (f Frame) Image() *image.NRGBA {
	im := image.NewNRGBA(image.Rect(0, 0, f.Len(), 1))
	for x := 0; x < f.Len(); x++ {
		p := f.At(x)
		im.SetNRGBA(x, 0, color.NRGBA{p.R, p.G, p.B, 255})
	}
	return im
}
