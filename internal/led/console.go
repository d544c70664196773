package led

import (
	"image"
	"sync"

	"periph.io/x/conn/v3/display"
	"periph.io/x/devices/v3/screen1d"

	"github.com/coreman2200/ws2812stream/pixel"
)

// Drawer shows frames on any display.Drawer one pixel high.
type Drawer struct {
	mu    sync.Mutex
	d     display.Drawer
	frame pixel.Frame
}

// NewConsole prints frames on the terminal.
func NewConsole(numPixels int) *Drawer {
	return NewDrawer(screen1d.New(&screen1d.Opts{X: numPixels}), numPixels)
}

func NewDrawer(d display.Drawer, numPixels int) *Drawer {
	return &Drawer{d: d, frame: pixel.NewFrame(numPixels)}
}

func (d *Drawer) Write(rgb []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.d == nil {
		return ErrClosed
	}
	if err := checkLength(rgb, len(d.frame)); err != nil {
		return err
	}
	copy(d.frame, rgb)
	return d.d.Draw(d.d.Bounds(), d.frame.Image(), image.Point{})
}

func (d *Drawer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.d == nil {
		return nil
	}
	err := d.d.Halt()
	d.d = nil
	return err
}
