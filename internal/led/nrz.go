package led

import (
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"

	"github.com/coreman2200/ws2812stream/gamma"
)

// NRZFreq is the only SPI clock nrzled accepts: four SPI bits per
// protocol bit at 625kHz.
const NRZFreq = 2500 * physic.KiloHertz

// NRZ drives the chain from a SPI MOSI line, four SPI bits per protocol
// bit. Gamma is applied before encoding.
type NRZ struct {
	mu     sync.Mutex
	dev    *nrzled.Dev
	closer spi.PortCloser
	lut    *gamma.Table
	n      int
	buf    []byte
}

// OpenNRZ opens the named SPI port ("" for the first one).
func OpenNRZ(name string, numPixels int, freq physic.Frequency, lut *gamma.Table) (*NRZ, error) {
	p, err := spireg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "open spi %q", name)
	}
	d, err := NewNRZ(p, numPixels, freq, lut)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	d.closer = p
	return d, nil
}

// NewNRZ wraps an already opened port. freq must be zero or NRZFreq.
func NewNRZ(p spi.Port, numPixels int, freq physic.Frequency, lut *gamma.Table) (*NRZ, error) {
	if numPixels <= 0 {
		return nil, errors.Errorf("led: invalid LED count: %d", numPixels)
	}
	if freq == 0 {
		freq = NRZFreq
	}
	if freq != NRZFreq {
		return nil, errors.Wrapf(ErrConfig, "spi clock %s, nrzled needs %s", freq, NRZFreq)
	}
	if lut == nil {
		lut = &gamma.Default
	}
	d, err := nrzled.NewSPI(p, &nrzled.Opts{NumPixels: numPixels, Channels: 3, Freq: freq})
	if err != nil {
		return nil, err
	}
	return &NRZ{dev: d, lut: lut, n: numPixels, buf: make([]byte, 3*numPixels)}, nil
}

func (d *NRZ) String() string {
	return d.dev.String()
}

func (d *NRZ) Write(rgb []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return ErrClosed
	}
	if err := checkLength(rgb, 3*d.n); err != nil {
		return err
	}
	for i, v := range rgb {
		d.buf[i] = d.lut.Correct(v)
	}
	_, err := d.dev.Write(d.buf)
	return err
}

func (d *NRZ) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return nil
	}
	err := d.dev.Halt()
	if d.closer != nil {
		if cerr := d.closer.Close(); err == nil {
			err = cerr
		}
	}
	d.dev = nil
	return err
}
