// Package led holds the output sinks a frame can be written to.
package led

import "github.com/pkg/errors"

// Driver abstracts an LED output sink.
type Driver interface {
	// Write pushes an RGB frame to hardware. len(rgb) must be 3*N.
	Write(rgb []byte) error
	// Close releases resources.
	Close() error
}

var (
	ErrClosed  = errors.New("led: driver closed")
	ErrTimeout = errors.New("led: transfer did not complete")
	ErrLength  = errors.New("led: frame length mismatch")
	ErrConfig  = errors.New("led: invalid configuration")
)

func checkLength(rgb []byte, want int) error {
	if len(rgb) != want {
		return errors.Wrapf(ErrLength, "got %d bytes, want %d", len(rgb), want)
	}
	return nil
}
