// Package loop refreshes a driver from a pattern at a fixed frame rate.
package loop

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/coreman2200/ws2812stream/internal/led"
	"github.com/coreman2200/ws2812stream/internal/pattern"
)

const DefaultFPS = 30

type Opts struct {
	FPS       int
	NumPixels int
	// Repeat restarts the pattern when it completes instead of returning.
	Repeat bool
	// OnFrame is called after every write with the frame just sent.
	OnFrame func(id uint64, rgb []byte, err error)
	Logger  *zerolog.Logger
}

type Looper struct {
	drv     led.Driver
	runner  *pattern.Runner
	delta   time.Duration
	repeat  bool
	rgb     []byte
	onFrame func(uint64, []byte, error)
	log     zerolog.Logger

	frames uint64
	errs   uint64
}

func New(drv led.Driver, r *pattern.Runner, o Opts) *Looper {
	fps := o.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	l := &Looper{
		drv:     drv,
		runner:  r,
		delta:   time.Second / time.Duration(fps),
		repeat:  o.Repeat,
		rgb:     make([]byte, 3*o.NumPixels),
		onFrame: o.OnFrame,
		log:     zerolog.Nop(),
	}
	if o.Logger != nil {
		l.log = *o.Logger
	}
	return l
}

// Frames returns the number of frames written and how many failed.
func (l *Looper) Frames() (written, failed uint64) {
	return l.frames, l.errs
}

// Run writes one frame per tick until ctx is done, the pattern completes
// without Repeat, or the driver is closed.
func (l *Looper) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.delta)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !l.runner.Step(l.rgb) {
			if !l.repeat {
				l.log.Info().Str("pattern", string(l.runner.Kind())).Uint64("frames", l.frames).
					Dur("elapsed", time.Since(start)).Msg("pattern complete")
				return nil
			}
			l.runner.Reset()
			if !l.runner.Step(l.rgb) {
				return errors.Errorf("pattern %q produced no frames", l.runner.Kind())
			}
		}
		err := l.drv.Write(l.rgb)
		l.frames++
		if err != nil {
			l.errs++
			l.log.Warn().Err(err).Uint64("frame", l.frames).Msg("write frame")
		}
		if l.onFrame != nil {
			l.onFrame(l.frames, l.rgb, err)
		}
		if errors.Is(err, led.ErrClosed) {
			return err
		}
	}
}
