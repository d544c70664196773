// Package pattern generates diagnostic frames for a strip.
package pattern

import (
	"math"

	"github.com/pkg/errors"
)

type Kind string

const (
	None       Kind = ""
	Solid      Kind = "solid"
	IndexSweep Kind = "index_sweep"
	RGBTest    Kind = "rgb_channels"
	Rainbow    Kind = "rainbow"
)

// Kinds lists every runnable pattern.
var Kinds = []Kind{Solid, IndexSweep, RGBTest, Rainbow}

// Plan selects a pattern. Color is used by Solid; Brightness scales
// Rainbow and defaults to 1.
type Plan struct {
	Kind       Kind
	Color      [3]byte
	Brightness float64
	// Steps bounds open ended patterns (Solid, RGBTest, Rainbow). Zero
	// means they never finish.
	Steps int
}

// Parse maps a configured name to a Kind.
func Parse(name string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == name {
			return k, nil
		}
	}
	return None, errors.Errorf("unknown pattern %q", name)
}

type Runner struct {
	plan Plan
	step int
}

func NewRunner(plan Plan) *Runner {
	if plan.Brightness <= 0 || plan.Brightness > 1 {
		plan.Brightness = 1
	}
	return &Runner{plan: plan}
}

func (r *Runner) Kind() Kind { return r.plan.Kind }

// Reset restarts the pattern from its first frame.
func (r *Runner) Reset() { r.step = 0 }

// Step fills rgb (3 bytes per pixel); returns false when complete.
func (r *Runner) Step(rgb []byte) bool {
	n := len(rgb) / 3
	for i := range rgb {
		rgb[i] = 0
	}
	if r.plan.Steps > 0 && r.step >= r.plan.Steps {
		return false
	}

	switch r.plan.Kind {
	case Solid:
		for i := 0; i < n; i++ {
			copy(rgb[i*3:], r.plan.Color[:])
		}
	case IndexSweep:
		idx := r.step
		if idx >= n {
			return false
		}
		rgb[idx*3+0], rgb[idx*3+1], rgb[idx*3+2] = 255, 255, 255
	case RGBTest:
		phase := r.step % 3
		for i := 0; i < n; i++ {
			rgb[i*3+phase] = 255
		}
	case Rainbow:
		off := float64(r.step) * 0.01
		for i := 0; i < n; i++ {
			h := math.Mod(float64(i)/float64(max(1, n))+off, 1.0)
			cr, cg, cb := hsvToRGB(h, 1.0, r.plan.Brightness)
			rgb[i*3+0] = byte(cr * 255)
			rgb[i*3+1] = byte(cg * 255)
			rgb[i*3+2] = byte(cb * 255)
		}
	default:
		return false
	}
	r.step++
	return true
}

func hsvToRGB(h, s, v float64) (float64, float64, float64) {
	i := int(h * 6.0)
	f := h*6.0 - float64(i)
	p := v * (1.0 - s)
	q := v * (1.0 - f*s)
	t := v * (1.0 - (1.0-f)*s)
	switch i % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}
