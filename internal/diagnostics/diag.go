package diagnostics

import (
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/ws2812stream/internal/config"
	"github.com/coreman2200/ws2812stream/transfer"
	"github.com/coreman2200/ws2812stream/txbuf"
)

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

type Diagnostic struct {
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// WS2812B datasheet pulse windows.
const (
	T0H       = 400 * time.Nanosecond
	T1H       = 800 * time.Nanosecond
	Tolerance = 150 * time.Nanosecond
	// ResetLegacy is the latch time of first generation parts; newer
	// revisions need ResetModern.
	ResetLegacy = 50 * time.Microsecond
	ResetModern = 280 * time.Microsecond
)

// Ticks converts a timer tick count at clock into a duration.
func Ticks(n uint32, clock physic.Frequency) time.Duration {
	if clock <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) * int64(physic.Hertz) / int64(clock))
}

// Timing reports pulse widths that fall outside the datasheet windows for
// the given configuration.
func Timing(c *config.Config, t config.Timing) []Diagnostic {
	var out []Diagnostic
	enc := txbuf.NewEncoder(t.Period, txbuf.Compare, nil)
	t0 := Ticks(uint32(enc.Logic0), t.Clock)
	t1 := Ticks(uint32(enc.Logic1), t.Clock)
	ev := map[string]any{
		"core_clock": t.Clock.String(),
		"bit_rate":   t.BitRate.String(),
		"period":     t.Period,
		"t0h_ns":     t0.Nanoseconds(),
		"t1h_ns":     t1.Nanoseconds(),
	}

	if t.Clock%t.BitRate != 0 {
		out = append(out, Diagnostic{
			Severity: Warn, Code: "TIMING.RATE",
			Summary:        "Bit rate is not an integer divisor of the core clock",
			Detail:         "The period is truncated, so the line runs slightly faster than bit_rate.",
			SuggestedFixes: []string{"Pick a core_clock that is a multiple of bit_rate"},
			Evidence:       ev,
		})
	}
	if t0 < T0H-Tolerance || t0 > T0H+Tolerance {
		out = append(out, Diagnostic{
			Severity: Err, Code: "TIMING.T0H",
			Summary:      "Zero bit pulse outside 400ns ±150ns",
			LikelyCauses: []string{"bit_rate far from 800kHz", "core_clock too slow for a fine pulse"},
			Evidence:     ev,
		})
	}
	if t1 < T1H-Tolerance || t1 > T1H+Tolerance {
		out = append(out, Diagnostic{
			Severity: Err, Code: "TIMING.T1H",
			Summary:      "One bit pulse outside 800ns ±150ns",
			LikelyCauses: []string{"bit_rate far from 800kHz", "core_clock too slow for a fine pulse"},
			Evidence:     ev,
		})
	}

	reset := time.Duration(c.ResetUs) * time.Microsecond
	switch {
	case reset < ResetLegacy:
		out = append(out, Diagnostic{
			Severity: Err, Code: "TIMING.RESET",
			Summary:        "Reset gap shorter than 50us",
			Detail:         "LEDs will not latch and the next frame is appended to this one.",
			SuggestedFixes: []string{"Set reset_us to at least 50, or 280 for newer parts"},
			Evidence:       map[string]any{"reset_us": c.ResetUs},
		})
	case reset < ResetModern:
		out = append(out, Diagnostic{
			Severity: Info, Code: "TIMING.RESET",
			Summary:  "Reset gap only covers first generation WS2812B",
			Evidence: map[string]any{"reset_us": c.ResetUs},
		})
	}
	return out
}

// Transfer reports engine trouble seen between two Stats snapshots.
func Transfer(prev, cur transfer.Stats) []Diagnostic {
	var out []Diagnostic
	if cur.Overruns > prev.Overruns {
		out = append(out, Diagnostic{
			Severity: Err, Code: "DMA.OVERRUN",
			Summary: "DMA reported a transfer error",
			Detail:  "The frame in flight was not retried; the next request sends a fresh copy.",
			LikelyCauses: []string{
				"Refill handler ran late",
				"Bus contention on the DMA channel",
			},
			Evidence: map[string]any{
				"overruns":  cur.Overruns,
				"new":       cur.Overruns - prev.Overruns,
				"transfers": cur.Transfers,
			},
		})
	}
	return out
}
