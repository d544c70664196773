package diagnostics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/ws2812stream/internal/config"
	"github.com/coreman2200/ws2812stream/transfer"
)

func codes(ds []Diagnostic) []string {
	var out []string
	for _, d := range ds {
		out = append(out, d.Code)
	}
	return out
}

func TestTicks(t *testing.T) {
	assert.Equal(t, 1250*time.Nanosecond, Ticks(40, 32*physic.MegaHertz))
	assert.Equal(t, 343*time.Nanosecond, Ticks(11, 32*physic.MegaHertz))
	assert.Equal(t, time.Duration(0), Ticks(11, 0))
}

func TestTimingDefaultIsClean(t *testing.T) {
	c := config.Default()
	c.ResetUs = 300
	tm, err := c.Timing()
	require.NoError(t, err)
	assert.Empty(t, Timing(c, tm))
}

func TestTimingFindings(t *testing.T) {
	tests := []struct {
		name  string
		clock string
		rate  string
		reset int
		want  []string
	}{
		{"legacy reset", "32MHz", "800kHz", 50, []string{"TIMING.RESET"}},
		{"short reset", "32MHz", "800kHz", 20, []string{"TIMING.RESET"}},
		{"fractional", "72MHz", "700kHz", 300, []string{"TIMING.RATE"}},
		{"slow line", "16MHz", "400kHz", 300, []string{"TIMING.T0H", "TIMING.T1H"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.Default()
			c.CoreClock, c.BitRate, c.ResetUs = tt.clock, tt.rate, tt.reset
			tm, err := c.Timing()
			require.NoError(t, err)
			assert.Equal(t, tt.want, codes(Timing(c, tm)))
		})
	}
}

func TestTransfer(t *testing.T) {
	prev := transfer.Stats{Transfers: 3, Overruns: 1}
	assert.Empty(t, Transfer(prev, prev))

	cur := transfer.Stats{Transfers: 4, Overruns: 3}
	ds := Transfer(prev, cur)
	require.Len(t, ds, 1)
	assert.Equal(t, Err, ds[0].Severity)
	assert.Equal(t, "DMA.OVERRUN", ds[0].Code)
	assert.Equal(t, uint64(2), ds[0].Evidence["new"])
}
