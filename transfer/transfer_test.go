package transfer

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/ws2812stream/gamma"
	"github.com/coreman2200/ws2812stream/txbuf"
)

const testResetTicks = 40

// fakePacer records the calls the engine makes.
type fakePacer struct {
	period uint32
	calls  []string
}

func (p *fakePacer) Period() uint32 { return p.period }
func (p *fakePacer) Arm(buf []byte) { p.calls = append(p.calls, "arm") }
func (p *fakePacer) Delay()         { p.calls = append(p.calls, "delay") }
func (p *fakePacer) Halt()          { p.calls = append(p.calls, "halt") }

func (p *fakePacer) count(call string) int {
	n := 0
	for _, c := range p.calls {
		if c == call {
			n++
		}
	}
	return n
}

type rgb struct{ R, G, B uint8 }

var off = rgb{0xff, 0xff, 0xff} // sentinel, never a gamma corrected colour here

func newEngine(t *testing.T, chain int, items ...Item) (*Engine, *fakePacer) {
	t.Helper()
	p := &fakePacer{period: 40}
	e, err := New(p, Config{ChainLength: chain, ResetTicks: testResetTicks, Gamma: &gamma.Linear}, items...)
	require.NoError(t, err)
	return e, p
}

func isOff(e *Engine, s txbuf.Slot) bool {
	for _, v := range e.buf.Bits(s) {
		if v != e.enc.Logic0 {
			return false
		}
	}
	return true
}

func slotPixel(e *Engine, s txbuf.Slot, channel int) rgb {
	if e.enc.Layout == txbuf.Compare && isOff(e, s) {
		return off
	}
	g, r, b := e.enc.Decode(&e.buf, s, channel)
	return rgb{r, g, b}
}

// drain plays the role of the DMA engine: it reads each slot then raises
// the matching notification, until the engine leaves Draining.
func drain(t *testing.T, e *Engine, channel int) []rgb {
	t.Helper()
	var out []rgb
	for e.Phase() == Draining {
		assert.False(t, e.IsTransferComplete())
		out = append(out, slotPixel(e, txbuf.First, channel))
		e.HalfTransfer()
		out = append(out, slotPixel(e, txbuf.Second, channel))
		e.FullTransfer()
		require.Less(t, len(out), 1000, "transfer never ends")
	}
	return out
}

func closeOut(t *testing.T, e *Engine) {
	t.Helper()
	require.Equal(t, ClosingOut, e.Phase())
	for i := 1; i < testResetTicks; i++ {
		e.PeriodElapsed()
		require.False(t, e.IsTransferComplete(), "tick %d", i)
		require.Equal(t, ClosingOut, e.Phase())
	}
	e.PeriodElapsed()
	assert.True(t, e.IsTransferComplete())
	assert.Equal(t, Idle, e.Phase())
}

func TestRedScenario(t *testing.T) {
	p := &fakePacer{period: 40}
	e, err := New(p, Config{ChainLength: 1, ResetTicks: testResetTicks}, Item{Source: []byte{255, 0, 0}})
	require.NoError(t, err)
	assert.True(t, e.IsTransferComplete())

	e.RequestTransfer()
	e.Poll()
	require.Equal(t, Draining, e.Phase())
	require.Equal(t, []string{"arm"}, p.calls)
	assert.False(t, e.IsTransferComplete())

	bits := e.buf.Bits(txbuf.First)
	for i := 0; i < 8; i++ {
		assert.Equal(t, e.enc.Logic0, bits[i], "green %d", i)
		assert.Equal(t, e.enc.Logic1, bits[8+i], "red %d", i)
		assert.Equal(t, e.enc.Logic0, bits[16+i], "blue %d", i)
	}
	assert.True(t, isOff(e, txbuf.Second))

	e.HalfTransfer()
	assert.True(t, isOff(e, txbuf.First))
	assert.Equal(t, Draining, e.Phase())

	e.FullTransfer()
	assert.Equal(t, ClosingOut, e.Phase())
	assert.Equal(t, []string{"arm", "delay"}, p.calls)
	assert.False(t, e.IsTransferComplete())

	closeOut(t, e)
	assert.Equal(t, []string{"arm", "delay", "halt"}, p.calls)
	assert.Equal(t, Stats{Transfers: 1, Pixels: 1}, e.Stats())
}

func TestWrapScenario(t *testing.T) {
	src := []byte{10, 20, 30, 40, 50, 60}
	e, _ := newEngine(t, 3, Item{Source: src})
	e.RequestTransfer()
	e.Poll()

	got := drain(t, e, 0)
	assert.Equal(t, []rgb{{10, 20, 30}, {40, 50, 60}, {10, 20, 30}, off}, got)
	closeOut(t, e)
}

func TestChainLengths(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	want := []rgb{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	for n := 1; n <= 8; n++ {
		t.Run("chain"+strconv.Itoa(n), func(t *testing.T) {
			e, p := newEngine(t, n, Item{Source: src})
			for round := 0; round < 2; round++ {
				e.RequestTransfer()
				e.Poll()
				got := drain(t, e, 0)
				require.GreaterOrEqual(t, len(got), n)
				for i := 0; i < n; i++ {
					assert.Equal(t, want[i%3], got[i], "pixel %d", i)
				}
				// The slot after the last pixel is always the off pixel,
				// either replayed or waiting in the first slot.
				if len(got) > n {
					assert.Equal(t, off, got[n])
					assert.Len(t, got, n+1)
				} else {
					assert.True(t, isOff(e, txbuf.First))
				}
				closeOut(t, e)
			}
			assert.Equal(t, 2, p.count("arm"))
			assert.Equal(t, uint64(2*n), e.Stats().Pixels)
		})
	}
}

func TestRoundTripTwice(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	e, _ := newEngine(t, 6, Item{Source: src})
	e.RequestTransfer()
	e.Poll()
	got := drain(t, e, 0)
	require.GreaterOrEqual(t, len(got), 6)
	assert.Equal(t, got[:3], got[3:6])
}

func TestRequestIdempotent(t *testing.T) {
	e, p := newEngine(t, 4, Item{Source: []byte{1, 2, 3}})
	e.RequestTransfer()
	e.RequestTransfer()
	e.Poll()
	e.Poll()
	require.Equal(t, Draining, e.Phase())

	e.RequestTransfer()
	e.RequestTransfer()
	e.Poll()
	drain(t, e, 0)
	closeOut(t, e)

	e.Poll()
	assert.Equal(t, Idle, e.Phase())
	assert.Equal(t, 1, p.count("arm"))
	assert.Equal(t, uint64(1), e.Stats().Transfers)
}

func TestEmptyChain(t *testing.T) {
	e, p := newEngine(t, 0, Item{Source: []byte{1, 2, 3}})
	e.RequestTransfer()
	e.Poll()
	assert.Equal(t, []string{"delay"}, p.calls)
	assert.False(t, e.IsTransferComplete())

	e.HalfTransfer()
	e.FullTransfer()
	closeOut(t, e)
	assert.Equal(t, []string{"delay", "halt"}, p.calls)
	assert.Zero(t, e.Stats().Pixels)
}

func TestNotificationsIgnoredWhenIdle(t *testing.T) {
	e, p := newEngine(t, 2, Item{Source: []byte{1, 2, 3}})
	e.HalfTransfer()
	e.FullTransfer()
	e.PeriodElapsed()
	assert.Empty(t, p.calls)
	assert.Equal(t, Idle, e.Phase())
	assert.True(t, e.IsTransferComplete())
}

func TestTransferError(t *testing.T) {
	e, _ := newEngine(t, 2, Item{Source: []byte{1, 2, 3}})
	e.TransferError()
	e.TransferError()
	assert.Equal(t, uint64(2), e.Stats().Overruns)
}

func TestPackedChannels(t *testing.T) {
	p := &fakePacer{period: 40}
	a := []byte{1, 2, 3, 4, 5, 6}
	b := []byte{9, 8, 7}
	e, err := New(p, Config{ChainLength: 2, ResetTicks: testResetTicks, Layout: txbuf.Planes, Gamma: &gamma.Linear},
		Item{Source: a, Channel: 0},
		Item{Source: b, Channel: 5},
	)
	require.NoError(t, err)
	e.RequestTransfer()
	e.Poll()

	pixel := func(s txbuf.Slot, ch int) rgb {
		g, r, b := e.enc.Decode(&e.buf, s, ch)
		return rgb{r, g, b}
	}
	assert.Equal(t, rgb{1, 2, 3}, pixel(txbuf.First, 0))
	assert.Equal(t, rgb{4, 5, 6}, pixel(txbuf.Second, 0))
	assert.Equal(t, rgb{9, 8, 7}, pixel(txbuf.First, 5))
	assert.Equal(t, rgb{9, 8, 7}, pixel(txbuf.Second, 5))

	e.HalfTransfer()
	for _, v := range e.buf.Bits(txbuf.First) {
		assert.Zero(t, v)
	}
	e.FullTransfer()
	closeOut(t, e)
}

func TestNewRejects(t *testing.T) {
	good := Item{Source: []byte{1, 2, 3}}
	cfg := Config{ChainLength: 1, ResetTicks: 1}
	tests := []struct {
		name  string
		pacer Pacer
		cfg   Config
		items []Item
	}{
		{"nil pacer", nil, cfg, []Item{good}},
		{"zero period", &fakePacer{}, cfg, []Item{good}},
		{"wide period", &fakePacer{period: 300}, cfg, []Item{good}},
		{"negative chain", &fakePacer{period: 40}, Config{ChainLength: -1, ResetTicks: 1}, []Item{good}},
		{"no reset", &fakePacer{period: 40}, Config{ChainLength: 1}, []Item{good}},
		{"no items", &fakePacer{period: 40}, cfg, nil},
		{"short source", &fakePacer{period: 40}, cfg, []Item{{Source: []byte{1, 2}}}},
		{"ragged source", &fakePacer{period: 40}, cfg, []Item{{Source: []byte{1, 2, 3, 4}}}},
		{"channel range", &fakePacer{period: 40}, cfg, []Item{{Source: []byte{1, 2, 3}, Channel: 8}}},
		{"compare multi", &fakePacer{period: 40}, cfg, []Item{good, {Source: []byte{1, 2, 3}, Channel: 1}}},
		{"duplicate", &fakePacer{period: 40}, Config{ChainLength: 1, ResetTicks: 1, Layout: txbuf.Planes}, []Item{good, good}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.pacer, tt.cfg, tt.items...)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}
