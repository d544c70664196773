package gamma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monotonic(t *testing.T, tbl *Table) {
	t.Helper()
	for x := 1; x < 256; x++ {
		assert.LessOrEqual(t, tbl.Correct(uint8(x-1)), tbl.Correct(uint8(x)), "level %d", x)
	}
}

func TestDefaultEndpoints(t *testing.T) {
	assert.Equal(t, uint8(0), Correct(0))
	assert.Equal(t, uint8(255), Correct(255))
	monotonic(t, &Default)
}

func TestLinear(t *testing.T) {
	for x := 0; x < 256; x++ {
		assert.Equal(t, uint8(x), Linear.Correct(uint8(x)))
	}
}

func TestCurve(t *testing.T) {
	for _, exp := range []float64{0.5, 1, 2.2, 2.8} {
		tbl, err := Curve(exp)
		require.NoError(t, err)
		assert.Equal(t, uint8(0), tbl[0], "exp %v", exp)
		assert.Equal(t, uint8(255), tbl[255], "exp %v", exp)
		monotonic(t, &tbl)
	}

	one, err := Curve(1)
	require.NoError(t, err)
	assert.Equal(t, Linear, one)
}

func TestCurveInvalid(t *testing.T) {
	for _, exp := range []float64{0, -1} {
		_, err := Curve(exp)
		assert.Error(t, err)
	}
}
