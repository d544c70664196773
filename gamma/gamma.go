// Package gamma maps linear 8 bit channel intensities to perceptually
// corrected ones.
package gamma

import (
	"math"

	"github.com/pkg/errors"
)

// Table is a 256 entry lookup table indexed by linear intensity.
type Table [256]uint8

// Default is the calibration table the LEDs are tuned against.
var Default = Table{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2, 2,
	2, 3, 3, 3, 3, 3, 3, 3, 4, 4, 4, 4, 4, 5, 5, 5,
	5, 6, 6, 6, 6, 7, 7, 7, 7, 8, 8, 8, 9, 9, 9, 10,
	10, 10, 11, 11, 11, 12, 12, 13, 13, 13, 14, 14, 15, 15, 16, 16,
	17, 17, 18, 18, 19, 19, 20, 20, 21, 21, 22, 22, 23, 24, 24, 25,
	25, 26, 27, 27, 28, 29, 29, 30, 31, 32, 32, 33, 34, 35, 35, 36,
	37, 38, 39, 39, 40, 41, 42, 43, 44, 45, 46, 47, 48, 49, 50, 50,
	51, 52, 54, 55, 56, 57, 58, 59, 60, 61, 62, 63, 64, 66, 67, 68,
	69, 70, 72, 73, 74, 75, 77, 78, 79, 81, 82, 83, 85, 86, 87, 89,
	90, 92, 93, 95, 96, 98, 99, 101, 102, 104, 105, 107, 109, 110, 112, 114,
	115, 117, 119, 120, 122, 124, 126, 127, 129, 131, 133, 135, 137, 138, 140, 142,
	144, 146, 148, 150, 152, 154, 156, 158, 160, 162, 164, 167, 169, 171, 173, 175,
	177, 180, 182, 184, 186, 189, 191, 193, 196, 198, 200, 203, 205, 208, 210, 213,
	215, 218, 220, 223, 225, 228, 231, 233, 236, 239, 241, 244, 247, 249, 252, 255,
}

// Linear passes intensities through unchanged.
var Linear = func() Table {
	var t Table
	for i := range t {
		t[i] = uint8(i)
	}
	return t
}()

// Correct returns the Default correction of level.
func Correct(level uint8) uint8 {
	return Default[level]
}

// Correct returns the correction of level according to t.
func (t *Table) Correct(level uint8) uint8 {
	return t[level]
}

// Curve builds a power law table out = 255 * (in/255)^exponent.
//
// The result is monotonic with Curve(x)[0] == 0 and Curve(x)[255] == 255.
func Curve(exponent float64) (Table, error) {
	var t Table
	if exponent <= 0 || math.IsNaN(exponent) || math.IsInf(exponent, 0) {
		return t, errors.Errorf("gamma: invalid exponent %v", exponent)
	}
	for i := range t {
		v := math.Pow(float64(i)/255, exponent)*255 + 0.5
		t[i] = uint8(math.Min(255, v))
	}
	return t, nil
}
