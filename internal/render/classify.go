// Package render draws the tract choropleth with the incident overlay.
package render

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// NoDataClass is the class of a region without a value. Such regions are
// filled with the no-data color and never counted in the breaks.
const NoDataClass = -1

// QuantileBreaks computes the k-1 interior break values splitting the
// observations into k quantile classes, interpolating linearly between order
// statistics. Heavily repeated values can collapse adjacent breaks; the
// resulting empty classes are harmless.
func QuantileBreaks(values []float64, k int) ([]float64, error) {
	if k < 2 {
		return nil, eris.Errorf("render: class count %d, need at least 2", k)
	}
	if len(values) == 0 {
		return nil, eris.New("render: no values to classify")
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	breaks := make([]float64, 0, k-1)
	for i := 1; i < k; i++ {
		breaks = append(breaks, quantile(sorted, float64(i)/float64(k)))
	}
	return breaks, nil
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Classify places a value into its quantile class. Classes are
// upper-inclusive: a value equal to a break belongs to the class below it.
// A nil value classifies as NoDataClass.
func Classify(v *float64, breaks []float64) int {
	if v == nil {
		return NoDataClass
	}
	class := 0
	for _, b := range breaks {
		if *v > b {
			class++
		}
	}
	return class
}
