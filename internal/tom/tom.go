package tom

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidTimeSpan = errors.New("time span must be > 0")

// Model converts an occurrence rate and conditional probabilities of
// exceedance into probabilities of no exceedance over a time span.
type Model interface {
	TimeSpan() float64
	ProbabilityNoExceedance(rate float64, poes, out []float64)
}

type Poisson struct {
	timeSpan float64
}

func NewPoisson(timeSpan float64) (Poisson, error) {
	if !(timeSpan > 0) || math.IsInf(timeSpan, 0) {
		return Poisson{}, fmt.Errorf("%w: %g", ErrInvalidTimeSpan, timeSpan)
	}
	return Poisson{timeSpan: timeSpan}, nil
}

func (p Poisson) TimeSpan() float64 {
	return p.timeSpan
}

// ProbabilityOccurrence is the probability of at least one occurrence.
func (p Poisson) ProbabilityOccurrence(rate float64) float64 {
	return -math.Expm1(-rate * p.timeSpan)
}

func (p Poisson) ProbabilityNoExceedance(rate float64, poes, out []float64) {
	for i, poe := range poes {
		out[i] = math.Exp(-rate * p.timeSpan * poe)
	}
}
