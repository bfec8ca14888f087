package source

import (
	"errors"
	"fmt"
	"math"

	"psha/internal/geo"
	"psha/internal/tom"
)

var (
	ErrNoTemporalModel = errors.New("parametric rupture requires a temporal occurrence model")
	ErrInvalidRupture  = errors.New("invalid rupture")
)

// Rupture is a single possible earthquake. OccurrenceRate is NaN for
// non-parametric ruptures, which carry ProbsOccur instead: the probability
// of 0, 1, 2, ... occurrences over the time span. Ruptures are treated as
// immutable values; ProbsOccur must not be modified once built.
type Rupture struct {
	ID             int64
	Mag            float64
	Rake           float64
	TRT            string
	Hypocenter     geo.Point
	Surface        geo.Surface
	OccurrenceRate float64
	ProbsOccur     []float64
	Weight         float64
	TOM            tom.Model
}

func (r Rupture) IsParametric() bool {
	return !math.IsNaN(r.OccurrenceRate)
}

func (r Rupture) HasWeight() bool {
	return !math.IsNaN(r.Weight)
}

func (r Rupture) WithRate(rate float64) Rupture {
	r.OccurrenceRate = rate
	return r
}

func (r Rupture) Validate() error {
	if r.Surface == nil {
		return fmt.Errorf("%w %d: surface is required", ErrInvalidRupture, r.ID)
	}
	if r.IsParametric() {
		if r.OccurrenceRate < 0 || math.IsInf(r.OccurrenceRate, 0) {
			return fmt.Errorf("%w %d: occurrence rate %g", ErrInvalidRupture, r.ID, r.OccurrenceRate)
		}
		return nil
	}
	if len(r.ProbsOccur) == 0 {
		return fmt.Errorf("%w %d: non-parametric rupture without probs_occur", ErrInvalidRupture, r.ID)
	}
	total := 0.0
	for _, p := range r.ProbsOccur {
		if p < 0 || p > 1 {
			return fmt.Errorf("%w %d: probs_occur value %g", ErrInvalidRupture, r.ID, p)
		}
		total += p
	}
	if math.Abs(total-1) > 1e-6 {
		return fmt.Errorf("%w %d: probs_occur sums to %g", ErrInvalidRupture, r.ID, total)
	}
	return nil
}

// ProbabilityNoExceedance converts conditional probabilities of exceedance
// into the probability that the rupture never causes an exceedance over the
// time span. Non-parametric ruptures use sum_k p(k) * (1-poe)^k, clamped to
// 1 and forced to exactly 1 where poe is 0.
func (r Rupture) ProbabilityNoExceedance(poes, out []float64) error {
	if len(out) != len(poes) {
		return fmt.Errorf("pne output length %d does not match poes length %d", len(out), len(poes))
	}
	if r.IsParametric() {
		if r.TOM == nil {
			return fmt.Errorf("%w: rupture %d", ErrNoTemporalModel, r.ID)
		}
		r.TOM.ProbabilityNoExceedance(r.OccurrenceRate, poes, out)
		return nil
	}
	for i, poe := range poes {
		if poe == 0 {
			out[i] = 1
			continue
		}
		q := 1 - poe
		pow := 1.0
		sum := 0.0
		for _, p := range r.ProbsOccur {
			sum += p * pow
			pow *= q
		}
		if sum > 1 {
			sum = 1
		}
		out[i] = sum
	}
	return nil
}
