package tom

import (
	"errors"
	"math"
	"testing"
)

func TestPoissonProbabilityNoExceedance(t *testing.T) {
	p, err := NewPoisson(50)
	if err != nil {
		t.Fatalf("new poisson: %v", err)
	}
	poes := []float64{0, 0.5, 1}
	out := make([]float64, len(poes))
	p.ProbabilityNoExceedance(0.01, poes, out)
	want := []float64{1, math.Exp(-0.25), math.Exp(-0.5)}
	for i := range want {
		if math.Abs(out[i]-want[i]) > 1e-12 {
			t.Fatalf("pne[%d]: got=%f want=%f", i, out[i], want[i])
		}
	}
	if got := p.ProbabilityOccurrence(0.01); math.Abs(got-(1-math.Exp(-0.5))) > 1e-12 {
		t.Fatalf("unexpected probability of occurrence: %f", got)
	}
}

func TestNewPoissonValidation(t *testing.T) {
	for _, span := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := NewPoisson(span); !errors.Is(err, ErrInvalidTimeSpan) {
			t.Fatalf("span %f: expected ErrInvalidTimeSpan, got %v", span, err)
		}
	}
}
