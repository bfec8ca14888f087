package gsim

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"psha/internal/contexts"
	"psha/internal/imt"
)

var ErrInvalidArgument = errors.New("invalid model argument")

// Model predicts the natural-log mean and total standard deviation of
// ground motion. mean and std are indexed [imt][site] and are preallocated
// for the sites of ctx. Implementations must be pure.
type Model interface {
	Name() string
	Requirements() contexts.Requirements
	Compute(ctx contexts.Context, imts []imt.IMT, mean, std [][]float64) error
}

// MeanStd holds the predictions of every model of a Set for one context,
// indexed [model][imt][site].
type MeanStd struct {
	Mean [][][]float64
	Std  [][][]float64
}

func (ms MeanStd) NumModels() int { return len(ms.Mean) }

func (ms MeanStd) NumSites() int {
	if len(ms.Mean) == 0 || len(ms.Mean[0]) == 0 {
		return 0
	}
	return len(ms.Mean[0][0])
}

// Entry is a model with its logic-tree weight. IMTWeights overrides Weight
// for individual intensity measure types; a zero weight disables the model
// for that type.
type Entry struct {
	Model      Model
	Weight     float64
	IMTWeights map[string]float64
}

func (e Entry) IMTWeight(m imt.IMT) float64 {
	if w, ok := e.IMTWeights[m.String()]; ok {
		return w
	}
	return e.Weight
}

// Set is the ordered list of models active for a tectonic region. Its order
// defines the model axis of probability maps.
type Set []Entry

func (s Set) Requirers() []contexts.Requirer {
	out := make([]contexts.Requirer, len(s))
	for i, e := range s {
		out[i] = e.Model
	}
	return out
}

func (s Set) Names() []string {
	out := make([]string, len(s))
	for i, e := range s {
		out[i] = e.Model.Name()
	}
	return out
}

func (s Set) MeanStd(ctx contexts.Context, imts []imt.IMT) (MeanStd, error) {
	n := ctx.Sites.Len()
	ms := MeanStd{Mean: make([][][]float64, len(s)), Std: make([][][]float64, len(s))}
	for g, e := range s {
		mean := make([][]float64, len(imts))
		std := make([][]float64, len(imts))
		for m := range imts {
			mean[m] = make([]float64, n)
			std[m] = make([]float64, n)
		}
		if err := e.Model.Compute(ctx, imts, mean, std); err != nil {
			return MeanStd{}, fmt.Errorf("%s: %w", e.Model.Name(), err)
		}
		ms.Mean[g] = mean
		ms.Std[g] = std
	}
	return ms, nil
}

// PoEs converts predictions into probabilities of exceedance of every
// level. The result is indexed (site*L + level)*G + model so that the slice
// of one site has the layout of a probability map curve. A truncation level
// of +Inf means no truncation, 0 a step function at the median.
func (s Set) PoEs(ms MeanStd, levels imt.Levels, truncation float64) []float64 {
	n, l, g := ms.NumSites(), levels.Len(), len(s)
	out := make([]float64, n*l*g)
	logs := levels.LogLevels()
	imts := levels.IMTs()
	for k, e := range s {
		for m, t := range imts {
			if e.IMTWeight(t) == 0 {
				continue
			}
			start, stop := levels.Slice(m)
			for i := 0; i < n; i++ {
				mu, sigma := ms.Mean[k][m][i], ms.Std[k][m][i]
				for lvl := start; lvl < stop; lvl++ {
					out[(i*l+lvl)*g+k] = exceedance(logs[lvl], mu, sigma, truncation)
				}
			}
		}
	}
	return out
}

func exceedance(logLevel, mu, sigma, truncation float64) float64 {
	if truncation == 0 || sigma == 0 {
		if mu > logLevel {
			return 1
		}
		return 0
	}
	z := (logLevel - mu) / sigma
	if math.IsInf(truncation, 1) {
		return distuv.UnitNormal.Survival(z)
	}
	if z <= -truncation {
		return 1
	}
	if z >= truncation {
		return 0
	}
	upper := distuv.UnitNormal.CDF(truncation)
	lower := distuv.UnitNormal.CDF(-truncation)
	poe := (upper - distuv.UnitNormal.CDF(z)) / (upper - lower)
	return math.Max(0, math.Min(1, poe))
}
