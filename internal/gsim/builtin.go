package gsim

import (
	"fmt"
	"math"
	"sort"

	"psha/internal/contexts"
	"psha/internal/imt"
	"psha/internal/site"
)

// args reads numeric arguments with defaults and rejects unknown names.
func args(in map[string]float64, defaults map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	unknown := make([]string, 0)
	for k, v := range in {
		if _, ok := defaults[k]; !ok {
			unknown = append(unknown, k)
			continue
		}
		out[k] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown arguments %v", ErrInvalidArgument, unknown)
	}
	return out, nil
}

// Constant predicts the same median everywhere. It requires nothing from
// the contexts.
type Constant struct {
	Median float64
	Sigma  float64
}

func newConstant(in map[string]float64) (Model, error) {
	a, err := args(in, map[string]float64{"median": 0.1, "sigma": 0.5})
	if err != nil {
		return nil, err
	}
	if !(a["median"] > 0) || a["sigma"] < 0 {
		return nil, fmt.Errorf("%w: median=%g sigma=%g", ErrInvalidArgument, a["median"], a["sigma"])
	}
	return Constant{Median: a["median"], Sigma: a["sigma"]}, nil
}

func (Constant) Name() string { return "constant" }

func (Constant) Requirements() contexts.Requirements { return contexts.Requirements{} }

func (c Constant) Compute(ctx contexts.Context, imts []imt.IMT, mean, std [][]float64) error {
	mu := math.Log(c.Median)
	for m := range imts {
		for i := range mean[m] {
			mean[m][i] = mu
			std[m][i] = c.Sigma
		}
	}
	return nil
}

// Attenuation is a reference magnitude and distance scaling model:
//
//	ln y = c0 + c1 (M-6) + c2 (M-6)² - c3 ln √(R² + h²) - c4 R + c5 ln(vs30/760)
//
// with R the rupture distance. Spectral accelerations lose 0.3 ln(1+T).
type Attenuation struct {
	C0    float64
	C1    float64
	C2    float64
	C3    float64
	C4    float64
	C5    float64
	H     float64
	Sigma float64
}

func newAttenuation(in map[string]float64) (Model, error) {
	a, err := args(in, map[string]float64{
		"c0": 0.5, "c1": 1.0, "c2": 0, "c3": 1.2, "c4": 0.003, "c5": -0.5, "h": 6, "sigma": 0.65,
	})
	if err != nil {
		return nil, err
	}
	if a["sigma"] < 0 || a["h"] < 0 {
		return nil, fmt.Errorf("%w: sigma=%g h=%g", ErrInvalidArgument, a["sigma"], a["h"])
	}
	return Attenuation{
		C0:    a["c0"],
		C1:    a["c1"],
		C2:    a["c2"],
		C3:    a["c3"],
		C4:    a["c4"],
		C5:    a["c5"],
		H:     a["h"],
		Sigma: a["sigma"],
	}, nil
}

func (Attenuation) Name() string { return "attenuation" }

func (Attenuation) Requirements() contexts.Requirements {
	return contexts.Requirements{
		Distances: contexts.NewDistanceSet(contexts.RRup),
		Sites:     site.NewParamSet(site.VS30),
		Rupture:   contexts.NewRuptureParamSet(contexts.Mag),
	}
}

func (a Attenuation) Compute(ctx contexts.Context, imts []imt.IMT, mean, std [][]float64) error {
	mag, err := ctx.RupCtx.Get(contexts.Mag)
	if err != nil {
		return err
	}
	rrup, err := ctx.Dists.Get(contexts.RRup)
	if err != nil {
		return err
	}
	vs30, err := ctx.Sites.Param(site.VS30)
	if err != nil {
		return err
	}
	dm := mag - 6
	for m, t := range imts {
		c0 := a.C0
		if t.Name == "SA" {
			c0 -= 0.3 * math.Log1p(t.Period)
		}
		for i := range mean[m] {
			if !(vs30[i] > 0) {
				return fmt.Errorf("site %d: vs30 must be > 0", ctx.Sites.SID(i))
			}
			r := rrup.At(i)
			mean[m][i] = c0 + a.C1*dm + a.C2*dm*dm - a.C3*math.Log(math.Hypot(r, a.H)) - a.C4*r + a.C5*math.Log(vs30[i]/760)
			std[m][i] = a.Sigma
		}
	}
	return nil
}
