package source

import (
	"fmt"
	"iter"

	"psha/internal/geo"
	"psha/internal/tom"
)

// ExplicitSource wraps a fixed list of ruptures, parametric or not. It is
// the natural source kind for characteristic faults and for groups whose
// ruptures are mutually exclusive.
type ExplicitSource struct {
	Base
	ruptures []Rupture
	box      geo.BBox
}

func NewExplicitSource(base Base, ruptures []Rupture) (*ExplicitSource, error) {
	if len(ruptures) == 0 {
		return nil, fmt.Errorf("%w %s: no ruptures", ErrInvalidSource, base.ID)
	}
	src := &ExplicitSource{Base: base, ruptures: make([]Rupture, len(ruptures))}
	for k, rup := range ruptures {
		rup.ID = base.ruptureID(k)
		rup.TRT = base.TRT
		if err := rup.Validate(); err != nil {
			return nil, fmt.Errorf("source %s: %w", base.ID, err)
		}
		src.ruptures[k] = rup
		box := rup.Surface.BoundingBox().Union(geo.BBoxOf(rup.Hypocenter))
		if k == 0 {
			src.box = box
		} else {
			src.box = src.box.Union(box)
		}
	}
	return src, nil
}

func (s *ExplicitSource) NumRuptures() int {
	return len(s.ruptures)
}

func (s *ExplicitSource) Weight() float64 {
	return float64(len(s.ruptures))
}

func (s *ExplicitSource) EnclosingBox(dilation float64) geo.BBox {
	return s.box.Dilate(dilation)
}

// Ruptures yields the stored ruptures. Parametric ruptures get model as
// their temporal occurrence model unless they already carry one.
func (s *ExplicitSource) Ruptures(model tom.Model) iter.Seq[Rupture] {
	return func(yield func(Rupture) bool) {
		for _, rup := range s.ruptures {
			if rup.IsParametric() && rup.TOM == nil {
				rup.TOM = model
			}
			if !yield(rup) {
				return
			}
		}
	}
}
