package source

import (
	"errors"
	"fmt"
	"iter"
	"math"

	"psha/internal/geo"
	"psha/internal/tom"
)

var ErrInvalidSource = errors.New("invalid source")

type NodalPlane struct {
	Weight float64 `json:"weight" yaml:"weight"`
	Strike float64 `json:"strike" yaml:"strike"`
	Dip    float64 `json:"dip" yaml:"dip"`
	Rake   float64 `json:"rake" yaml:"rake"`
}

type HypoDepth struct {
	Weight float64 `json:"weight" yaml:"weight"`
	Depth  float64 `json:"depth" yaml:"depth"`
}

// MFD is an evenly discretized magnitude-frequency distribution: bin i is
// centred on MinMag + i*BinWidth and has annual rate Rates[i].
type MFD struct {
	MinMag   float64   `json:"min_mag" yaml:"min_mag"`
	BinWidth float64   `json:"bin_width" yaml:"bin_width"`
	Rates    []float64 `json:"rates" yaml:"rates"`
}

func (m MFD) Mag(i int) float64 {
	return m.MinMag + float64(i)*m.BinWidth
}

// ScalingRelation gives the median rupture area in km² for a magnitude.
type ScalingRelation interface {
	Name() string
	Area(mag, rake float64) float64
}

// WC1994 is the all-slip-type area relation of Wells and Coppersmith (1994).
type WC1994 struct{}

func (WC1994) Name() string { return "WC1994" }

func (WC1994) Area(mag, _ float64) float64 {
	return math.Pow(10, -3.49+0.91*mag)
}

// PointMSR collapses every rupture to a negligible area.
type PointMSR struct{}

func (PointMSR) Name() string { return "PointMSR" }

func (PointMSR) Area(float64, float64) float64 { return 1e-4 }

type PointSource struct {
	Base
	Loc              geo.Point
	UpperSeismoDepth float64
	LowerSeismoDepth float64
	MFD              MFD
	MSR              ScalingRelation
	AspectRatio      float64
	NodalPlanes      []NodalPlane
	Depths           []HypoDepth
}

func (s *PointSource) Validate() error {
	if s.MSR == nil {
		return fmt.Errorf("%w %s: magnitude scaling relation is required", ErrInvalidSource, s.ID)
	}
	if !(s.AspectRatio > 0) {
		return fmt.Errorf("%w %s: aspect ratio must be > 0", ErrInvalidSource, s.ID)
	}
	if s.LowerSeismoDepth <= s.UpperSeismoDepth || s.UpperSeismoDepth < 0 {
		return fmt.Errorf("%w %s: seismogenic depths upper=%g lower=%g", ErrInvalidSource, s.ID, s.UpperSeismoDepth, s.LowerSeismoDepth)
	}
	if len(s.MFD.Rates) == 0 || (len(s.MFD.Rates) > 1 && !(s.MFD.BinWidth > 0)) {
		return fmt.Errorf("%w %s: invalid magnitude-frequency distribution", ErrInvalidSource, s.ID)
	}
	for _, r := range s.MFD.Rates {
		if r < 0 {
			return fmt.Errorf("%w %s: negative rate %g", ErrInvalidSource, s.ID, r)
		}
	}
	npTotal := 0.0
	for _, np := range s.NodalPlanes {
		if np.Dip <= 0 || np.Dip > 90 || np.Weight <= 0 {
			return fmt.Errorf("%w %s: invalid nodal plane %+v", ErrInvalidSource, s.ID, np)
		}
		npTotal += np.Weight
	}
	hdTotal := 0.0
	for _, hd := range s.Depths {
		if hd.Depth < s.UpperSeismoDepth || hd.Depth > s.LowerSeismoDepth || hd.Weight <= 0 {
			return fmt.Errorf("%w %s: invalid hypocentral depth %+v", ErrInvalidSource, s.ID, hd)
		}
		hdTotal += hd.Weight
	}
	if math.Abs(npTotal-1) > 1e-6 || math.Abs(hdTotal-1) > 1e-6 {
		return fmt.Errorf("%w %s: nodal plane and depth weights must sum to 1 (got %g, %g)", ErrInvalidSource, s.ID, npTotal, hdTotal)
	}
	return nil
}

func (s *PointSource) Location() geo.Point { return s.Loc }
func (s *PointSource) CountNPHC() int { return len(s.NodalPlanes) * len(s.Depths) }
func (s *PointSource) HypoDepths() []HypoDepth { return append([]HypoDepth(nil), s.Depths...) }

func (s *PointSource) PointMSR() bool {
	_, ok := s.MSR.(PointMSR)
	return ok
}

func (s *PointSource) NumRuptures() int {
	n := 0
	for _, r := range s.MFD.Rates {
		if r > 0 {
			n++
		}
	}
	return n * s.CountNPHC()
}

func (s *PointSource) Weight() float64 {
	return float64(s.NumRuptures())
}

func (s *PointSource) dimensions(mag float64, np NodalPlane) (length, width float64) {
	area := s.MSR.Area(mag, np.Rake)
	length = math.Sqrt(area * s.AspectRatio)
	width = area / length
	maxWidth := (s.LowerSeismoDepth - s.UpperSeismoDepth) / math.Sin(np.Dip*math.Pi/180)
	if width > maxWidth {
		width = maxWidth
		length = area / width
	}
	return length, width
}

// MaxRuptureProjectionRadius is half the largest diagonal of the surface
// projection of the ruptures of magnitude mag.
func (s *PointSource) MaxRuptureProjectionRadius(mag float64) float64 {
	radius := 0.0
	for _, np := range s.NodalPlanes {
		length, width := s.dimensions(mag, np)
		projWidth := width * math.Cos(np.Dip*math.Pi/180)
		radius = math.Max(radius, math.Hypot(length, projWidth)/2)
	}
	return radius
}

func (s *PointSource) EnclosingBox(dilation float64) geo.BBox {
	maxMag := s.MFD.Mag(len(s.MFD.Rates) - 1)
	return geo.BBoxOf(s.Loc).Dilate(s.MaxRuptureProjectionRadius(maxMag) + dilation)
}

func (s *PointSource) surface(mag float64, np NodalPlane, depth float64) (geo.Surface, error) {
	length, width := s.dimensions(mag, np)
	halfHeight := width * math.Sin(np.Dip*math.Pi/180) / 2
	centerDepth := math.Max(s.UpperSeismoDepth+halfHeight, math.Min(depth, s.LowerSeismoDepth-halfHeight))
	return geo.NewPlanarSurface(geo.Point{Lon: s.Loc.Lon, Lat: s.Loc.Lat, Depth: centerDepth}, np.Strike, np.Dip, length, width)
}

// Ruptures yields ruptures ordered by magnitude, then nodal plane, then
// hypocentral depth. Bins with zero rate are skipped.
func (s *PointSource) Ruptures(model tom.Model) iter.Seq[Rupture] {
	return func(yield func(Rupture) bool) {
		k := 0
		for i, rate := range s.MFD.Rates {
			if rate <= 0 {
				continue
			}
			mag := s.MFD.Mag(i)
			for _, np := range s.NodalPlanes {
				for _, hd := range s.Depths {
					surface, err := s.surface(mag, np, hd.Depth)
					if err != nil {
						// Validate rejects the inputs that could reach here.
						panic(fmt.Sprintf("point source %s: %v", s.ID, err))
					}
					rup := Rupture{
						ID:             s.ruptureID(k),
						Mag:            mag,
						Rake:           np.Rake,
						TRT:            s.TRT,
						Hypocenter:     geo.Point{Lon: s.Loc.Lon, Lat: s.Loc.Lat, Depth: hd.Depth},
						Surface:        surface,
						OccurrenceRate: rate * np.Weight * hd.Weight,
						Weight:         math.NaN(),
						TOM:            model,
					}
					k++
					if !yield(rup) {
						return
					}
				}
			}
		}
	}
}
