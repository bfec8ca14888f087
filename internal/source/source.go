package source

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"

	"psha/internal/geo"
	"psha/internal/site"
	"psha/internal/tom"
)

type Interdep uint8

const (
	Indep Interdep = iota
	Mutex
)

var ErrInvalidGroup = errors.New("invalid source group")

func (i Interdep) String() string {
	if i == Mutex {
		return "mutex"
	}
	return "indep"
}

func ParseInterdep(s string) (Interdep, error) {
	switch strings.ToLower(s) {
	case "", "indep":
		return Indep, nil
	case "mutex":
		return Mutex, nil
	default:
		return 0, fmt.Errorf("unknown interdependence %q", s)
	}
}

// Source produces a lazy, finite sequence of ruptures. The sequence may be
// consumed once per call to Ruptures.
type Source interface {
	Index() int
	SourceID() string
	TectonicRegion() string
	NumRuptures() int
	Weight() float64
	MutexWeight() float64
	GroupIDs() []int
	EnclosingBox(dilation float64) geo.BBox
	Ruptures(model tom.Model) iter.Seq[Rupture]
}

// PointLike is implemented by sources whose ruptures are generated around a
// single location with several nodal planes and hypocentral depths.
type PointLike interface {
	Source
	Location() geo.Point
	CountNPHC() int
	MaxRuptureProjectionRadius(mag float64) float64
	HypoDepths() []HypoDepth
	PointMSR() bool
}

// Base carries the identification shared by every source kind.
type Base struct {
	Idx    int
	ID     string
	Name   string
	TRT    string
	MutexW float64
	Groups []int
}

func (b Base) Index() int { return b.Idx }
func (b Base) SourceID() string { return b.ID }
func (b Base) TectonicRegion() string { return b.TRT }
func (b Base) GroupIDs() []int { return append([]int(nil), b.Groups...) }

// MutexWeight is the weight of the source in a group of mutually
// exclusive sources. A NaN MutexW means unset and weighs 1.
func (b Base) MutexWeight() float64 {
	if math.IsNaN(b.MutexW) {
		return 1
	}
	return b.MutexW
}

func (b Base) ruptureID(k int) int64 {
	return int64(b.Idx)<<32 | int64(k)
}

type Group struct {
	ID          int
	Name        string
	TRT         string
	Sources     []Source
	RupInterdep Interdep
	SrcInterdep Interdep
	Atomic      bool
}

// IsAtomic reports whether the group must be evaluated as a single unit of
// work. Mutually exclusive sources are always atomic.
func (g Group) IsAtomic() bool {
	return g.Atomic || g.SrcInterdep == Mutex
}

func (g Group) Validate() error {
	if len(g.Sources) == 0 {
		return fmt.Errorf("%w %d: no sources", ErrInvalidGroup, g.ID)
	}
	total := 0.0
	for _, src := range g.Sources {
		if src.TectonicRegion() != g.TRT {
			return fmt.Errorf("%w %d: source %s has region %q, group has %q", ErrInvalidGroup, g.ID, src.SourceID(), src.TectonicRegion(), g.TRT)
		}
		found := false
		for _, id := range src.GroupIDs() {
			if id == g.ID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w %d: source %s does not reference the group", ErrInvalidGroup, g.ID, src.SourceID())
		}
		w := src.MutexWeight()
		if g.SrcInterdep == Mutex && w < 0 {
			return fmt.Errorf("%w %d: source %s has negative mutex weight %g", ErrInvalidGroup, g.ID, src.SourceID(), w)
		}
		total += w
	}
	if g.SrcInterdep == Mutex && math.Abs(total-1) > 1e-6 {
		return fmt.Errorf("%w %d: mutex weights sum to %g", ErrInvalidGroup, g.ID, total)
	}
	return nil
}

type MaxDistancer interface {
	MaxDistance(trt string) float64
}

// Filter pre-filters sites per source using the source's enclosing box
// dilated by the maximum distance of its tectonic region.
type Filter struct {
	Sites    *site.Collection
	Distance MaxDistancer
}

// CloseSites returns the sites that may be affected by src, or nil.
func (f Filter) CloseSites(src Source) *site.Collection {
	box := src.EnclosingBox(f.Distance.MaxDistance(src.TectonicRegion()))
	mesh := f.Sites.Mesh()
	mask := make([]bool, mesh.Len())
	for i := range mask {
		mask[i] = box.Contains(mesh.Lons[i], mesh.Lats[i])
	}
	return f.Sites.Filter(mask)
}
