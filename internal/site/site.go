package site

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"psha/internal/geo"
)

type Param uint8

const (
	VS30 Param = iota
	VS30Measured
	Z1pt0
	Z2pt5
	Backarc
	numParams
)

var paramNames = [numParams]string{"vs30", "vs30measured", "z1pt0", "z2pt5", "backarc"}

var (
	ErrUnknownParam     = errors.New("unknown site parameter")
	ErrMissingParameter = errors.New("site parameter not available")
	ErrEmptyCollection  = errors.New("site collection is empty")
)

func (p Param) String() string {
	if p >= numParams {
		return fmt.Sprintf("site_param(%d)", uint8(p))
	}
	return paramNames[p]
}

func ParseParam(name string) (Param, error) {
	for i, n := range paramNames {
		if strings.EqualFold(n, name) {
			return Param(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownParam, name)
}

// ParamSet is a bitset of site parameters.
type ParamSet uint8

func NewParamSet(params ...Param) ParamSet {
	var s ParamSet
	for _, p := range params {
		s = s.With(p)
	}
	return s
}

func (s ParamSet) With(p Param) ParamSet { return s | 1<<p }
func (s ParamSet) Has(p Param) bool { return s&(1<<p) != 0 }
func (s ParamSet) Union(o ParamSet) ParamSet { return s | o }

func (s ParamSet) List() []Param {
	out := make([]Param, 0, numParams)
	for p := Param(0); p < numParams; p++ {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

func AllParams() ParamSet {
	return ParamSet(1<<numParams - 1)
}

type Site struct {
	ID           int       `json:"id" yaml:"id"`
	Location     geo.Point `json:"location" yaml:"location"`
	VS30         float64   `json:"vs30" yaml:"vs30"`
	VS30Measured bool      `json:"vs30measured" yaml:"vs30measured"`
	Z1pt0        float64   `json:"z1pt0" yaml:"z1pt0"`
	Z2pt5        float64   `json:"z2pt5" yaml:"z2pt5"`
	Backarc      bool      `json:"backarc" yaml:"backarc"`
}

// Collection is an immutable column-oriented set of sites. Every derived
// collection (filtered, reduced, split) owns fresh column slices, so a
// collection may be read concurrently without locking.
type Collection struct {
	sids     []int
	lons     []float64
	lats     []float64
	depths   []float64
	params   ParamSet
	columns  [numParams][]float64
	complete int
}

func NewCollection(sites []Site) (*Collection, error) {
	if len(sites) == 0 {
		return nil, ErrEmptyCollection
	}
	c := &Collection{
		sids:     make([]int, len(sites)),
		lons:     make([]float64, len(sites)),
		lats:     make([]float64, len(sites)),
		depths:   make([]float64, len(sites)),
		params:   AllParams(),
		complete: len(sites),
	}
	for p := Param(0); p < numParams; p++ {
		c.columns[p] = make([]float64, len(sites))
	}
	seen := make(map[int]struct{}, len(sites))
	for i, s := range sites {
		if _, ok := seen[s.ID]; ok {
			return nil, fmt.Errorf("duplicate site id %d", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.VS30 < 0 {
			return nil, fmt.Errorf("site %d: vs30 must be >= 0", s.ID)
		}
		c.sids[i] = s.ID
		c.lons[i] = s.Location.Lon
		c.lats[i] = s.Location.Lat
		c.depths[i] = s.Location.Depth
		c.columns[VS30][i] = s.VS30
		c.columns[VS30Measured][i] = boolValue(s.VS30Measured)
		c.columns[Z1pt0][i] = s.Z1pt0
		c.columns[Z2pt5][i] = s.Z2pt5
		c.columns[Backarc][i] = boolValue(s.Backarc)
	}
	return c, nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (c *Collection) Len() int {
	return len(c.sids)
}

// Complete is the size of the collection this one was derived from.
func (c *Collection) Complete() int {
	return c.complete
}

func (c *Collection) SIDs() []int {
	return append([]int(nil), c.sids...)
}

func (c *Collection) SID(i int) int {
	return c.sids[i]
}

func (c *Collection) Mesh() geo.Mesh {
	return geo.Mesh{
		Lons: append([]float64(nil), c.lons...),
		Lats: append([]float64(nil), c.lats...),
	}
}

func (c *Collection) Params() ParamSet {
	return c.params
}

// Param returns a copy of the values of p, or ErrMissingParameter when the
// collection was reduced without it.
func (c *Collection) Param(p Param) ([]float64, error) {
	if p >= numParams || !c.params.Has(p) {
		return nil, fmt.Errorf("%w: %s", ErrMissingParameter, p)
	}
	return append([]float64(nil), c.columns[p]...), nil
}

func (c *Collection) BoundingBox() geo.BBox {
	box := geo.BBox{MinLon: math.Inf(1), MinLat: math.Inf(1), MaxLon: math.Inf(-1), MaxLat: math.Inf(-1)}
	for i := range c.lons {
		box.MinLon = math.Min(box.MinLon, c.lons[i])
		box.MaxLon = math.Max(box.MaxLon, c.lons[i])
		box.MinLat = math.Min(box.MinLat, c.lats[i])
		box.MaxLat = math.Max(box.MaxLat, c.lats[i])
	}
	return box
}

// Filter keeps the sites where mask is true. It returns nil when no site
// survives.
func (c *Collection) Filter(mask []bool) *Collection {
	if len(mask) != c.Len() {
		panic(fmt.Sprintf("site mask length %d does not match collection length %d", len(mask), c.Len()))
	}
	idx := make([]int, 0, len(mask))
	for i, keep := range mask {
		if keep {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil
	}
	return c.take(idx, c.params)
}

// Reduce returns a collection carrying only the given parameters.
func (c *Collection) Reduce(params ParamSet) *Collection {
	idx := make([]int, c.Len())
	for i := range idx {
		idx[i] = i
	}
	return c.take(idx, c.params&params)
}

// Split separates the sites within dist km (hypocentral distance) of loc
// from the others. Either side is nil when empty.
func (c *Collection) Split(loc geo.Point, dist float64) (closeSites, farSites *Collection) {
	d := loc.DistanceToMesh(geo.Mesh{Lons: c.lons, Lats: c.lats}, true)
	closeMask := make([]bool, len(d))
	farMask := make([]bool, len(d))
	nClose := 0
	for i, v := range d {
		if v <= dist {
			closeMask[i] = true
			nClose++
		} else {
			farMask[i] = true
		}
	}
	if nClose == 0 {
		return nil, c
	}
	if nClose == len(d) {
		return c, nil
	}
	return c.Filter(closeMask), c.Filter(farMask)
}

func (c *Collection) take(idx []int, params ParamSet) *Collection {
	out := &Collection{
		sids:     make([]int, len(idx)),
		lons:     make([]float64, len(idx)),
		lats:     make([]float64, len(idx)),
		depths:   make([]float64, len(idx)),
		params:   params,
		complete: c.complete,
	}
	for j, i := range idx {
		out.sids[j] = c.sids[i]
		out.lons[j] = c.lons[i]
		out.lats[j] = c.lats[i]
		out.depths[j] = c.depths[i]
	}
	for _, p := range params.List() {
		col := make([]float64, len(idx))
		for j, i := range idx {
			col[j] = c.columns[p][i]
		}
		out.columns[p] = col
	}
	return out
}
