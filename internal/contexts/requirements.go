package contexts

import (
	"errors"
	"fmt"
	"strings"

	"psha/internal/site"
)

var (
	ErrUnknownDistance         = errors.New("unknown distance")
	ErrUnknownRuptureParameter = errors.New("unknown rupture parameter")
	ErrMissingParameter        = errors.New("context parameter not available")
)

// DistanceKind enumerates the site-to-rupture distance metrics.
type DistanceKind uint8

const (
	RRup DistanceKind = iota
	RX
	RY0
	RJB
	RHypo
	REpi
	Azimuth
	AzimuthCP
	RVolc
	numDistances
)

var distanceNames = [numDistances]string{"rrup", "rx", "ry0", "rjb", "rhypo", "repi", "azimuth", "azimuth_cp", "rvolc"}

func (k DistanceKind) String() string {
	if k >= numDistances {
		return fmt.Sprintf("distance(%d)", uint8(k))
	}
	return distanceNames[k]
}

func ParseDistance(name string) (DistanceKind, error) {
	for i, n := range distanceNames {
		if strings.EqualFold(n, name) {
			return DistanceKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDistance, name)
}

// DistanceSet is a bitset of distance kinds.
type DistanceSet uint16

func NewDistanceSet(kinds ...DistanceKind) DistanceSet {
	var s DistanceSet
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

func (s DistanceSet) With(k DistanceKind) DistanceSet { return s | 1<<k }
func (s DistanceSet) Has(k DistanceKind) bool { return s&(1<<k) != 0 }
func (s DistanceSet) Union(o DistanceSet) DistanceSet { return s | o }

func (s DistanceSet) List() []DistanceKind {
	out := make([]DistanceKind, 0, numDistances)
	for k := DistanceKind(0); k < numDistances; k++ {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// RuptureParam enumerates the scalar parameters a ground-motion model can
// request from a rupture. HypoLoc is recognised but cannot be computed.
type RuptureParam uint8

const (
	Mag RuptureParam = iota
	Strike
	Dip
	Rake
	ZTor
	HypoLon
	HypoLat
	HypoDepth
	Width
	HypoLoc
	numRuptureParams
)

var ruptureParamNames = [numRuptureParams]string{"mag", "strike", "dip", "rake", "ztor", "hypo_lon", "hypo_lat", "hypo_depth", "width", "hypo_loc"}

// computable lists the parameters the context builder knows how to derive.
const computable = RuptureParamSet(1<<HypoLoc - 1)

func (p RuptureParam) String() string {
	if p >= numRuptureParams {
		return fmt.Sprintf("rupture_param(%d)", uint8(p))
	}
	return ruptureParamNames[p]
}

func ParseRuptureParam(name string) (RuptureParam, error) {
	for i, n := range ruptureParamNames {
		if strings.EqualFold(n, name) {
			return RuptureParam(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRuptureParameter, name)
}

type RuptureParamSet uint16

func NewRuptureParamSet(params ...RuptureParam) RuptureParamSet {
	var s RuptureParamSet
	for _, p := range params {
		s = s.With(p)
	}
	return s
}

func (s RuptureParamSet) With(p RuptureParam) RuptureParamSet { return s | 1<<p }
func (s RuptureParamSet) Has(p RuptureParam) bool { return s&(1<<p) != 0 }
func (s RuptureParamSet) Union(o RuptureParamSet) RuptureParamSet { return s | o }

func (s RuptureParamSet) List() []RuptureParam {
	out := make([]RuptureParam, 0, numRuptureParams)
	for p := RuptureParam(0); p < numRuptureParams; p++ {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// Requirements is the capability set a ground-motion model declares.
type Requirements struct {
	Distances DistanceSet
	Sites     site.ParamSet
	Rupture   RuptureParamSet
}

func (r Requirements) Union(o Requirements) Requirements {
	return Requirements{
		Distances: r.Distances.Union(o.Distances),
		Sites:     r.Sites.Union(o.Sites),
		Rupture:   r.Rupture.Union(o.Rupture),
	}
}

type Requirer interface {
	Requirements() Requirements
}

// Union merges the requirements of every requirer.
func Union(requirers ...Requirer) Requirements {
	var out Requirements
	for _, r := range requirers {
		out = out.Union(r.Requirements())
	}
	return out
}
