package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"psha/internal/calc"
	"psha/internal/contexts"
	"psha/internal/geo"
	"psha/internal/gsim"
	"psha/internal/hazard"
	"psha/internal/imt"
	"psha/internal/site"
	"psha/internal/source"
	"psha/internal/tom"
)

var ErrInvalidJob = errors.New("invalid job")

const (
	KindPoint    = "point"
	KindExplicit = "explicit"
)

// Job is a hazard calculation described in YAML.
type Job struct {
	Description string `yaml:"description"`

	TimeSpan        float64 `yaml:"investigation_time"`
	TruncationLevel float64 `yaml:"truncation_level"`

	// Untruncated disables the truncation of the model distributions; an
	// omitted truncation_level means the same.
	Untruncated bool `yaml:"untruncated"`

	IntensityLevels []IMTLevels `yaml:"intensity_measure_types_and_levels"`

	MaximumDistance map[string][]contexts.MagDist `yaml:"maximum_distance"`
	FilterDistance  string                        `yaml:"filter_distance"`
	MinimumDistance float64                       `yaml:"minimum_distance"`
	Reqv            map[string]ReqvSpec           `yaml:"reqv"`

	MaxSitesDisagg      int     `yaml:"max_sites_disagg"`
	PointSourceDistance float64 `yaml:"pointsource_distance"`
	MaxRadius           float64 `yaml:"max_radius"`
	CollapseFactor      float64 `yaml:"collapse_factor"`
	CollapsePrecision   float64 `yaml:"collapse_precision"`

	GSIMs  map[string][]GSIMSpec `yaml:"gsims"`
	Sites  []site.Site           `yaml:"sites"`
	Groups []GroupSpec           `yaml:"groups"`
}

type IMTLevels struct {
	IMT    string    `yaml:"imt"`
	Levels []float64 `yaml:"levels"`
}

type ReqvSpec struct {
	Repi   []float64   `yaml:"repi"`
	Mags   []float64   `yaml:"mags"`
	Values [][]float64 `yaml:"values"`
}

type GSIMSpec struct {
	Name       string             `yaml:"name"`
	Weight     float64            `yaml:"weight"`
	Args       map[string]float64 `yaml:"args"`
	IMTWeights map[string]float64 `yaml:"imt_weights"`
}

type GroupSpec struct {
	ID          int          `yaml:"id"`
	Name        string       `yaml:"name"`
	TRT         string       `yaml:"trt"`
	RupInterdep string       `yaml:"rup_interdep"`
	SrcInterdep string       `yaml:"src_interdep"`
	Atomic      bool         `yaml:"atomic"`
	Sources     []SourceSpec `yaml:"sources"`
}

type SourceSpec struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Kind        string   `yaml:"kind"`
	MutexWeight *float64 `yaml:"mutex_weight"`

	// point sources
	Location         geo.Point           `yaml:"location"`
	UpperSeismoDepth float64             `yaml:"upper_seismogenic_depth"`
	LowerSeismoDepth float64             `yaml:"lower_seismogenic_depth"`
	MFD              source.MFD          `yaml:"mfd"`
	MSR              string              `yaml:"magnitude_scaling_relationship"`
	AspectRatio      float64             `yaml:"rupture_aspect_ratio"`
	NodalPlanes      []source.NodalPlane `yaml:"nodal_planes"`
	HypoDepths       []source.HypoDepth  `yaml:"hypo_depths"`

	// explicit sources
	Ruptures []RuptureSpec `yaml:"ruptures"`
}

type RuptureSpec struct {
	Mag            float64   `yaml:"mag"`
	Rake           float64   `yaml:"rake"`
	Hypocenter     geo.Point `yaml:"hypocenter"`
	Strike         float64   `yaml:"strike"`
	Dip            float64   `yaml:"dip"`
	Length         float64   `yaml:"length"`
	Width          float64   `yaml:"width"`
	OccurrenceRate *float64  `yaml:"occurrence_rate"`
	ProbsOccur     []float64 `yaml:"probs_occur"`
	Weight         *float64  `yaml:"weight"`
}

func LoadJob(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, err
	}
	job, err := ParseJob(data)
	if err != nil {
		return Job{}, fmt.Errorf("%s: %w", path, err)
	}
	return job, nil
}

func ParseJob(data []byte) (Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

// Build converts the job into calculator input, validating every part.
func (j Job) Build() (calc.Input, error) {
	params, err := j.params()
	if err != nil {
		return calc.Input{}, err
	}
	groups, err := j.groups()
	if err != nil {
		return calc.Input{}, err
	}
	for _, g := range groups {
		if _, ok := params.Models[g.TRT]; !ok {
			return calc.Input{}, fmt.Errorf("%w: group %d: %w: %q", ErrInvalidJob, g.ID, hazard.ErrNoModels, g.TRT)
		}
	}
	return calc.Input{Params: params, Groups: groups}, nil
}

func (j Job) params() (hazard.Params, error) {
	if len(j.Sites) == 0 {
		return hazard.Params{}, fmt.Errorf("%w: no sites", ErrInvalidJob)
	}
	sites, err := site.NewCollection(j.Sites)
	if err != nil {
		return hazard.Params{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if len(j.IntensityLevels) == 0 {
		return hazard.Params{}, fmt.Errorf("%w: no intensity measure types", ErrInvalidJob)
	}
	names := make([]string, len(j.IntensityLevels))
	values := make(map[string][]float64, len(j.IntensityLevels))
	for i, l := range j.IntensityLevels {
		names[i] = l.IMT
		values[l.IMT] = l.Levels
	}
	levels, err := imt.NewLevels(names, values)
	if err != nil {
		return hazard.Params{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	timeSpan := j.TimeSpan
	if timeSpan == 0 {
		timeSpan = 1
	}
	poisson, err := tom.NewPoisson(timeSpan)
	if err != nil {
		return hazard.Params{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	truncation := j.TruncationLevel
	if j.Untruncated || truncation == 0 {
		truncation = math.Inf(1)
	}
	if truncation < 0 {
		return hazard.Params{}, fmt.Errorf("%w: truncation level %g", ErrInvalidJob, truncation)
	}

	cparams, err := j.contextParams()
	if err != nil {
		return hazard.Params{}, err
	}
	models, err := j.models()
	if err != nil {
		return hazard.Params{}, err
	}
	return hazard.Params{
		Sites: sites,
		Options: hazard.Options{
			Levels:              levels,
			Truncation:          truncation,
			TOM:                 poisson,
			MaxSitesDisagg:      j.MaxSitesDisagg,
			PointSourceDistance: j.PointSourceDistance,
			MaxRadius:           j.MaxRadius,
			CollapseFactor:      j.CollapseFactor,
			CollapsePrecision:   j.CollapsePrecision,
		},
		Contexts: cparams,
		Models:   models,
	}, nil
}

func (j Job) contextParams() (contexts.Params, error) {
	var out contexts.Params
	if len(j.MaximumDistance) > 0 {
		dist, err := contexts.NewIntegrationDistance(j.MaximumDistance)
		if err != nil {
			return contexts.Params{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
		}
		out.MaxDistance = dist
	}
	if j.FilterDistance != "" {
		kind, err := contexts.ParseDistance(j.FilterDistance)
		if err != nil {
			return contexts.Params{}, fmt.Errorf("%w: filter_distance: %w", ErrInvalidJob, err)
		}
		out.FilterDistance = kind
	}
	if j.MinimumDistance < 0 {
		return contexts.Params{}, fmt.Errorf("%w: minimum_distance %g", ErrInvalidJob, j.MinimumDistance)
	}
	out.MinimumDistance = j.MinimumDistance
	if len(j.Reqv) > 0 {
		out.Reqv = make(map[string]*contexts.ReqvTable, len(j.Reqv))
		for trt, spec := range j.Reqv {
			table, err := contexts.NewReqvTable(spec.Repi, spec.Mags, spec.Values)
			if err != nil {
				return contexts.Params{}, fmt.Errorf("%w: reqv %q: %w", ErrInvalidJob, trt, err)
			}
			out.Reqv[trt] = table
		}
	}
	return out, nil
}

func (j Job) models() (map[string]gsim.Set, error) {
	if len(j.GSIMs) == 0 {
		return nil, fmt.Errorf("%w: no gsims", ErrInvalidJob)
	}
	out := make(map[string]gsim.Set, len(j.GSIMs))
	for trt, specs := range j.GSIMs {
		if len(specs) == 0 {
			return nil, fmt.Errorf("%w: no gsims for %q", ErrInvalidJob, trt)
		}
		set := make(gsim.Set, 0, len(specs))
		for _, spec := range specs {
			model, err := gsim.New(spec.Name, spec.Args)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %w", ErrInvalidJob, trt, err)
			}
			weight := spec.Weight
			if weight == 0 {
				weight = 1 / float64(len(specs))
			}
			if weight < 0 {
				return nil, fmt.Errorf("%w: %q: negative weight for %s", ErrInvalidJob, trt, spec.Name)
			}
			set = append(set, gsim.Entry{Model: model, Weight: weight, IMTWeights: spec.IMTWeights})
		}
		out[trt] = set
	}
	return out, nil
}

func (j Job) groups() ([]source.Group, error) {
	if len(j.Groups) == 0 {
		return nil, fmt.Errorf("%w: no source groups", ErrInvalidJob)
	}
	seen := make(map[int]bool, len(j.Groups))
	out := make([]source.Group, 0, len(j.Groups))
	idx := 0
	for _, spec := range j.Groups {
		if seen[spec.ID] {
			return nil, fmt.Errorf("%w: duplicate group id %d", ErrInvalidJob, spec.ID)
		}
		seen[spec.ID] = true
		rupInterdep, err := source.ParseInterdep(spec.RupInterdep)
		if err != nil {
			return nil, fmt.Errorf("%w: group %d: %w", ErrInvalidJob, spec.ID, err)
		}
		srcInterdep, err := source.ParseInterdep(spec.SrcInterdep)
		if err != nil {
			return nil, fmt.Errorf("%w: group %d: %w", ErrInvalidJob, spec.ID, err)
		}
		g := source.Group{
			ID:          spec.ID,
			Name:        spec.Name,
			TRT:         spec.TRT,
			RupInterdep: rupInterdep,
			SrcInterdep: srcInterdep,
			Atomic:      spec.Atomic,
		}
		for _, ss := range spec.Sources {
			base := source.Base{Idx: idx, ID: ss.ID, Name: ss.Name, TRT: spec.TRT, MutexW: valueOrNaN(ss.MutexWeight), Groups: []int{spec.ID}}
			src, err := buildSource(base, ss)
			if err != nil {
				return nil, fmt.Errorf("%w: group %d: %w", ErrInvalidJob, spec.ID, err)
			}
			g.Sources = append(g.Sources, src)
			idx++
		}
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func scalingRelation(name string) (source.ScalingRelation, error) {
	switch name {
	case "", "WC1994":
		return source.WC1994{}, nil
	case "PointMSR":
		return source.PointMSR{}, nil
	default:
		return nil, fmt.Errorf("unknown magnitude scaling relationship %q", name)
	}
}

func buildSource(base source.Base, spec SourceSpec) (source.Source, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("source %d: id is required", base.Idx)
	}
	switch spec.Kind {
	case KindPoint:
		msr, err := scalingRelation(spec.MSR)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", spec.ID, err)
		}
		src := &source.PointSource{
			Base:             base,
			Loc:              spec.Location,
			UpperSeismoDepth: spec.UpperSeismoDepth,
			LowerSeismoDepth: spec.LowerSeismoDepth,
			MFD:              spec.MFD,
			MSR:              msr,
			AspectRatio:      spec.AspectRatio,
			NodalPlanes:      spec.NodalPlanes,
			Depths:           spec.HypoDepths,
		}
		if err := src.Validate(); err != nil {
			return nil, err
		}
		return src, nil
	case KindExplicit:
		rups := make([]source.Rupture, len(spec.Ruptures))
		for k, rs := range spec.Ruptures {
			surface, err := geo.NewPlanarSurface(rs.Hypocenter, rs.Strike, rs.Dip, rs.Length, rs.Width)
			if err != nil {
				return nil, fmt.Errorf("source %s rupture %d: %w", spec.ID, k, err)
			}
			rups[k] = source.Rupture{
				Mag:            rs.Mag,
				Rake:           rs.Rake,
				Hypocenter:     rs.Hypocenter,
				Surface:        surface,
				OccurrenceRate: valueOrNaN(rs.OccurrenceRate),
				ProbsOccur:     rs.ProbsOccur,
				Weight:         valueOrNaN(rs.Weight),
			}
		}
		src, err := source.NewExplicitSource(base, rups)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("source %s: unknown kind %q", spec.ID, spec.Kind)
	}
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
