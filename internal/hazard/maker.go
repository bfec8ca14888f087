package hazard

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"psha/internal/contexts"
	"psha/internal/gsim"
	"psha/internal/imt"
	"psha/internal/pmap"
	"psha/internal/site"
	"psha/internal/source"
	"psha/internal/tom"
)

const (
	DefaultMaxSitesDisagg = 10
	DefaultCollapseFactor = 3.0
)

// Options are the calculation parameters shared by every unit of work.
type Options struct {
	Levels     imt.Levels
	Truncation float64
	TOM        tom.Model

	// MaxSitesDisagg is the site count up to which rupture rows are
	// collected and point sources are not split.
	MaxSitesDisagg int

	// PointSourceDistance, when positive, is the fixed distance beyond which
	// point source ruptures are collapsed.
	PointSourceDistance float64

	// MaxRadius, when positive, caps the integration distance of point
	// sources at MaxRadius times the rupture radius.
	MaxRadius float64

	CollapseFactor    float64
	CollapsePrecision float64
}

func (o Options) withDefaults() Options {
	if o.MaxSitesDisagg <= 0 {
		o.MaxSitesDisagg = DefaultMaxSitesDisagg
	}
	if o.CollapseFactor <= 0 {
		o.CollapseFactor = DefaultCollapseFactor
	}
	return o
}

// SourceResult is what a single source contributed.
type SourceResult struct {
	// PoEs is the exceedance map of the source, before the mutex weight.
	PoEs *pmap.Map

	Stats         SourceStats
	TotalRuptures int

	// MaxDist is the mean effective integration distance used for point
	// source splitting, 0 when the source was not split.
	MaxDist float64

	RupData []RupRow
}

// PmapMaker computes the probability maps of the sources of one group.
type PmapMaker struct {
	cmaker    *contexts.ContextMaker
	group     source.Group
	models    gsim.Set
	opts      Options
	rupIndep  bool
	srcMutex  bool
	collapser contexts.Collapser
}

func NewPmapMaker(cmaker *contexts.ContextMaker, group source.Group, models gsim.Set, opts Options) *PmapMaker {
	opts = opts.withDefaults()
	return &PmapMaker{
		cmaker:    cmaker,
		group:     group,
		models:    models,
		opts:      opts,
		rupIndep:  group.RupInterdep != source.Mutex,
		srcMutex:  group.SrcInterdep == source.Mutex,
		collapser: contexts.Collapser{Precision: opts.CollapsePrecision},
	}
}

type magBin struct {
	mag  float64
	rups []source.Rupture
}

// binRuptures groups consecutive ruptures of equal magnitude.
func binRuptures(src source.Source, model tom.Model) []magBin {
	var bins []magBin
	for rup := range src.Ruptures(model) {
		if n := len(bins); n > 0 && bins[n-1].mag == rup.Mag {
			bins[n-1].rups = append(bins[n-1].rups, rup)
			continue
		}
		bins = append(bins, magBin{mag: rup.Mag, rups: []source.Rupture{rup}})
	}
	return bins
}

// Make evaluates src on sites and folds its contribution into the maps of
// the groups the source belongs to, creating them when missing.
func (pm *PmapMaker) Make(src source.Source, sites *site.Collection, groups map[int]*pmap.Map) (SourceResult, error) {
	l, g := pm.opts.Levels.Len(), len(pm.models)
	lg := l * g
	fewSites := sites.Complete() <= pm.opts.MaxSitesDisagg
	imts := pm.opts.Levels.IMTs()

	poemap := pmap.New(l, g)
	res := SourceResult{}
	var dists []float64
	pne := make([]float64, lg)
	for _, tup := range pm.tuples(src, sites, binRuptures(src, pm.opts.TOM)) {
		start := time.Now()
		if tup.mdist > 0 {
			dists = append(dists, tup.mdist)
		}
		ctxs, err := pm.cmaker.MakeContextsAll(tup.rups, tup.sites, tup.mdist)
		if err != nil {
			return SourceResult{}, err
		}
		res.TotalRuptures += len(ctxs)
		if pm.rupIndep {
			ctxs = pm.collapser.Collapse(ctxs)
		}
		stats := SourceStats{NumRuptures: len(ctxs)}
		for _, ctx := range ctxs {
			if fewSites {
				row, err := newRupRow(src.Index(), ctx)
				if err != nil {
					return SourceResult{}, err
				}
				res.RupData = append(res.RupData, row)
			}
			ms, err := pm.models.MeanStd(ctx, imts)
			if err != nil {
				return SourceResult{}, err
			}
			poes := pm.models.PoEs(ms, pm.opts.Levels, pm.opts.Truncation)
			rup := ctx.Rupture
			if !pm.rupIndep && !rup.HasWeight() {
				return SourceResult{}, fmt.Errorf("mutually exclusive rupture %d has no weight", rup.ID)
			}
			for i := 0; i < ctx.Sites.Len(); i++ {
				if err := rup.ProbabilityNoExceedance(poes[i*lg:(i+1)*lg], pne); err != nil {
					return SourceResult{}, err
				}
				sid := ctx.Sites.SID(i)
				if pm.rupIndep {
					curve := poemap.SetDefault(sid, 1)
					for k := range curve {
						curve[k] *= pne[k]
					}
					continue
				}
				curve := poemap.SetDefault(sid, 0)
				for k := range curve {
					curve[k] += (1 - pne[k]) * rup.Weight
				}
			}
			stats.NumSites += ctx.Sites.Len()
		}
		stats.Elapsed = time.Since(start)
		res.Stats = res.Stats.Add(stats)
	}
	if len(dists) > 0 {
		res.MaxDist = floats.Sum(dists) / float64(len(dists))
	}
	if pm.rupIndep {
		poemap = poemap.Complement()
	}
	res.PoEs = poemap
	if err := pm.update(groups, poemap, src); err != nil {
		return SourceResult{}, err
	}
	return res, nil
}

func (pm *PmapMaker) update(groups map[int]*pmap.Map, poes *pmap.Map, src source.Source) error {
	if poes.Len() == 0 {
		return nil
	}
	if pm.srcMutex {
		poes = poes.Scale(src.MutexWeight())
	}
	l, g := poes.Shape()
	for _, gid := range src.GroupIDs() {
		acc, ok := groups[gid]
		if !ok {
			acc = pmap.New(l, g)
			groups[gid] = acc
		}
		var err error
		if pm.srcMutex {
			err = acc.CombineMutex(poes)
		} else {
			err = acc.CombineIndependent(poes)
		}
		if err != nil {
			return fmt.Errorf("group %d: %w", gid, err)
		}
	}
	return nil
}
