package hazard

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psha/internal/contexts"
	"psha/internal/geo"
	"psha/internal/gsim"
	"psha/internal/imt"
	"psha/internal/pmap"
	"psha/internal/site"
	"psha/internal/source"
	"psha/internal/tom"
)

const trt = "Active Shallow Crust"

func testParams(t *testing.T, modelName string, sites ...geo.Point) Params {
	t.Helper()
	list := make([]site.Site, len(sites))
	for i, loc := range sites {
		list[i] = site.Site{ID: i, Location: loc, VS30: 760}
	}
	collection, err := site.NewCollection(list)
	require.NoError(t, err)
	levels, err := imt.NewLevels([]string{"PGA"}, map[string][]float64{"PGA": {0.05, 0.1, 0.2}})
	require.NoError(t, err)
	poisson, err := tom.NewPoisson(1)
	require.NoError(t, err)
	model, err := gsim.New(modelName, nil)
	require.NoError(t, err)
	return Params{
		Sites:    collection,
		Options:  Options{Levels: levels, Truncation: math.Inf(1), TOM: poisson},
		Contexts: contexts.Params{MaxDistance: contexts.ConstantDistance(100)},
		Models:   map[string]gsim.Set{trt: {{Model: model, Weight: 1}}},
	}
}

func explicitSource(t *testing.T, idx int, id string, loc geo.Point, rups ...source.Rupture) *source.ExplicitSource {
	t.Helper()
	surface, err := geo.NewPlanarSurface(geo.Point{Lon: loc.Lon, Lat: loc.Lat, Depth: 10}, 0, 90, 10, 5)
	require.NoError(t, err)
	for i := range rups {
		rups[i].Surface = surface
		rups[i].Hypocenter = geo.Point{Lon: loc.Lon, Lat: loc.Lat, Depth: 10}
		if rups[i].Mag == 0 {
			rups[i].Mag = 6
		}
	}
	src, err := source.NewExplicitSource(source.Base{Idx: idx, ID: id, TRT: trt, Groups: []int{0}}, rups)
	require.NoError(t, err)
	return src
}

func parametric(rate float64) source.Rupture {
	return source.Rupture{OccurrenceRate: rate, Weight: math.NaN()}
}

func nonParametric(weight float64, probs ...float64) source.Rupture {
	return source.Rupture{OccurrenceRate: math.NaN(), ProbsOccur: probs, Weight: weight}
}

func TestClassicalFarSiteIsAbsent(t *testing.T) {
	params := testParams(t, "constant", geo.Point{Lon: 0.1}, geo.Point{Lon: 0.85, Lat: 0.5})
	src := explicitSource(t, 0, "src", geo.Point{}, parametric(0.01))
	task := Task{Number: 0, Group: source.Group{ID: 0, TRT: trt, Sources: []source.Source{src}}}

	res, err := Classical(context.Background(), task, params)
	require.NoError(t, err)
	require.Contains(t, res.PMaps, 0)
	pm := res.PMaps[0]
	assert.Equal(t, []int{0}, pm.SIDs())
	v, ok := pm.At(0, 1, 0)
	require.True(t, ok)
	assert.InDelta(t, 1-math.Exp(-0.01*0.5), v, 1e-12)
	for _, x := range mustCurve(t, pm, 0) {
		if x < 0 || x > 1 {
			t.Fatalf("value out of range: %f", x)
		}
	}
	assert.Equal(t, 1, res.TotalRuptures)
	assert.Equal(t, SourceStats{NumRuptures: 1, NumSites: 1}, withoutElapsed(res.Stats["src"]))
}

func withoutElapsed(s SourceStats) SourceStats {
	s.Elapsed = 0
	return s
}

func mustCurve(t *testing.T, pm *pmap.Map, sid int) []float64 {
	t.Helper()
	curve, ok := pm.Curve(sid)
	if !ok {
		t.Fatalf("missing site %d", sid)
	}
	return curve
}

func TestMakeSkipsFarAwayRupture(t *testing.T) {
	params := testParams(t, "constant", geo.Point{Lon: 0.1})
	cmaker, models, err := NewContextMaker(trt, params)
	require.NoError(t, err)
	group := source.Group{ID: 0, TRT: trt}
	pm := NewPmapMaker(cmaker, group, models, params.Options)

	near := explicitSource(t, 0, "near", geo.Point{}, parametric(0.01))
	far := explicitSource(t, 1, "far", geo.Point{Lon: 3}, parametric(0.01))

	only := map[int]*pmap.Map{}
	res, err := pm.Make(near, params.Sites, only)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalRuptures)

	both := map[int]*pmap.Map{}
	_, err = pm.Make(near, params.Sites, both)
	require.NoError(t, err)
	res, err = pm.Make(far, params.Sites, both)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalRuptures)
	assert.Equal(t, 0, res.PoEs.Len())
	assert.True(t, pmap.ApproxEqual(only[0], both[0], 0))
}

func TestMutexSourcesCombineByWeight(t *testing.T) {
	params := testParams(t, "constant", geo.Point{Lon: 0.1})
	first := explicitSource(t, 0, "a", geo.Point{}, nonParametric(math.NaN(), 0.6, 0.4))
	second := explicitSource(t, 1, "b", geo.Point{}, nonParametric(math.NaN(), 0.2, 0.8))
	first.MutexW = 0.3
	second.MutexW = 0.7
	group := source.Group{ID: 0, TRT: trt, Sources: []source.Source{first, second}, SrcInterdep: source.Mutex}
	require.NoError(t, group.Validate())

	res, err := Classical(context.Background(), Task{Group: group}, params)
	require.NoError(t, err)
	// poe at the median level is 0.5: the sources exceed with 0.2 and 0.4
	v, ok := res.PMaps[0].At(0, 1, 0)
	require.True(t, ok)
	assert.InDelta(t, 0.34, v, 1e-12)
}

func TestMutexRupturesCombineByWeight(t *testing.T) {
	params := testParams(t, "constant", geo.Point{Lon: 0.1})
	src := explicitSource(t, 0, "a", geo.Point{}, nonParametric(0.5, 0.6, 0.4), nonParametric(0.5, 0.2, 0.8))
	group := source.Group{ID: 0, TRT: trt, Sources: []source.Source{src}, RupInterdep: source.Mutex}

	res, err := Classical(context.Background(), Task{Group: group}, params)
	require.NoError(t, err)
	v, ok := res.PMaps[0].At(0, 1, 0)
	require.True(t, ok)
	assert.InDelta(t, 0.5*0.2+0.5*0.4, v, 1e-12)
	assert.Equal(t, 2, res.Stats["a"].NumRuptures, "mutex ruptures are never collapsed")
}

func TestMutexRuptureWithoutWeightFails(t *testing.T) {
	params := testParams(t, "constant", geo.Point{Lon: 0.1})
	src := explicitSource(t, 0, "noweight", geo.Point{}, nonParametric(math.NaN(), 0.6, 0.4))
	group := source.Group{ID: 0, TRT: trt, Sources: []source.Source{src}, RupInterdep: source.Mutex}

	_, err := Classical(context.Background(), Task{Group: group}, params)
	var srcErr *SourceError
	if !errors.As(err, &srcErr) || srcErr.SourceID != "noweight" {
		t.Fatalf("expected SourceError for noweight, got %v", err)
	}
}

func TestClassicalAnnotatesSourceErrors(t *testing.T) {
	params := testParams(t, "constant", geo.Point{Lon: 0.1})
	params.Options.TOM = nil
	good := explicitSource(t, 0, "good", geo.Point{}, nonParametric(math.NaN(), 0.5, 0.5))
	bad := explicitSource(t, 7, "bad", geo.Point{}, parametric(0.01))
	task := Task{Group: source.Group{ID: 0, TRT: trt, Sources: []source.Source{good, bad}}}

	_, err := Classical(context.Background(), task, params)
	var srcErr *SourceError
	require.True(t, errors.As(err, &srcErr), "got %v", err)
	assert.Equal(t, "bad", srcErr.SourceID)
	assert.Equal(t, 7, srcErr.Index)
	assert.ErrorIs(t, err, source.ErrNoTemporalModel)
	assert.Contains(t, err.Error(), "(source id=bad)")
}

func TestClassicalStopsOnCancellation(t *testing.T) {
	params := testParams(t, "constant", geo.Point{Lon: 0.1})
	src := explicitSource(t, 0, "src", geo.Point{}, parametric(0.01))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Classical(ctx, Task{Group: source.Group{ID: 0, TRT: trt, Sources: []source.Source{src}}}, params)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassicalCollectsRuptureRowsForFewSites(t *testing.T) {
	params := testParams(t, "attenuation", geo.Point{Lon: 0.1}, geo.Point{Lon: 0.3})
	src := explicitSource(t, 4, "src", geo.Point{}, parametric(0.01), parametric(0.02))
	res, err := Classical(context.Background(), Task{Group: source.Group{ID: 0, TRT: trt, Sources: []source.Source{src}}}, params)
	require.NoError(t, err)

	// identical ruptures collapse into one row
	require.Len(t, res.RupData, 1)
	row := res.RupData[0]
	assert.Equal(t, 0, row.GroupID)
	assert.Equal(t, 4, row.SourceIndex)
	assert.InDelta(t, 0.03, row.OccurrenceRate, 1e-15)
	assert.Equal(t, []int{0, 1}, row.SIDs)
	assert.Len(t, row.Distances["rrup"], 2)
	assert.Contains(t, row.Params, "mag")
	assert.Len(t, row.Lons, 2)
	assert.Equal(t, 2, res.TotalRuptures)
	assert.Equal(t, 1, res.Stats["src"].NumRuptures)
}

func testPointSource(idx int, id string, loc geo.Point) *source.PointSource {
	return &source.PointSource{
		Base:             source.Base{Idx: idx, ID: id, TRT: trt, Groups: []int{0}},
		Loc:              loc,
		UpperSeismoDepth: 0,
		LowerSeismoDepth: 20,
		MFD:              source.MFD{MinMag: 5, BinWidth: 0.5, Rates: []float64{0.02, 0.005, 0.001}},
		MSR:              source.WC1994{},
		AspectRatio:      1.5,
		NodalPlanes: []source.NodalPlane{
			{Weight: 0.6, Strike: 0, Dip: 90, Rake: 0},
			{Weight: 0.4, Strike: 45, Dip: 60, Rake: 90},
		},
		Depths: []source.HypoDepth{{Weight: 0.5, Depth: 5}, {Weight: 0.5, Depth: 12}},
	}
}

func gridSites(n int) []geo.Point {
	out := make([]geo.Point, n)
	for i := range out {
		out[i] = geo.Point{Lon: 0.05 * float64(i%4), Lat: 0.05 * float64(i/4)}
	}
	return out
}

func TestPointSourceTuplesPartitionSites(t *testing.T) {
	params := testParams(t, "attenuation", gridSites(12)...)
	params.Options.PointSourceDistance = 10
	cmaker, models, err := NewContextMaker(trt, params)
	require.NoError(t, err)
	pm := NewPmapMaker(cmaker, source.Group{ID: 0, TRT: trt}, models, params.Options)
	src := testPointSource(0, "pt", geo.Point{Lon: 0.02, Lat: 0.02})
	require.NoError(t, src.Validate())

	bins := binRuptures(src, params.Options.TOM)
	require.Len(t, bins, 3)
	perMag := map[float64][]int{}
	for _, tup := range pm.tuples(src, params.Sites, bins) {
		mag := tup.rups[0].Mag
		perMag[mag] = append(perMag[mag], tup.sites.SIDs()...)
		if len(tup.rups) == 1 {
			assert.InDelta(t, rateOf(bins, mag), tup.rups[0].OccurrenceRate, 1e-15)
		} else {
			assert.Len(t, tup.rups, src.CountNPHC())
		}
		assert.Greater(t, tup.mdist, 0.0)
	}
	require.Len(t, perMag, 3)
	for mag, sids := range perMag {
		sort.Ints(sids)
		assert.Equal(t, params.Sites.SIDs(), sids, "magnitude %.1f", mag)
	}
}

func rateOf(bins []magBin, mag float64) float64 {
	for _, b := range bins {
		if b.mag == mag {
			total := 0.0
			for _, r := range b.rups {
				total += r.OccurrenceRate
			}
			return total
		}
	}
	return math.NaN()
}

func TestPointSourceTuplesNotSplitForFewSites(t *testing.T) {
	params := testParams(t, "attenuation", gridSites(3)...)
	cmaker, models, err := NewContextMaker(trt, params)
	require.NoError(t, err)
	pm := NewPmapMaker(cmaker, source.Group{ID: 0, TRT: trt}, models, params.Options)
	src := testPointSource(0, "pt", geo.Point{})

	bins := binRuptures(src, params.Options.TOM)
	tuples := pm.tuples(src, params.Sites, bins)
	require.Len(t, tuples, len(bins))
	for _, tup := range tuples {
		assert.Equal(t, 0.0, tup.mdist)
		assert.Equal(t, 3, tup.sites.Len())
	}
}

func reduceTasks(t *testing.T, params Params, blocks [][]source.Source) *Accumulator {
	t.Helper()
	acc := NewAccumulator()
	for i, block := range blocks {
		res, err := Classical(context.Background(), Task{Number: i, Group: source.Group{ID: 0, TRT: trt, Sources: block}}, params)
		require.NoError(t, err)
		require.NoError(t, acc.Add(res))
	}
	return acc
}

func TestReductionIsPartitionIndependent(t *testing.T) {
	params := testParams(t, "attenuation", gridSites(12)...)
	params.Options.PointSourceDistance = 15
	var sources []source.Source
	for i := 0; i < 6; i++ {
		src := testPointSource(i, "pt"+string(rune('a'+i)), geo.Point{Lon: 0.1 * float64(i), Lat: 0.03 * float64(i)})
		require.NoError(t, src.Validate())
		sources = append(sources, src)
	}

	single := reduceTasks(t, params, [][]source.Source{sources})
	for _, k := range []int{2, 3, 6} {
		size := len(sources) / k
		blocks := make([][]source.Source, 0, k)
		for i := 0; i < len(sources); i += size {
			blocks = append(blocks, sources[i:i+size])
		}
		split := reduceTasks(t, params, blocks)
		if !pmap.ApproxEqual(single.PMaps[0], split.PMaps[0], 1e-6) {
			t.Fatalf("k=%d: probability maps differ", k)
		}
		assert.Equal(t, single.TotalRuptures, split.TotalRuptures, "k=%d", k)
		assert.Equal(t, single.ConsideredRuptures(), split.ConsideredRuptures(), "k=%d", k)
		assert.Equal(t, single.EffRuptures, split.EffRuptures, "k=%d", k)
		assert.Equal(t, single.Stats.SourceIDs(), split.Stats.SourceIDs(), "k=%d", k)
		assert.Len(t, split.SourcesByTask, k)
	}
}

func TestAccumulatorMergeMatchesAdd(t *testing.T) {
	params := testParams(t, "attenuation", gridSites(4)...)
	var results []TaskResult
	for i := 0; i < 3; i++ {
		src := explicitSource(t, i, "src"+string(rune('a'+i)), geo.Point{Lon: 0.05 * float64(i)}, parametric(0.01*float64(i+1)))
		res, err := Classical(context.Background(), Task{Number: i, Group: source.Group{ID: 0, TRT: trt, Sources: []source.Source{src}}}, params)
		require.NoError(t, err)
		results = append(results, res)
	}

	all := NewAccumulator()
	for _, res := range results {
		require.NoError(t, all.Add(res))
	}
	left := NewAccumulator()
	require.NoError(t, left.Add(results[2]))
	right := NewAccumulator()
	require.NoError(t, right.Add(results[0]))
	require.NoError(t, right.Add(results[1]))
	require.NoError(t, left.Merge(right))

	assert.True(t, pmap.ApproxEqual(all.PMaps[0], left.PMaps[0], 1e-12))
	assert.Equal(t, all.TotalRuptures, left.TotalRuptures)
	assert.Equal(t, all.EffRuptures, left.EffRuptures)
	assert.Equal(t, all.SourcesByTask, left.SourcesByTask)
	assert.Len(t, left.RupData, len(all.RupData))

	if err := left.Add(results[0]); err == nil {
		t.Fatal("expected duplicate task error")
	}
}

func TestPreclassicalCountsOnly(t *testing.T) {
	params := testParams(t, "attenuation", geo.Point{Lon: 0.1})
	near := testPointSource(0, "near", geo.Point{})
	far := testPointSource(1, "far", geo.Point{Lon: 20})
	task := Task{Number: 3, Group: source.Group{ID: 0, TRT: trt, Sources: []source.Source{near, far}}}

	res, err := Preclassical(context.Background(), task, params)
	require.NoError(t, err)
	assert.Equal(t, near.NumRuptures(), res.TotalRuptures)
	assert.Equal(t, []string{"near"}, res.Stats.SourceIDs())
	require.Contains(t, res.PMaps, 0)
	assert.Equal(t, 0, res.PMaps[0].Len())

	acc := NewAccumulator()
	require.NoError(t, acc.Add(res))
	assert.Equal(t, near.NumRuptures(), acc.EffRuptures[0])
	assert.Equal(t, TaskSummary{EffRuptures: near.NumRuptures(), EffSites: 1.0 / float64(near.NumRuptures()), SourceIDs: []string{"near"}}, acc.SourcesByTask[3])
}

func TestPointSourceTuplesKeepMutexRuptures(t *testing.T) {
	params := testParams(t, "attenuation", gridSites(12)...)
	params.Options.PointSourceDistance = 10
	cmaker, models, err := NewContextMaker(trt, params)
	require.NoError(t, err)
	pm := NewPmapMaker(cmaker, source.Group{ID: 0, TRT: trt, RupInterdep: source.Mutex}, models, params.Options)
	src := testPointSource(0, "pt", geo.Point{Lon: 0.02, Lat: 0.02})
	require.NoError(t, src.Validate())

	tuples := pm.tuples(src, params.Sites, binRuptures(src, params.Options.TOM))
	require.Greater(t, len(tuples), 3, "sites are split into close and far")
	for _, tup := range tuples {
		assert.Len(t, tup.rups, src.CountNPHC())
	}
}

func TestClassicalKeepsGroupWithoutCloseSites(t *testing.T) {
	params := testParams(t, "constant", geo.Point{Lon: 0.1})
	far := explicitSource(t, 0, "far", geo.Point{Lon: 20}, parametric(0.01))
	res, err := Classical(context.Background(), Task{Group: source.Group{ID: 0, TRT: trt, Sources: []source.Source{far}}}, params)
	require.NoError(t, err)
	require.Contains(t, res.PMaps, 0)
	assert.Equal(t, 0, res.PMaps[0].Len())
	assert.Empty(t, res.Stats.SourceIDs())
}

func TestAccumulatorRegistersEmptyGroups(t *testing.T) {
	params := testParams(t, "constant", geo.Point{Lon: 0.1})
	acc := NewAccumulator()
	empty := TaskResult{TaskNumber: 0, PMaps: map[int]*pmap.Map{0: pmap.New(3, 1), 1: pmap.New(3, 1)}, Stats: make(Diagnostics)}
	require.NoError(t, acc.Add(empty))
	require.Contains(t, acc.PMaps, 0)
	require.Contains(t, acc.PMaps, 1)
	assert.Equal(t, 0, acc.PMaps[1].Len())

	src := explicitSource(t, 0, "src", geo.Point{}, parametric(0.01))
	res, err := Classical(context.Background(), Task{Number: 1, Group: source.Group{ID: 0, TRT: trt, Sources: []source.Source{src}}}, params)
	require.NoError(t, err)
	require.NoError(t, acc.Add(res))
	assert.True(t, pmap.ApproxEqual(res.PMaps[0], acc.PMaps[0], 0))

	other := NewAccumulator()
	require.NoError(t, other.Merge(acc))
	assert.Contains(t, other.PMaps, 1)
}

// shiftedRupture is a vertical rupture centered lon degrees east of the
// origin.
func shiftedRupture(t *testing.T, lon float64) source.Rupture {
	t.Helper()
	center := geo.Point{Lon: lon, Depth: 10}
	surface, err := geo.NewPlanarSurface(center, 0, 90, 10, 5)
	require.NoError(t, err)
	return source.Rupture{Mag: 6, OccurrenceRate: 0.002, Weight: math.NaN(), Surface: surface, Hypocenter: center}
}

func TestCollapsingErrorIsBoundedByPrecision(t *testing.T) {
	params := testParams(t, "attenuation", geo.Point{Lon: 0.1})
	// ten ruptures about 10 m apart, all within one collapse step
	rups := make([]source.Rupture, 10)
	totalRate := 0.0
	for k := range rups {
		rups[k] = shiftedRupture(t, 1e-4*float64(k))
		totalRate += rups[k].OccurrenceRate
	}
	src, err := source.NewExplicitSource(source.Base{Idx: 0, ID: "near", TRT: trt, Groups: []int{0}}, rups)
	require.NoError(t, err)

	run := func(precision float64) (SourceResult, *pmap.Map) {
		opts := params.Options
		opts.CollapsePrecision = precision
		cmaker, models, err := NewContextMaker(trt, params)
		require.NoError(t, err)
		pm := NewPmapMaker(cmaker, source.Group{ID: 0, TRT: trt}, models, opts)
		groups := map[int]*pmap.Map{}
		res, err := pm.Make(src, params.Sites, groups)
		require.NoError(t, err)
		require.Contains(t, groups, 0)
		return res, groups[0]
	}

	const precision = 1e-2
	exact, exactMap := run(1e-6)
	collapsed, collapsedMap := run(precision)
	assert.Equal(t, 10, exact.Stats.NumRuptures)
	assert.LessOrEqual(t, collapsed.Stats.NumRuptures, 2)
	assert.Equal(t, exact.TotalRuptures, collapsed.TotalRuptures)

	diff, err := pmap.MaxDiff(exactMap, collapsedMap)
	require.NoError(t, err)
	assert.Less(t, diff, precision*totalRate)
}
