package imt

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
)

var (
	ErrInvalidIMT    = errors.New("invalid intensity measure type")
	ErrInvalidLevels = errors.New("invalid intensity measure levels")
)

// IMT is an intensity measure type such as PGA, PGV or SA(0.2).
type IMT struct {
	Name   string
	Period float64
}

var saPattern = regexp.MustCompile(`^SA\(([0-9]*\.?[0-9]+)\)$`)

func Parse(s string) (IMT, error) {
	switch s {
	case "PGA", "PGV", "PGD", "MMI":
		return IMT{Name: s}, nil
	}
	if m := saPattern.FindStringSubmatch(s); m != nil {
		period, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return IMT{}, fmt.Errorf("%w: %q", ErrInvalidIMT, s)
		}
		return IMT{Name: "SA", Period: period}, nil
	}
	return IMT{}, fmt.Errorf("%w: %q", ErrInvalidIMT, s)
}

func (i IMT) String() string {
	if i.Name == "SA" {
		return "SA(" + strconv.FormatFloat(i.Period, 'f', -1, 64) + ")"
	}
	return i.Name
}

type entry struct {
	imt    IMT
	levels []float64
	start  int
}

// Levels is the ordered table of levels per intensity measure type. The
// levels of all types are concatenated into a single axis of length Len().
type Levels struct {
	entries []entry
	total   int
}

// NewLevels builds the table keeping the order of imts. Levels must be
// positive and strictly increasing for each type.
func NewLevels(imts []string, levels map[string][]float64) (Levels, error) {
	if len(imts) == 0 {
		return Levels{}, fmt.Errorf("%w: no intensity measure types", ErrInvalidLevels)
	}
	var out Levels
	seen := make(map[string]struct{}, len(imts))
	for _, name := range imts {
		if _, ok := seen[name]; ok {
			return Levels{}, fmt.Errorf("%w: duplicate type %s", ErrInvalidLevels, name)
		}
		seen[name] = struct{}{}
		parsed, err := Parse(name)
		if err != nil {
			return Levels{}, err
		}
		values := levels[name]
		if len(values) == 0 {
			return Levels{}, fmt.Errorf("%w: no levels for %s", ErrInvalidLevels, name)
		}
		if !sort.Float64sAreSorted(values) {
			return Levels{}, fmt.Errorf("%w: levels for %s are not increasing", ErrInvalidLevels, name)
		}
		for i, v := range values {
			if v <= 0 || (i > 0 && v == values[i-1]) {
				return Levels{}, fmt.Errorf("%w: level %g for %s", ErrInvalidLevels, v, name)
			}
		}
		out.entries = append(out.entries, entry{
			imt:    parsed,
			levels: append([]float64(nil), values...),
			start:  out.total,
		})
		out.total += len(values)
	}
	return out, nil
}

// Len is the total number of levels L.
func (l Levels) Len() int {
	return l.total
}

func (l Levels) NumIMTs() int {
	return len(l.entries)
}

func (l Levels) IMTs() []IMT {
	out := make([]IMT, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.imt
	}
	return out
}

// Slice returns the half-open index range of the m-th type on the level axis.
func (l Levels) Slice(m int) (start, stop int) {
	e := l.entries[m]
	return e.start, e.start + len(e.levels)
}

func (l Levels) Values(m int) []float64 {
	return append([]float64(nil), l.entries[m].levels...)
}

// LogLevels returns the natural logarithm of every level, in axis order.
func (l Levels) LogLevels() []float64 {
	out := make([]float64, 0, l.total)
	for _, e := range l.entries {
		for _, v := range e.levels {
			out = append(out, math.Log(v))
		}
	}
	return out
}
