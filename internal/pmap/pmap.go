package pmap

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrShapeMismatch = errors.New("probability map shape mismatch")

// one is the largest probability stored in exported curves.
var one = math.Nextafter(1, 0)

// Map is a sparse mapping from site id to an L x G array of probabilities
// laid out as level*G + model. Absent sites are the identity of the
// combination in use. Complement only toggles a flag; values are flipped the
// first time the map is written to.
type Map struct {
	l, g         int
	curves       map[int][]float64
	complemented bool
}

func New(l, g int) *Map {
	if l <= 0 || g <= 0 {
		panic(fmt.Sprintf("invalid probability map shape %dx%d", l, g))
	}
	return &Map{l: l, g: g, curves: make(map[int][]float64)}
}

func (m *Map) Shape() (l, g int) { return m.l, m.g }
func (m *Map) Len() int { return len(m.curves) }

func (m *Map) Has(sid int) bool {
	_, ok := m.curves[sid]
	return ok
}

func (m *Map) SIDs() []int {
	out := make([]int, 0, len(m.curves))
	for sid := range m.curves {
		out = append(out, sid)
	}
	sort.Ints(out)
	return out
}

func (m *Map) value(raw float64) float64 {
	if m.complemented {
		return 1 - raw
	}
	return raw
}

// Curve returns a copy of the values of sid.
func (m *Map) Curve(sid int) ([]float64, bool) {
	raw, ok := m.curves[sid]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = m.value(v)
	}
	return out, true
}

// At returns the value of sid at (level, model), and false when sid is
// absent.
func (m *Map) At(sid, level, model int) (float64, bool) {
	raw, ok := m.curves[sid]
	if !ok {
		return 0, false
	}
	return m.value(raw[level*m.g+model]), true
}

func (m *Map) materialize() {
	if !m.complemented {
		return
	}
	for _, raw := range m.curves {
		for i, v := range raw {
			raw[i] = 1 - v
		}
	}
	m.complemented = false
}

// SetDefault returns the curve of sid, creating it filled with init when
// absent. The returned slice belongs to the map and may be written to.
func (m *Map) SetDefault(sid int, init float64) []float64 {
	m.materialize()
	if raw, ok := m.curves[sid]; ok {
		return raw
	}
	raw := make([]float64, m.l*m.g)
	for i := range raw {
		raw[i] = init
	}
	m.curves[sid] = raw
	return raw
}

func (m *Map) Clone() *Map {
	out := &Map{l: m.l, g: m.g, curves: make(map[int][]float64, len(m.curves)), complemented: m.complemented}
	for sid, raw := range m.curves {
		out.curves[sid] = append([]float64(nil), raw...)
	}
	return out
}

// Complement returns the map of 1 - v. Complementing twice gives back the
// original values exactly.
func (m *Map) Complement() *Map {
	out := m.Clone()
	out.complemented = !m.complemented
	return out
}

func (m *Map) checkShape(o *Map) error {
	if m.l != o.l || m.g != o.g {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, m.l, m.g, o.l, o.g)
	}
	return nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CombineIndependent sets m to m | o: 1 - (1-m)(1-o) where both have a
// site, the union of sites otherwise.
func (m *Map) CombineIndependent(o *Map) error {
	if err := m.checkShape(o); err != nil {
		return err
	}
	m.materialize()
	for sid, raw := range o.curves {
		cur, ok := m.curves[sid]
		if !ok {
			cur = make([]float64, len(raw))
			for i, v := range raw {
				cur[i] = clamp(o.value(v))
			}
			m.curves[sid] = cur
			continue
		}
		for i, v := range raw {
			cur[i] = clamp(1 - (1-cur[i])*(1-o.value(v)))
		}
	}
	return nil
}

// CombineMutex sets m to m + o elementwise.
func (m *Map) CombineMutex(o *Map) error {
	if err := m.checkShape(o); err != nil {
		return err
	}
	m.materialize()
	for sid, raw := range o.curves {
		cur, ok := m.curves[sid]
		if !ok {
			cur = make([]float64, len(raw))
			m.curves[sid] = cur
		}
		for i, v := range raw {
			cur[i] = clamp(cur[i] + o.value(v))
		}
	}
	return nil
}

// Scale returns a new map with every value multiplied by w.
func (m *Map) Scale(w float64) *Map {
	out := m.Clone()
	out.materialize()
	for _, raw := range out.curves {
		for i, v := range raw {
			raw[i] = clamp(v * w)
		}
	}
	return out
}

// FixOnes replaces every value equal to 1 with the largest float below 1,
// so that exported curves never claim certainty.
func (m *Map) FixOnes() {
	m.materialize()
	for _, raw := range m.curves {
		for i, v := range raw {
			if v >= 1 {
				raw[i] = one
			}
		}
	}
}

// MaxDiff is the largest absolute difference between a and b over the union
// of their sites; absent sites count as zero.
func MaxDiff(a, b *Map) (float64, error) {
	if err := a.checkShape(b); err != nil {
		return 0, err
	}
	diff := 0.0
	visit := func(x, y *Map) {
		for sid, raw := range x.curves {
			other, ok := y.curves[sid]
			for i, v := range raw {
				w := 0.0
				if ok {
					w = y.value(other[i])
				}
				diff = math.Max(diff, math.Abs(x.value(v)-w))
			}
		}
	}
	visit(a, b)
	visit(b, a)
	return diff, nil
}

// ApproxEqual reports whether a and b have the same sites and values within
// tol.
func ApproxEqual(a, b *Map, tol float64) bool {
	if a.Len() != b.Len() {
		return false
	}
	for sid := range a.curves {
		if !b.Has(sid) {
			return false
		}
	}
	diff, err := MaxDiff(a, b)
	return err == nil && diff <= tol
}
