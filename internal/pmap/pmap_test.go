package pmap

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomMap(rng *rand.Rand, l, g int, sids ...int) *Map {
	m := New(l, g)
	for _, sid := range sids {
		curve := m.SetDefault(sid, 0)
		for i := range curve {
			curve[i] = rng.Float64()
		}
	}
	return m
}

func TestCombineIndependentIsAssociativeAndCommutative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := randomMap(rng, 4, 2, 0, 1, 2)
	b := randomMap(rng, 4, 2, 1, 2, 3)
	c := randomMap(rng, 4, 2, 0, 3, 5)

	left := a.Clone()
	require.NoError(t, left.CombineIndependent(b))
	require.NoError(t, left.CombineIndependent(c))

	bc := b.Clone()
	require.NoError(t, bc.CombineIndependent(c))
	right := a.Clone()
	require.NoError(t, right.CombineIndependent(bc))

	swapped := c.Clone()
	require.NoError(t, swapped.CombineIndependent(a))
	require.NoError(t, swapped.CombineIndependent(b))

	if !ApproxEqual(left, right, 1e-6) || !ApproxEqual(left, swapped, 1e-6) {
		t.Fatal("independent combination depends on grouping or order")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 5}, left.SIDs())
}

func TestCombineIndependentValues(t *testing.T) {
	a := New(1, 1)
	a.SetDefault(0, 0.2)
	b := New(1, 1)
	b.SetDefault(0, 0.5)
	b.SetDefault(1, 0.3)
	require.NoError(t, a.CombineIndependent(b))

	v, ok := a.At(0, 0, 0)
	require.True(t, ok)
	assert.InDelta(t, 0.6, v, 1e-12)
	v, ok = a.At(1, 0, 0)
	require.True(t, ok)
	assert.Equal(t, 0.3, v)
}

func TestComplementIsSelfInverse(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	a := randomMap(rng, 3, 2, 4, 8)
	back := a.Complement().Complement()
	for _, sid := range a.SIDs() {
		want, _ := a.Curve(sid)
		got, ok := back.Curve(sid)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	c := a.Complement()
	want, _ := a.Curve(4)
	got, _ := c.Curve(4)
	for i := range want {
		assert.Equal(t, 1-want[i], got[i])
	}
	want, _ = a.Curve(4)
	c.SetDefault(4, 0)
	assert.Equal(t, want, mustCurve(t, a, 4), "complement must not alias the original")
}

func mustCurve(t *testing.T, m *Map, sid int) []float64 {
	t.Helper()
	curve, ok := m.Curve(sid)
	if !ok {
		t.Fatalf("missing site %d", sid)
	}
	return curve
}

func TestCombineMutexWeightedSources(t *testing.T) {
	first := New(1, 1)
	first.SetDefault(0, 0.2)
	second := New(1, 1)
	second.SetDefault(0, 0.4)

	acc := New(1, 1)
	require.NoError(t, acc.CombineMutex(first.Scale(0.3)))
	require.NoError(t, acc.CombineMutex(second.Scale(0.7)))
	v, ok := acc.At(0, 0, 0)
	require.True(t, ok)
	assert.InDelta(t, 0.34, v, 1e-12)
}

func TestShapeMismatch(t *testing.T) {
	a := New(2, 1)
	b := New(2, 2)
	if err := a.CombineIndependent(b); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if err := a.CombineMutex(b); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if _, err := MaxDiff(a, b); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestValuesStayInUnitInterval(t *testing.T) {
	a := New(1, 1)
	a.SetDefault(0, 0.9)
	b := New(1, 1)
	b.SetDefault(0, 0.8)
	require.NoError(t, a.CombineMutex(b))
	assert.Equal(t, 1.0, mustCurve(t, a, 0)[0])
	assert.Equal(t, 0.0, mustCurve(t, a.Scale(-1), 0)[0])
}

func TestFixOnes(t *testing.T) {
	a := New(2, 1)
	curve := a.SetDefault(0, 1)
	curve[1] = 0.5
	a.FixOnes()
	got := mustCurve(t, a, 0)
	assert.Less(t, got[0], 1.0)
	assert.Equal(t, math.Nextafter(1, 0), got[0])
	assert.Equal(t, 0.5, got[1])
}

func TestApproxEqualRequiresSameSites(t *testing.T) {
	a := New(1, 1)
	a.SetDefault(0, 0)
	b := New(1, 1)
	b.SetDefault(1, 0)
	assert.False(t, ApproxEqual(a, b, 1))
	assert.True(t, ApproxEqual(a, a.Clone(), 0))
}
