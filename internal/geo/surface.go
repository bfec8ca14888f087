package geo

import (
	"errors"
	"fmt"
	"math"
)

// Surface is the rupture surface geometry consumed by the context builder.
type Surface interface {
	MinDistance(m Mesh) []float64
	JoynerBooreDistance(m Mesh) []float64
	RxDistance(m Mesh) []float64
	Ry0Distance(m Mesh) []float64
	Azimuth(m Mesh) []float64
	ClosestPoints(m Mesh) Mesh
	Strike() float64
	Dip() float64
	TopEdgeDepth() float64
	Width() float64
	BoundingBox() BBox
}

var ErrInvalidSurface = errors.New("invalid planar surface")

type vec3 struct{ x, y, z float64 }

func (a vec3) add(b vec3) vec3 { return vec3{a.x + b.x, a.y + b.y, a.z + b.z} }
func (a vec3) sub(b vec3) vec3 { return vec3{a.x - b.x, a.y - b.y, a.z - b.z} }
func (a vec3) scale(k float64) vec3 { return vec3{a.x * k, a.y * k, a.z * k} }
func (a vec3) dot(b vec3) float64 { return a.x*b.x + a.y*b.y + a.z*b.z }
func (a vec3) norm() float64 { return math.Sqrt(a.dot(a)) }
func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

// PlanarSurface is a rectangular rupture plane. Geometry is evaluated in a
// local equirectangular projection centred on the rupture, which is accurate
// for the few hundred km covered by integration distances.
type PlanarSurface struct {
	proj   projection
	strike float64
	dip    float64
	length float64
	width  float64

	origin vec3
	along  vec3
	down   vec3
	dipDir vec3
}

// NewPlanarSurface builds the plane centred on center. When the plane would
// cross the ground surface it is shifted down-dip until its top edge is at
// depth zero.
func NewPlanarSurface(center Point, strike, dip, length, width float64) (*PlanarSurface, error) {
	if dip <= 0 || dip > 90 {
		return nil, fmt.Errorf("%w: dip %.3f not in (0, 90]", ErrInvalidSurface, dip)
	}
	if length < 0 || width < 0 {
		return nil, fmt.Errorf("%w: negative dimensions length=%.3f width=%.3f", ErrInvalidSurface, length, width)
	}
	if center.Depth < 0 {
		return nil, fmt.Errorf("%w: negative center depth %.3f", ErrInvalidSurface, center.Depth)
	}
	strike = math.Mod(strike+360, 360)
	s := strike * radians
	d := dip * radians
	along := vec3{math.Sin(s), math.Cos(s), 0}
	dipDir := vec3{math.Sin(s + math.Pi/2), math.Cos(s + math.Pi/2), 0}
	down := vec3{dipDir.x * math.Cos(d), dipDir.y * math.Cos(d), math.Sin(d)}

	topCenter := vec3{0, 0, center.Depth}.sub(down.scale(width / 2))
	if topCenter.z < 0 {
		topCenter = topCenter.add(down.scale(-topCenter.z / down.z))
	}
	return &PlanarSurface{
		proj:   newProjection(center.Lon, center.Lat),
		strike: strike,
		dip:    dip,
		length: length,
		width:  width,
		origin: topCenter.sub(along.scale(length / 2)),
		along:  along,
		down:   down,
		dipDir: dipDir,
	}, nil
}

func (s *PlanarSurface) Strike() float64 { return s.strike }
func (s *PlanarSurface) Dip() float64 { return s.dip }
func (s *PlanarSurface) Width() float64 { return s.width }
func (s *PlanarSurface) Length() float64 { return s.length }
func (s *PlanarSurface) TopEdgeDepth() float64 { return s.origin.z }

func (s *PlanarSurface) local(lon, lat float64) vec3 {
	x, y := s.proj.project(lon, lat)
	return vec3{x, y, 0}
}

func (s *PlanarSurface) closest(p vec3) vec3 {
	v := p.sub(s.origin)
	a := clamp(v.dot(s.along), 0, s.length)
	b := clamp(v.dot(s.down), 0, s.width)
	return s.origin.add(s.along.scale(a)).add(s.down.scale(b))
}

func (s *PlanarSurface) MinDistance(m Mesh) []float64 {
	out := make([]float64, m.Len())
	for i := range out {
		p := s.local(m.Lons[i], m.Lats[i])
		out[i] = p.sub(s.closest(p)).norm()
	}
	return out
}

func (s *PlanarSurface) ClosestPoints(m Mesh) Mesh {
	out := Mesh{Lons: make([]float64, m.Len()), Lats: make([]float64, m.Len())}
	for i := range out.Lons {
		c := s.closest(s.local(m.Lons[i], m.Lats[i]))
		out.Lons[i], out.Lats[i] = s.proj.unproject(c.x, c.y)
	}
	return out
}

func (s *PlanarSurface) JoynerBooreDistance(m Mesh) []float64 {
	projWidth := s.width * math.Cos(s.dip*radians)
	out := make([]float64, m.Len())
	for i := range out {
		v := s.local(m.Lons[i], m.Lats[i]).sub(vec3{s.origin.x, s.origin.y, 0})
		a := clamp(v.dot(s.along), 0, s.length)
		b := clamp(v.dot(s.dipDir), 0, projWidth)
		out[i] = v.sub(s.along.scale(a)).sub(s.dipDir.scale(b)).norm()
	}
	return out
}

// RxDistance is the horizontal distance from the top edge trace, positive on
// the hanging wall side.
func (s *PlanarSurface) RxDistance(m Mesh) []float64 {
	out := make([]float64, m.Len())
	for i := range out {
		v := s.local(m.Lons[i], m.Lats[i]).sub(vec3{s.origin.x, s.origin.y, 0})
		out[i] = v.dot(s.dipDir)
	}
	return out
}

func (s *PlanarSurface) Ry0Distance(m Mesh) []float64 {
	out := make([]float64, m.Len())
	for i := range out {
		v := s.local(m.Lons[i], m.Lats[i]).sub(vec3{s.origin.x, s.origin.y, 0})
		t := v.dot(s.along)
		switch {
		case t < 0:
			out[i] = -t
		case t > s.length:
			out[i] = t - s.length
		}
	}
	return out
}

// Azimuth is measured from the strike direction to the site, as seen from
// the middle of the top edge.
func (s *PlanarSurface) Azimuth(m Mesh) []float64 {
	mid := s.origin.add(s.along.scale(s.length / 2))
	lon0, lat0 := s.proj.unproject(mid.x, mid.y)
	out := make([]float64, m.Len())
	for i := range out {
		out[i] = math.Mod(Azimuth(lon0, lat0, m.Lons[i], m.Lats[i])-s.strike+360, 360)
	}
	return out
}

func (s *PlanarSurface) corners() []Point {
	pts := []vec3{
		s.origin,
		s.origin.add(s.along.scale(s.length)),
		s.origin.add(s.down.scale(s.width)),
		s.origin.add(s.along.scale(s.length)).add(s.down.scale(s.width)),
	}
	out := make([]Point, 0, len(pts))
	for _, p := range pts {
		lon, lat := s.proj.unproject(p.x, p.y)
		out = append(out, Point{Lon: lon, Lat: lat, Depth: p.z})
	}
	return out
}

func (s *PlanarSurface) BoundingBox() BBox {
	return BBoxOf(s.corners()...)
}
