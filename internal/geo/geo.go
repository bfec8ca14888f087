package geo

import "math"

const (
	EarthRadius = 6371.0
	kmPerDegree = EarthRadius * math.Pi / 180.0
	radians     = math.Pi / 180.0
)

type Point struct {
	Lon   float64 `json:"lon" yaml:"lon"`
	Lat   float64 `json:"lat" yaml:"lat"`
	Depth float64 `json:"depth,omitempty" yaml:"depth"`
}

// Mesh is a set of surface locations stored column-wise.
type Mesh struct {
	Lons []float64
	Lats []float64
}

func (m Mesh) Len() int {
	return len(m.Lons)
}

// Distance returns the great-circle distance in km between two locations.
func Distance(lon1, lat1, lon2, lat2 float64) float64 {
	phi1 := lat1 * radians
	phi2 := lat2 * radians
	dPhi := (lat2 - lat1) * radians
	dLambda := (lon2 - lon1) * radians
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	if a > 1 {
		a = 1
	}
	return 2 * EarthRadius * math.Asin(math.Sqrt(a))
}

// Azimuth returns the initial bearing in decimal degrees [0, 360) from the
// first location to the second.
func Azimuth(lon1, lat1, lon2, lat2 float64) float64 {
	phi1 := lat1 * radians
	phi2 := lat2 * radians
	dLambda := (lon2 - lon1) * radians
	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	az := math.Atan2(y, x) / radians
	return math.Mod(az+360, 360)
}

// DistanceToMesh returns the distance from p to every mesh location. Mesh
// locations are at the surface; withDepth adds the depth of p.
func (p Point) DistanceToMesh(m Mesh, withDepth bool) []float64 {
	out := make([]float64, m.Len())
	for i := range out {
		d := Distance(p.Lon, p.Lat, m.Lons[i], m.Lats[i])
		if withDepth {
			d = math.Hypot(d, p.Depth)
		}
		out[i] = d
	}
	return out
}

type BBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

func BBoxOf(points ...Point) BBox {
	if len(points) == 0 {
		return BBox{}
	}
	box := BBox{MinLon: points[0].Lon, MaxLon: points[0].Lon, MinLat: points[0].Lat, MaxLat: points[0].Lat}
	for _, p := range points[1:] {
		box.MinLon = math.Min(box.MinLon, p.Lon)
		box.MaxLon = math.Max(box.MaxLon, p.Lon)
		box.MinLat = math.Min(box.MinLat, p.Lat)
		box.MaxLat = math.Max(box.MaxLat, p.Lat)
	}
	return box
}

func (b BBox) Union(o BBox) BBox {
	return BBox{
		MinLon: math.Min(b.MinLon, o.MinLon),
		MinLat: math.Min(b.MinLat, o.MinLat),
		MaxLon: math.Max(b.MaxLon, o.MaxLon),
		MaxLat: math.Max(b.MaxLat, o.MaxLat),
	}
}

// Dilate grows the box by km in every direction. The longitude buffer is
// computed at the latitude closest to a pole, so the result encloses the
// true buffer. Boxes crossing the antimeridian are not supported.
func (b BBox) Dilate(km float64) BBox {
	if km <= 0 {
		return b
	}
	dLat := km / kmPerDegree
	maxAbsLat := math.Min(90, math.Max(math.Abs(b.MinLat), math.Abs(b.MaxLat))+dLat)
	cosLat := math.Max(math.Cos(maxAbsLat*radians), 1e-6)
	dLon := math.Min(180, km/(kmPerDegree*cosLat))
	return BBox{
		MinLon: b.MinLon - dLon,
		MinLat: math.Max(-90, b.MinLat-dLat),
		MaxLon: b.MaxLon + dLon,
		MaxLat: math.Min(90, b.MaxLat+dLat),
	}
}

func (b BBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

type projection struct {
	lon0   float64
	lat0   float64
	cosLat float64
}

func newProjection(lon0, lat0 float64) projection {
	return projection{lon0: lon0, lat0: lat0, cosLat: math.Cos(lat0 * radians)}
}

func (p projection) project(lon, lat float64) (x, y float64) {
	dLon := math.Mod(lon-p.lon0+540, 360) - 180
	return dLon * p.cosLat * kmPerDegree, (lat - p.lat0) * kmPerDegree
}

func (p projection) unproject(x, y float64) (lon, lat float64) {
	lat = p.lat0 + y/kmPerDegree
	if p.cosLat == 0 {
		return p.lon0, lat
	}
	return p.lon0 + x/(p.cosLat*kmPerDegree), lat
}
