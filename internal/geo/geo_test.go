package geo

import (
	"math"
	"testing"
)

func TestDistanceOneDegreeAtEquator(t *testing.T) {
	got := Distance(0, 0, 1, 0)
	if math.Abs(got-kmPerDegree) > 1e-9 {
		t.Fatalf("unexpected distance: got=%f want=%f", got, kmPerDegree)
	}
	if Distance(10, 45, 10, 45) != 0 {
		t.Fatal("expected zero distance for identical points")
	}
}

func TestAzimuthCardinalDirections(t *testing.T) {
	cases := []struct {
		lon, lat float64
		want     float64
	}{
		{0, 1, 0},
		{1, 0, 90},
		{0, -1, 180},
		{-1, 0, 270},
	}
	for _, tc := range cases {
		if got := Azimuth(0, 0, tc.lon, tc.lat); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("azimuth to (%f,%f): got=%f want=%f", tc.lon, tc.lat, got, tc.want)
		}
	}
}

func TestDistanceToMeshWithDepth(t *testing.T) {
	p := Point{Lon: 0, Lat: 0, Depth: 10}
	mesh := Mesh{Lons: []float64{0}, Lats: []float64{0}}
	if got := p.DistanceToMesh(mesh, false)[0]; got != 0 {
		t.Fatalf("unexpected epicentral distance: %f", got)
	}
	if got := p.DistanceToMesh(mesh, true)[0]; got != 10 {
		t.Fatalf("unexpected hypocentral distance: %f", got)
	}
}

func TestBBoxDilateContains(t *testing.T) {
	box := BBoxOf(Point{Lon: 10, Lat: 45})
	if !box.Contains(10, 45) {
		t.Fatal("expected degenerate box to contain its point")
	}
	dilated := box.Dilate(100)
	lon, lat := 10.0, 45.0+90.0/kmPerDegree
	if !dilated.Contains(lon, lat) {
		t.Fatal("expected dilated box to contain a point 90 km north")
	}
	if dilated.Contains(10, 45+110.0/kmPerDegree) {
		t.Fatal("expected dilated box to exclude a point 110 km north")
	}
}

func TestProjectionRoundTrip(t *testing.T) {
	p := newProjection(12.5, 41.9)
	x, y := p.project(13.1, 42.3)
	lon, lat := p.unproject(x, y)
	if math.Abs(lon-13.1) > 1e-9 || math.Abs(lat-42.3) > 1e-9 {
		t.Fatalf("unexpected round trip: lon=%f lat=%f", lon, lat)
	}
}
