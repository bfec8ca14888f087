package geo

import (
	"errors"
	"math"
	"testing"
)

func kmEast(km float64) float64 { return km / kmPerDegree }

func TestPlanarSurfaceVerticalFault(t *testing.T) {
	// Vertical 20 km long, 10 km wide north-striking plane centred at 5 km
	// depth: top edge at the surface.
	surface, err := NewPlanarSurface(Point{Lon: 0, Lat: 0, Depth: 5}, 0, 90, 20, 10)
	if err != nil {
		t.Fatalf("new planar surface: %v", err)
	}
	if got := surface.TopEdgeDepth(); math.Abs(got) > 1e-9 {
		t.Fatalf("unexpected top edge depth: %f", got)
	}

	mesh := Mesh{Lons: []float64{kmEast(10)}, Lats: []float64{0}}
	if got := surface.MinDistance(mesh)[0]; math.Abs(got-10) > 1e-6 {
		t.Fatalf("unexpected rrup: got=%f want=10", got)
	}
	if got := surface.JoynerBooreDistance(mesh)[0]; math.Abs(got-10) > 1e-6 {
		t.Fatalf("unexpected rjb: got=%f want=10", got)
	}
	if got := surface.RxDistance(mesh)[0]; math.Abs(got-10) > 1e-6 {
		t.Fatalf("unexpected rx: got=%f want=10", got)
	}
	if got := surface.Ry0Distance(mesh)[0]; math.Abs(got) > 1e-6 {
		t.Fatalf("unexpected ry0: got=%f want=0", got)
	}
}

func TestPlanarSurfaceBeyondStrikeEnd(t *testing.T) {
	surface, err := NewPlanarSurface(Point{Lon: 0, Lat: 0, Depth: 5}, 0, 90, 20, 10)
	if err != nil {
		t.Fatalf("new planar surface: %v", err)
	}
	mesh := Mesh{Lons: []float64{0}, Lats: []float64{30 / kmPerDegree}}
	if got := surface.Ry0Distance(mesh)[0]; math.Abs(got-20) > 1e-6 {
		t.Fatalf("unexpected ry0: got=%f want=20", got)
	}
	if got := surface.JoynerBooreDistance(mesh)[0]; math.Abs(got-20) > 1e-6 {
		t.Fatalf("unexpected rjb: got=%f want=20", got)
	}
}

func TestPlanarSurfaceDippingHangingWall(t *testing.T) {
	surface, err := NewPlanarSurface(Point{Lon: 0, Lat: 0, Depth: 10}, 0, 45, 10, 10)
	if err != nil {
		t.Fatalf("new planar surface: %v", err)
	}
	// A site above the plane has rjb = 0 but rrup > 0.
	mesh := Mesh{Lons: []float64{0}, Lats: []float64{0}}
	if got := surface.JoynerBooreDistance(mesh)[0]; got > 1e-9 {
		t.Fatalf("expected zero rjb above the plane, got %f", got)
	}
	if got := surface.MinDistance(mesh)[0]; got <= 0 {
		t.Fatalf("expected positive rrup, got %f", got)
	}
	if got := surface.RxDistance(mesh)[0]; got <= 0 {
		t.Fatalf("expected hanging wall rx > 0, got %f", got)
	}
	if surface.Dip() != 45 || surface.Strike() != 0 || surface.Width() != 10 {
		t.Fatalf("unexpected geometry: strike=%f dip=%f width=%f", surface.Strike(), surface.Dip(), surface.Width())
	}
}

func TestPlanarSurfaceValidation(t *testing.T) {
	if _, err := NewPlanarSurface(Point{}, 0, 0, 1, 1); !errors.Is(err, ErrInvalidSurface) {
		t.Fatalf("expected ErrInvalidSurface for zero dip, got %v", err)
	}
	if _, err := NewPlanarSurface(Point{}, 0, 30, -1, 1); !errors.Is(err, ErrInvalidSurface) {
		t.Fatalf("expected ErrInvalidSurface for negative length, got %v", err)
	}
}

func TestPlanarSurfaceClosestPointsAndBox(t *testing.T) {
	surface, err := NewPlanarSurface(Point{Lon: 0, Lat: 0, Depth: 5}, 0, 90, 20, 10)
	if err != nil {
		t.Fatalf("new planar surface: %v", err)
	}
	closest := surface.ClosestPoints(Mesh{Lons: []float64{kmEast(10)}, Lats: []float64{0}})
	if math.Abs(closest.Lons[0]) > 1e-9 || math.Abs(closest.Lats[0]) > 1e-9 {
		t.Fatalf("unexpected closest point: %+v", closest)
	}
	box := surface.BoundingBox()
	if !box.Contains(0, 0) || box.Contains(0, 11/kmPerDegree) {
		t.Fatalf("unexpected bounding box: %+v", box)
	}
}
