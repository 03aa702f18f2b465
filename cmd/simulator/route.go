package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/geo"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// Route is a polyline the driver follows.
type Route struct {
	Points    []models.GeoPoint
	SegIndex  int
	SegOffset float64 // meters along current segment
}

// Done reports whether the end of the route was reached.
func (r *Route) Done() bool {
	return r.SegIndex >= len(r.Points)-1
}

// LengthMeters is the total length of the route.
func (r *Route) LengthMeters() float64 {
	total := 0.0
	for i := 1; i < len(r.Points); i++ {
		total += geo.DistanceMeters(r.Points[i-1], r.Points[i])
	}
	return total
}

// Step advances meters along the route and returns the new position.
func (r *Route) Step(meters float64) models.GeoPoint {
	pos := r.Points[min(r.SegIndex, len(r.Points)-1)]
	for meters > 0 && !r.Done() {
		a := r.Points[r.SegIndex]
		b := r.Points[r.SegIndex+1]
		segLen := geo.DistanceMeters(a, b)
		leftOnSeg := segLen - r.SegOffset
		if meters >= leftOnSeg {
			pos = b
			r.SegIndex++
			r.SegOffset = 0
			meters -= leftOnSeg
			continue
		}
		t := (r.SegOffset + meters) / segLen
		pos = lerp(a, b, math.Max(0, math.Min(1, t)))
		r.SegOffset += meters
		meters = 0
	}
	if r.Done() {
		pos = r.Points[len(r.Points)-1]
	}
	return pos
}

func lerp(a, b models.GeoPoint, t float64) models.GeoPoint {
	return models.GeoPoint{Lat: a.Lat + (b.Lat-a.Lat)*t, Lng: a.Lng + (b.Lng-a.Lng)*t}
}

// jitter moves p by up to meters in each axis.
func jitter(p models.GeoPoint, meters float64) models.GeoPoint {
	latMetersPerDeg := 111320.0
	lngMetersPerDeg := 111320.0 * math.Cos(p.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLng := (rand.Float64()*2 - 1) * (meters / lngMetersPerDeg)
	return models.GeoPoint{Lat: p.Lat + dLat, Lng: p.Lng + dLng}
}

// destination returns the point distanceMeters from start along bearingDeg.
func destination(start models.GeoPoint, bearingDeg, distanceMeters float64) models.GeoPoint {
	lat1 := start.Lat * math.Pi / 180
	lng1 := start.Lng * math.Pi / 180
	brng := bearingDeg * math.Pi / 180
	d := distanceMeters / geo.EarthRadiusMeters

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brng))
	lng2 := lng1 + math.Atan2(math.Sin(brng)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	return models.GeoPoint{Lat: lat2 * 180 / math.Pi, Lng: math.Mod(lng2*180/math.Pi+540, 360) - 180}
}

// RouteSource plans the road geometry between two points.
type RouteSource func(start, end models.GeoPoint) ([]models.GeoPoint, error)

// planLeg returns a route from start to end, falling back to a straight line.
func planLeg(source RouteSource, start, end models.GeoPoint) *Route {
	if source != nil {
		if pts, err := source(start, end); err == nil && len(pts) >= 2 {
			pts[0], pts[len(pts)-1] = start, end
			return &Route{Points: pts}
		}
	}
	return &Route{Points: []models.GeoPoint{start, end}}
}

// osrmRoute asks an OSRM server for a driving route.
func osrmRoute(baseURL string) RouteSource {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(start, end models.GeoPoint) ([]models.GeoPoint, error) {
		url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
			baseURL, start.Lng, start.Lat, end.Lng, end.Lat)
		resp, err := client.Get(url)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("osrm status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		var obj struct {
			Routes []struct {
				Geometry struct {
					Coordinates [][]float64 `json:"coordinates"`
				} `json:"geometry"`
			} `json:"routes"`
		}
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, err
		}
		if len(obj.Routes) == 0 || len(obj.Routes[0].Geometry.Coordinates) < 2 {
			return nil, fmt.Errorf("no route")
		}
		coords := obj.Routes[0].Geometry.Coordinates
		pts := make([]models.GeoPoint, 0, len(coords))
		for _, c := range coords {
			if len(c) < 2 {
				continue
			}
			pts = append(pts, models.GeoPoint{Lat: c[1], Lng: c[0]})
		}
		return pts, nil
	}
}
