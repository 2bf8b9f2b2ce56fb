// Package zones answers geofence queries: is a point inside a restricted
// zone for a given city and vehicle type.
//
// Zones are axis-aligned latitude/longitude rectangles with inclusive
// bounds, grouped by city and loaded from a CUE file validated against an
// embedded schema.
package zones

import "github.com/roach88/smartmove/internal/domain"

// ZoneRectangle is the only supported zone shape.
const ZoneRectangle = "RECTANGLE"

// Zone is one restricted area.
//
// VehicleTypes filters which vehicles the zone applies to. A nil filter
// applies the zone to every type; a non-nil filter, even an empty one,
// applies it only to the listed types.
type Zone struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	MinLat       float64              `json:"minLat"`
	MaxLat       float64              `json:"maxLat"`
	MinLon       float64              `json:"minLon"`
	MaxLon       float64              `json:"maxLon"`
	VehicleTypes []domain.VehicleType `json:"vehicleTypes,omitempty"`
}

// Contains reports whether (lat, lon) lies within the zone, bounds included.
func (z Zone) Contains(lat, lon float64) bool {
	return lat >= z.MinLat && lat <= z.MaxLat &&
		lon >= z.MinLon && lon <= z.MaxLon
}

// AppliesTo reports whether the zone restricts vehicles of type t.
func (z Zone) AppliesTo(t domain.VehicleType) bool {
	if z.VehicleTypes == nil {
		return true
	}
	for _, vt := range z.VehicleTypes {
		if vt == t {
			return true
		}
	}
	return false
}

// Service holds the loaded zone set. It is read-only after construction
// and safe for concurrent use.
type Service struct {
	byCity map[domain.City][]Zone
}

// NewService builds a Service over the given zones. The map is copied.
func NewService(byCity map[domain.City][]Zone) *Service {
	copied := make(map[domain.City][]Zone, len(byCity))
	for city, zs := range byCity {
		copied[city] = append([]Zone(nil), zs...)
	}
	return &Service{byCity: copied}
}

// IsRestricted reports whether any zone of city covers (lat, lon) for a
// vehicle of type t. Unknown or unset cities have no zones.
func (s *Service) IsRestricted(city domain.City, t domain.VehicleType, lat, lon float64) bool {
	if s == nil {
		return false
	}
	for _, z := range s.byCity[city] {
		if z.AppliesTo(t) && z.Contains(lat, lon) {
			return true
		}
	}
	return false
}

// Zones returns a copy of the zones configured for city.
func (s *Service) Zones(city domain.City) []Zone {
	if s == nil {
		return []Zone{}
	}
	return append([]Zone{}, s.byCity[city]...)
}

// Count returns the total number of configured zones.
func (s *Service) Count() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, zs := range s.byCity {
		n += len(zs)
	}
	return n
}
