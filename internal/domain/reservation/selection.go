package reservation

import (
	"errors"
	"math"
)

// ErrNoShops reports that no candidate carries the target item. Callers
// must treat this as a distinguished failure, not a zero selection.
var ErrNoShops = errors.New("no eligible shops")

// ChooseMaxInventory returns the candidate with the strictly greatest
// inventory for itemCode. Ties keep the first candidate in input order.
func ChooseMaxInventory(shops []Shop, itemCode string) (Shop, error) {
	best := -1
	var pick Shop
	for _, s := range shops {
		inv, ok := s.Inventory[itemCode]
		if !ok {
			continue
		}
		if inv > best {
			best = inv
			pick = s
		}
	}
	if best < 0 {
		return Shop{}, ErrNoShops
	}
	return pick, nil
}

// ChooseNearest returns the candidate closest to (lat, lng) by haversine
// distance, considering only shops that carry itemCode and have
// coordinates. When the caller has no coordinates, or no candidate does,
// it falls back to max-inventory so a missing feed never picks an
// arbitrary shop.
func ChooseNearest(shops []Shop, itemCode string, lat, lng float64) (Shop, error) {
	if lat == 0 && lng == 0 {
		return ChooseMaxInventory(shops, itemCode)
	}

	best := math.MaxFloat64
	var pick Shop
	found := false
	carried := false
	for _, s := range shops {
		if _, ok := s.Inventory[itemCode]; !ok {
			continue
		}
		carried = true
		if s.Lat == 0 && s.Lng == 0 {
			continue
		}
		d := haversineKM(lat, lng, s.Lat, s.Lng)
		if d < best {
			best = d
			pick = s
			found = true
		}
	}
	if found {
		return pick, nil
	}
	if carried {
		// Candidates exist but none has coordinates.
		return ChooseMaxInventory(shops, itemCode)
	}
	return Shop{}, ErrNoShops
}

// Choose applies the configured strategy.
func Choose(strategy Strategy, shops []Shop, itemCode string, lat, lng float64) (Shop, error) {
	if strategy == StrategyNearest {
		return ChooseNearest(shops, itemCode, lat, lng)
	}
	return ChooseMaxInventory(shops, itemCode)
}

const earthRadiusKM = 6371.0

func haversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}
