package progress

import "github.com/hyperengineering/seventyfive/internal/challenge"

// WeightPoint is a recorded weight on a day.
type WeightPoint struct {
	Day    int     `json:"day"`
	Weight float64 `json:"weight"`
}

// WeightSeries returns user's recorded weights in day order. Empty and absent
// weights are skipped.
func WeightSeries(doc *challenge.Document, user string) []WeightPoint {
	points := make([]WeightPoint, 0)
	for d := 1; d <= challenge.Length; d++ {
		entry := doc.Entry(d, user)
		if entry.Kind != challenge.EntryRecord {
			continue
		}
		if w := entry.Record.Weight; w != nil && w.Valid {
			points = append(points, WeightPoint{Day: d, Weight: w.Value})
		}
	}
	return points
}

// WeightChange is the difference between the last and first recorded weight.
// ok is false with fewer than two points.
func WeightChange(points []WeightPoint) (delta float64, ok bool) {
	if len(points) < 2 {
		return 0, false
	}
	return points[len(points)-1].Weight - points[0].Weight, true
}
