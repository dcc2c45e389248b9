package challenge

import "strings"

// NormalizeFood prepares a food log for persistence. Rows with neither a food
// name nor a calorie value are dropped, names are trimmed, and order is kept.
// The result is never nil so an emptied log persists as [].
func NormalizeFood(entries []FoodEntry) []FoodEntry {
	out := make([]FoodEntry, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimSpace(e.Food)
		if name == "" && !e.Calories.Valid {
			continue
		}
		out = append(out, FoodEntry{Food: name, Calories: e.Calories})
	}
	return out
}

// CalorieTotal sums the recorded calories; empty values count as zero.
func CalorieTotal(entries []FoodEntry) float64 {
	var total float64
	for _, e := range entries {
		if e.Calories.Valid {
			total += e.Calories.Value
		}
	}
	return total
}
