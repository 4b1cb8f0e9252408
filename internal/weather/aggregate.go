package weather

import "time"

// HistorySummary condenses a run of snapshots for one location.
type HistorySummary struct {
	Count           int       `json:"count"`
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	MinTemperature  float64   `json:"minTemperature"`
	MaxTemperature  float64   `json:"maxTemperature"`
	AvgTemperature  float64   `json:"avgTemperature"`
	AvgHumidity     float64   `json:"avgHumidity"`
	AvgWindSpeed    float64   `json:"avgWindSpeed"`
	AvgPressure     float64   `json:"avgPressure"`
	DominantSummary string    `json:"dominantSummary"`
}

// SummarizeSnapshots averages the numeric fields and picks the most frequent
// summary text (the earliest seen wins a tie).
func SummarizeSnapshots(snapshots []Snapshot) HistorySummary {
	if len(snapshots) == 0 {
		return HistorySummary{}
	}

	var (
		sumTemp     float64
		sumHumidity float64
		sumWind     float64
		sumPressure float64
	)

	out := HistorySummary{
		Count:          len(snapshots),
		From:           snapshots[0].ObservedAt,
		To:             snapshots[0].ObservedAt,
		MinTemperature: snapshots[0].Temperature,
		MaxTemperature: snapshots[0].Temperature,
	}

	summaryCounts := make(map[string]int)
	var order []string

	for _, s := range snapshots {
		sumTemp += s.Temperature
		sumHumidity += float64(s.Humidity)
		sumWind += s.WindSpeed
		sumPressure += float64(s.Pressure)

		if s.Temperature < out.MinTemperature {
			out.MinTemperature = s.Temperature
		}
		if s.Temperature > out.MaxTemperature {
			out.MaxTemperature = s.Temperature
		}
		if s.ObservedAt.Before(out.From) {
			out.From = s.ObservedAt
		}
		if s.ObservedAt.After(out.To) {
			out.To = s.ObservedAt
		}

		if _, seen := summaryCounts[s.Summary]; !seen {
			order = append(order, s.Summary)
		}
		summaryCounts[s.Summary]++
	}

	n := float64(len(snapshots))
	out.AvgTemperature = round2(sumTemp / n)
	out.AvgHumidity = round2(sumHumidity / n)
	out.AvgWindSpeed = round2(sumWind / n)
	out.AvgPressure = round2(sumPressure / n)

	best := 0
	for _, summary := range order {
		if summaryCounts[summary] > best {
			best = summaryCounts[summary]
			out.DominantSummary = summary
		}
	}
	return out
}
