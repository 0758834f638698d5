package models

// HistoryPoint is one authoritative (day, value) sample of a series.
type HistoryPoint struct {
	Day   string  `json:"day"` // YYYY-MM-DD
	Value float64 `json:"value"`
}
