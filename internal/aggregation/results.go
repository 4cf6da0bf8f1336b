package aggregation

import "time"

// ReleasesSummary counts the latest released finalisation per MRN.
type ReleasesSummary struct {
	Automatic int `json:"automatic"`
	Manual    int `json:"manual"`
	Total     int `json:"total"`
}

// MatchesSummary counts the latest decision per MRN.
type MatchesSummary struct {
	Match   int `json:"match"`
	NoMatch int `json:"noMatch"`
	Total   int `json:"total"`
}

// ClearanceRequestsSummary reports distinct MRNs and raw request messages.
type ClearanceRequestsSummary struct {
	Unique int `json:"unique"`
	Total  int `json:"total"`
}

// ClearanceRequestsBucket carries only the distinct count; a raw total cannot be split
// across buckets without miscounting keys that span them.
type ClearanceRequestsBucket struct {
	Unique int `json:"unique"`
}

// NotificationsSummary counts the latest notification per reference number.
type NotificationsSummary struct {
	ChedA  int `json:"chedA"`
	ChedP  int `json:"chedP"`
	ChedPp int `json:"chedPp"`
	ChedD  int `json:"chedD"`
	Total  int `json:"total"`
}

// Bucket is one UTC-aligned slot of a time series.
type Bucket[S any] struct {
	Bucket  time.Time `json:"bucket"`
	Summary S         `json:"summary"`
}

// LastReceived identifies the most recent record of a collection.
type LastReceived struct {
	Timestamp time.Time `json:"timestamp"`
	Mrn       string    `json:"mrn"`
}
