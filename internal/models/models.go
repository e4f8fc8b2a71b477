package models

import "time"

// CloseOfBusiness is the finality snapshot for a single calendar date.
// Ephemeral: recomputed on demand, never persisted.
type CloseOfBusiness struct {
	DayClosed          bool     `json:"isDayClosed"`
	MonthClosed        bool     `json:"isMonthClosed"`
	AdvertiserTimezone string   `json:"advertiserTimezone"`
	DayProgressPercent *float64 `json:"dayProgressPercent,omitempty"`
}

// Closed reports whether the date's data is final.
func (c CloseOfBusiness) Closed() bool {
	return c.DayClosed || c.MonthClosed
}

// RunStatus tracks the progress of a sync run for the status endpoint
type RunStatus struct {
	LastSuccessfulRun time.Time `json:"last_successful_run"`
	LastAttempt       time.Time `json:"last_attempt"`
	Status            string    `json:"status"` // "success", "failure", "running", "never_run"
	ErrorMessage      string    `json:"error_message,omitempty"`
	RecordsEmitted    int64     `json:"records_emitted"`
	StreamsSynced     int       `json:"streams_synced"`
	StreamsFailed     int       `json:"streams_failed"`
}
