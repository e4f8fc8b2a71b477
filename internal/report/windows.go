package report

import "time"

// Window is one bounded sub-range of dates, inclusive at both ends.
type Window struct {
	Start time.Time
	End   time.Time
}

// Days returns the inclusive span of the window in days.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

// Windows splits [start, end] into consecutive sub-ranges of at most size
// days each. Pure function of its inputs: concatenating the result
// reconstructs exactly [start, end] with no gaps or overlaps. A start
// after end yields no windows. Windowing exists because the reporting API
// rejects requests whose date span exceeds a per-cube limit.
func Windows(start time.Time, size int, end time.Time) []Window {
	start = Midnight(start)
	end = Midnight(end)

	if size < 1 {
		size = 1
	}

	var windows []Window
	for !start.After(end) {
		windowEnd := start.AddDate(0, 0, size-1)
		if windowEnd.After(end) {
			windowEnd = end
		}
		windows = append(windows, Window{Start: start, End: windowEnd})
		start = windowEnd.AddDate(0, 0, 1)
	}
	return windows
}

// Midnight truncates a timestamp to its UTC calendar date.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
