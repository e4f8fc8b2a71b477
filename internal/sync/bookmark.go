package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"

	"github.com/singer-io/tap-gemini/internal/report"
)

// booksClosedBookmark finds the latest timestamp for which a completed
// window's data is guaranteed final, walking backward from the window end
// until a closed date is found. Defaults conservatively to the window
// start: if nothing is confirmed closed the next run re-requests the same
// window rather than skipping data that may still change.
func booksClosedBookmark(ctx context.Context, job *report.Job, window report.Window, today time.Time) (time.Time, error) {
	start := window.Start

	check := window.End
	// Today's data is never considered closeable
	if check.Equal(today) {
		check = check.AddDate(0, 0, -1)
	}

	for !check.Before(start) {
		status, err := job.CloseOfBusiness(ctx, check)
		if err != nil {
			if errors.Is(err, report.ErrBooksClosedUnsupported) {
				log.WithField("date", check.Format("2006-01-02")).
					Warn("books closed status unavailable, bookmarking window start")
				return start, nil
			}
			return time.Time{}, fmt.Errorf("failed to check books closed for %s: %w",
				check.Format("2006-01-02"), err)
		}

		if status.Closed() {
			zone, err := time.LoadLocation(status.AdvertiserTimezone)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid advertiser timezone %q: %w",
					status.AdvertiserTimezone, err)
			}

			// A closed month confirms every day in it, so the bookmark
			// moves past the month; a closed day confirms that day.
			if status.MonthClosed {
				return time.Date(check.Year(), check.Month(), 1, 0, 0, 0, 0, zone).AddDate(0, 1, 0), nil
			}
			return time.Date(check.Year(), check.Month(), check.Day(), 0, 0, 0, 0, zone), nil
		}

		check = check.AddDate(0, 0, -1)
	}

	return start, nil
}
