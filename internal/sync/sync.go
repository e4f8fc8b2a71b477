// Package sync drives the incremental synchronization of selected
// streams: report cubes are windowed, submitted, polled, streamed and
// bookmarked; listing streams are re-listed in full.
package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"github.com/singer-io/tap-gemini/internal/catalog"
	"github.com/singer-io/tap-gemini/internal/config"
	"github.com/singer-io/tap-gemini/internal/gemini"
	"github.com/singer-io/tap-gemini/internal/metrics"
	"github.com/singer-io/tap-gemini/internal/models"
	"github.com/singer-io/tap-gemini/internal/report"
	"github.com/singer-io/tap-gemini/internal/singer"
	"github.com/singer-io/tap-gemini/internal/state"
	"github.com/singer-io/tap-gemini/internal/transform"
)

// Syncer orchestrates one tap run across all selected streams.
type Syncer struct {
	session *gemini.Session
	store   state.Store
	writer  *singer.Writer
	cfg     config.SyncConfig

	// now is stubbed in tests
	now func() time.Time

	records atomic.Int64

	statusMu sync.Mutex
	status   models.RunStatus
}

// New creates a Syncer.
func New(session *gemini.Session, store state.Store, writer *singer.Writer, cfg config.SyncConfig) *Syncer {
	return &Syncer{
		session: session,
		store:   store,
		writer:  writer,
		cfg:     cfg,
		now:     time.Now,
		status:  models.RunStatus{Status: "never_run"},
	}
}

// Status returns a snapshot of the current run status.
func (s *Syncer) Status() models.RunStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	status := s.status
	status.RecordsEmitted = s.records.Load()
	return status
}

// Run syncs every selected stream in the catalog. Streams are processed
// with bounded parallelism; a failing stream is logged and counted but
// does not stop the others. Windows within a stream always run in
// chronological order so a bookmark can never regress.
func (s *Syncer) Run(ctx context.Context, cat *catalog.Catalog) error {
	s.setStatus(func(st *models.RunStatus) {
		st.Status = "running"
		st.LastAttempt = time.Now().UTC()
		st.ErrorMessage = ""
		st.StreamsSynced = 0
		st.StreamsFailed = 0
	})

	st, err := s.store.Load(ctx)
	if err != nil {
		s.setStatus(func(rs *models.RunStatus) {
			rs.Status = "failure"
			rs.ErrorMessage = err.Error()
		})
		return fmt.Errorf("failed to load state: %w", err)
	}

	selected := cat.SelectedStreams()
	if len(selected) == 0 {
		log.Warn("no streams selected")
	}

	var synced, failed atomic.Int32

	// Not errgroup.WithContext: one stream's failure must not cancel the
	// remaining streams, only the caller's signal does.
	var group errgroup.Group
	group.SetLimit(s.cfg.Parallelism)

	for _, stream := range selected {
		stream := stream
		group.Go(func() error {
			logger := log.WithField("stream", stream.ID)
			logger.Info("syncing stream")

			if err := s.syncStream(ctx, st, stream); err != nil {
				logger.WithError(err).Error("stream sync failed")
				metrics.StreamErrors.WithLabelValues(stream.ID).Inc()
				failed.Add(1)
				return nil
			}
			synced.Add(1)
			return nil
		})
	}
	group.Wait()

	s.setStatus(func(rs *models.RunStatus) {
		rs.StreamsSynced = int(synced.Load())
		rs.StreamsFailed = int(failed.Load())
		if failed.Load() > 0 {
			rs.Status = "failure"
		} else {
			rs.Status = "success"
			rs.LastSuccessfulRun = time.Now().UTC()
		}
	})

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d selected streams failed to sync", n, len(selected))
	}
	return nil
}

// syncStream emits one stream's schema and data.
func (s *Syncer) syncStream(ctx context.Context, st *state.State, stream *catalog.Stream) error {
	stream.ApplySelection()

	if err := s.writer.WriteSchema(stream); err != nil {
		return err
	}

	if stream.IsListing() {
		return s.syncListing(ctx, stream)
	}
	return s.syncReports(ctx, st, stream)
}

// syncListing emits a full snapshot of a dimension stream. No bookmarks:
// listings are re-emitted in full on every run.
func (s *Syncer) syncListing(ctx context.Context, stream *catalog.Stream) error {
	timeExtracted := s.now().UTC()
	list := s.session.ListObjects(catalog.ListingEdges[stream.ID])

	count := 0
	for list.Next(ctx) {
		record, extra, err := transform.CastRecord(list.Object(), stream.Schema)
		if err != nil {
			return err
		}
		if len(extra) > 0 {
			log.WithFields(log.Fields{
				"stream": stream.ID,
				"fields": len(extra),
			}).Debug("object carried fields not declared in the schema")
		}

		if err := s.emit(stream.ID, record, timeExtracted); err != nil {
			return err
		}
		count++
	}
	if err := list.Err(); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"stream":  stream.ID,
		"records": count,
	}).Info("listing complete")
	return nil
}

// syncReports runs a stream's report jobs window by window, persisting
// the bookmark after each window so a crash loses at most one window of
// progress.
func (s *Syncer) syncReports(ctx context.Context, st *state.State, stream *catalog.Stream) error {
	start, err := s.effectiveStart(st, stream)
	if err != nil {
		return err
	}

	today := report.Midnight(s.now())
	windows := s.streamWindows(stream, start, today)

	for _, window := range windows {
		// Cooperative cancellation between windows. A job abandoned
		// mid-poll is simply left behind: the API cannot cancel it.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.syncWindow(ctx, st, stream, window, today); err != nil {
			return err
		}
	}
	return nil
}

// syncWindow runs one report job and persists the resulting bookmark.
func (s *Syncer) syncWindow(ctx context.Context, st *state.State, stream *catalog.Stream, window report.Window, today time.Time) error {
	job := report.NewJob(s.session, report.Request{
		Cube:          stream.ID,
		AdvertiserIDs: s.cfg.AdvertiserIDs,
		FieldNames:    stream.FieldNames(),
		StartDate:     window.Start,
		EndDate:       window.End,
	}, s.cfg.PollInterval)

	rows, err := job.Stream(ctx)
	if err != nil {
		return err
	}
	defer rows.Close()

	timeExtracted := s.now().UTC()
	for rows.Next() {
		record, err := transform.CastRow(rows.Row(), stream.Schema)
		if err != nil {
			return err
		}
		if err := s.emit(stream.ID, record, timeExtracted); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	metrics.JobDuration.WithLabelValues(stream.ID).Observe(rows.Elapsed().Seconds())
	log.WithFields(log.Fields{
		"stream":  stream.ID,
		"from":    window.Start.Format("2006-01-02"),
		"to":      window.End.Format("2006-01-02"),
		"records": rows.Count(),
		"elapsed": rows.Elapsed().String(),
	}).Info("window complete")

	bookmark, err := booksClosedBookmark(ctx, job, window, today)
	if err != nil {
		return err
	}

	st.SetBookmark(stream.ID, catalog.BookmarkKey, bookmark.Format(time.RFC3339))
	if err := s.store.Save(ctx, st); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	return s.writer.WriteState(st)
}

// effectiveStart resolves where a stream's sync resumes: the persisted
// bookmark if any, clamped forward by the cube's look-back limit. The
// API rejects report requests starting before the look-back cutoff, so
// clamping is mandatory, but it is a warning rather than an error.
func (s *Syncer) effectiveStart(st *state.State, stream *catalog.Stream) (time.Time, error) {
	start, err := time.Parse("2006-01-02", s.cfg.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start_date: %w", err)
	}

	if value, ok := st.Bookmark(stream.ID, catalog.BookmarkKey); ok {
		bookmark, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid bookmark %q for stream %s: %w", value, stream.ID, err)
		}
		start = bookmark
	}

	if days, ok := catalog.MaxLookBackDays[stream.ID]; ok {
		cutoff := s.now().UTC().AddDate(0, 0, -days)
		if cutoff.After(start) {
			start = cutoff
			log.WithFields(log.Fields{
				"stream":     stream.ID,
				"days":       days,
				"start_date": report.Midnight(start).Format("2006-01-02"),
			}).Warnf("enforced maximum look back of %d days", days)
		}
	}

	return report.Midnight(start), nil
}

// streamWindows splits the requested range per the cube's window limit. A
// stream with no configured limit gets a single window covering the full
// range.
func (s *Syncer) streamWindows(stream *catalog.Stream, start, today time.Time) []report.Window {
	if size, ok := catalog.MaxWindowDays[stream.ID]; ok {
		return report.Windows(start, size, today)
	}
	if start.After(today) {
		return nil
	}
	return []report.Window{{Start: start, End: today}}
}

func (s *Syncer) emit(streamID string, record map[string]interface{}, timeExtracted time.Time) error {
	if err := s.writer.WriteRecord(streamID, record, timeExtracted); err != nil {
		return err
	}
	metrics.RecordsEmitted.WithLabelValues(streamID).Inc()
	s.records.Add(1)
	return nil
}

func (s *Syncer) setStatus(update func(*models.RunStatus)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	update(&s.status)
}
