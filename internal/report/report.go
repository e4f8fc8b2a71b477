package report

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/apex/log"

	"github.com/singer-io/tap-gemini/internal/gemini"
	"github.com/singer-io/tap-gemini/internal/metrics"
	"github.com/singer-io/tap-gemini/internal/models"
)

const (
	reportEndpoint       = "reports"
	customReportEndpoint = reportEndpoint + "/custom"

	defaultPollInterval = 1.0
)

// Status is the lifecycle state of a report job. Transitions are forward
// only, except that an authentication failure during polling forces a
// re-submission under a new job id.
type Status string

const (
	StatusUnsubmitted Status = "unsubmitted"
	StatusSubmitted   Status = "submitted"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Request describes one bounded-date-range report before submission. The
// first advertiser id is the primary id used for status polling. The date
// range must already respect the cube's window limit: that is enforced by
// the window generator, not here.
type Request struct {
	Cube          string
	AdvertiserIDs []int64
	FieldNames    []string
	StartDate     time.Time
	EndDate       time.Time
	ExtraFilters  []map[string]interface{}
}

// PrimaryAdvertiserID returns the advertiser id used for polling calls.
func (r Request) PrimaryAdvertiserID() int64 {
	return r.AdvertiserIDs[0]
}

// definition builds the report definition payload.
// https://developer.yahoo.com/nativeandsearch/guide/reporting/
func (r Request) definition() map[string]interface{} {
	fields := make([]map[string]interface{}, len(r.FieldNames))
	for i, name := range r.FieldNames {
		fields[i] = map[string]interface{}{"field": name}
	}

	filters := []map[string]interface{}{
		{
			"field":    "Advertiser ID",
			"operator": "IN",
			"values":   r.AdvertiserIDs,
		},
		{
			"field":    "Day",
			"operator": "between",
			"from":     r.StartDate.Format("2006-01-02"),
			"to":       r.EndDate.Format("2006-01-02"),
		},
	}
	filters = append(filters, r.ExtraFilters...)

	return map[string]interface{}{
		"cube":    r.Cube,
		"fields":  fields,
		"filters": filters,
	}
}

// Job owns the submit/poll/stream lifecycle of one report request.
type Job struct {
	session      *gemini.Session
	request      Request
	pollInterval float64

	id          string
	status      Status
	downloadURL string
	submitted   time.Time

	// pollWait computes the delay before the next status poll;
	// stubbed in tests
	pollWait func(attempt int) time.Duration
}

// NewJob creates an unsubmitted job for a request. pollInterval is the
// base number of seconds for poll back-off; values below one second are
// raised to one.
func NewJob(session *gemini.Session, request Request, pollInterval float64) *Job {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	j := &Job{
		session:      session,
		request:      request,
		pollInterval: pollInterval,
		status:       StatusUnsubmitted,
	}
	j.pollWait = func(attempt int) time.Duration {
		// Minimum one second, growing geometrically with attempt count
		return time.Duration(math.Pow(math.Max(1.0, j.pollInterval)+0.2, float64(attempt)) * float64(time.Second))
	}
	return j
}

// ID returns the remote job id, empty until submission.
func (j *Job) ID() string {
	return j.id
}

// Status returns the job's current lifecycle state.
func (j *Job) Status() Status {
	return j.status
}

// Submit sends the report request and records the assigned job id. A
// response whose status is not "submitted" is a SubmissionError: the
// request itself was rejected and retrying would not help.
func (j *Job) Submit(ctx context.Context) error {
	payload, err := j.session.Call(ctx, "POST", customReportEndpoint, nil, j.request.definition())
	if err != nil {
		j.status = StatusFailed
		return fmt.Errorf("failed to submit report for cube %q: %w", j.request.Cube, err)
	}

	var resp struct {
		Status string `json:"status"`
		JobID  string `json:"jobId"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		j.status = StatusFailed
		return fmt.Errorf("failed to decode submission response: %w", err)
	}

	if resp.Status != "submitted" {
		j.status = StatusFailed
		return &SubmissionError{
			Cube:     j.request.Cube,
			Status:   resp.Status,
			Response: string(payload),
		}
	}

	j.id = resp.JobID
	j.status = StatusSubmitted
	j.submitted = time.Now()

	log.WithFields(log.Fields{
		"cube":   j.request.Cube,
		"job_id": j.id,
		"from":   j.request.StartDate.Format("2006-01-02"),
		"to":     j.request.EndDate.Format("2006-01-02"),
	}).Info("report submitted")
	return nil
}

// Poll repeatedly queries job status until completion, waiting between
// attempts with exponential back-off. Large reports can take minutes:
// fixed-interval polling either wastes requests early or delays
// completion detection later. An unrecognized status aborts with
// UnexpectedStatusError. An expired authentication that outlives the
// session's own retry forces one re-submission under a new job id.
func (j *Job) Poll(ctx context.Context) (string, error) {
	if j.downloadURL != "" {
		return j.downloadURL, nil
	}
	if j.id == "" {
		if err := j.Submit(ctx); err != nil {
			return "", err
		}
	}

	resubmitted := false
	attempts := 0
	for {
		attempts++
		metrics.PollAttempts.WithLabelValues(j.request.Cube).Inc()

		status, location, err := j.pollOnce(ctx)
		if err != nil {
			if gemini.IsAuthExpired(err) && !resubmitted {
				resubmitted = true
				log.WithField("cube", j.request.Cube).Warn("authorization lost mid-poll, re-submitting report")
				if err := j.Submit(ctx); err != nil {
					return "", err
				}
				attempts = 0
				continue
			}
			j.status = StatusFailed
			return "", err
		}

		switch status {
		case "completed":
			j.status = StatusCompleted
			j.downloadURL = location
			log.WithFields(log.Fields{
				"cube":     j.request.Cube,
				"job_id":   j.id,
				"attempts": attempts,
			}).Info("report completed")
			return location, nil

		case "running":
			j.status = StatusRunning

		case "submitted":
			// still queued

		default:
			j.status = StatusFailed
			return "", &UnexpectedStatusError{JobID: j.id, Status: status}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(j.pollWait(attempts)):
		}
	}
}

// pollOnce asks for the job's status using the primary advertiser id.
func (j *Job) pollOnce(ctx context.Context) (status, location string, err error) {
	endpoint := fmt.Sprintf("%s/%s", customReportEndpoint, j.id)
	params := url.Values{
		"advertiserId": {strconv.FormatInt(j.request.PrimaryAdvertiserID(), 10)},
	}

	payload, err := j.session.Call(ctx, "GET", endpoint, params, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to poll report job %s: %w", j.id, err)
	}

	var resp struct {
		Status      string `json:"status"`
		JobResponse string `json:"jobResponse"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", "", fmt.Errorf("failed to decode poll response: %w", err)
	}
	return resp.Status, resp.JobResponse, nil
}

// Stream downloads the completed report and returns its rows, polling
// first if no download location is known yet. Single pass: a second read
// requires a fresh poll and download.
func (j *Job) Stream(ctx context.Context) (*Rows, error) {
	location, err := j.Poll(ctx)
	if err != nil {
		return nil, err
	}

	body, err := j.session.Download(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to download report for cube %q: %w", j.request.Cube, err)
	}

	started := j.submitted
	if started.IsZero() {
		started = time.Now()
	}
	return newRows(body, started)
}

// CloseOfBusiness queries the finality status for a calendar date. Some
// cubes lack per-cube closing-status granularity: an invalid-input
// rejection is retried once with no cube qualifier, falling back to
// account-level status. If that fails too the cube does not support the
// query at all and ErrBooksClosedUnsupported is returned.
func (j *Job) CloseOfBusiness(ctx context.Context, date time.Time) (*models.CloseOfBusiness, error) {
	status, err := j.closeOfBusiness(ctx, date, j.request.Cube)
	if err == nil {
		return status, nil
	}
	if !gemini.IsInvalidInput(err) {
		return nil, err
	}

	log.WithFields(log.Fields{
		"cube": j.request.Cube,
		"date": date.Format("2006-01-02"),
	}).Warn("cube is not in the list of currently supported reports, retrying with no cube specified")

	status, err = j.closeOfBusiness(ctx, date, "")
	if err != nil {
		if gemini.IsInvalidInput(err) {
			return nil, ErrBooksClosedUnsupported
		}
		return nil, err
	}
	return status, nil
}

func (j *Job) closeOfBusiness(ctx context.Context, date time.Time, cube string) (*models.CloseOfBusiness, error) {
	params := url.Values{
		"advertiserId": {strconv.FormatInt(j.request.PrimaryAdvertiserID(), 10)},
		"date":         {date.Format("20060102")},
	}
	if cube != "" {
		params.Set("cubeName", cube)
	}

	payload, err := j.session.Call(ctx, "GET", reportEndpoint+"/cob", params, nil)
	if err != nil {
		return nil, err
	}

	var status models.CloseOfBusiness
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, fmt.Errorf("failed to decode close of business response: %w", err)
	}
	return &status, nil
}
