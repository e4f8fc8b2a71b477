package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singer-io/tap-gemini/internal/gemini"
)

// reportAPI drives the submit/poll/download lifecycle over httptest. The
// submit, poll and close-of-business handlers are swappable so tests can
// script response sequences.
type reportAPI struct {
	server   *httptest.Server
	submits  atomic.Int32
	polls    atomic.Int32
	onSubmit func(attempt int32) interface{}
	onPoll   func(jobID string, attempt int32) interface{}
	onCOB    func(r *http.Request) interface{}
	csvBody  string
}

func newReportAPI(t *testing.T) *reportAPI {
	api := &reportAPI{csvBody: "Day,Impressions\n2024-01-01,100\n2024-01-02,250\n"}
	mux := http.NewServeMux()

	mux.HandleFunc("/oauth2/get_token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-token",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/reports/custom", func(w http.ResponseWriter, r *http.Request) {
		n := api.submits.Add(1)
		if api.onSubmit != nil {
			api.respond(w, api.onSubmit(n))
			return
		}
		api.respond(w, map[string]string{
			"status": "submitted",
			"jobId":  fmt.Sprintf("job-%d", n),
		})
	})
	mux.HandleFunc("/reports/custom/", func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.URL.Query().Get("advertiserId"))
		jobID := r.URL.Path[len("/reports/custom/"):]
		if api.onPoll != nil {
			api.respond(w, api.onPoll(jobID, api.polls.Add(1)))
			return
		}
		api.respond(w, map[string]string{
			"status":      "completed",
			"jobResponse": api.server.URL + "/download",
		})
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		fmt.Fprint(w, api.csvBody)
	})
	mux.HandleFunc("/reports/cob", func(w http.ResponseWriter, r *http.Request) {
		require.NotNil(t, api.onCOB)
		api.respond(w, api.onCOB(r))
	})

	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

// respond writes either a success envelope or, when given an *APIError,
// the matching error response.
func (a *reportAPI) respond(w http.ResponseWriter, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if apiErr, ok := response.(*gemini.APIError); ok {
		w.WriteHeader(apiErr.StatusCode)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]string{{"code": apiErr.Code, "message": apiErr.Message}},
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"errors": nil, "response": response})
}

func (a *reportAPI) job() *Job {
	auth := gemini.NewAuthenticator("id", "secret", "refresh", nil)
	auth.SetTokenURL(a.server.URL + "/oauth2/get_token")
	session := gemini.NewSessionWithBase(a.server.URL, auth)

	job := NewJob(session, Request{
		Cube:          "performance_stats",
		AdvertiserIDs: []int64{1001, 1002},
		FieldNames:    []string{"Day", "Impressions"},
		StartDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}, 1.0)
	job.pollWait = func(int) time.Duration { return 0 }
	return job
}

func TestJob_SubmitAssignsID(t *testing.T) {
	api := newReportAPI(t)
	job := api.job()

	require.Equal(t, StatusUnsubmitted, job.Status())
	require.NoError(t, job.Submit(context.Background()))

	assert.Equal(t, "job-1", job.ID())
	assert.Equal(t, StatusSubmitted, job.Status())
}

func TestJob_SubmitRejection(t *testing.T) {
	api := newReportAPI(t)
	api.onSubmit = func(int32) interface{} {
		return map[string]string{"status": "rejected"}
	}

	job := api.job()
	err := job.Submit(context.Background())

	require.Error(t, err)
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "performance_stats", subErr.Cube)
	assert.Equal(t, "rejected", subErr.Status)
	assert.Equal(t, StatusFailed, job.Status())
}

func TestJob_PollUntilCompleted(t *testing.T) {
	api := newReportAPI(t)
	api.onPoll = func(jobID string, attempt int32) interface{} {
		switch attempt {
		case 1:
			return map[string]string{"status": "submitted"}
		case 2:
			return map[string]string{"status": "running"}
		default:
			return map[string]string{"status": "completed", "jobResponse": api.server.URL + "/download"}
		}
	}

	job := api.job()
	location, err := job.Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, api.server.URL+"/download", location)
	assert.Equal(t, StatusCompleted, job.Status())
	assert.Equal(t, int32(3), api.polls.Load())

	// A second poll reuses the known location without another request.
	again, err := job.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, location, again)
	assert.Equal(t, int32(3), api.polls.Load())
}

func TestJob_PollResubmitsOnLostAuthorization(t *testing.T) {
	api := newReportAPI(t)
	api.onPoll = func(jobID string, attempt int32) interface{} {
		if jobID == "job-1" {
			return &gemini.APIError{
				Kind:       gemini.KindAuthorization,
				StatusCode: 401,
				Code:       "E50000_AUTHORIZATION_ERROR",
				Message:    "expired",
			}
		}
		return map[string]string{"status": "completed", "jobResponse": api.server.URL + "/download"}
	}

	job := api.job()
	location, err := job.Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, api.server.URL+"/download", location)
	assert.Equal(t, "job-2", job.ID(), "authorization loss forces one re-submission under a new job id")
	assert.Equal(t, int32(2), api.submits.Load())
}

func TestJob_PollUnexpectedStatus(t *testing.T) {
	api := newReportAPI(t)
	api.onPoll = func(string, int32) interface{} {
		return map[string]string{"status": "exploded"}
	}

	job := api.job()
	_, err := job.Poll(context.Background())

	require.Error(t, err)
	var statusErr *UnexpectedStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "exploded", statusErr.Status)
	assert.Equal(t, StatusFailed, job.Status())
}

func TestJob_StreamRows(t *testing.T) {
	api := newReportAPI(t)
	job := api.job()

	rows, err := job.Stream(context.Background())
	require.NoError(t, err)
	defer rows.Close()

	assert.Equal(t, []string{"Day", "Impressions"}, rows.Header())

	var impressions []string
	for rows.Next() {
		impressions = append(impressions, rows.Row()["Impressions"])
	}

	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"100", "250"}, impressions)
	assert.Equal(t, 2, rows.Count())
}

func TestJob_StreamRaggedRows(t *testing.T) {
	handler := memory.New()
	log.SetHandler(handler)
	t.Cleanup(func() { log.SetHandler(discard.New()) })

	api := newReportAPI(t)
	api.csvBody = "Day,Impressions\n2024-01-01,100,extra\n2024-01-02\n2024-01-03,300\n"

	rows, err := api.job().Stream(context.Background())
	require.NoError(t, err)
	defer rows.Close()

	var parsed []map[string]string
	for rows.Next() {
		parsed = append(parsed, rows.Row())
	}
	require.NoError(t, rows.Err())
	require.Len(t, parsed, 3)

	// Cells beyond the header are dropped, short rows leave trailing
	// fields absent, well-formed rows are untouched.
	assert.Equal(t, "100", parsed[0]["Impressions"])
	assert.NotContains(t, parsed[1], "Impressions")
	assert.Equal(t, "300", parsed[2]["Impressions"])

	var warned []int
	for _, entry := range handler.Entries {
		if entry.Level == log.WarnLevel && entry.Message == "report row width disagrees with header" {
			warned = append(warned, entry.Fields["row"].(int))
		}
	}
	assert.Equal(t, []int{1, 2}, warned, "each malformed row is named once")
}

func TestJob_StreamEmptyReport(t *testing.T) {
	api := newReportAPI(t)
	api.csvBody = "Day,Impressions\n"

	rows, err := api.job().Stream(context.Background())
	require.NoError(t, err)
	defer rows.Close()

	assert.False(t, rows.Next())
	require.NoError(t, rows.Err())
	assert.Zero(t, rows.Count())
}

func TestJob_StreamMissingHeader(t *testing.T) {
	api := newReportAPI(t)
	api.csvBody = ""

	_, err := api.job().Stream(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing header row")
}

func TestJob_CloseOfBusiness(t *testing.T) {
	api := newReportAPI(t)
	var cubes []string
	api.onCOB = func(r *http.Request) interface{} {
		cubes = append(cubes, r.URL.Query().Get("cubeName"))
		assert.Equal(t, "20240115", r.URL.Query().Get("date"))
		assert.Equal(t, "1001", r.URL.Query().Get("advertiserId"))
		return map[string]interface{}{
			"isDayClosed":        true,
			"isMonthClosed":      false,
			"advertiserTimezone": "America/New_York",
			"dayProgressPercent": 100.0,
		}
	}

	status, err := api.job().CloseOfBusiness(context.Background(), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.True(t, status.DayClosed)
	assert.False(t, status.MonthClosed)
	assert.Equal(t, "America/New_York", status.AdvertiserTimezone)
	assert.Equal(t, []string{"performance_stats"}, cubes)
}

func TestJob_CloseOfBusinessCubeFallback(t *testing.T) {
	api := newReportAPI(t)
	var cubes []string
	api.onCOB = func(r *http.Request) interface{} {
		cube := r.URL.Query().Get("cubeName")
		cubes = append(cubes, cube)
		if cube != "" {
			return &gemini.APIError{StatusCode: 400, Code: "E40000_INVALID_INPUT", Message: "unsupported cube"}
		}
		return map[string]interface{}{"isDayClosed": false, "isMonthClosed": true}
	}

	status, err := api.job().CloseOfBusiness(context.Background(), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.True(t, status.MonthClosed)
	assert.Equal(t, []string{"performance_stats", ""}, cubes, "falls back to account-level status")
}

func TestJob_CloseOfBusinessUnsupported(t *testing.T) {
	api := newReportAPI(t)
	api.onCOB = func(r *http.Request) interface{} {
		return &gemini.APIError{StatusCode: 400, Code: "E40000_INVALID_INPUT", Message: "unsupported"}
	}

	_, err := api.job().CloseOfBusiness(context.Background(), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBooksClosedUnsupported))
}
