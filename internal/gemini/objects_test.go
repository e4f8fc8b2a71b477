package gemini

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectList_Pagination(t *testing.T) {
	var offsets []string
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request, token string) {
		require.Equal(t, "/campaign", r.URL.Path)
		require.Equal(t, "500", r.URL.Query().Get("mr"))
		offsets = append(offsets, r.URL.Query().Get("si"))

		start := 0
		count := listPageSize
		if si := r.URL.Query().Get("si"); si != "" {
			start = listPageSize
			count = 2
		}
		page := make([]map[string]interface{}, count)
		for i := range page {
			page[i] = map[string]interface{}{"id": start + i}
		}
		writeEnvelope(w, page)
	})

	list := api.session().ListObjects("campaign")

	var ids []int
	for list.Next(context.Background()) {
		ids = append(ids, int(list.Object()["id"].(float64)))
	}

	require.NoError(t, list.Err())
	assert.Len(t, ids, listPageSize+2)
	assert.Equal(t, 0, ids[0])
	assert.Equal(t, listPageSize+1, ids[len(ids)-1])
	assert.Equal(t, []string{"", "500"}, offsets, "second page resumes at the start index")
}

func TestObjectList_NormalizesTimestamps(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request, token string) {
		writeEnvelope(w, []map[string]interface{}{
			{
				"id":             17,
				"createdDate":    1704067200000,
				"lastUpdateDate": 1704110400123,
				"status":         "ACTIVE",
			},
			{
				"id":          18,
				"createdDate": nil,
			},
		})
	})

	list := api.session().ListObjects("advertiser")

	require.True(t, list.Next(context.Background()))
	obj := list.Object()
	assert.Equal(t, "2024-01-01T00:00:00Z", obj["createdDate"])
	assert.Equal(t, "2024-01-01T12:00:00Z", obj["lastUpdateDate"])
	assert.Equal(t, "ACTIVE", obj["status"])

	require.True(t, list.Next(context.Background()))
	assert.Nil(t, list.Object()["createdDate"])

	assert.False(t, list.Next(context.Background()))
	require.NoError(t, list.Err())
}

func TestObjectList_PropagatesErrors(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request, token string) {
		writeAPIError(w, http.StatusNotFound, "E40005_NOT_FOUND", "no such edge")
	})

	list := api.session().ListObjects("bogus")

	assert.False(t, list.Next(context.Background()))
	require.Error(t, list.Err())
	var apiErr *APIError
	require.ErrorAs(t, list.Err(), &apiErr)
	assert.Equal(t, KindNotFound, apiErr.Kind)
}
