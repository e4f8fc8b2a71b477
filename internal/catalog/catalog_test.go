package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const performanceSchema = `{
	"type": "object",
	"properties": {
		"Advertiser ID": {"type": "integer"},
		"Day": {"type": "string", "format": "date-time"},
		"Impressions": {"type": ["null", "integer"]},
		"Cost": {"type": ["null", "number"]},
		"Source": {"type": "string"}
	}
}`

func TestSchema_PreservesFieldOrder(t *testing.T) {
	var schema Schema
	require.NoError(t, json.Unmarshal([]byte(performanceSchema), &schema))

	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, []string{"Advertiser ID", "Day", "Impressions", "Cost", "Source"}, schema.FieldOrder)

	day := schema.Field("Day")
	require.NotNil(t, day)
	assert.Equal(t, []string{"string"}, day.Types)
	assert.Equal(t, "date-time", day.Format)

	impressions := schema.Field("Impressions")
	require.NotNil(t, impressions)
	assert.Equal(t, []string{"null", "integer"}, impressions.Types)

	assert.Nil(t, schema.Field("Clicks"))
}

func TestSchema_MarshalRoundTrip(t *testing.T) {
	var schema Schema
	require.NoError(t, json.Unmarshal([]byte(performanceSchema), &schema))

	data, err := json.Marshal(&schema)
	require.NoError(t, err)

	var reparsed Schema
	require.NoError(t, json.Unmarshal(data, &reparsed))
	assert.Equal(t, schema.FieldOrder, reparsed.FieldOrder, "marshalling keeps property order")
	assert.Equal(t, schema.Properties, reparsed.Properties)
}

func TestSchema_RemoveField(t *testing.T) {
	var schema Schema
	require.NoError(t, json.Unmarshal([]byte(performanceSchema), &schema))

	schema.RemoveField("Impressions")
	schema.RemoveField("NoSuchField")

	assert.Equal(t, []string{"Advertiser ID", "Day", "Cost", "Source"}, schema.FieldOrder)
	assert.Nil(t, schema.Field("Impressions"))
}

func streamWithMetadata(t *testing.T, metadata []MetadataEntry) *Stream {
	var schema Schema
	require.NoError(t, json.Unmarshal([]byte(performanceSchema), &schema))
	return &Stream{
		ID:       "performance_stats",
		Name:     "performance_stats",
		Schema:   &schema,
		Metadata: metadata,
	}
}

func TestStream_Selected(t *testing.T) {
	stream := streamWithMetadata(t, []MetadataEntry{
		{Breadcrumb: []string{}, Metadata: map[string]interface{}{"selected": true}},
	})
	assert.True(t, stream.Selected())

	stream = streamWithMetadata(t, []MetadataEntry{
		{Breadcrumb: []string{}, Metadata: map[string]interface{}{"selected": false}},
	})
	assert.False(t, stream.Selected())

	stream = streamWithMetadata(t, nil)
	assert.False(t, stream.Selected(), "streams default to unselected")
}

func TestStream_ApplySelection(t *testing.T) {
	stream := streamWithMetadata(t, []MetadataEntry{
		{Breadcrumb: []string{}, Metadata: map[string]interface{}{"selected": true}},
		{Breadcrumb: []string{"properties", "Advertiser ID"}, Metadata: map[string]interface{}{
			"selected": false, "inclusion": "automatic",
		}},
		{Breadcrumb: []string{"properties", "Impressions"}, Metadata: map[string]interface{}{
			"selected": false,
		}},
		{Breadcrumb: []string{"properties", "Source"}, Metadata: map[string]interface{}{
			"selected": true, "inclusion": "unsupported",
		}},
	})

	stream.ApplySelection()

	// Automatic fields survive deselection, unsupported fields never
	// survive, and fields with no metadata default to selected.
	assert.Equal(t, []string{"Advertiser ID", "Day", "Cost"}, stream.FieldNames())
}

func TestStream_IsListing(t *testing.T) {
	assert.True(t, (&Stream{ID: "campaign"}).IsListing())
	assert.True(t, (&Stream{ID: "adextensions"}).IsListing())
	assert.False(t, (&Stream{ID: "performance_stats"}).IsListing())
}

func TestCatalog_SelectedStreams(t *testing.T) {
	selected := streamWithMetadata(t, []MetadataEntry{
		{Breadcrumb: []string{}, Metadata: map[string]interface{}{"selected": true}},
	})
	unselected := streamWithMetadata(t, nil)
	unselected.ID = "keyword_stats"

	c := &Catalog{Streams: []*Stream{selected, unselected}}

	streams := c.SelectedStreams()
	require.Len(t, streams, 1)
	assert.Equal(t, "performance_stats", streams[0].ID)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"streams": [
			{
				"tap_stream_id": "performance_stats",
				"stream": "performance_stats",
				"schema": `+performanceSchema+`,
				"metadata": [{"breadcrumb": [], "metadata": {"selected": true}}],
				"key_properties": ["Advertiser ID", "Day"]
			}
		]
	}`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Len(t, c.Streams, 1)

	stream := c.Streams[0]
	assert.Equal(t, "performance_stats", stream.ID)
	assert.True(t, stream.Selected())
	assert.Equal(t, []string{"Advertiser ID", "Day"}, stream.KeyProperties)
	assert.Equal(t, []string{"Advertiser ID", "Day", "Impressions", "Cost", "Source"}, stream.FieldNames())
}

func TestLoad_MissingSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"streams": [{"tap_stream_id": "x"}]}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no schema")
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	schemaDir := filepath.Join(root, "schemas")
	require.NoError(t, os.MkdirAll(schemaDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "metadata"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "key_properties"), 0o755))

	// The file name normalizes to the stream id.
	require.NoError(t, os.WriteFile(
		filepath.Join(schemaDir, "Performance Stats.json"),
		[]byte(performanceSchema), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "metadata", "performance_stats.json"),
		[]byte(`[{"breadcrumb": [], "metadata": {"selected": true}}]`), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "key_properties", "performance_stats.json"),
		[]byte(`["Advertiser ID", "Day"]`), 0o644))

	c, err := Discover(schemaDir)
	require.NoError(t, err)
	require.Len(t, c.Streams, 1)

	stream := c.Streams[0]
	assert.Equal(t, "performance_stats", stream.ID)
	assert.True(t, stream.Selected())
	assert.Equal(t, []string{"Advertiser ID", "Day"}, stream.KeyProperties)
}

func TestSettings_WindowLimits(t *testing.T) {
	assert.Equal(t, 15, MaxWindowDays["performance_stats"])
	assert.Equal(t, 400, MaxWindowDays["keyword_stats"])
	assert.Equal(t, 750, MaxLookBackDays["keyword_stats"])
	_, bounded := MaxWindowDays["campaign_bid_performance_stats"]
	assert.False(t, bounded, "streams without a limit sync in a single window")
}
