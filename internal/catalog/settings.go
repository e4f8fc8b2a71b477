package catalog

// BookmarkKey is the per-stream state key holding the resumption timestamp.
const BookmarkKey = "start_date"

// MaxWindowDays caps the date span of a single report request per cube.
// Requests above the cap are rejected by the API with
// ERROR_CODE:10001 "Max days window exceeded expected".
var MaxWindowDays = map[string]int{
	"search_stats":                 15,
	"performance_stats":            15,
	"slot_performance_stats":       15,
	"keyword_stats":                400,
	"product_ads":                  400,
	"site_performance_stats":       400,
	"conversion_rules_stats":       400,
	"domain_performance_stats":     400,
	"call_extension_stats":         400,
	"ad_extension_details":         400,
	"adjustment_stats":             400,
	"product_ad_performance_stats": 400,
	"user_stats":                   400,
}

// MaxLookBackDays caps how far in the past a report may start per cube.
// Requests beyond the cap are rejected by the API with
// ERROR_CODE:10002 "Max look back window exceeded expected".
var MaxLookBackDays = map[string]int{
	"search_stats":                   15,
	"performance_stats":              15,
	"slot_performance_stats":         15,
	"product_ads":                    400,
	"site_performance_stats":         400,
	"keyword_stats":                  750,
	"conversion_rules_stats":         400,
	"domain_performance_stats":       400,
	"call_extension_stats":           400,
	"ad_extension_details":           400,
	"adjustment_stats":               400,
	"product_ad_performance_stats":   400,
	"user_stats":                     400,
	"campaign_bid_performance_stats": 400,
}

// ListingEdges maps a dimension stream id to its API endpoint path. Streams
// present here are full-snapshot object listings rather than report cubes.
var ListingEdges = map[string]string{
	"advertiser":            "advertiser",
	"campaign":              "campaign",
	"adgroup":               "adgroup",
	"ad":                    "ad",
	"keyword":               "keyword",
	"targetingattribute":    "targetingattribute",
	"adextensions":          "adextension",
	"sharedsitelink":        "sharedsitelink",
	"sharedsitelinksetting": "sharedsitelink",
	"adsitesetting":         "adsitesetting",
}
