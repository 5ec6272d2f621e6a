package serp

import (
	"encoding/json"
	"time"
)

// Device selects which rendering of the results page is requested.
type Device string

const (
	DeviceDesktop Device = "DESKTOP"
	DeviceMobile  Device = "MOBILE"
)

// DeviceFor maps the mobileResults switch to a Device.
func DeviceFor(mobile bool) Device {
	if mobile {
		return DeviceMobile
	}
	return DeviceDesktop
}

// UnitOfWork identifies one results page to fetch. URL is the dedup key used
// by work queues.
type UnitOfWork struct {
	URL        string    `json:"url"`
	PageIndex  int       `json:"pageIndex"`
	QueryTerm  string    `json:"queryTerm,omitempty"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// DisplayPage returns the page number as the search engine shows it (1-based).
func (u UnitOfWork) DisplayPage() int {
	return u.PageIndex + 1
}

// SearchQuery is the human-facing description of the request, derived from
// the request URL by ParseSearchURL.
type SearchQuery struct {
	Term           string `json:"term"`
	Device         Device `json:"device"`
	Page           int    `json:"page"`
	Type           string `json:"type"`
	Domain         string `json:"domain"`
	CountryCode    string `json:"countryCode"`
	LanguageCode   string `json:"languageCode,omitempty"`
	LocationUule   string `json:"locationUule,omitempty"`
	ResultsPerPage int    `json:"resultsPerPage"`
}

// RelatedQuery is a "searches related to" suggestion.
type RelatedQuery struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// OrganicResult is a single unpaid listing.
type OrganicResult struct {
	Position     int    `json:"position"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	DisplayedURL string `json:"displayedUrl"`
	Description  string `json:"description"`
}

// PaidResult is a text ad.
type PaidResult struct {
	Position     int    `json:"position"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	DisplayedURL string `json:"displayedUrl"`
	Description  string `json:"description"`
}

// PaidProduct is a shopping ad.
type PaidProduct struct {
	Position     int      `json:"position"`
	Title        string   `json:"title"`
	URL          string   `json:"url"`
	DisplayedURL string   `json:"displayedUrl"`
	Prices       []string `json:"prices"`
}

// DebugInfo carries request/response and timing metadata for a record.
type DebugInfo struct {
	RequestID     string    `json:"requestId"`
	URL           string    `json:"url"`
	LoadedURL     string    `json:"loadedUrl,omitempty"`
	Method        string    `json:"method"`
	StatusCode    int       `json:"statusCode,omitempty"`
	Attempts      int       `json:"attempts"`
	// RetryCount is Attempts minus the first try.
	RetryCount    int       `json:"retryCount"`
	ErrorMessages []string  `json:"errorMessages,omitempty"`
	StartedAt     time.Time `json:"startedAt,omitzero"`
	FinishedAt    time.Time `json:"finishedAt,omitzero"`
	DurationSecs  float64   `json:"durationSecs"`
	DetectedBot   bool      `json:"detectedBot,omitempty"`
	DetectionSrc  string    `json:"detectionSrc,omitempty"`
	Proxy         string    `json:"proxy,omitempty"`
}

// ResultRecord is one output row per processed or failed page.
// Error records carry only ID, URL, Debug, IsError and CreatedAt.
type ResultRecord struct {
	ID             string          `json:"id"`
	SearchQuery    *SearchQuery    `json:"searchQuery,omitempty"`
	URL            string          `json:"url"`
	HasNextPage    bool            `json:"hasNextPage"`
	ResultsTotal   *int64          `json:"resultsTotal"`
	RelatedQueries []RelatedQuery  `json:"relatedQueries"`
	PaidResults    []PaidResult    `json:"paidResults"`
	PaidProducts   []PaidProduct   `json:"paidProducts"`
	OrganicResults []OrganicResult `json:"organicResults"`
	CustomData     any             `json:"customData"`
	HTML           string          `json:"html,omitempty"`
	Debug          DebugInfo       `json:"#debug"`
	IsError        bool            `json:"#error"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Term returns the search term of the record, or "" for error records.
func (r *ResultRecord) Term() string {
	if r.SearchQuery == nil {
		return ""
	}
	return r.SearchQuery.Term
}

// MarshalJSON writes error records in their reduced shape.
func (r ResultRecord) MarshalJSON() ([]byte, error) {
	if r.IsError {
		return json.Marshal(struct {
			ID        string    `json:"id"`
			URL       string    `json:"url"`
			Debug     DebugInfo `json:"#debug"`
			IsError   bool      `json:"#error"`
			CreatedAt time.Time `json:"createdAt"`
		}{r.ID, r.URL, r.Debug, r.IsError, r.CreatedAt})
	}
	type plain ResultRecord
	return json.Marshal(plain(r))
}
