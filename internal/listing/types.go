package listing

import "time"

// SellerType is the classified origin of a listing.
type SellerType string

const (
	SellerOwner   SellerType = "owner"
	SellerAgency  SellerType = "agency"
	SellerUnknown SellerType = "unknown"
)

// Price is a parsed price with its currency code (USD/EUR/UAH).
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Signal is a single named observation that contributed to a seller
// classification, retained for auditability.
type Signal struct {
	Name   string  `json:"name"`
	Value  string  `json:"value"`
	Weight float64 `json:"weight"`
	Side   string  `json:"side"` // "owner" or "agency"
}

// Candidate is an in-flight parsed listing produced by one crawl item.
// ExternalID is the only hard requirement; every other field is best-effort.
type Candidate struct {
	ExternalID       string     `json:"external_id"`
	Title            string     `json:"title"`
	URL              string     `json:"url"`
	Price            *Price     `json:"price,omitempty"`
	LocationCity     string     `json:"location_city,omitempty"`
	LocationText     string     `json:"location_text,omitempty"`
	District         string     `json:"district,omitempty"`
	DistrictSource   string     `json:"district_source,omitempty"`
	Street           string     `json:"street,omitempty"`
	Rooms            *int       `json:"rooms,omitempty"`
	Area             *float64   `json:"area,omitempty"`
	Floor            *int       `json:"floor,omitempty"`
	FloorsTotal      *int       `json:"floors_total,omitempty"`
	BuildingType     *string    `json:"building_type,omitempty"`
	Renovation       *string    `json:"renovation,omitempty"`
	Description      string     `json:"description,omitempty"`
	SellerType       SellerType `json:"seller_type"`
	SellerConfidence float64    `json:"seller_confidence"`
	Evidence         []Signal   `json:"evidence,omitempty"`
	ObservedAt       time.Time  `json:"observed_at"`
}

// Record is the durable form of a listing, one per external id.
type Record struct {
	Candidate

	IsActive    bool      `json:"is_active"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PriceHistoryEntry is one observed price change for a listing. Entries
// are appended only when the price actually changes, never per observation.
type PriceHistoryEntry struct {
	ExternalID string    `json:"external_id"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	RecordedAt time.Time `json:"recorded_at"`
}

// StreetMapping maps a street name to its canonical district. Order in a
// mapping slice is the resolver's match priority.
type StreetMapping struct {
	Street   string `json:"street"`
	District string `json:"district"`
}

// RunStats accumulates the counters for a single crawl session.
type RunStats struct {
	TotalProcessed int       `json:"total_processed"`
	NewCount       int       `json:"new_count"`
	UpdatedCount   int       `json:"updated_count"`
	ErrorCount     int       `json:"error_count"`
	PagesScraped   int       `json:"pages_scraped"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// Duration returns the wall time the run took.
func (s RunStats) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Progress is one progress event emitted after each crawled page. The
// final event of a successful run carries ProgressPercent == 100.
type Progress struct {
	Type            string `json:"type"`
	CurrentPage     int    `json:"current_page"`
	TotalPages      int    `json:"total_pages"`
	PageItems       int    `json:"page_items"`
	CumulativeItems int    `json:"cumulative_items"`
	ProgressPercent int    `json:"progress_percent"`
	Message         string `json:"message"`
	PageCompleted   bool   `json:"page_completed"`
}
