// Package storage owns the durable listing store: upsert-by-external-id
// reconciliation, change-driven price history, the end-of-run inactive
// sweep and read-only aggregation. No other component writes to the store.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"olxmonitor/internal/district"
	"olxmonitor/internal/listing"
	"olxmonitor/logger"
	errs "olxmonitor/pkg/errors"
)

// ErrEmptySweep is returned when a sweep is requested with no seen ids.
// A crawl that produced nothing is far more likely a fetch failure than a
// genuinely empty market, so mass deactivation is refused.
var ErrEmptySweep = stderrors.New("refusing to sweep with empty seen set")

// timeLayout is fixed-width so stored timestamps compare correctly in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// areaAnomalyThreshold is the relative area change above which a
// reappearing listing is flagged as a probable id reuse.
const areaAnomalyThreshold = 0.3

// Store is a listing repository over database/sql. Supported drivers are
// "sqlite" (local store) and "postgres".
type Store struct {
	db     *sql.DB
	driver string
	log    *logger.Logger
}

// Open connects to the database, runs migrations and seeds the street
// mapping table on first use.
func Open(driver, dsn string) (*Store, error) {
	if driver != "sqlite" && driver != "postgres" {
		return nil, errs.NewConfiguration("unsupported db driver: "+driver, nil)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errs.NewStorage(driver, "open", err)
	}
	if driver == "sqlite" {
		// modernc sqlite misbehaves with concurrent writers on one file.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.NewStorage(driver, "ping", err)
	}

	s := &Store{db: db, driver: driver, log: logger.ForStore()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errs.NewStorage(driver, "migrate", err)
	}
	if err := s.seedStreetMappings(); err != nil {
		db.Close()
		return nil, errs.NewStorage(driver, "seed street mappings", err)
	}

	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS listings (
			external_id       TEXT PRIMARY KEY,
			title             TEXT NOT NULL,
			url               TEXT NOT NULL,
			price_amount      REAL,
			price_currency    TEXT,
			location_city     TEXT,
			location_text     TEXT,
			district          TEXT,
			district_source   TEXT,
			street            TEXT,
			rooms             INTEGER,
			area_total        REAL,
			floor             INTEGER,
			floors_total      INTEGER,
			building_type     TEXT,
			renovation        TEXT,
			description       TEXT,
			seller_type       TEXT NOT NULL DEFAULT 'unknown',
			seller_confidence REAL NOT NULL DEFAULT 0,
			seller_signals    TEXT,
			is_active         BOOLEAN NOT NULL,
			observed_at       TEXT NOT NULL,
			first_seen_at     TEXT NOT NULL,
			last_seen_at      TEXT NOT NULL,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS price_history (
			id             %s,
			external_id    TEXT NOT NULL REFERENCES listings(external_id),
			price_amount   REAL NOT NULL,
			price_currency TEXT NOT NULL,
			recorded_at    TEXT NOT NULL
		)`, serial),
		`CREATE TABLE IF NOT EXISTS street_districts (
			street   TEXT PRIMARY KEY,
			district TEXT NOT NULL,
			position INTEGER NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS crawl_sessions (
			id              %s,
			start_time      TEXT NOT NULL,
			end_time        TEXT NOT NULL,
			pages_scraped   INTEGER NOT NULL,
			total_processed INTEGER NOT NULL,
			new_count       INTEGER NOT NULL,
			updated_count   INTEGER NOT NULL,
			error_count     INTEGER NOT NULL,
			success         BOOLEAN NOT NULL,
			error_message   TEXT
		)`, serial),
		`CREATE INDEX IF NOT EXISTS idx_listings_is_active ON listings(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_district  ON listings(district)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_price     ON listings(price_amount)`,
		`CREATE INDEX IF NOT EXISTS idx_price_history_ext  ON price_history(external_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) seedStreetMappings() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM street_districts`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for i, m := range district.DefaultMappings() {
		_, err := s.db.Exec(
			`INSERT INTO street_districts (street, district, position) VALUES ($1, $2, $3)`,
			m.Street, m.District, i,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// Upsert reconciles a candidate against the store and reports whether a
// new record was created. An existing record is updated in place,
// unconditionally reactivated, and gets a price-history entry only when
// the price actually changed. first_seen_at and external_id never change.
func (s *Store) Upsert(ctx context.Context, c listing.Candidate) (bool, error) {
	if c.ExternalID == "" {
		return false, errs.NewValidation("upsert", "candidate has empty external id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errs.NewStorage(c.ExternalID, "begin", err)
	}
	defer tx.Rollback()

	var (
		prevArea    sql.NullFloat64
		lastSeenRaw string
	)
	row := tx.QueryRowContext(ctx,
		`SELECT area_total, last_seen_at FROM listings WHERE external_id = $1`,
		c.ExternalID,
	)
	err = row.Scan(&prevArea, &lastSeenRaw)

	now := time.Now().UTC()
	observed := c.ObservedAt.UTC()
	evidence := marshalEvidence(c.Evidence)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `INSERT INTO listings (
				external_id, title, url, price_amount, price_currency,
				location_city, location_text, district, district_source, street,
				rooms, area_total, floor, floors_total, building_type, renovation,
				description, seller_type, seller_confidence, seller_signals,
				is_active, observed_at, first_seen_at, last_seen_at, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`,
			c.ExternalID, c.Title, c.URL, priceAmount(c.Price), priceCurrency(c.Price),
			c.LocationCity, c.LocationText, nullString(c.District), nullString(c.DistrictSource), nullString(c.Street),
			c.Rooms, c.Area, c.Floor, c.FloorsTotal, c.BuildingType, c.Renovation,
			c.Description, string(sellerType(c.SellerType)), c.SellerConfidence, evidence,
			true, formatTime(observed), formatTime(observed), formatTime(observed), formatTime(now), formatTime(now),
		)
		if err != nil {
			return false, errs.NewStorage(c.ExternalID, "insert", err)
		}
		if c.Price != nil {
			if err := appendPrice(ctx, tx, c.ExternalID, *c.Price, observed); err != nil {
				return false, err
			}
		}
		if err := tx.Commit(); err != nil {
			return false, errs.NewStorage(c.ExternalID, "commit", err)
		}
		return true, nil

	case err != nil:
		return false, errs.NewStorage(c.ExternalID, "select", err)
	}

	// Reappearance with a substantially different area usually means the
	// source reused the id; keep the identity but leave an audit trail.
	if prevArea.Valid && c.Area != nil && relativeChange(prevArea.Float64, *c.Area) > areaAnomalyThreshold {
		s.log.Warn().
			Str("external_id", c.ExternalID).
			Float64("stored_area", prevArea.Float64).
			Float64("observed_area", *c.Area).
			Msg("Area changed substantially for existing listing, possible id reuse")
	}

	// last_seen_at must never move backwards, even for out-of-order
	// observations.
	lastSeen := observed
	if prev, perr := time.Parse(timeLayout, lastSeenRaw); perr == nil && prev.After(lastSeen) {
		lastSeen = prev
	}

	_, err = tx.ExecContext(ctx, `UPDATE listings SET
			title = $1, url = $2, price_amount = $3, price_currency = $4,
			location_city = $5, location_text = $6, district = $7, district_source = $8, street = $9,
			rooms = $10, area_total = $11, floor = $12, floors_total = $13,
			building_type = $14, renovation = $15, description = $16,
			seller_type = $17, seller_confidence = $18, seller_signals = $19,
			is_active = $20, observed_at = $21, last_seen_at = $22, updated_at = $23
		WHERE external_id = $24`,
		c.Title, c.URL, priceAmount(c.Price), priceCurrency(c.Price),
		c.LocationCity, c.LocationText, nullString(c.District), nullString(c.DistrictSource), nullString(c.Street),
		c.Rooms, c.Area, c.Floor, c.FloorsTotal,
		c.BuildingType, c.Renovation, c.Description,
		string(sellerType(c.SellerType)), c.SellerConfidence, evidence,
		true, formatTime(observed), formatTime(lastSeen), formatTime(now),
		c.ExternalID,
	)
	if err != nil {
		return false, errs.NewStorage(c.ExternalID, "update", err)
	}

	// The change baseline is the newest history entry, not the listings
	// row: an observation without a price nulls the row's price but must
	// not let the old price re-enter the history unchanged.
	var lastAmount sql.NullFloat64
	var lastCurrency sql.NullString
	herr := tx.QueryRowContext(ctx,
		`SELECT price_amount, price_currency FROM price_history
		 WHERE external_id = $1 ORDER BY id DESC LIMIT 1`,
		c.ExternalID,
	).Scan(&lastAmount, &lastCurrency)
	if herr != nil && herr != sql.ErrNoRows {
		return false, errs.NewStorage(c.ExternalID, "read price history", herr)
	}

	if c.Price != nil && priceChanged(lastAmount, lastCurrency, *c.Price) {
		if err := appendPrice(ctx, tx, c.ExternalID, *c.Price, observed); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, errs.NewStorage(c.ExternalID, "commit", err)
	}
	return false, nil
}

// SweepInactive marks every active record whose external id was not seen
// this run as inactive, stamping last_seen_at with the sweep time. It must
// only run after a complete crawl session; an empty seen set is rejected.
func (s *Store) SweepInactive(ctx context.Context, seenExternalIDs []string, asOf time.Time) (int64, error) {
	if len(seenExternalIDs) == 0 {
		return 0, ErrEmptySweep
	}

	placeholders := make([]string, len(seenExternalIDs))
	args := make([]interface{}, 0, len(seenExternalIDs)+2)
	args = append(args, formatTime(asOf.UTC()), formatTime(time.Now().UTC()))
	for i, id := range seenExternalIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, id)
	}

	query := fmt.Sprintf(
		`UPDATE listings SET is_active = FALSE, last_seen_at = $1, updated_at = $2
		 WHERE is_active = TRUE AND external_id NOT IN (%s)`,
		strings.Join(placeholders, ","),
	)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errs.NewStorage("sweep", "update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errs.NewStorage("sweep", "rows affected", err)
	}

	s.log.Info().Int64("deactivated", affected).Msg("Sweep completed")
	return affected, nil
}

// Filters narrows GetActive results. Zero values mean no constraint.
type Filters struct {
	District   string
	SellerType listing.SellerType
	MinPrice   float64
	MaxPrice   float64
	MinRooms   int
}

// GetActive returns active listings matching the filters, most recently
// observed first.
func (s *Store) GetActive(ctx context.Context, f Filters) ([]listing.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM listings WHERE is_active = TRUE`
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		query += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}

	if f.District != "" {
		add("district =", f.District)
	}
	if f.SellerType != "" {
		add("seller_type =", string(f.SellerType))
	}
	if f.MinPrice > 0 {
		add("price_amount >=", f.MinPrice)
	}
	if f.MaxPrice > 0 {
		add("price_amount <=", f.MaxPrice)
	}
	if f.MinRooms > 0 {
		add("rooms >=", f.MinRooms)
	}
	query += " ORDER BY observed_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.NewStorage("get active", "query", err)
	}
	defer rows.Close()

	var records []listing.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errs.NewStorage("get active", "scan", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns a single record by external id, or nil when absent.
func (s *Store) Get(ctx context.Context, externalID string) (*listing.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM listings WHERE external_id = $1`, externalID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.NewStorage(externalID, "get", err)
	}
	return &rec, nil
}

// PriceHistory returns the recorded price changes for a listing in
// chronological order.
func (s *Store) PriceHistory(ctx context.Context, externalID string) ([]listing.PriceHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id, price_amount, price_currency, recorded_at
		 FROM price_history WHERE external_id = $1 ORDER BY id`,
		externalID,
	)
	if err != nil {
		return nil, errs.NewStorage(externalID, "price history", err)
	}
	defer rows.Close()

	var entries []listing.PriceHistoryEntry
	for rows.Next() {
		var e listing.PriceHistoryEntry
		var recorded string
		if err := rows.Scan(&e.ExternalID, &e.Amount, &e.Currency, &recorded); err != nil {
			return nil, errs.NewStorage(externalID, "price history scan", err)
		}
		e.RecordedAt, _ = time.Parse(timeLayout, recorded)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// StreetMappings returns the street→district table in priority order.
func (s *Store) StreetMappings(ctx context.Context) ([]listing.StreetMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT street, district FROM street_districts ORDER BY position`)
	if err != nil {
		return nil, errs.NewStorage("street mappings", "query", err)
	}
	defer rows.Close()

	var mappings []listing.StreetMapping
	for rows.Next() {
		var m listing.StreetMapping
		if err := rows.Scan(&m.Street, &m.District); err != nil {
			return nil, errs.NewStorage("street mappings", "scan", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// PriceStats summarizes the price distribution of active priced listings.
type PriceStats struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Priced  int     `json:"priced"`
}

// Statistics is the derived aggregate view over the store, computed from
// the same is_active flag the sweep maintains.
type Statistics struct {
	Total        int            `json:"total"`
	Active       int            `json:"active"`
	Inactive     int            `json:"inactive"`
	BySellerType map[string]int `json:"by_seller_type"`
	ByDistrict   map[string]int `json:"by_district"`
	PriceStats   PriceStats     `json:"price_stats"`
	LastUpdate   *time.Time     `json:"last_update,omitempty"`
}

// Statistics computes the aggregate view for operators and downstream
// consumers.
func (s *Store) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		BySellerType: make(map[string]int),
		ByDistrict:   make(map[string]int),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(CASE WHEN is_active = TRUE THEN 1 END)
		 FROM listings`).Scan(&stats.Total, &stats.Active)
	if err != nil {
		return nil, errs.NewStorage("statistics", "counts", err)
	}
	stats.Inactive = stats.Total - stats.Active

	rows, err := s.db.QueryContext(ctx,
		`SELECT seller_type, COUNT(*) FROM listings WHERE is_active = TRUE GROUP BY seller_type`)
	if err != nil {
		return nil, errs.NewStorage("statistics", "seller types", err)
	}
	if err := scanCountMap(rows, stats.BySellerType); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT district, COUNT(*) FROM listings
		 WHERE is_active = TRUE AND district IS NOT NULL GROUP BY district`)
	if err != nil {
		return nil, errs.NewStorage("statistics", "districts", err)
	}
	if err := scanCountMap(rows, stats.ByDistrict); err != nil {
		return nil, err
	}

	var avg, min, max sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT AVG(price_amount), MIN(price_amount), MAX(price_amount), COUNT(price_amount)
		 FROM listings WHERE is_active = TRUE AND price_amount IS NOT NULL`).
		Scan(&avg, &min, &max, &stats.PriceStats.Priced)
	if err != nil {
		return nil, errs.NewStorage("statistics", "prices", err)
	}
	stats.PriceStats.Average = avg.Float64
	stats.PriceStats.Min = min.Float64
	stats.PriceStats.Max = max.Float64

	var lastUpdate sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(observed_at) FROM listings WHERE is_active = TRUE`).Scan(&lastUpdate)
	if err != nil {
		return nil, errs.NewStorage("statistics", "last update", err)
	}
	if lastUpdate.Valid {
		if t, perr := time.Parse(timeLayout, lastUpdate.String); perr == nil {
			stats.LastUpdate = &t
		}
	}

	return stats, nil
}

// SaveSession persists the outcome of one crawl run.
func (s *Store) SaveSession(ctx context.Context, stats listing.RunStats) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crawl_sessions (
			start_time, end_time, pages_scraped, total_processed,
			new_count, updated_count, error_count, success, error_message
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		formatTime(stats.StartTime.UTC()), formatTime(stats.EndTime.UTC()),
		stats.PagesScraped, stats.TotalProcessed,
		stats.NewCount, stats.UpdatedCount, stats.ErrorCount,
		stats.Success, nullString(stats.ErrorMessage),
	)
	if err != nil {
		return errs.NewStorage("sessions", "insert", err)
	}
	return nil
}

const recordColumns = `external_id, title, url, price_amount, price_currency,
	location_city, location_text, district, district_source, street,
	rooms, area_total, floor, floors_total, building_type, renovation,
	description, seller_type, seller_confidence, seller_signals,
	is_active, observed_at, first_seen_at, last_seen_at, created_at, updated_at`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (listing.Record, error) {
	var (
		rec          listing.Record
		amount, area sql.NullFloat64
		currency     sql.NullString
		city, loc    sql.NullString
		dist, dsrc   sql.NullString
		street       sql.NullString
		rooms        sql.NullInt64
		floor, total sql.NullInt64
		btype, renov sql.NullString
		desc         sql.NullString
		signals      sql.NullString
		sellerType   string

		observed, firstSeen, lastSeen, created, updated string
	)

	err := row.Scan(
		&rec.ExternalID, &rec.Title, &rec.URL, &amount, &currency,
		&city, &loc, &dist, &dsrc, &street,
		&rooms, &area, &floor, &total, &btype, &renov,
		&desc, &sellerType, &rec.SellerConfidence, &signals,
		&rec.IsActive, &observed, &firstSeen, &lastSeen, &created, &updated,
	)
	if err != nil {
		return rec, err
	}

	if amount.Valid {
		rec.Price = &listing.Price{Amount: amount.Float64, Currency: currency.String}
	}
	rec.LocationCity = city.String
	rec.LocationText = loc.String
	rec.District = dist.String
	rec.DistrictSource = dsrc.String
	rec.Street = street.String
	if rooms.Valid {
		v := int(rooms.Int64)
		rec.Rooms = &v
	}
	if area.Valid {
		v := area.Float64
		rec.Area = &v
	}
	if floor.Valid {
		v := int(floor.Int64)
		rec.Floor = &v
	}
	if total.Valid {
		v := int(total.Int64)
		rec.FloorsTotal = &v
	}
	if btype.Valid {
		rec.BuildingType = &btype.String
	}
	if renov.Valid {
		rec.Renovation = &renov.String
	}
	rec.Description = desc.String
	rec.SellerType = listing.SellerType(sellerType)
	if signals.Valid && signals.String != "" {
		json.Unmarshal([]byte(signals.String), &rec.Evidence)
	}

	rec.ObservedAt, _ = time.Parse(timeLayout, observed)
	rec.FirstSeenAt, _ = time.Parse(timeLayout, firstSeen)
	rec.LastSeenAt, _ = time.Parse(timeLayout, lastSeen)
	rec.CreatedAt, _ = time.Parse(timeLayout, created)
	rec.UpdatedAt, _ = time.Parse(timeLayout, updated)

	return rec, nil
}

func appendPrice(ctx context.Context, tx *sql.Tx, externalID string, p listing.Price, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO price_history (external_id, price_amount, price_currency, recorded_at)
		 VALUES ($1, $2, $3, $4)`,
		externalID, p.Amount, p.Currency, formatTime(at),
	)
	if err != nil {
		return errs.NewStorage(externalID, "append price history", err)
	}
	return nil
}

// priceChanged compares an observed price against the newest history
// entry; an invalid lastAmount means the listing has no history yet.
func priceChanged(lastAmount sql.NullFloat64, lastCurrency sql.NullString, p listing.Price) bool {
	if !lastAmount.Valid {
		return true
	}
	return lastAmount.Float64 != p.Amount || lastCurrency.String != p.Currency
}

func relativeChange(old, new float64) float64 {
	if old == 0 {
		return 0
	}
	diff := new - old
	if diff < 0 {
		diff = -diff
	}
	return diff / old
}

func scanCountMap(rows *sql.Rows, dest map[string]int) error {
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return errs.NewStorage("statistics", "scan group", err)
		}
		dest[key] = count
	}
	return rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func sellerType(t listing.SellerType) listing.SellerType {
	if t == "" {
		return listing.SellerUnknown
	}
	return t
}

func marshalEvidence(evidence []listing.Signal) interface{} {
	if len(evidence) == 0 {
		return nil
	}
	data, err := json.Marshal(evidence)
	if err != nil {
		return nil
	}
	return string(data)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func priceAmount(p *listing.Price) interface{} {
	if p == nil {
		return nil
	}
	return p.Amount
}

func priceCurrency(p *listing.Price) interface{} {
	if p == nil {
		return nil
	}
	return p.Currency
}
