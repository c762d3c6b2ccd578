// Package extract turns raw listing text into typed field values. Every
// extraction is independently best-effort: malformed input yields a missing
// value, never an error.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"olxmonitor/internal/listing"
)

// Sanity bounds for extracted values. Out-of-range matches are discarded,
// not clamped.
const (
	MaxPrice  = 10_000_000
	MinArea   = 10
	MaxArea   = 500
	MinRooms  = 1
	MaxRooms  = 10
	MaxFloors = 50
)

var (
	idPatterns = []*regexp.Regexp{
		regexp.MustCompile(`-ID([A-Za-z0-9]+)`),
		regexp.MustCompile(`/([A-Za-z0-9]+)\.html$`),
	}

	numberToken = regexp.MustCompile(`\d[\d\s\x{00a0}.,]*`)

	areaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*м²`),
		regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*кв\.?\s*м`),
		regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*sq\.?\s*m`),
		regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*м\s*кв`),
		regexp.MustCompile(`(?i)площа\s*(\d+(?:[.,]\d+)?)`),
	}

	roomPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+)[\s-]*кімн`),
		regexp.MustCompile(`(?i)(\d+)\s*к\.`),
		regexp.MustCompile(`(?i)(\d+)\s*комн`),
		regexp.MustCompile(`(?i)(\d+)\s*room`),
		regexp.MustCompile(`(?i)(\d+)\s*спальн`),
	}

	floorPairPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+)\s*/\s*(\d+)\s*поверх`),
		regexp.MustCompile(`(?i)(\d+)\s*из\s*(\d+)`),
		regexp.MustCompile(`(?i)(\d+)\s*of\s*(\d+)\s*floor`),
		regexp.MustCompile(`(?i)(\d+)\s*/\s*(\d+)\s*эт`),
		regexp.MustCompile(`(?i)поверх\s*(\d+)\s*/\s*(\d+)`),
	}

	floorSinglePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+)\s*поверх`),
		regexp.MustCompile(`(?i)(\d+)\s*этаж`),
		regexp.MustCompile(`(?i)floor\s*(\d+)`),
	}

	whitespace = regexp.MustCompile(`\s+`)
)

// buildingTypes is an ordered keyword table; first match wins.
var buildingTypes = []struct {
	name     string
	keywords []string
}{
	{"новобудова", []string{"новобудова", "новострой", "новостройка", "new building"}},
	{"вторинка", []string{"вторинка", "вторичка", "вторичне житло", "secondary"}},
	{"котедж", []string{"котедж", "коттедж", "будинок"}},
	{"таунхаус", []string{"таунхаус", "townhouse", "таун-хаус"}},
	{"цегла", []string{"цегла", "цегляний", "кирпич"}},
	{"панель", []string{"панель", "панельний"}},
}

// renovationStates is an ordered keyword table; first match wins.
var renovationStates = []struct {
	name     string
	keywords []string
}{
	{"євроремонт", []string{"євроремонт", "евроремонт", "euro renovation"}},
	{"дизайнерський", []string{"дизайнерський", "дизайнерский", "design renovation"}},
	{"косметичний", []string{"косметичний", "косметический", "cosmetic"}},
	{"потребує ремонту", []string{"потребує ремонт", "требует ремонт", "needs repair", "під ремонт"}},
}

// PartialFields holds the best-effort extraction results for one item's
// free-text details. Nil means the field could not be determined.
type PartialFields struct {
	Rooms        *int
	Area         *float64
	Floor        *int
	FloorsTotal  *int
	BuildingType *string
	Renovation   *string
}

// ExternalID extracts the stable listing identifier from a source URL.
func ExternalID(rawURL string) (string, bool) {
	for _, re := range idPatterns {
		if m := re.FindStringSubmatch(rawURL); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// Price extracts a price amount and currency code from a price string.
// The currency defaults to USD when no marker is present, matching the
// source's unlabeled listings. Amounts outside (0, MaxPrice] are rejected.
func Price(text string) (*listing.Price, bool) {
	if text == "" {
		return nil, false
	}

	token := numberToken.FindString(text)
	if token == "" {
		return nil, false
	}

	amount, ok := parseAmount(token)
	if !ok || amount <= 0 || amount > MaxPrice {
		return nil, false
	}

	return &listing.Price{Amount: amount, Currency: Currency(text)}, true
}

// Currency detects a currency code from its markers in text, defaulting
// to USD.
func Currency(text string) string {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "USD"), strings.Contains(text, "$"):
		return "USD"
	case strings.Contains(upper, "EUR"), strings.Contains(text, "€"):
		return "EUR"
	case strings.Contains(upper, "UAH"), strings.Contains(text, "₴"), strings.Contains(upper, "ГРН"):
		return "UAH"
	}
	return "USD"
}

// parseAmount normalizes a numeric token that may carry spaces as digit
// grouping and either comma or dot as decimal separator.
func parseAmount(token string) (float64, bool) {
	token = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' {
			return -1
		}
		return r
	}, token)
	token = strings.Trim(token, ".,")
	if token == "" {
		return 0, false
	}

	parts := strings.FieldsFunc(token, func(r rune) bool {
		return r == '.' || r == ','
	})
	if len(parts) == 0 {
		return 0, false
	}

	// A trailing group of one or two digits is a decimal part; every other
	// separator is digit grouping.
	normalized := parts[0]
	if len(parts) > 1 {
		last := parts[len(parts)-1]
		if len(last) <= 2 {
			normalized = strings.Join(parts[:len(parts)-1], "") + "." + last
		} else {
			normalized = strings.Join(parts, "")
		}
	}

	amount, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, false
	}
	return amount, true
}

// Area extracts a dwelling area in square meters, bounded to plausible
// sizes. The first matching pattern wins.
func Area(text string) (float64, bool) {
	for _, re := range areaPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if err != nil {
			continue
		}
		if value >= MinArea && value <= MaxArea {
			return value, true
		}
	}
	return 0, false
}

// Rooms extracts a room count in [MinRooms, MaxRooms].
func Rooms(text string) (int, bool) {
	for _, re := range roomPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		rooms, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if rooms >= MinRooms && rooms <= MaxRooms {
			return rooms, true
		}
	}
	return 0, false
}

// Floor extracts floor and total floors. Pair patterns ("5/9 поверх") are
// tried first; a lone floor number is accepted without a total.
func Floor(text string) (floor, floorsTotal *int) {
	for _, re := range floorPairPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		f, err1 := strconv.Atoi(m[1])
		t, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		if f >= 1 && f <= t && t <= MaxFloors {
			return &f, &t
		}
	}

	for _, re := range floorSinglePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		f, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if f >= 1 && f <= MaxFloors {
			return &f, nil
		}
	}

	return nil, nil
}

// BuildingType returns the first matching building type keyword, if any.
// No default is applied here; absent means unknown.
func BuildingType(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, bt := range buildingTypes {
		for _, kw := range bt.keywords {
			if strings.Contains(lower, kw) {
				return bt.name, true
			}
		}
	}
	return "", false
}

// Renovation returns the first matching renovation state keyword, if any.
func Renovation(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, rs := range renovationStates {
		for _, kw := range rs.keywords {
			if strings.Contains(lower, kw) {
				return rs.name, true
			}
		}
	}
	return "", false
}

// ParseFields runs every field extractor over the combined free text of a
// listing item. Individual failures leave the field nil.
func ParseFields(text string) PartialFields {
	var fields PartialFields

	if rooms, ok := Rooms(text); ok {
		fields.Rooms = &rooms
	}
	if area, ok := Area(text); ok {
		fields.Area = &area
	}
	fields.Floor, fields.FloorsTotal = Floor(text)
	if bt, ok := BuildingType(text); ok {
		fields.BuildingType = &bt
	}
	if rs, ok := Renovation(text); ok {
		fields.Renovation = &rs
	}

	return fields
}

// CleanText collapses runs of whitespace into single spaces.
func CleanText(text string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
